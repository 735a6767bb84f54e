package reminders

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Urgency classifies how soon a reminder demands attention.
type Urgency string

const (
	UrgencyDueNow   Urgency = "due_now"
	UrgencyImminent Urgency = "imminent"
	UrgencyUpcoming Urgency = "upcoming"
	UrgencyPast     Urgency = "past"
)

const (
	defaultImminentWindow = 20 * time.Minute
	defaultDueNowSlack    = time.Minute

	composeFlowName = "composeReminderNotification"
)

// Thresholds are the explicit time windows separating due-now,
// imminent and merely upcoming reminders.
type Thresholds struct {
	ImminentWindow time.Duration
	DueNowSlack    time.Duration
}

// DefaultThresholds returns the stock notification windows.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ImminentWindow: defaultImminentWindow,
		DueNowSlack:    defaultDueNowSlack,
	}
}

func (t Thresholds) normalized() Thresholds {
	if t.ImminentWindow <= 0 {
		t.ImminentWindow = defaultImminentWindow
	}
	if t.DueNowSlack <= 0 {
		t.DueNowSlack = defaultDueNowSlack
	}
	return t
}

// Classify places a reminder into an urgency bucket relative to now.
func (t Thresholds) Classify(reminder Extended, now time.Time) Urgency {
	thresholds := t.normalized()
	until := reminder.Date.Time().Sub(now.UTC())

	switch {
	case until < -thresholds.DueNowSlack:
		return UrgencyPast
	case until <= thresholds.DueNowSlack:
		return UrgencyDueNow
	case until <= thresholds.ImminentWindow:
		return UrgencyImminent
	default:
		return UrgencyUpcoming
	}
}

// Notification is the composed push payload for one reminder.
type Notification struct {
	Title   string
	Body    string
	Urgency Urgency
}

// FlowInvoker is the slice of the AI-flow client notification
// composition needs.
type FlowInvoker interface {
	Invoke(ctx context.Context, flow string, input, output any) error
}

// ComposerConfig describes the dependencies for notification composition.
type ComposerConfig struct {
	Flows      FlowInvoker
	Thresholds Thresholds
	Logger     *zap.Logger
}

// Composer builds user-facing notification text for reminders,
// delegating phrasing to the AI flow and falling back to a
// deterministic template when the flow fails.
type Composer struct {
	flows      FlowInvoker
	thresholds Thresholds
	logger     *zap.Logger
}

// NewComposer constructs a Composer. Flows may be nil, in which case
// only the template fallback is used.
func NewComposer(cfg ComposerConfig) *Composer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{
		flows:      cfg.Flows,
		thresholds: cfg.Thresholds.normalized(),
		logger:     logger,
	}
}

type composeInput struct {
	ClientName   string `json:"clientName" validate:"required"`
	Nurej        string `json:"nurej"`
	Message      string `json:"message" validate:"required"`
	Urgency      string `json:"urgency" validate:"required"`
	MinutesUntil int64  `json:"minutesUntil"`
}

type composeOutput struct {
	Title string `json:"title" validate:"required"`
	Body  string `json:"body" validate:"required"`
}

// Compose builds the notification for one reminder at the given moment.
func (c *Composer) Compose(ctx context.Context, reminder Extended, now time.Time) Notification {
	urgency := c.thresholds.Classify(reminder, now)

	if c.flows != nil {
		input := composeInput{
			ClientName:   reminder.ClientName,
			Nurej:        reminder.Nurej,
			Message:      reminder.Message,
			Urgency:      string(urgency),
			MinutesUntil: int64(reminder.Date.Time().Sub(now.UTC()) / time.Minute),
		}
		var output composeOutput
		err := c.flows.Invoke(ctx, composeFlowName, input, &output)
		if err == nil {
			return Notification{Title: output.Title, Body: output.Body, Urgency: urgency}
		}
		c.logger.Warn("notification flow failed, using template fallback",
			zap.String("case_id", reminder.CaseID),
			zap.Error(err))
	}

	return Notification{
		Title:   templateTitle(reminder, urgency),
		Body:    templateBody(reminder),
		Urgency: urgency,
	}
}

func templateTitle(reminder Extended, urgency Urgency) string {
	switch urgency {
	case UrgencyDueNow:
		return fmt.Sprintf("Ahora: %s", reminder.ClientName)
	case UrgencyImminent:
		return fmt.Sprintf("Pronto: %s", reminder.ClientName)
	default:
		return fmt.Sprintf("Recordatorio: %s", reminder.ClientName)
	}
}

func templateBody(reminder Extended) string {
	if reminder.Nurej == "" {
		return reminder.Message
	}
	return fmt.Sprintf("%s (NUREJ %s)", reminder.Message, reminder.Nurej)
}
