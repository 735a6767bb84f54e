package cases

import (
	"errors"
	"fmt"
	"strings"

	"github.com/andinalegal/lexcase/backend/internal/timeval"
)

const (
	// CollectionCases names the store collection holding case documents.
	CollectionCases = "cases"
	// CollectionUsers names the store collection holding user documents.
	CollectionUsers = "users"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidCaseID indicates that a case identifier is empty or exceeds storage bounds.
	ErrInvalidCaseID = errors.New("cases: invalid case id")
	// ErrInvalidReminder indicates a reminder without a date or message.
	ErrInvalidReminder = errors.New("cases: invalid reminder")
)

// CaseID represents a validated case identifier.
type CaseID string

// NewCaseID validates raw input and returns a CaseID.
func NewCaseID(rawInput string) (CaseID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCaseID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidCaseID, maxIdentifierLength)
	}
	return CaseID(trimmed), nil
}

// String returns the underlying string identifier.
func (id CaseID) String() string {
	return string(id)
}

// ReminderRecord is one reminder embedded in its owning case. The
// embedded sequence keeps insertion order; chronological consumers
// sort explicitly.
type ReminderRecord struct {
	Date      timeval.Instant `json:"date"`
	Message   string          `json:"message"`
	CreatedBy string          `json:"createdBy,omitempty"`
}

// Validate reports whether the reminder carries the required fields.
func (r ReminderRecord) Validate() error {
	if !r.Date.Known() {
		return fmt.Errorf("%w: missing date", ErrInvalidReminder)
	}
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("%w: missing message", ErrInvalidReminder)
	}
	return nil
}

// FileAttachmentRecord is one file reference embedded in its owning case.
type FileAttachmentRecord struct {
	Name       string          `json:"name"`
	URL        string          `json:"url"`
	UploadedBy string          `json:"uploadedBy,omitempty"`
	UploadedAt timeval.Instant `json:"uploadedAt"`
	SizeBytes  int64           `json:"sizeBytes,omitempty"`
}

// CaseRecord is a materialized case document: the store-assigned id
// plus the field payload, with reminders and file attachments owned
// inline rather than separately subscribed.
type CaseRecord struct {
	ID               string                 `json:"id"`
	Nurej            string                 `json:"nurej"`
	ClientName       string                 `json:"clientName"`
	ClientID         string                 `json:"clientId,omitempty"`
	AssignedLawyerID string                 `json:"assignedLawyerId,omitempty"`
	OrganizationID   string                 `json:"organizationId,omitempty"`
	Subject          string                 `json:"subject,omitempty"`
	Category         string                 `json:"category,omitempty"`
	Status           string                 `json:"status,omitempty"`
	CreatedAt        timeval.Instant        `json:"createdAt"`
	Reminders        []ReminderRecord       `json:"reminders,omitempty"`
	FileAttachments  []FileAttachmentRecord `json:"fileAttachments,omitempty"`
}

// UserRecord is a materialized user document.
type UserRecord struct {
	ID               string `json:"id"`
	DisplayName      string `json:"displayName"`
	Email            string `json:"email,omitempty"`
	AvatarURL        string `json:"avatarUrl,omitempty"`
	Role             string `json:"role"`
	OrganizationID   string `json:"organizationId,omitempty"`
	OrganizationName string `json:"organizationName,omitempty"`
	Specialty        string `json:"specialty,omitempty"`
}
