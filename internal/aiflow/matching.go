package aiflow

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

const matchFlowName = "matchLawyers"

var errMissingFlows = errors.New("aiflow: flow client is required")

// MatchRequest describes the client's need for the matching flow.
type MatchRequest struct {
	Description string `json:"description" validate:"required"`
	Category    string `json:"category,omitempty"`
	City        string `json:"city,omitempty"`
}

// LawyerSuggestion is one lawyer proposed by the matching flow.
type LawyerSuggestion struct {
	LawyerID    string `json:"lawyerId" validate:"required"`
	DisplayName string `json:"displayName"`
	Specialty   string `json:"specialty,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type matchResponse struct {
	Suggestions []LawyerSuggestion `json:"suggestions"`
}

// MatcherConfig describes the dependencies for lawyer matching.
type MatcherConfig struct {
	Flows       Client
	ShuffleSeed int64
	Logger      *zap.Logger
}

// Matcher wraps the matching flow and shuffles its suggestions so
// engagements spread across equally ranked lawyers instead of always
// landing on whichever the model lists first. The shuffle is seeded
// explicitly; tests fix the seed for deterministic order.
type Matcher struct {
	flows  Client
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMatcher constructs a Matcher. A zero seed draws one from the clock.
func NewMatcher(cfg MatcherConfig) (*Matcher, error) {
	if cfg.Flows == nil {
		return nil, errMissingFlows
	}

	seed := cfg.ShuffleSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Matcher{
		flows:  cfg.Flows,
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
	}, nil
}

// SuggestLawyers runs the matching flow and returns its suggestions in
// shuffled order.
func (m *Matcher) SuggestLawyers(ctx context.Context, request MatchRequest) ([]LawyerSuggestion, error) {
	var response matchResponse
	if err := m.flows.Invoke(ctx, matchFlowName, request, &response); err != nil {
		return nil, err
	}

	suggestions := make([]LawyerSuggestion, len(response.Suggestions))
	copy(suggestions, response.Suggestions)

	m.mu.Lock()
	m.rng.Shuffle(len(suggestions), func(i, j int) {
		suggestions[i], suggestions[j] = suggestions[j], suggestions[i]
	})
	m.mu.Unlock()

	m.logger.Debug("lawyer suggestions produced", zap.Int("count", len(suggestions)))
	return suggestions, nil
}
