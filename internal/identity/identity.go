package identity

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrInvalidRole indicates a role value outside the known set.
var ErrInvalidRole = errors.New("identity: invalid role")

// Role enumerates the account roles the marketplace distinguishes.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleLawyer    Role = "lawyer"
	RoleAssistant Role = "assistant"
	RoleClient    Role = "client"
)

// ParseRole validates raw input and returns a Role.
func ParseRole(rawInput string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(rawInput))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleLawyer:
		return RoleLawyer, nil
	case RoleAssistant:
		return RoleAssistant, nil
	case RoleClient:
		return RoleClient, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, rawInput)
	}
}

// Identity is the resolved caller: who they are, which organization
// they belong to (empty for independent clients and lawyers), and
// their role.
type Identity struct {
	ID             string
	OrganizationID string
	Role           Role
}

// Source is a reactive holder for the resolved identity. It starts in
// a loading state while upstream resolution is pending; Set and Clear
// notify subscribers so ref-building consumers re-evaluate their
// subscriptions when the identity changes.
type Source struct {
	mu          sync.Mutex
	current     Identity
	resolved    bool
	loading     bool
	nextID      int64
	subscribers map[int64]func(Identity, bool)
}

// NewSource constructs a Source in the loading state.
func NewSource() *Source {
	return &Source{
		loading:     true,
		subscribers: make(map[int64]func(Identity, bool)),
	}
}

// Set records a resolved identity and notifies subscribers.
func (s *Source) Set(resolved Identity) {
	s.mu.Lock()
	s.current = resolved
	s.resolved = true
	s.loading = false
	callbacks := s.snapshotSubscribers()
	s.mu.Unlock()

	for _, callback := range callbacks {
		callback(resolved, true)
	}
}

// Clear records that no identity is present (signed out) and notifies
// subscribers.
func (s *Source) Clear() {
	s.mu.Lock()
	s.current = Identity{}
	s.resolved = false
	s.loading = false
	callbacks := s.snapshotSubscribers()
	s.mu.Unlock()

	for _, callback := range callbacks {
		callback(Identity{}, false)
	}
}

// Current returns the resolved identity and whether one is present.
func (s *Source) Current() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.resolved
}

// IsLoading reports whether identity resolution is still pending.
func (s *Source) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Subscribe registers a callback invoked on every identity change and
// returns its unregister func.
func (s *Source) Subscribe(callback func(current Identity, present bool)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subscribers[id] = callback
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

func (s *Source) snapshotSubscribers() []func(Identity, bool) {
	callbacks := make([]func(Identity, bool), 0, len(s.subscribers))
	for _, callback := range s.subscribers {
		callbacks = append(callbacks, callback)
	}
	return callbacks
}
