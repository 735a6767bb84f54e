// Package chat derives the conversation list from live user and case
// snapshots. Conversations are never persisted: the set is recomputed
// from current snapshots on every relevant change, in a deterministic
// order so the selected conversation does not jump in the UI.
package chat

import (
	"sort"
	"strings"

	"github.com/andinalegal/lexcase/backend/internal/cases"
	"github.com/andinalegal/lexcase/backend/internal/identity"
)

// Kind distinguishes the two conversation channel shapes.
type Kind string

const (
	KindGroup         Kind = "group"
	KindDirectMessage Kind = "dm"
)

const directIDSeparator = "__"

// Conversation is one derived chat channel.
type Conversation struct {
	ID        string
	Name      string
	AvatarURL string
	Kind      Kind
}

// DirectConversationID derives the shared identifier for a two-party
// conversation: both participants compute the same id independently
// because the pair is sorted before joining.
func DirectConversationID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + directIDSeparator + b
}

// Assemble produces the deduplicated conversation sequence for the
// caller: the organization group first (iff the caller belongs to
// one), then direct conversations with every organization colleague,
// then direct conversations with the counterparty of every case the
// caller is a party to. Later occurrences of an id never overwrite the
// name or avatar assigned by an earlier step.
func Assemble(self identity.Identity, users []cases.UserRecord, caseRecords []cases.CaseRecord) []Conversation {
	if self.ID == "" {
		return []Conversation{}
	}

	conversations := make([]Conversation, 0, 1+len(users)+len(caseRecords))
	seen := make(map[string]struct{})
	add := func(conversation Conversation) {
		if conversation.ID == "" {
			return
		}
		if _, duplicate := seen[conversation.ID]; duplicate {
			return
		}
		seen[conversation.ID] = struct{}{}
		conversations = append(conversations, conversation)
	}

	if self.OrganizationID != "" {
		add(Conversation{
			ID:   self.OrganizationID,
			Name: organizationName(self.OrganizationID, users),
			Kind: KindGroup,
		})

		for _, user := range users {
			if user.ID == self.ID || user.OrganizationID != self.OrganizationID {
				continue
			}
			add(Conversation{
				ID:        DirectConversationID(self.ID, user.ID),
				Name:      user.DisplayName,
				AvatarURL: user.AvatarURL,
				Kind:      KindDirectMessage,
			})
		}
	}

	for _, caseRecord := range caseRecords {
		counterparty, name := caseCounterparty(self, caseRecord, users)
		if counterparty == "" {
			continue
		}
		add(Conversation{
			ID:        DirectConversationID(self.ID, counterparty),
			Name:      name,
			AvatarURL: avatarFor(counterparty, users),
			Kind:      KindDirectMessage,
		})
	}

	return conversations
}

// caseCounterparty resolves the other party of a case relative to the
// caller, with the best display name available for them.
func caseCounterparty(self identity.Identity, caseRecord cases.CaseRecord, users []cases.UserRecord) (string, string) {
	switch self.ID {
	case caseRecord.AssignedLawyerID:
		name := caseRecord.ClientName
		if resolved := displayNameFor(caseRecord.ClientID, users); resolved != "" {
			name = resolved
		}
		return caseRecord.ClientID, name
	case caseRecord.ClientID:
		name := displayNameFor(caseRecord.AssignedLawyerID, users)
		if name == "" {
			name = caseRecord.AssignedLawyerID
		}
		return caseRecord.AssignedLawyerID, name
	default:
		return "", ""
	}
}

func organizationName(organizationID string, users []cases.UserRecord) string {
	names := make([]string, 0, 1)
	for _, user := range users {
		if user.OrganizationID == organizationID && strings.TrimSpace(user.OrganizationName) != "" {
			names = append(names, user.OrganizationName)
		}
	}
	if len(names) == 0 {
		return organizationID
	}
	// Snapshot order over users is not guaranteed across collections,
	// so pick deterministically rather than first-seen.
	sort.Strings(names)
	return names[0]
}

func displayNameFor(userID string, users []cases.UserRecord) string {
	if userID == "" {
		return ""
	}
	for _, user := range users {
		if user.ID == userID {
			return user.DisplayName
		}
	}
	return ""
}

func avatarFor(userID string, users []cases.UserRecord) string {
	for _, user := range users {
		if user.ID == userID {
			return user.AvatarURL
		}
	}
	return ""
}
