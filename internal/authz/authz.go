// Package authz centralizes authorization decisions behind a single
// capability check, so role predicates are not duplicated across
// handlers and view builders.
package authz

import "github.com/andinalegal/lexcase/backend/internal/identity"

// Action enumerates the capabilities the application checks.
type Action string

const (
	// ActionManageCase covers creating, updating and deleting a case.
	ActionManageCase Action = "case.manage"
	// ActionManageReminders covers appending reminders and files to a case.
	ActionManageReminders Action = "case.reminders.manage"
	// ActionViewCase covers reading a case and its embedded records.
	ActionViewCase Action = "case.view"
	// ActionViewAssigneeNames covers resolving assigned-lawyer display
	// names in aggregated views.
	ActionViewAssigneeNames Action = "reminders.view_assignee_names"
)

// Resource carries the ownership fields a decision needs. Zero values
// mean the field does not apply to the resource at hand.
type Resource struct {
	OrganizationID   string
	AssignedLawyerID string
	ClientID         string
}

// Can reports whether the identity holds the capability over the
// resource. Every component needing an authorization decision calls
// this uniformly instead of branching on roles locally.
func Can(caller identity.Identity, action Action, resource Resource) bool {
	if caller.ID == "" {
		return false
	}

	switch action {
	case ActionViewAssigneeNames:
		return isAdministrative(caller)
	case ActionManageCase:
		return sameOrganization(caller, resource) && isAdministrative(caller) ||
			caller.Role == identity.RoleLawyer && caller.ID == resource.AssignedLawyerID
	case ActionManageReminders:
		return sameOrganization(caller, resource) && caller.Role != identity.RoleClient ||
			caller.Role == identity.RoleLawyer && caller.ID == resource.AssignedLawyerID
	case ActionViewCase:
		return sameOrganization(caller, resource) && caller.Role != identity.RoleClient ||
			caller.ID == resource.AssignedLawyerID ||
			caller.ID == resource.ClientID
	default:
		return false
	}
}

func isAdministrative(caller identity.Identity) bool {
	return caller.Role == identity.RoleAdmin || caller.Role == identity.RoleAssistant
}

func sameOrganization(caller identity.Identity, resource Resource) bool {
	return caller.OrganizationID != "" && caller.OrganizationID == resource.OrganizationID
}
