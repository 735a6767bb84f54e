package cases

import (
	"github.com/andinalegal/lexcase/backend/internal/identity"
	"github.com/andinalegal/lexcase/backend/internal/livequery"
)

// CasesForIdentity builds the reference a dashboard subscribes with
// for the given caller: organization-wide for organization members,
// assignment-scoped for independent lawyers, ownership-scoped for
// clients. Returns nil while no identity is available, which a live
// query treats as "hold no subscription".
func CasesForIdentity(caller identity.Identity) *livequery.RemoteRef {
	if caller.ID == "" {
		return nil
	}

	var ref livequery.RemoteRef
	switch {
	case caller.OrganizationID != "":
		ref = livequery.Collection(CollectionCases).
			Where("organizationId", livequery.OpEqual, caller.OrganizationID).
			OrderBy("createdAt", livequery.Descending)
	case caller.Role == identity.RoleLawyer:
		ref = livequery.Collection(CollectionCases).
			Where("assignedLawyerId", livequery.OpEqual, caller.ID).
			OrderBy("createdAt", livequery.Descending)
	default:
		ref = livequery.Collection(CollectionCases).
			Where("clientId", livequery.OpEqual, caller.ID).
			OrderBy("createdAt", livequery.Descending)
	}
	return &ref
}

// BindCasesQuery keeps a live case query aligned with the resolved
// identity: every identity change rebuilds the caller's ref, and a
// rebuilt ref that is value-equal to the active one leaves the
// subscription untouched. An already-resolved identity is applied
// immediately; signing out deactivates the query. Returns the unbind
// func.
func BindCasesQuery(source *identity.Source, query *livequery.Query[CaseRecord]) func() {
	apply := func(who identity.Identity, present bool) {
		if !present {
			query.SetRef(nil)
			return
		}
		query.SetRef(CasesForIdentity(who))
	}

	unbind := source.Subscribe(apply)
	if who, resolved := source.Current(); resolved {
		apply(who, true)
	}
	return unbind
}

// AllUsers builds the unfiltered user reference used for name and
// avatar resolution in derived views.
func AllUsers() *livequery.RemoteRef {
	ref := livequery.Collection(CollectionUsers)
	return &ref
}

// CaseByID builds the single-document reference for one case.
func CaseByID(id CaseID) *livequery.DocRef {
	return &livequery.DocRef{Collection: CollectionCases, ID: id.String()}
}
