package livequery

import (
	"errors"
	"testing"
)

type caseRow struct {
	ID         string `json:"id"`
	ClientName string `json:"clientName"`
}

type fakeSubscription struct {
	ref        RemoteRef
	onSnapshot func([]Document)
	onError    func(error)
	active     bool
}

type fakeBackend struct {
	subscribeCalls int
	subscriptions  []*fakeSubscription
}

func (b *fakeBackend) Subscribe(ref RemoteRef, onSnapshot func([]Document), onError func(error)) func() {
	b.subscribeCalls++
	sub := &fakeSubscription{ref: ref, onSnapshot: onSnapshot, onError: onError, active: true}
	b.subscriptions = append(b.subscriptions, sub)
	return func() { sub.active = false }
}

func (b *fakeBackend) SubscribeDocument(ref DocRef, onSnapshot func(*Document), onError func(error)) func() {
	b.subscribeCalls++
	sub := &fakeSubscription{onSnapshot: func(docs []Document) {
		if len(docs) == 0 {
			onSnapshot(nil)
			return
		}
		onSnapshot(&docs[0])
	}, onError: onError, active: true}
	b.subscriptions = append(b.subscriptions, sub)
	return func() { sub.active = false }
}

func (b *fakeBackend) latest(t *testing.T) *fakeSubscription {
	t.Helper()
	if len(b.subscriptions) == 0 {
		t.Fatalf("expected at least one subscription")
	}
	return b.subscriptions[len(b.subscriptions)-1]
}

func newCaseQuery(t *testing.T, backend *fakeBackend) *Query[caseRow] {
	t.Helper()
	query, err := NewQuery(QueryConfig[caseRow]{
		Backend: backend,
		Decode:  JSONDecoder[caseRow](),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return query
}

func TestQueryNilRefHoldsNoSubscription(t *testing.T) {
	backend := &fakeBackend{}
	query := newCaseQuery(t, backend)
	defer query.Close()

	query.SetRef(nil)

	state := query.State()
	if state.Data != nil || state.IsLoading || state.Err != nil {
		t.Fatalf("expected idle state, got %+v", state)
	}
	if backend.subscribeCalls != 0 {
		t.Fatalf("expected no backend subscription, got %d", backend.subscribeCalls)
	}
}

func TestQueryMaterializesSnapshotsWithInjectedID(t *testing.T) {
	backend := &fakeBackend{}
	query := newCaseQuery(t, backend)
	defer query.Close()

	ref := Collection("cases").Where("organizationId", OpEqual, "org-1")
	query.SetRef(&ref)

	if state := query.State(); !state.IsLoading || state.Data != nil {
		t.Fatalf("expected loading state before first snapshot, got %+v", state)
	}

	backend.latest(t).onSnapshot([]Document{
		{ID: "c1", Fields: map[string]any{"clientName": "María García"}},
		{ID: "c2", Fields: map[string]any{"clientName": "Juan Rodríguez"}},
	})

	state := query.State()
	if state.IsLoading {
		t.Fatalf("expected loading to clear after first snapshot")
	}
	if len(state.Data) != 2 {
		t.Fatalf("expected two records, got %d", len(state.Data))
	}
	if state.Data[0].ID != "c1" || state.Data[0].ClientName != "María García" {
		t.Fatalf("unexpected first record: %+v", state.Data[0])
	}

	backend.latest(t).onSnapshot([]Document{})
	state = query.State()
	if state.Data == nil || len(state.Data) != 0 {
		t.Fatalf("empty snapshot should yield a present empty sequence, got %+v", state.Data)
	}
}

func TestQueryValueEqualRefDoesNotResubscribe(t *testing.T) {
	backend := &fakeBackend{}
	query := newCaseQuery(t, backend)
	defer query.Close()

	first := Collection("cases").Where("organizationId", OpEqual, "org-1")
	query.SetRef(&first)
	backend.latest(t).onSnapshot([]Document{{ID: "c1", Fields: map[string]any{}}})

	// Reference-distinct but value-equal rebuild, as consumers do on
	// every recomputation.
	second := Collection("cases").Where("organizationId", OpEqual, "org-1")
	query.SetRef(&second)

	if backend.subscribeCalls != 1 {
		t.Fatalf("value-equal ref must reuse the subscription, got %d subscribe calls", backend.subscribeCalls)
	}
	if state := query.State(); state.IsLoading || len(state.Data) != 1 {
		t.Fatalf("state should be untouched by value-equal ref, got %+v", state)
	}
}

func TestQueryRefChangeReplacesSubscription(t *testing.T) {
	backend := &fakeBackend{}
	query := newCaseQuery(t, backend)
	defer query.Close()

	first := Collection("cases").Where("organizationId", OpEqual, "org-1")
	query.SetRef(&first)
	stale := backend.latest(t)
	stale.onSnapshot([]Document{{ID: "c1", Fields: map[string]any{}}})

	second := Collection("cases").Where("organizationId", OpEqual, "org-2")
	query.SetRef(&second)

	if backend.subscribeCalls != 2 {
		t.Fatalf("expected a fresh subscription, got %d subscribe calls", backend.subscribeCalls)
	}
	if stale.active {
		t.Fatalf("previous subscription should be torn down")
	}
	if state := query.State(); !state.IsLoading {
		t.Fatalf("expected loading state for the new ref, got %+v", state)
	}

	// A notification from the replaced subscription must be discarded.
	stale.onSnapshot([]Document{{ID: "old", Fields: map[string]any{}}})
	if state := query.State(); state.Data != nil {
		t.Fatalf("stale snapshot must not apply, got %+v", state)
	}
}

func TestQueryErrorKeepsStaleData(t *testing.T) {
	backend := &fakeBackend{}
	query := newCaseQuery(t, backend)
	defer query.Close()

	ref := Collection("cases")
	query.SetRef(&ref)
	sub := backend.latest(t)
	sub.onSnapshot([]Document{{ID: "c1", Fields: map[string]any{"clientName": "María García"}}})

	failure := errors.New("permission denied")
	sub.onError(failure)

	state := query.State()
	if !errors.Is(state.Err, failure) {
		t.Fatalf("expected subscription error to surface, got %v", state.Err)
	}
	if len(state.Data) != 1 {
		t.Fatalf("error must not clear previously delivered data, got %+v", state.Data)
	}
	if state.IsLoading {
		t.Fatalf("loading must stay false after an error")
	}
}

func TestQueryLoadingOnlyBeforeFirstEvent(t *testing.T) {
	backend := &fakeBackend{}
	query := newCaseQuery(t, backend)
	defer query.Close()

	ref := Collection("cases")
	query.SetRef(&ref)
	sub := backend.latest(t)

	if !query.State().IsLoading {
		t.Fatalf("expected loading before first event")
	}

	sub.onError(errors.New("transient"))
	if query.State().IsLoading {
		t.Fatalf("loading must be false after an error event")
	}

	sub.onSnapshot([]Document{})
	if query.State().IsLoading {
		t.Fatalf("loading must be false after a snapshot event")
	}
}

func TestQueryCloseDiscardsRacingNotifications(t *testing.T) {
	backend := &fakeBackend{}
	query := newCaseQuery(t, backend)

	ref := Collection("cases")
	query.SetRef(&ref)
	sub := backend.latest(t)

	query.Close()
	if sub.active {
		t.Fatalf("close must unsubscribe from the backend")
	}

	sub.onSnapshot([]Document{{ID: "late", Fields: map[string]any{}}})
	if state := query.State(); state.Data != nil {
		t.Fatalf("notification racing teardown must be discarded, got %+v", state)
	}

	query.SetRef(&ref)
	if backend.subscribeCalls != 1 {
		t.Fatalf("closed query must not reactivate")
	}
}

func TestQueryNotifiesConsumerOnEveryTransition(t *testing.T) {
	backend := &fakeBackend{}
	var observed []State[caseRow]
	query, err := NewQuery(QueryConfig[caseRow]{
		Backend:  backend,
		Decode:   JSONDecoder[caseRow](),
		OnChange: func(state State[caseRow]) { observed = append(observed, state) },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	defer query.Close()

	ref := Collection("cases")
	query.SetRef(&ref)
	backend.latest(t).onSnapshot([]Document{{ID: "c1", Fields: map[string]any{}}})

	if len(observed) != 2 {
		t.Fatalf("expected loading + snapshot notifications, got %d", len(observed))
	}
	if !observed[0].IsLoading {
		t.Fatalf("first notification should be the loading transition")
	}
	if observed[1].IsLoading || len(observed[1].Data) != 1 {
		t.Fatalf("second notification should carry the snapshot, got %+v", observed[1])
	}
}

func TestNewQueryValidatesDependencies(t *testing.T) {
	if _, err := NewQuery(QueryConfig[caseRow]{Decode: JSONDecoder[caseRow]()}); err == nil {
		t.Fatalf("expected missing backend error")
	}
	if _, err := NewQuery(QueryConfig[caseRow]{Backend: &fakeBackend{}}); err == nil {
		t.Fatalf("expected missing decoder error")
	}
}
