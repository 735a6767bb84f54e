package server

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/andinalegal/lexcase/backend/internal/cases"
	"github.com/andinalegal/lexcase/backend/internal/livequery"
)

func TestStateDeliveryNeverBlocksWithoutAReader(t *testing.T) {
	states := make(chan int, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			pushLatest(states, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("state delivery must not block when nobody reads")
	}

	if latest := <-states; latest != 99 {
		t.Fatalf("expected the most recent state to stay queued, got %d", latest)
	}
}

func TestStalledConsumerObservesTheLatestSnapshotAndTearsDownCleanly(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	states := make(chan livequery.State[cases.CaseRecord], 1)
	query, err := livequery.NewQuery(livequery.QueryConfig[cases.CaseRecord]{
		Backend:  env.store,
		Decode:   livequery.JSONDecoder[cases.CaseRecord](),
		OnChange: func(state livequery.State[cases.CaseRecord]) { pushLatest(states, state) },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	query.SetRef(cases.CasesForIdentity(adminIdentity()))

	// The consumer reads nothing while ten mutations land; stale
	// intermediate states are dropped, never queued behind a full
	// buffer.
	for i := 0; i < 10; i++ {
		fields := map[string]any{
			"clientName":     fmt.Sprintf("cliente %d", i),
			"organizationId": "org-1",
		}
		if _, err := env.store.Write(ctx, cases.CollectionCases, fields); err != nil {
			t.Fatalf("unexpected write error: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		var state livequery.State[cases.CaseRecord]
		select {
		case state = <-states:
		case <-deadline:
			t.Fatalf("timed out waiting for the settled snapshot")
		}
		if state.IsLoading || len(state.Data) < 10 {
			continue
		}
		if len(state.Data) != 10 {
			t.Fatalf("expected all ten cases in the final state, got %d", len(state.Data))
		}
		break
	}

	query.Close()

	// Teardown with an undrained channel must leave the store fully
	// serviceable for new subscribers.
	records, err := collectionSnapshot[cases.CaseRecord](env.store, cases.CasesForIdentity(adminIdentity()), snapshotTimeout)
	if err != nil {
		t.Fatalf("unexpected snapshot error after teardown: %v", err)
	}
	if len(records) != 10 {
		t.Fatalf("expected ten cases after teardown, got %d", len(records))
	}
}
