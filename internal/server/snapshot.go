package server

import (
	"errors"
	"time"

	"github.com/andinalegal/lexcase/backend/internal/livequery"
)

const snapshotTimeout = 5 * time.Second

var errSnapshotTimeout = errors.New("server: snapshot timed out")

// pushLatest hands a state to a reader without ever blocking the
// notifier: when the buffer is full the queued state is dropped, so a
// slow reader only observes the most recent snapshot.
func pushLatest[T any](states chan T, state T) {
	for {
		select {
		case states <- state:
			return
		default:
		}
		select {
		case <-states:
		default:
		}
	}
}

// collectionSnapshot materializes one settled view of a query: it
// activates a live query, waits for the first non-loading state, and
// tears the subscription down again.
func collectionSnapshot[T any](backend livequery.Backend, ref *livequery.RemoteRef, wait time.Duration) ([]T, error) {
	if ref == nil {
		return []T{}, nil
	}

	states := make(chan livequery.State[T], 1)
	query, err := livequery.NewQuery(livequery.QueryConfig[T]{
		Backend:  backend,
		Decode:   livequery.JSONDecoder[T](),
		OnChange: func(state livequery.State[T]) { pushLatest(states, state) },
	})
	if err != nil {
		return nil, err
	}
	defer query.Close()
	query.SetRef(ref)

	deadline := time.After(wait)
	for {
		select {
		case state := <-states:
			if state.IsLoading {
				continue
			}
			if state.Err != nil {
				return nil, state.Err
			}
			return state.Data, nil
		case <-deadline:
			return nil, errSnapshotTimeout
		}
	}
}

// documentSnapshot materializes one settled view of a single document.
// An absent document yields a nil record without error.
func documentSnapshot[T any](backend livequery.Backend, ref *livequery.DocRef, wait time.Duration) (*T, error) {
	if ref == nil {
		return nil, nil
	}

	states := make(chan livequery.DocumentState[T], 1)
	query, err := livequery.NewDocumentQuery(livequery.DocumentConfig[T]{
		Backend:  backend,
		Decode:   livequery.JSONDecoder[T](),
		OnChange: func(state livequery.DocumentState[T]) { pushLatest(states, state) },
	})
	if err != nil {
		return nil, err
	}
	defer query.Close()
	query.SetRef(ref)

	deadline := time.After(wait)
	for {
		select {
		case state := <-states:
			if state.IsLoading {
				continue
			}
			if state.Err != nil {
				return nil, state.Err
			}
			return state.Data, nil
		case <-deadline:
			return nil, errSnapshotTimeout
		}
	}
}
