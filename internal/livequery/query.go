package livequery

import (
	"errors"
	"sync"
)

var (
	errMissingBackend = errors.New("livequery: backend is required")
	errMissingDecoder = errors.New("livequery: decoder is required")
)

// State is the latest materialized view of a live query. Data stays
// nil until the first snapshot arrives and is replaced wholesale on
// every subsequent one. A subscription error sets Err but leaves the
// previous Data in place: stale-but-present beats an empty screen.
type State[T any] struct {
	Data      []T
	IsLoading bool
	Err       error
}

// QueryConfig wires a live query to its backend.
type QueryConfig[T any] struct {
	Backend  Backend
	Decode   Decoder[T]
	OnChange func(State[T])
}

// Query maintains at most one backend subscription for the currently
// active RemoteRef and exposes the latest State. All transitions are
// serialized by an internal mutex; callbacks arriving after Close or
// after the ref changed are discarded, never applied.
type Query[T any] struct {
	backend  Backend
	decode   Decoder[T]
	onChange func(State[T])

	mu          sync.Mutex
	ref         *RemoteRef
	unsubscribe func()
	generation  uint64
	state       State[T]
	closed      bool
}

// NewQuery constructs an inactive live query. Activate it with SetRef.
func NewQuery[T any](cfg QueryConfig[T]) (*Query[T], error) {
	if cfg.Backend == nil {
		return nil, errMissingBackend
	}
	if cfg.Decode == nil {
		return nil, errMissingDecoder
	}
	onChange := cfg.OnChange
	if onChange == nil {
		onChange = func(State[T]) {}
	}
	return &Query[T]{
		backend:  cfg.Backend,
		decode:   cfg.Decode,
		onChange: onChange,
	}, nil
}

// SetRef activates the query against ref, or deactivates it when ref
// is nil. A ref that is value-equal to the active one is a no-op, so
// consumers may rebuild equivalent refs on every recomputation without
// causing subscription churn.
func (q *Query[T]) SetRef(ref *RemoteRef) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if refsEqual(q.ref, ref) {
		q.mu.Unlock()
		return
	}

	previous := q.unsubscribe
	q.unsubscribe = nil
	q.generation++
	generation := q.generation

	if ref == nil {
		q.ref = nil
		q.state = State[T]{}
		state := q.state
		q.mu.Unlock()
		if previous != nil {
			previous()
		}
		q.onChange(state)
		return
	}

	target := *ref
	q.ref = &target
	q.state = State[T]{IsLoading: true}
	state := q.state
	q.mu.Unlock()

	if previous != nil {
		previous()
	}
	q.onChange(state)

	unsubscribe := q.backend.Subscribe(target,
		func(docs []Document) { q.applySnapshot(generation, docs) },
		func(err error) { q.applyError(generation, err) },
	)

	q.mu.Lock()
	if q.closed || q.generation != generation {
		q.mu.Unlock()
		unsubscribe()
		return
	}
	q.unsubscribe = unsubscribe
	q.mu.Unlock()
}

// State returns the latest materialized state.
func (q *Query[T]) State() State[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Close tears the subscription down. Notifications racing the teardown
// are discarded; the query cannot be reactivated afterwards.
func (q *Query[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.generation++
	unsubscribe := q.unsubscribe
	q.unsubscribe = nil
	q.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (q *Query[T]) applySnapshot(generation uint64, docs []Document) {
	q.mu.Lock()
	if q.closed || q.generation != generation {
		q.mu.Unlock()
		return
	}

	records := make([]T, 0, len(docs))
	for _, doc := range docs {
		record, err := q.decode(doc)
		if err != nil {
			q.state.IsLoading = false
			q.state.Err = err
			state := q.state
			q.mu.Unlock()
			q.onChange(state)
			return
		}
		records = append(records, record)
	}

	q.state = State[T]{Data: records}
	state := q.state
	q.mu.Unlock()
	q.onChange(state)
}

func (q *Query[T]) applyError(generation uint64, err error) {
	q.mu.Lock()
	if q.closed || q.generation != generation {
		q.mu.Unlock()
		return
	}
	q.state.IsLoading = false
	q.state.Err = err
	state := q.state
	q.mu.Unlock()
	q.onChange(state)
}

func refsEqual(a, b *RemoteRef) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil || b == nil:
		return false
	default:
		return a.Equal(*b)
	}
}
