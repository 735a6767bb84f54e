package livequery

import "sync"

// DocumentState is the single-record analogue of State. Data is nil
// both before the first snapshot and when the record is confirmed
// absent; the two are told apart by IsLoading, so a consumer renders
// not-found only once IsLoading is false and Data is still nil.
type DocumentState[T any] struct {
	Data      *T
	IsLoading bool
	Err       error
}

// DocumentConfig wires a live document subscription to its backend.
type DocumentConfig[T any] struct {
	Backend  Backend
	Decode   Decoder[T]
	OnChange func(DocumentState[T])
}

// DocumentQuery maintains at most one backend subscription for a
// single document reference.
type DocumentQuery[T any] struct {
	backend  Backend
	decode   Decoder[T]
	onChange func(DocumentState[T])

	mu          sync.Mutex
	ref         *DocRef
	unsubscribe func()
	generation  uint64
	state       DocumentState[T]
	closed      bool
}

// NewDocumentQuery constructs an inactive live document subscription.
func NewDocumentQuery[T any](cfg DocumentConfig[T]) (*DocumentQuery[T], error) {
	if cfg.Backend == nil {
		return nil, errMissingBackend
	}
	if cfg.Decode == nil {
		return nil, errMissingDecoder
	}
	onChange := cfg.OnChange
	if onChange == nil {
		onChange = func(DocumentState[T]) {}
	}
	return &DocumentQuery[T]{
		backend:  cfg.Backend,
		decode:   cfg.Decode,
		onChange: onChange,
	}, nil
}

// SetRef activates the subscription against ref, or deactivates it
// when ref is nil. Value-equal refs never resubscribe.
func (q *DocumentQuery[T]) SetRef(ref *DocRef) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if docRefsEqual(q.ref, ref) {
		q.mu.Unlock()
		return
	}

	previous := q.unsubscribe
	q.unsubscribe = nil
	q.generation++
	generation := q.generation

	if ref == nil {
		q.ref = nil
		q.state = DocumentState[T]{}
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
	q.state = DocumentState[T]{IsLoading: true}
	state := q.state
	q.mu.Unlock()

	if previous != nil {
		previous()
	}
	q.onChange(state)

	unsubscribe := q.backend.SubscribeDocument(target,
		func(doc *Document) { q.applySnapshot(generation, doc) },
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
func (q *DocumentQuery[T]) State() DocumentState[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Close tears the subscription down and discards racing notifications.
func (q *DocumentQuery[T]) Close() {
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

func (q *DocumentQuery[T]) applySnapshot(generation uint64, doc *Document) {
	q.mu.Lock()
	if q.closed || q.generation != generation {
		q.mu.Unlock()
		return
	}

	if doc == nil {
		q.state = DocumentState[T]{}
		state := q.state
		q.mu.Unlock()
		q.onChange(state)
		return
	}

	record, err := q.decode(*doc)
	if err != nil {
		q.state.IsLoading = false
		q.state.Err = err
		state := q.state
		q.mu.Unlock()
		q.onChange(state)
		return
	}

	q.state = DocumentState[T]{Data: &record}
	state := q.state
	q.mu.Unlock()
	q.onChange(state)
}

func (q *DocumentQuery[T]) applyError(generation uint64, err error) {
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

func docRefsEqual(a, b *DocRef) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil || b == nil:
		return false
	default:
		return a.Equal(*b)
	}
}
