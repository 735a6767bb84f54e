package store

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/andinalegal/lexcase/backend/internal/livequery"
)

type querySubscriber struct {
	ref        livequery.RemoteRef
	onSnapshot func([]livequery.Document)
	onError    func(error)

	dirty chan struct{}
	done  chan struct{}
	once  sync.Once
}

type documentSubscriber struct {
	ref        livequery.DocRef
	onSnapshot func(*livequery.Document)
	onError    func(error)

	dirty chan struct{}
	done  chan struct{}
	once  sync.Once
}

// Subscribe registers a live query. The current snapshot is delivered
// asynchronously right after registration and again after every
// mutation of the collection. The returned function tears the
// subscription down; at most one in-flight callback can still land
// after it returns, which the query layer discards by generation.
func (s *Store) Subscribe(ref livequery.RemoteRef, onSnapshot func([]livequery.Document), onError func(error)) func() {
	subscriber := &querySubscriber{
		ref:        ref,
		onSnapshot: onSnapshot,
		onError:    onError,
		dirty:      make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	subscriber.dirty <- struct{}{}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.queries[id] = subscriber
	s.mu.Unlock()

	go s.pumpQuery(subscriber)

	return func() {
		s.mu.Lock()
		delete(s.queries, id)
		s.mu.Unlock()
		subscriber.once.Do(func() { close(subscriber.done) })
	}
}

// SubscribeDocument registers a live single-document subscription. An
// absent document is reported as a nil snapshot, not an error.
func (s *Store) SubscribeDocument(ref livequery.DocRef, onSnapshot func(*livequery.Document), onError func(error)) func() {
	subscriber := &documentSubscriber{
		ref:        ref,
		onSnapshot: onSnapshot,
		onError:    onError,
		dirty:      make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	subscriber.dirty <- struct{}{}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.documents[id] = subscriber
	s.mu.Unlock()

	go s.pumpDocument(subscriber)

	return func() {
		s.mu.Lock()
		delete(s.documents, id)
		s.mu.Unlock()
		subscriber.once.Do(func() { close(subscriber.done) })
	}
}

// notify marks every subscriber over the collection dirty. The send is
// non-blocking; a subscriber already marked dirty re-reads the latest
// state anyway, so coalescing drops nothing observable.
func (s *Store) notify(collection string) {
	s.mu.RLock()
	queries := make([]*querySubscriber, 0, len(s.queries))
	for _, subscriber := range s.queries {
		if subscriber.ref.Collection == collection {
			queries = append(queries, subscriber)
		}
	}
	documents := make([]*documentSubscriber, 0, len(s.documents))
	for _, subscriber := range s.documents {
		if subscriber.ref.Collection == collection {
			documents = append(documents, subscriber)
		}
	}
	s.mu.RUnlock()

	for _, subscriber := range queries {
		select {
		case subscriber.dirty <- struct{}{}:
		default:
		}
	}
	for _, subscriber := range documents {
		select {
		case subscriber.dirty <- struct{}{}:
		default:
		}
	}
}

func (s *Store) pumpQuery(subscriber *querySubscriber) {
	for {
		select {
		case <-subscriber.done:
			return
		case <-subscriber.dirty:
		}

		documents, err := s.evaluate(context.Background(), subscriber.ref)

		select {
		case <-subscriber.done:
			return
		default:
		}

		if err != nil {
			s.logger.Error("query evaluation failed",
				zap.String("collection", subscriber.ref.Collection),
				zap.Error(err))
			if subscriber.onError != nil {
				subscriber.onError(err)
			}
			continue
		}
		if subscriber.onSnapshot != nil {
			subscriber.onSnapshot(documents)
		}
	}
}

func (s *Store) pumpDocument(subscriber *documentSubscriber) {
	for {
		select {
		case <-subscriber.done:
			return
		case <-subscriber.dirty:
		}

		document, err := s.loadDocument(context.Background(), subscriber.ref)

		select {
		case <-subscriber.done:
			return
		default:
		}

		if err != nil {
			s.logger.Error("document load failed",
				zap.String("collection", subscriber.ref.Collection),
				zap.String("doc_id", subscriber.ref.ID),
				zap.Error(err))
			if subscriber.onError != nil {
				subscriber.onError(err)
			}
			continue
		}
		if subscriber.onSnapshot != nil {
			subscriber.onSnapshot(document)
		}
	}
}
