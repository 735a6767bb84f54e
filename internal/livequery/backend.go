package livequery

import "encoding/json"

// Document is one raw record as emitted by the store: the assigned key
// plus the field payload. The key is never part of the payload and is
// injected into decoded records under the "id" field.
type Document struct {
	ID     string
	Fields map[string]any
}

// Backend is the push contract the external document store satisfies.
// Registration returns immediately; snapshots and errors arrive via
// the provided callbacks until the returned unsubscribe func runs.
// Snapshot order is preserved per subscription only.
type Backend interface {
	Subscribe(ref RemoteRef, onSnapshot func([]Document), onError func(error)) (unsubscribe func())
	SubscribeDocument(ref DocRef, onSnapshot func(*Document), onError func(error)) (unsubscribe func())
}

// Decoder materializes a typed record from a raw document.
type Decoder[T any] func(Document) (T, error)

// JSONDecoder builds a Decoder that carries the document fields plus
// the injected id through JSON into T.
func JSONDecoder[T any]() Decoder[T] {
	return func(doc Document) (T, error) {
		var record T
		merged := make(map[string]any, len(doc.Fields)+1)
		for key, value := range doc.Fields {
			merged[key] = value
		}
		merged["id"] = doc.ID
		raw, err := json.Marshal(merged)
		if err != nil {
			return record, err
		}
		if err := json.Unmarshal(raw, &record); err != nil {
			return record, err
		}
		return record, nil
	}
}
