package livequery

import "reflect"

// Operator enumerates the comparison operators a filter may use.
type Operator string

const (
	OpEqual         Operator = "=="
	OpNotEqual      Operator = "!="
	OpLess          Operator = "<"
	OpLessEqual     Operator = "<="
	OpGreater       Operator = ">"
	OpGreaterEqual  Operator = ">="
	OpArrayContains Operator = "array-contains"
)

// Direction enumerates result ordering for an ordered reference.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// Filter is one equality or range predicate over a document field.
type Filter struct {
	Field string
	Op    Operator
	Value any
}

// Order names the field and direction applied to query results.
type Order struct {
	Field     string
	Direction Direction
}

// RemoteRef describes a filtered, optionally ordered and limited view
// of a named collection in the store. Refs are values: the builder
// methods return copies, and two refs are interchangeable exactly when
// Equal reports true, which is what the subscription layer uses to
// decide whether an existing subscription can be reused.
type RemoteRef struct {
	Collection string
	Filters    []Filter
	Order      *Order
	Limit      int
}

// Collection starts a reference over the named collection.
func Collection(name string) RemoteRef {
	return RemoteRef{Collection: name}
}

// Where returns a copy of the reference with an additional filter.
func (r RemoteRef) Where(field string, op Operator, value any) RemoteRef {
	filters := make([]Filter, 0, len(r.Filters)+1)
	filters = append(filters, r.Filters...)
	filters = append(filters, Filter{Field: field, Op: op, Value: value})
	r.Filters = filters
	return r
}

// OrderBy returns a copy of the reference ordered by the named field.
func (r RemoteRef) OrderBy(field string, direction Direction) RemoteRef {
	r.Order = &Order{Field: field, Direction: direction}
	return r
}

// WithLimit returns a copy of the reference capped at n results.
func (r RemoteRef) WithLimit(n int) RemoteRef {
	r.Limit = n
	return r
}

// Equal reports whether two references describe the same query view.
func (r RemoteRef) Equal(other RemoteRef) bool {
	if r.Collection != other.Collection || r.Limit != other.Limit {
		return false
	}
	if len(r.Filters) != len(other.Filters) {
		return false
	}
	for i := range r.Filters {
		a, b := r.Filters[i], other.Filters[i]
		if a.Field != b.Field || a.Op != b.Op || !reflect.DeepEqual(a.Value, b.Value) {
			return false
		}
	}
	switch {
	case r.Order == nil && other.Order == nil:
		return true
	case r.Order == nil || other.Order == nil:
		return false
	default:
		return *r.Order == *other.Order
	}
}

// DocRef identifies a single document inside a collection.
type DocRef struct {
	Collection string
	ID         string
}

// Equal reports whether two document references name the same record.
func (r DocRef) Equal(other DocRef) bool {
	return r == other
}
