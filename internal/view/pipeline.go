// Package view provides the pure recomputation stages that turn live
// query snapshots into presentation-ready sequences. Every function is
// side-effect free and stable: identical inputs yield identical
// outputs, and inputs are never mutated.
package view

import (
	"sort"
	"strings"

	"github.com/andinalegal/lexcase/backend/internal/livequery"
	"github.com/andinalegal/lexcase/backend/internal/timeval"
)

// CategoryAll is the sentinel meaning no categorical filter is applied.
const CategoryAll = "all"

// Filter returns the items matching pred in their original order.
// An empty input yields an empty (non-nil) output.
func Filter[T any](items []T, pred func(T) bool) []T {
	kept := make([]T, 0, len(items))
	for _, item := range items {
		if pred(item) {
			kept = append(kept, item)
		}
	}
	return kept
}

// MatchesText reports whether any field value contains term as a
// case-insensitive substring. An empty term matches everything.
func MatchesText(term string, fieldValues ...string) bool {
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return true
	}
	for _, value := range fieldValues {
		if strings.Contains(strings.ToLower(value), needle) {
			return true
		}
	}
	return false
}

// MatchesCategory reports whether value satisfies the selected
// categorical filter; the CategoryAll sentinel (or an empty selection)
// always matches.
func MatchesCategory(selected, value string) bool {
	if selected == "" || selected == CategoryAll {
		return true
	}
	return selected == value
}

// Comparators maps sort-field names to ordering functions for T.
type Comparators[T any] map[string]func(a, b T) int

// SortByField orders a copy of items by the named field. An unknown
// field is an identity pass-through, never an error, so a stale sort
// selection from the UI cannot break the view.
func SortByField[T any](items []T, field string, direction livequery.Direction, comparators Comparators[T]) []T {
	cmp, known := comparators[field]
	if !known {
		out := make([]T, len(items))
		copy(out, items)
		return out
	}
	return SortStable(items, cmp, direction)
}

// SortStable orders a copy of items by cmp. Descending inverts the
// comparator; ties keep their input relative order in both directions.
func SortStable[T any](items []T, cmp func(a, b T) int, direction livequery.Direction) []T {
	out := make([]T, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		ordered := cmp(out[i], out[j])
		if direction == livequery.Descending {
			return ordered > 0
		}
		return ordered < 0
	})
	return out
}

// CompareText orders two strings case-insensitively.
func CompareText(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

// CompareInstants orders two normalized timestamps.
func CompareInstants(a, b timeval.Instant) int {
	return timeval.Compare(a, b)
}
