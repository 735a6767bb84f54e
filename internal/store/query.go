package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"gorm.io/gorm"

	"github.com/andinalegal/lexcase/backend/internal/livequery"
	"github.com/andinalegal/lexcase/backend/internal/timeval"
)

// evaluate materializes a query reference against the current table
// contents. Filtering, ordering and limiting happen in process over
// the decoded payloads so filter semantics match what subscribers see
// in their snapshots, not what SQLite would collate.
func (s *Store) evaluate(ctx context.Context, ref livequery.RemoteRef) ([]livequery.Document, error) {
	var rows []documentRow
	err := s.db.WithContext(ctx).
		Where("collection = ?", ref.Collection).
		Order("doc_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	documents := make([]livequery.Document, 0, len(rows))
	for _, row := range rows {
		fields := map[string]any{}
		if err := json.Unmarshal([]byte(row.FieldsJSON), &fields); err != nil {
			return nil, fmt.Errorf("store: stored payload corrupt for %s/%s: %w", row.Collection, row.DocID, err)
		}
		document := livequery.Document{ID: row.DocID, Fields: fields}
		if matchesFilters(document, ref.Filters) {
			documents = append(documents, document)
		}
	}

	if ref.Order != nil {
		orderDocuments(documents, *ref.Order)
	}
	if ref.Limit > 0 && len(documents) > ref.Limit {
		documents = documents[:ref.Limit]
	}
	return documents, nil
}

func (s *Store) loadDocument(ctx context.Context, ref livequery.DocRef) (*livequery.Document, error) {
	var row documentRow
	err := s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", ref.Collection, ref.ID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	if err := json.Unmarshal([]byte(row.FieldsJSON), &fields); err != nil {
		return nil, fmt.Errorf("store: stored payload corrupt for %s/%s: %w", row.Collection, row.DocID, err)
	}
	return &livequery.Document{ID: row.DocID, Fields: fields}, nil
}

func matchesFilters(document livequery.Document, filters []livequery.Filter) bool {
	for _, filter := range filters {
		stored, present := document.Fields[filter.Field]
		switch filter.Op {
		case livequery.OpEqual:
			if !present || !looseEqual(stored, filter.Value) {
				return false
			}
		case livequery.OpNotEqual:
			if present && looseEqual(stored, filter.Value) {
				return false
			}
		case livequery.OpLess:
			cmp, ok := looseCompare(stored, filter.Value)
			if !present || !ok || cmp >= 0 {
				return false
			}
		case livequery.OpLessEqual:
			cmp, ok := looseCompare(stored, filter.Value)
			if !present || !ok || cmp > 0 {
				return false
			}
		case livequery.OpGreater:
			cmp, ok := looseCompare(stored, filter.Value)
			if !present || !ok || cmp <= 0 {
				return false
			}
		case livequery.OpGreaterEqual:
			cmp, ok := looseCompare(stored, filter.Value)
			if !present || !ok || cmp < 0 {
				return false
			}
		case livequery.OpArrayContains:
			sequence, isSequence := stored.([]any)
			if !present || !isSequence {
				return false
			}
			found := false
			for _, element := range sequence {
				if looseEqual(element, filter.Value) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// orderDocuments sorts stably by the named field. Documents missing
// the field sort first; descending order inverts the comparison but
// never the relative order of ties.
func orderDocuments(documents []livequery.Document, order livequery.Order) {
	sort.SliceStable(documents, func(i, j int) bool {
		left, leftPresent := documents[i].Fields[order.Field]
		right, rightPresent := documents[j].Fields[order.Field]

		var cmp int
		switch {
		case !leftPresent && !rightPresent:
			cmp = 0
		case !leftPresent:
			cmp = -1
		case !rightPresent:
			cmp = 1
		default:
			ordered, ok := looseCompare(left, right)
			if !ok {
				return false
			}
			cmp = ordered
		}

		if order.Direction == livequery.Descending {
			return cmp > 0
		}
		return cmp < 0
	})
}

// looseEqual compares a stored value against a filter value across the
// representations JSON decoding produces. Numbers compare by value,
// timestamps by instant regardless of spelling.
func looseEqual(stored, requested any) bool {
	if leftNum, leftOK := asFloat(stored); leftOK {
		if rightNum, rightOK := asFloat(requested); rightOK {
			return leftNum == rightNum
		}
	}
	if leftBool, leftOK := stored.(bool); leftOK {
		if rightBool, rightOK := requested.(bool); rightOK {
			return leftBool == rightBool
		}
	}
	if cmp, ok := compareAsInstants(stored, requested); ok {
		return cmp == 0
	}
	if leftText, leftOK := stored.(string); leftOK {
		if rightText, rightOK := requested.(string); rightOK {
			return leftText == rightText
		}
	}
	return reflect.DeepEqual(stored, requested)
}

// looseCompare orders two values when a meaningful order exists:
// numerically, lexically, or chronologically.
func looseCompare(left, right any) (int, bool) {
	if leftNum, leftOK := asFloat(left); leftOK {
		if rightNum, rightOK := asFloat(right); rightOK {
			switch {
			case leftNum < rightNum:
				return -1, true
			case leftNum > rightNum:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	if cmp, ok := compareAsInstants(left, right); ok {
		return cmp, true
	}
	if leftText, leftOK := left.(string); leftOK {
		if rightText, rightOK := right.(string); rightOK {
			return strings.Compare(leftText, rightText), true
		}
	}
	return 0, false
}

func compareAsInstants(left, right any) (int, bool) {
	leftInstant, leftErr := timeval.Parse(left)
	rightInstant, rightErr := timeval.Parse(right)
	if leftErr != nil || rightErr != nil || !leftInstant.Known() || !rightInstant.Known() {
		return 0, false
	}
	return timeval.Compare(leftInstant, rightInstant), true
}

func asFloat(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case json.Number:
		parsed, err := typed.Float64()
		return parsed, err == nil
	default:
		return 0, false
	}
}
