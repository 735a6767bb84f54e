package view

import (
	"testing"
	"time"

	"github.com/andinalegal/lexcase/backend/internal/livequery"
	"github.com/andinalegal/lexcase/backend/internal/timeval"
)

type row struct {
	Client   string
	Status   string
	Sequence int
}

func TestMatchesTextIsCaseInsensitive(t *testing.T) {
	records := []row{
		{Client: "María García"},
		{Client: "Juan Rodríguez"},
	}

	matched := Filter(records, func(r row) bool {
		return MatchesText("garcía", r.Client)
	})

	if len(matched) != 1 {
		t.Fatalf("expected one match, got %d", len(matched))
	}
	if matched[0].Client != "María García" {
		t.Fatalf("unexpected match: %+v", matched[0])
	}
}

func TestMatchesTextEmptyTermMatchesAll(t *testing.T) {
	if !MatchesText("", "anything") {
		t.Fatalf("empty term must match")
	}
	if !MatchesText("   ", "anything") {
		t.Fatalf("blank term must match")
	}
	if MatchesText("zz", "anything") {
		t.Fatalf("non-substring must not match")
	}
}

func TestFilterIsIdempotent(t *testing.T) {
	records := []row{
		{Client: "María García", Status: "open"},
		{Client: "Ana Flores", Status: "open"},
		{Client: "Juan Rodríguez", Status: "closed"},
	}
	pred := func(r row) bool { return MatchesCategory("open", r.Status) }

	once := Filter(records, pred)
	twice := Filter(once, pred)

	if len(once) != 2 || len(twice) != len(once) {
		t.Fatalf("expected idempotent filtering, got %d then %d", len(once), len(twice))
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Fatalf("second pass changed element %d: %+v vs %+v", i, once[i], twice[i])
		}
	}
}

func TestFilterEmptyInputYieldsEmptyOutput(t *testing.T) {
	out := Filter(nil, func(row) bool { return true })
	if out == nil || len(out) != 0 {
		t.Fatalf("expected present empty sequence, got %#v", out)
	}
}

func TestMatchesCategorySentinel(t *testing.T) {
	tests := []struct {
		name     string
		selected string
		value    string
		want     bool
	}{
		{name: "all-sentinel", selected: CategoryAll, value: "civil", want: true},
		{name: "empty-selection", selected: "", value: "civil", want: true},
		{name: "exact-match", selected: "civil", value: "civil", want: true},
		{name: "mismatch", selected: "penal", value: "civil", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchesCategory(tt.selected, tt.value); got != tt.want {
				t.Fatalf("MatchesCategory(%q, %q) = %v, want %v", tt.selected, tt.value, got, tt.want)
			}
		})
	}
}

func TestSortStableKeepsTieOrderBothDirections(t *testing.T) {
	records := []row{
		{Client: "b", Sequence: 1},
		{Client: "A", Sequence: 2},
		{Client: "a", Sequence: 3},
		{Client: "B", Sequence: 4},
	}
	cmp := func(x, y row) int { return CompareText(x.Client, y.Client) }

	ascending := SortStable(records, cmp, livequery.Ascending)
	wantAscending := []int{2, 3, 1, 4}
	for i, want := range wantAscending {
		if ascending[i].Sequence != want {
			t.Fatalf("ascending order mismatch at %d: got %+v", i, ascending)
		}
	}

	descending := SortStable(records, cmp, livequery.Descending)
	wantDescending := []int{1, 4, 2, 3}
	for i, want := range wantDescending {
		if descending[i].Sequence != want {
			t.Fatalf("descending order mismatch at %d: got %+v", i, descending)
		}
	}

	// The input must be left untouched.
	if records[0].Sequence != 1 || records[3].Sequence != 4 {
		t.Fatalf("sort mutated its input: %+v", records)
	}
}

func TestSortByFieldUnknownFieldIsIdentity(t *testing.T) {
	records := []row{{Sequence: 3}, {Sequence: 1}, {Sequence: 2}}
	comparators := Comparators[row]{
		"client": func(a, b row) int { return CompareText(a.Client, b.Client) },
	}

	out := SortByField(records, "no-such-field", livequery.Ascending, comparators)
	for i := range records {
		if out[i] != records[i] {
			t.Fatalf("unknown field must pass input through unchanged, got %+v", out)
		}
	}
}

func TestCompareInstantsAgreesAcrossSpellings(t *testing.T) {
	moment := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

	fromText, err := timeval.Parse("2025-03-01T12:00:00Z")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	fromRecord, err := timeval.Parse(map[string]any{"seconds": float64(moment.Unix())})
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	if CompareInstants(fromText, timeval.FromTime(moment)) != 0 {
		t.Fatalf("text and native spellings must compare equal")
	}
	if CompareInstants(fromRecord, timeval.FromTime(moment)) != 0 {
		t.Fatalf("seconds-record and native spellings must compare equal")
	}
}
