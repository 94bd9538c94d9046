package docstore

import (
	"testing"
	"time"
)

func ids(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestApplyOrdering(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	docs := []Document{
		{ID: "b", Fields: Fields{"createdAt": base.Add(time.Second), "room": "x"}},
		{ID: "a", Fields: Fields{"createdAt": base, "room": "x"}},
		{ID: "d", Fields: Fields{"createdAt": base.Add(time.Second), "room": "x"}},
		{ID: "c", Fields: Fields{"createdAt": base.Add(2 * time.Second), "room": "y"}},
	}

	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{"asc with id tie-break", From("m").OrderBy("createdAt", Asc), []string{"a", "b", "d", "c"}},
		{"desc with id tie-break", From("m").OrderBy("createdAt", Desc), []string{"c", "d", "b", "a"}},
		{"filter", From("m").Where("room", "x").OrderBy("createdAt", Asc), []string{"a", "b", "d"}},
		{"limit", From("m").OrderBy("createdAt", Desc).Limit(2), []string{"c", "d"}},
		{"no order sorts by id", From("m"), []string{"a", "b", "c", "d"}},
		{"no match", From("m").Where("room", "z"), []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(tt.q.Apply(docs))
			if !equalIDs(got, tt.want) {
				t.Errorf("Apply() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyMissingFieldDoesNotMatch(t *testing.T) {
	docs := []Document{
		{ID: "a", Fields: Fields{"status": "pending"}},
		{ID: "b", Fields: Fields{}},
	}
	got := ids(From("r").Where("status", "pending").Apply(docs))
	if !equalIDs(got, []string{"a"}) {
		t.Errorf("Apply() = %v, want [a]", got)
	}
}

func TestCompareValuesNumbers(t *testing.T) {
	if c := compareValues(int64(2), 3.5); c != -1 {
		t.Errorf("compareValues(2, 3.5) = %d, want -1", c)
	}
	if c := compareValues(int64(4), 4); c != 0 {
		t.Errorf("compareValues(int64 4, int 4) = %d, want 0", c)
	}
	if c := compareValues(nil, "a"); c != -1 {
		t.Errorf("compareValues(nil, a) = %d, want -1", c)
	}
}

func TestWhereDoesNotAlias(t *testing.T) {
	base := From("m").Where("a", 1)
	q1 := base.Where("b", 2)
	q2 := base.Where("c", 3)
	if q1.Filters[1].Field != "b" || q2.Filters[1].Field != "c" {
		t.Errorf("filters aliased: %v / %v", q1.Filters, q2.Filters)
	}
}
