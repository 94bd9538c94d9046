package docstore

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

// Apply evaluates q over docs in memory. Backends without native query
// support (memory, redis) share it.
func (q Query) Apply(docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if q.matches(d) {
			out = append(out, d)
		}
	}

	slices.SortFunc(out, func(a, b Document) int {
		c := 0
		if q.OrderField != "" {
			c = compareValues(a.Fields[q.OrderField], b.Fields[q.OrderField])
		}
		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}
		if q.Dir == Desc {
			return -c
		}
		return c
	})

	if q.Max > 0 && len(out) > q.Max {
		out = out[:q.Max]
	}
	return out
}

func (q Query) matches(d Document) bool {
	for _, f := range q.Filters {
		v, ok := d.Fields[f.Field]
		if !ok || compareValues(v, f.Value) != 0 {
			return false
		}
	}
	return true
}

// rank orders values of different types: nil < bool < number < time < string.
func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int, int32, int64, float32, float64:
		return 2
	case time.Time:
		return 3
	case string:
		return 4
	default:
		return 5
	}
}

func compareValues(a, b any) int {
	if ra, rb := rank(a), rank(b); ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch av := a.(type) {
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case time.Time:
		return av.Compare(b.(time.Time))
	case string:
		return strings.Compare(av, b.(string))
	case nil:
		return 0
	}
	if fa, ok := toFloat(a); ok {
		fb, _ := toFloat(b)
		return cmp.Compare(fa, fb)
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
