// Package docstore is the client's view of the remote document store: a set
// of collections supporting filtered, ordered queries and push subscriptions
// that deliver the full current result set on every change.
package docstore

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ErrNotFound is returned by Get when the document does not exist.
var ErrNotFound = errors.New("document not found")

// Fields is the content of a document.
type Fields map[string]any

// String returns the string stored at key, or "".
func (f Fields) String(key string) string {
	s, _ := f[key].(string)
	return s
}

// Bool returns the bool stored at key, or false.
func (f Fields) Bool(key string) bool {
	b, _ := f[key].(bool)
	return b
}

// Time returns the timestamp stored at key, or the zero time.
func (f Fields) Time(key string) time.Time {
	t, _ := f[key].(time.Time)
	return t
}

func (f Fields) clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Document is a stored document with its store-assigned id.
type Document struct {
	ID     string
	Fields Fields
}

type serverTimestamp struct{}

// ServerTimestamp, used as a field value, is replaced with the store's clock
// at write time.
var ServerTimestamp any = serverTimestamp{}

func isServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// resolveTimestamps returns a copy of f with ServerTimestamp values set to ts.
func resolveTimestamps(f Fields, ts time.Time) Fields {
	out := f.clone()
	for k, v := range out {
		if isServerTimestamp(v) {
			out[k] = ts
		}
	}
	return out
}

// Direction orders query results.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// Filter is an equality constraint on one field.
type Filter struct {
	Field string
	Value any
}

// Query selects documents from one collection. Results are ordered by
// OrderField, with ties broken by document id in the same direction.
type Query struct {
	Collection string
	Filters    []Filter
	OrderField string
	Dir        Direction
	Max        int
}

// From starts a query over collection.
func From(collection string) Query {
	return Query{Collection: collection}
}

// Where adds an equality filter.
func (q Query) Where(field string, value any) Query {
	q.Filters = append(slices.Clip(q.Filters), Filter{Field: field, Value: value})
	return q
}

// OrderBy sets the sort field and direction.
func (q Query) OrderBy(field string, dir Direction) Query {
	q.OrderField = field
	q.Dir = dir
	return q
}

// Limit caps the number of results; zero means unlimited.
func (q Query) Limit(n int) Query {
	q.Max = n
	return q
}

// Snapshot is the full result set of a subscribed query at one point in time.
type Snapshot struct {
	Docs   []Document
	ReadAt time.Time
}

// UpdateFunc computes the fields to merge into a document from its current
// contents. current is nil when the document does not exist. Returning an
// error aborts the update without writing.
type UpdateFunc func(current *Document) (Fields, error)

// Store is the persistent document store contract.
type Store interface {
	// Add writes a new document with a store-assigned id.
	Add(ctx context.Context, collection string, fields Fields) (string, error)
	// Set writes the document with the given id, merging into existing
	// fields when merge is set and replacing them otherwise.
	Set(ctx context.Context, collection, id string, fields Fields, merge bool) error
	// Get reads one document; ErrNotFound if absent.
	Get(ctx context.Context, collection, id string) (*Document, error)
	// Query runs q once.
	Query(ctx context.Context, q Query) ([]Document, error)
	// Update atomically reads a document, calls fn and merges its result.
	Update(ctx context.Context, collection, id string, fn UpdateFunc) error
	// Subscribe opens a standing query. The first snapshot reflects the
	// current result set; each later one follows a change.
	Subscribe(ctx context.Context, q Query) (*Subscription, error)
	Close() error
}
