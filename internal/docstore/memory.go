package docstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store. It notifies subscribers synchronously on
// every write and assigns strictly increasing server timestamps.
type Memory struct {
	mu          sync.Mutex
	collections map[string]map[string]Fields
	subs        map[int]*memorySub
	nextSub     int
	now         func() time.Time
	lastTS      time.Time
	writeErr    error
}

type memorySub struct {
	query Query
	sub   *Subscription
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]Fields),
		subs:        make(map[int]*memorySub),
		now:         time.Now,
	}
}

// SetClock replaces the clock used for server timestamps.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// FailWrites makes every following write return err until called with nil.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// ListenerCount returns the number of open subscriptions.
func (m *Memory) ListenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Count returns the number of documents in collection.
func (m *Memory) Count(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.collections[collection])
}

func (m *Memory) Add(_ context.Context, collection string, fields Fields) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return "", m.writeErr
	}
	id := uuid.NewString()
	m.put(collection, id, resolveTimestamps(fields, m.serverTime()))
	return id, nil
}

func (m *Memory) Set(_ context.Context, collection, id string, fields Fields, merge bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	resolved := resolveTimestamps(fields, m.serverTime())
	if merge {
		resolved = mergeFields(m.collections[collection][id], resolved)
	}
	m.put(collection, id, resolved)
	return nil
}

func (m *Memory) Get(_ context.Context, collection, id string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return &Document{ID: id, Fields: f.clone()}, nil
}

func (m *Memory) Query(_ context.Context, q Query) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eval(q), nil
}

func (m *Memory) Update(_ context.Context, collection, id string, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current *Document
	if f, ok := m.collections[collection][id]; ok {
		current = &Document{ID: id, Fields: f.clone()}
	}
	patch, err := fn(current)
	if err != nil {
		return err
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	resolved := resolveTimestamps(patch, m.serverTime())
	m.put(collection, id, mergeFields(m.collections[collection][id], resolved))
	return nil
}

func (m *Memory) Subscribe(_ context.Context, q Query) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	sub := newSubscription(func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	})
	m.subs[id] = &memorySub{query: q, sub: sub}
	sub.push(Snapshot{Docs: m.eval(q), ReadAt: m.now()})
	return sub, nil
}

// Close ends every open subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s.sub)
	}
	m.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
	return nil
}

// put stores fields and notifies subscribers of collection. Caller holds mu.
func (m *Memory) put(collection, id string, fields Fields) {
	docs, ok := m.collections[collection]
	if !ok {
		docs = make(map[string]Fields)
		m.collections[collection] = docs
	}
	docs[id] = fields

	readAt := m.now()
	for _, s := range m.subs {
		if s.query.Collection == collection {
			s.sub.push(Snapshot{Docs: m.eval(s.query), ReadAt: readAt})
		}
	}
}

// eval runs q over the stored documents. Caller holds mu.
func (m *Memory) eval(q Query) []Document {
	docs := make([]Document, 0, len(m.collections[q.Collection]))
	for id, f := range m.collections[q.Collection] {
		docs = append(docs, Document{ID: id, Fields: f.clone()})
	}
	return q.Apply(docs)
}

// serverTime returns a timestamp strictly after the previous one. Caller holds mu.
func (m *Memory) serverTime() time.Time {
	ts := m.now()
	if !ts.After(m.lastTS) {
		ts = m.lastTS.Add(time.Nanosecond)
	}
	m.lastTS = ts
	return ts
}

func mergeFields(base, patch Fields) Fields {
	out := make(Fields, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
