package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), RedisOptions{Addr: srv.Addr(), Prefix: "test"})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r, srv
}

// recvUntil reads snapshots until ok accepts one.
func recvUntil(t *testing.T, sub *Subscription, ok func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap, open := <-sub.Snapshots():
			if !open {
				t.Fatal("subscription closed")
			}
			if ok(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("timeout waiting for snapshot")
		}
	}
}

func indexMembers(t *testing.T, srv *miniredis.Miniredis) []string {
	t.Helper()
	members, err := srv.ZMembers("test:idx:messages:createdAt")
	if err != nil {
		t.Fatalf("ZMembers: %v", err)
	}
	return members
}

func docIDs(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestRedisServerTimestamps(t *testing.T) {
	ctx := context.Background()
	r, srv := newTestRedis(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv.SetTime(now)

	id, err := r.Add(ctx, "messages", Fields{"text": "hi", "createdAt": ServerTimestamp})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	doc, err := r.Get(ctx, "messages", id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.Fields.String("text") != "hi" {
		t.Errorf("text = %q, want hi", doc.Fields.String("text"))
	}
	if !doc.Fields.Time("createdAt").Equal(now) {
		t.Errorf("createdAt = %v, want the server time %v", doc.Fields.Time("createdAt"), now)
	}

	if _, err := r.Get(ctx, "messages", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRedisSetMerge(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t)

	if err := r.Set(ctx, "users", "u1", Fields{"a": 1}, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := r.Set(ctx, "users", "u1", Fields{"b": true}, true); err != nil {
		t.Fatalf("Set merge: %v", err)
	}
	doc, _ := r.Get(ctx, "users", "u1")
	if doc.Fields["a"] != int64(1) || !doc.Fields.Bool("b") {
		t.Errorf("merged fields = %v", doc.Fields)
	}

	if err := r.Set(ctx, "users", "u1", Fields{"c": "x"}, false); err != nil {
		t.Fatalf("Set replace: %v", err)
	}
	doc, _ = r.Get(ctx, "users", "u1")
	if _, ok := doc.Fields["a"]; ok {
		t.Error("replace kept old field")
	}
}

func TestRedisUpdate(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t)
	_ = r.Set(ctx, "r", "1", Fields{"status": "pending"}, false)

	answered := errors.New("already answered")
	answer := func(cur *Document) (Fields, error) {
		if cur == nil || cur.Fields.String("status") != "pending" {
			return nil, answered
		}
		return Fields{"status": "accepted"}, nil
	}

	applied := 0
	for range 2 {
		switch err := r.Update(ctx, "r", "1", answer); {
		case err == nil:
			applied++
		case !errors.Is(err, answered):
			t.Fatalf("Update error = %v", err)
		}
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}
	doc, _ := r.Get(ctx, "r", "1")
	if doc.Fields.String("status") != "accepted" {
		t.Errorf("status = %q, want accepted", doc.Fields.String("status"))
	}

	err := r.Update(ctx, "r", "2", func(cur *Document) (Fields, error) {
		if cur != nil {
			t.Error("current should be nil for a missing document")
		}
		return Fields{"status": "new"}, nil
	})
	if err != nil {
		t.Fatalf("Update missing: %v", err)
	}
}

func TestRedisQueryWindow(t *testing.T) {
	ctx := context.Background()
	r, srv := newTestRedis(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		srv.SetTime(base.Add(time.Duration(i) * time.Second))
		if err := r.Set(ctx, "messages", id, Fields{"createdAt": ServerTimestamp}, false); err != nil {
			t.Fatal(err)
		}
	}
	if members := indexMembers(t, srv); len(members) != 3 {
		t.Fatalf("index members = %v, want 3", members)
	}

	window := From("messages").OrderBy("createdAt", Desc).Limit(2)
	tests := []struct {
		name  string
		write func() error
		query Query
		want  []string
	}{
		{"desc window from index", nil, window, []string{"c", "b"}},
		{"asc window from index", nil, From("messages").OrderBy("createdAt", Asc).Limit(2), []string{"a", "b"}},
		{
			name:  "unindexed document falls back to a scan",
			write: func() error { return r.Set(ctx, "messages", "x", Fields{"text": "no time"}, false) },
			query: window,
			want:  []string{"c", "b"},
		},
		{
			name:  "replace without the field leaves the index",
			write: func() error { return r.Set(ctx, "messages", "c", Fields{"text": "no time"}, false) },
			query: window,
			want:  []string{"b", "a"},
		},
		{"filtered query scans", nil, From("messages").Where("text", "no time").OrderBy("createdAt", Desc), []string{"x", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.write != nil {
				if err := tt.write(); err != nil {
					t.Fatal(err)
				}
			}
			docs, err := r.Query(ctx, tt.query)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			got := docIDs(docs)
			if len(got) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("ids = %v, want %v", got, tt.want)
				}
			}
		})
	}
	if members := indexMembers(t, srv); len(members) != 2 {
		t.Errorf("index members = %v, want a and b", members)
	}
}

func TestRedisSubscribe(t *testing.T) {
	ctx := context.Background()
	r, srv := newTestRedis(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv.SetTime(now)
	_, _ = r.Add(ctx, "messages", Fields{"text": "one", "createdAt": ServerTimestamp})

	sub, err := r.Subscribe(ctx, From("messages").OrderBy("createdAt", Desc).Limit(50))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	first := recvUntil(t, sub, func(s Snapshot) bool { return len(s.Docs) == 1 })
	if !first.ReadAt.Equal(now) {
		t.Errorf("ReadAt = %v, want the server time %v", first.ReadAt, now)
	}

	srv.SetTime(now.Add(time.Second))
	_, _ = r.Add(ctx, "messages", Fields{"text": "two", "createdAt": ServerTimestamp})
	_, _ = r.Add(ctx, "other", Fields{"text": "ignored", "createdAt": ServerTimestamp})
	snap := recvUntil(t, sub, func(s Snapshot) bool { return len(s.Docs) == 2 })
	if snap.Docs[0].Fields.String("text") != "two" {
		t.Errorf("newest = %q, want two", snap.Docs[0].Fields.String("text"))
	}

	sub.Close()
	for range sub.Snapshots() {
	}
	if err := sub.Err(); err != nil {
		t.Errorf("Err after Close = %v", err)
	}
}
