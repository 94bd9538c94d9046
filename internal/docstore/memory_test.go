package docstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recv(t *testing.T, sub *Subscription) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.Snapshots():
		if !ok {
			t.Fatal("subscription closed")
		}
		return snap
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for snapshot")
	}
	return Snapshot{}
}

func TestMemoryAddGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	id, err := m.Add(ctx, "messages", Fields{"text": "hi", "createdAt": ServerTimestamp})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	doc, err := m.Get(ctx, "messages", id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.Fields.String("text") != "hi" {
		t.Errorf("text = %q, want hi", doc.Fields.String("text"))
	}
	if !doc.Fields.Time("createdAt").Equal(now) {
		t.Errorf("createdAt = %v, want %v", doc.Fields.Time("createdAt"), now)
	}

	if _, err := m.Get(ctx, "messages", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryServerTimeStrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return fixed })

	a, _ := m.Add(ctx, "messages", Fields{"createdAt": ServerTimestamp})
	b, _ := m.Add(ctx, "messages", Fields{"createdAt": ServerTimestamp})
	da, _ := m.Get(ctx, "messages", a)
	db, _ := m.Get(ctx, "messages", b)
	if !db.Fields.Time("createdAt").After(da.Fields.Time("createdAt")) {
		t.Error("second timestamp not after first")
	}
}

func TestMemorySetMerge(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Set(ctx, "users", "u1", Fields{"displayName": "Ana", "email": "a@x"}, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Set(ctx, "users", "u1", Fields{"displayName": "Ana B"}, true); err != nil {
		t.Fatalf("Set merge: %v", err)
	}
	doc, _ := m.Get(ctx, "users", "u1")
	if doc.Fields.String("displayName") != "Ana B" || doc.Fields.String("email") != "a@x" {
		t.Errorf("merged fields = %v", doc.Fields)
	}

	if err := m.Set(ctx, "users", "u1", Fields{"displayName": "C"}, false); err != nil {
		t.Fatalf("Set replace: %v", err)
	}
	doc, _ = m.Get(ctx, "users", "u1")
	if _, ok := doc.Fields["email"]; ok {
		t.Error("replace kept old field")
	}
}

func TestMemoryUpdateAbort(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Set(ctx, "r", "1", Fields{"status": "pending"}, false)

	abort := errors.New("abort")
	err := m.Update(ctx, "r", "1", func(cur *Document) (Fields, error) {
		return Fields{"status": "accepted"}, abort
	})
	if !errors.Is(err, abort) {
		t.Fatalf("Update error = %v, want abort", err)
	}
	doc, _ := m.Get(ctx, "r", "1")
	if doc.Fields.String("status") != "pending" {
		t.Errorf("status = %q after aborted update", doc.Fields.String("status"))
	}

	err = m.Update(ctx, "r", "2", func(cur *Document) (Fields, error) {
		if cur != nil {
			t.Error("current should be nil for a missing document")
		}
		return Fields{"status": "new"}, nil
	})
	if err != nil {
		t.Fatalf("Update missing: %v", err)
	}
}

func TestMemoryFailWrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	boom := errors.New("offline")
	m.FailWrites(boom)

	if _, err := m.Add(ctx, "messages", Fields{"text": "x"}); !errors.Is(err, boom) {
		t.Errorf("Add error = %v, want %v", err, boom)
	}
	if n := m.Count("messages"); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}

	m.FailWrites(nil)
	if _, err := m.Add(ctx, "messages", Fields{"text": "x"}); err != nil {
		t.Errorf("Add after recovery: %v", err)
	}
}

func TestMemorySubscribe(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.Add(ctx, "messages", Fields{"text": "one"})

	sub, err := m.Subscribe(ctx, From("messages").OrderBy("text", Asc))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if snap := recv(t, sub); len(snap.Docs) != 1 {
		t.Fatalf("initial snapshot has %d docs, want 1", len(snap.Docs))
	}

	_, _ = m.Add(ctx, "messages", Fields{"text": "two"})
	_, _ = m.Add(ctx, "other", Fields{"text": "ignored"})
	snap := recv(t, sub)
	if len(snap.Docs) != 2 {
		t.Fatalf("snapshot has %d docs, want 2", len(snap.Docs))
	}
	if snap.Docs[1].Fields.String("text") != "two" {
		t.Errorf("order = %v", snap.Docs)
	}

	if n := m.ListenerCount(); n != 1 {
		t.Errorf("ListenerCount = %d, want 1", n)
	}
	sub.Close()
	if n := m.ListenerCount(); n != 0 {
		t.Errorf("ListenerCount after close = %d, want 0", n)
	}
}

func TestMemoryClose(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	sub, _ := m.Subscribe(ctx, From("messages"))
	recv(t, sub)

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-sub.Snapshots(); ok {
		t.Error("subscription still open after store close")
	}
	if n := m.ListenerCount(); n != 0 {
		t.Errorf("ListenerCount = %d, want 0", n)
	}
}
