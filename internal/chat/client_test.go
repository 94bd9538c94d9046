package chat

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/criptx/internal/bus"
	"github.com/matheus3301/criptx/internal/docstore"
	"github.com/matheus3301/criptx/internal/feed"
	"github.com/matheus3301/criptx/internal/handshake"
	"github.com/matheus3301/criptx/internal/identity"
	"github.com/matheus3301/criptx/internal/session"
	"github.com/matheus3301/criptx/internal/status"
	"github.com/matheus3301/criptx/internal/store"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newClient(t *testing.T, docs *docstore.Memory) *Client {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	mgr := session.NewManager(identity.NewLocal(), docs, db, status.NewMachine(b), b, nil, session.Options{})
	return New(mgr, feed.New(docs, b, nil, 0), handshake.New(docs, b, nil), b, nil)
}

func TestActionsRequireSession(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, docstore.NewMemory())

	if err := c.Send(ctx, "hi"); !errors.Is(err, ErrNotSignedIn) {
		t.Errorf("Send error = %v, want ErrNotSignedIn", err)
	}
	if _, err := c.RequestContact(ctx, "someone"); !errors.Is(err, ErrNotSignedIn) {
		t.Errorf("RequestContact error = %v, want ErrNotSignedIn", err)
	}
	if err := c.Answer(ctx, "r1", true); !errors.Is(err, ErrNotSignedIn) {
		t.Errorf("Answer error = %v, want ErrNotSignedIn", err)
	}
}

func TestSubscriptionsFollowSession(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemory()
	c := newClient(t, docs)
	c.Start(ctx)
	defer c.Stop()

	if _, err := c.Sessions().LoginAnonymous(ctx, "Bob"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "subscriptions", c.Bound)
	if n := docs.ListenerCount(); n != 2 {
		t.Errorf("ListenerCount = %d, want 2", n)
	}

	if err := c.Send(ctx, "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "echo", func() bool { return len(c.Messages()) == 1 })
	if m := c.Messages()[0]; m.DisplayName != "Bob" {
		t.Errorf("DisplayName = %q, want Bob", m.DisplayName)
	}

	if err := c.Sessions().Logout(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "unbind", func() bool { return !c.Bound() })
	if n := docs.ListenerCount(); n != 0 {
		t.Errorf("ListenerCount after logout = %d, want 0", n)
	}
	if n := len(c.Messages()); n != 0 {
		t.Errorf("messages after logout = %d, want 0", n)
	}
}

func TestTwoClientsHandshake(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemory()
	a := newClient(t, docs)
	b := newClient(t, docs)
	for _, c := range []*Client{a, b} {
		c.Start(ctx)
		defer c.Stop()
	}

	if _, err := a.Sessions().LoginAnonymous(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	bob, err := b.Sessions().LoginAnonymous(ctx, "bobby")
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "both bound", func() bool { return a.Bound() && b.Bound() })

	id, err := a.RequestContact(ctx, "bobby")
	if err != nil {
		t.Fatalf("RequestContact: %v", err)
	}
	waitFor(t, "pending on b", func() bool { return len(b.Pending()) == 1 })
	if p := b.Pending()[0]; p.ID != id || p.To != bob.UID || p.FromNickname != "alice" {
		t.Errorf("pending = %+v", p)
	}
	if n := len(a.Pending()); n != 0 {
		t.Errorf("sender sees %d pending requests", n)
	}

	if err := b.Answer(ctx, id, true); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	waitFor(t, "inbox cleared", func() bool { return len(b.Pending()) == 0 })
}

func TestEndedStreamsReopen(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemory()
	c := newClient(t, docs)
	c.interval = 20 * time.Millisecond
	c.Start(ctx)
	defer c.Stop()

	if _, err := c.Sessions().LoginAnonymous(ctx, "Bob"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "subscriptions", c.Bound)

	// Closing the store ends every standing query from the backend side.
	_ = docs.Close()
	if err := c.Send(ctx, "after"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "message after reopen", func() bool {
		msgs := c.Messages()
		return len(msgs) == 1 && msgs[0].Text == "after"
	})
	waitFor(t, "both streams back", c.Bound)
	if n := docs.ListenerCount(); n != 2 {
		t.Errorf("ListenerCount = %d, want 2", n)
	}
}

func TestTickReconcilesWithoutEvents(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemory()
	c := newClient(t, docs)
	c.interval = 20 * time.Millisecond
	c.Start(ctx)
	defer c.Stop()

	if _, err := c.Sessions().LoginAnonymous(ctx, "Bob"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "subscriptions", c.Bound)

	// Stop publishes nothing, like a status event lost to a full bus.
	c.feed.Stop()
	waitFor(t, "feed reopened on tick", c.Bound)
	if n := docs.ListenerCount(); n != 2 {
		t.Errorf("ListenerCount = %d, want 2", n)
	}
}

func TestRetryBackoff(t *testing.T) {
	c := &Client{interval: time.Second}

	var delays []time.Duration
	for range 8 {
		before := time.Now()
		c.deferRetry()
		delays = append(delays, c.retryAt.Sub(before).Round(time.Second))
	}
	want := []time.Duration{0, 1, 2, 4, 8, 16, 30, 30}
	for i, d := range delays {
		if d != want[i]*time.Second {
			t.Errorf("attempt %d waits %v, want %v", i, d, want[i]*time.Second)
		}
	}
}
