package handshake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/criptx/internal/apperr"
	"github.com/matheus3301/criptx/internal/bus"
	"github.com/matheus3301/criptx/internal/docstore"
	"github.com/matheus3301/criptx/internal/feed"
	"github.com/matheus3301/criptx/internal/identity"
	"github.com/matheus3301/criptx/internal/session"
)

var (
	alice = &identity.Identity{UID: "uid-a", DisplayName: "Alice"}
	bruno = &identity.Identity{UID: "uid-b", DisplayName: "Bruno", Nickname: "bruno", IsAnonymous: true}
	carla = &identity.Identity{UID: "uid-c", DisplayName: "Carla"}
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

func seedProfiles(t *testing.T, docs *docstore.Memory) {
	t.Helper()
	ctx := context.Background()
	for _, p := range []struct {
		uid  string
		nick string
	}{
		{"uid-a", ""},
		{"uid-b", "bruno"},
		{"uid-c", ""},
		{"uid-d", "twin"},
		{"uid-e", "twin"},
	} {
		fields := docstore.Fields{"displayName": p.uid}
		if p.nick != "" {
			fields["nickname"] = p.nick
			fields["isAnonymous"] = true
		}
		if err := docs.Set(ctx, session.ProfileCollection, p.uid, fields, false); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemory()
	seedProfiles(t, docs)
	h := New(docs, bus.New(), nil)

	tests := []struct {
		name     string
		target   string
		sentinel error
	}{
		{"empty", "   ", nil},
		{"unknown", "nobody", ErrUnknownRecipient},
		{"ambiguous", "twin", ErrAmbiguousRecipient},
		{"self by uid", "uid-a", ErrSelfRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Create(ctx, alice, tt.target)
			if !apperr.IsValidation(err) {
				t.Fatalf("Create(%q) error = %v, want ValidationError", tt.target, err)
			}
			if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
				t.Errorf("Create(%q) error = %v, want %v", tt.target, err, tt.sentinel)
			}
		})
	}
	if n := docs.Count(Collection); n != 0 {
		t.Errorf("%d requests written, want 0", n)
	}
}

func TestCreateResolvesNickname(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemory()
	seedProfiles(t, docs)
	h := New(docs, bus.New(), nil)

	id, err := h.Create(ctx, alice, "bruno")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	req, err := h.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if req.To != "uid-b" || req.From != "uid-a" || req.FromNickname != "Alice" || req.Status != StatusPending {
		t.Errorf("request = %+v", req)
	}
	if req.CreatedAt.IsZero() {
		t.Error("createdAt not set")
	}
}

func TestRequestAcceptScenario(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemory()
	seedProfiles(t, docs)
	b := bus.New()

	inboxB := New(docs, b, nil)
	if err := inboxB.Start(ctx, bruno); err != nil {
		t.Fatal(err)
	}
	defer inboxB.Stop()
	outboxA := New(docs, b, nil)

	id, err := outboxA.Create(ctx, alice, "uid-b")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitFor(t, "pending request", func() bool { return len(inboxB.Pending()) == 1 })
	got := inboxB.Pending()[0]
	if got.ID != id || got.From != "uid-a" || got.Status != StatusPending {
		t.Errorf("pending = %+v", got)
	}

	if err := inboxB.Answer(ctx, bruno, id, true); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	waitFor(t, "pending list to empty", func() bool { return len(inboxB.Pending()) == 0 })

	req, err := inboxB.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if req.ID != id || req.Status != StatusAccepted || req.UpdatedAt.IsZero() {
		t.Errorf("answered request = %+v", req)
	}
	if n := docs.Count(Collection); n != 1 {
		t.Errorf("%d request documents, want 1", n)
	}

	if err := inboxB.Answer(ctx, bruno, id, false); !errors.Is(err, ErrAlreadyAnswered) {
		t.Errorf("second Answer error = %v, want ErrAlreadyAnswered", err)
	}
	if req, _ := inboxB.Get(ctx, id); req.Status != StatusAccepted {
		t.Errorf("status after second answer = %s", req.Status)
	}
}

// The handshake does not gate the feed: both parties, and outsiders, can
// post and read regardless of requests.
func TestFeedRemainsGlobal(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemory()
	seedProfiles(t, docs)
	b := bus.New()
	h := New(docs, b, nil)

	feedA := feed.New(docs, b, nil, 0)
	feedC := feed.New(docs, b, nil, 0)
	for _, f := range []struct {
		f   *feed.Feed
		who *identity.Identity
	}{{feedA, alice}, {feedC, carla}} {
		if err := f.f.Start(ctx, f.who); err != nil {
			t.Fatal(err)
		}
		defer f.f.Stop()
	}
	sendB := feed.New(docs, b, nil, 0)

	if err := feedA.Send(ctx, alice, "before request"); err != nil {
		t.Fatalf("send before request: %v", err)
	}
	id, err := h.Create(ctx, alice, "uid-b")
	if err != nil {
		t.Fatal(err)
	}
	if err := sendB.Send(ctx, bruno, "while pending"); err != nil {
		t.Fatalf("send while pending: %v", err)
	}
	if err := h.Answer(ctx, bruno, id, false); err != nil {
		t.Fatal(err)
	}
	if err := sendB.Send(ctx, bruno, "after rejection"); err != nil {
		t.Fatalf("send after rejection: %v", err)
	}

	waitFor(t, "all messages on A", func() bool { return len(feedA.Messages()) == 3 })
	waitFor(t, "all messages on C", func() bool { return len(feedC.Messages()) == 3 })
}

func TestAnswerGuards(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemory()
	seedProfiles(t, docs)
	h := New(docs, bus.New(), nil)

	id, err := h.Create(ctx, alice, "uid-b")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Answer(ctx, carla, id, true); !errors.Is(err, ErrNotRecipient) {
		t.Errorf("Answer by outsider = %v, want ErrNotRecipient", err)
	}
	if err := h.Answer(ctx, bruno, "missing", true); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("Answer missing = %v, want ErrRequestNotFound", err)
	}
	if n := docs.Count(Collection); n != 1 {
		t.Errorf("%d request documents, want 1", n)
	}
	if req, _ := h.Get(ctx, id); req.Status != StatusPending {
		t.Errorf("status = %s, want pending", req.Status)
	}
}

func TestCreateWriteFailure(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemory()
	seedProfiles(t, docs)
	docs.FailWrites(errors.New("offline"))
	h := New(docs, bus.New(), nil)

	_, err := h.Create(ctx, alice, "uid-b")
	var werr *apperr.StoreWriteError
	if !errors.As(err, &werr) {
		t.Errorf("Create error = %v, want StoreWriteError", err)
	}
}

func TestStartStopLeaksNothing(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemory()
	h := New(docs, bus.New(), nil)

	if err := h.Start(ctx, bruno); err != nil {
		t.Fatal(err)
	}
	h.Stop()
	if n := docs.ListenerCount(); n != 0 {
		t.Errorf("ListenerCount = %d, want 0", n)
	}
	if n := len(h.Pending()); n != 0 {
		t.Errorf("pending = %d, want 0", n)
	}
}

func TestBackendEndPublishesEnded(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemory()
	b := bus.New()
	events, unsub := b.Subscribe(bus.KindHandshakeEnded, 4)
	defer unsub()

	h := New(docs, b, nil)
	if err := h.Start(ctx, bruno); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "active", h.Active)

	_ = docs.Close()
	select {
	case evt := <-events:
		if _, ok := evt.Payload.(Ended); !ok {
			t.Errorf("payload = %#v, want Ended", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no handshake.ended after the store closed the stream")
	}
	if h.Active() {
		t.Error("Active after the stream ended")
	}
	h.Stop()
	if n := docs.ListenerCount(); n != 0 {
		t.Errorf("ListenerCount = %d, want 0", n)
	}
}
