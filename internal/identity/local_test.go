package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLocalAnonymous(t *testing.T) {
	ctx := context.Background()
	p := NewLocal()

	id, err := p.AuthenticateAnonymous(ctx)
	if err != nil {
		t.Fatalf("AuthenticateAnonymous: %v", err)
	}
	if !id.IsAnonymous || id.UID == "" {
		t.Errorf("identity = %+v", id)
	}
	if err := p.UpdateDisplayIdentity(ctx, id.UID, "Bob", "https://avatar"); err != nil {
		t.Fatalf("UpdateDisplayIdentity: %v", err)
	}
	cur := p.Current()
	if cur == nil || cur.DisplayName != "Bob" || cur.PhotoURL != "https://avatar" {
		t.Errorf("Current() = %+v", cur)
	}
}

func TestLocalFederatedPopupBlocked(t *testing.T) {
	ctx := context.Background()
	p := NewLocal(WithPopupError(ErrPopupBlocked), WithFederatedUser(Identity{UID: "ana", DisplayName: "Ana"}))

	if _, err := p.AuthenticateFederated(ctx, ModePopup, nil); !errors.Is(err, ErrPopupBlocked) {
		t.Fatalf("popup error = %v, want ErrPopupBlocked", err)
	}

	var redirected string
	id, err := p.AuthenticateFederated(ctx, ModeRedirect, func(u string) { redirected = u })
	if err != nil {
		t.Fatalf("redirect: %v", err)
	}
	if redirected == "" {
		t.Error("onRedirect not called")
	}
	if id.UID != "ana" || id.IsAnonymous {
		t.Errorf("identity = %+v", id)
	}
}

func TestLocalLookup(t *testing.T) {
	ctx := context.Background()
	p := NewLocal()
	p.Register(Identity{UID: "u1", DisplayName: "One"})

	id, err := p.Lookup(ctx, "u1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if id.DisplayName != "One" {
		t.Errorf("DisplayName = %q", id.DisplayName)
	}
	if _, err := p.Lookup(ctx, "nope"); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("Lookup(nope) = %v, want ErrUnknownUser", err)
	}
}

func TestLocalWatch(t *testing.T) {
	ctx := context.Background()
	p := NewLocal()
	ch, stop := p.Watch()
	defer stop()

	id, _ := p.AuthenticateAnonymous(ctx)
	select {
	case got := <-ch:
		if got == nil || got.UID != id.UID {
			t.Errorf("watch got %+v, want %s", got, id.UID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for sign-in")
	}

	_ = p.SignOut(ctx)
	select {
	case got := <-ch:
		if got != nil {
			t.Errorf("watch got %+v, want nil", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for sign-out")
	}
	if p.Current() != nil {
		t.Error("Current() not nil after sign-out")
	}
}

func TestLabel(t *testing.T) {
	tests := []struct {
		id   Identity
		want string
	}{
		{Identity{DisplayName: "Ana"}, "Ana"},
		{Identity{DisplayName: "Bob", Nickname: "bobby", IsAnonymous: true}, "bobby"},
		{Identity{DisplayName: "Carl", IsAnonymous: true}, "Carl"},
	}
	for _, tt := range tests {
		if got := tt.id.Label(); got != tt.want {
			t.Errorf("Label(%+v) = %q, want %q", tt.id, got, tt.want)
		}
	}
}
