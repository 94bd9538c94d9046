// Package identity is the client's contract with the identity provider and
// its adapters: Firebase Authentication and an in-process local provider.
package identity

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrPopupBlocked means the interactive flow could not be shown; the
	// caller may retry with ModeRedirect.
	ErrPopupBlocked = errors.New("popup blocked")
	// ErrUnauthorizedOrigin means the provider refused the sign-in origin.
	ErrUnauthorizedOrigin = errors.New("unauthorized origin")
	// ErrUnknownUser is returned by Lookup for a uid the provider does not know.
	ErrUnknownUser = errors.New("unknown user")
)

// Identity is an authenticated principal.
type Identity struct {
	UID         string
	DisplayName string
	Email       string
	PhotoURL    string
	IsAnonymous bool

	// Ephemeral identities only.
	Nickname  string
	CreatedAt time.Time
	ExpiresAt time.Time
	LastSeen  time.Time
}

// Label is the name shown next to the identity's messages and requests.
func (id *Identity) Label() string {
	if id.IsAnonymous && id.Nickname != "" {
		return id.Nickname
	}
	return id.DisplayName
}

// FlowMode selects how the federated sign-in is presented.
type FlowMode int

const (
	ModePopup FlowMode = iota
	ModeRedirect
)

func (m FlowMode) String() string {
	if m == ModeRedirect {
		return "redirect"
	}
	return "popup"
}

// Provider issues durable and ephemeral identities.
type Provider interface {
	// AuthenticateFederated runs the interactive sign-in. In ModeRedirect,
	// onRedirect receives the URL the user must open.
	AuthenticateFederated(ctx context.Context, mode FlowMode, onRedirect func(url string)) (*Identity, error)
	AuthenticateAnonymous(ctx context.Context) (*Identity, error)
	UpdateDisplayIdentity(ctx context.Context, uid, displayName, avatarURL string) error
	// Lookup re-establishes a previously issued identity.
	Lookup(ctx context.Context, uid string) (*Identity, error)
	Current() *Identity
	// Watch streams the current identity after every change; nil means
	// signed out. The returned func stops the stream.
	Watch() (<-chan *Identity, func())
	SignOut(ctx context.Context) error
}

// notifier fans identity changes out to watchers without blocking.
type notifier struct {
	mu       sync.Mutex
	watchers map[int]chan *Identity
	next     int
}

func (n *notifier) watch() (<-chan *Identity, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.watchers == nil {
		n.watchers = make(map[int]chan *Identity)
	}
	id := n.next
	n.next++
	ch := make(chan *Identity, 1)
	n.watchers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.watchers, id)
			n.mu.Unlock()
		})
	}
}

// notify delivers id to every watcher, replacing an unread older value.
func (n *notifier) notify(id *Identity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- id:
		default:
		}
	}
}

func copyIdentity(id *Identity) *Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
