package identity

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// LocalProvider is an in-process identity provider for development and tests.
// Accounts live only as long as the process.
type LocalProvider struct {
	mu          sync.Mutex
	accounts    map[string]*Identity
	current     *Identity
	federated   Identity
	popupErr    error
	redirectErr error
	signInURL   string
	notifier    notifier
}

// LocalOption configures a LocalProvider.
type LocalOption func(*LocalProvider)

// WithFederatedUser sets the identity returned by federated sign-in.
func WithFederatedUser(id Identity) LocalOption {
	return func(p *LocalProvider) { p.federated = id }
}

// WithPopupError makes the popup flow fail with err.
func WithPopupError(err error) LocalOption {
	return func(p *LocalProvider) { p.popupErr = err }
}

// WithRedirectError makes the redirect flow fail with err.
func WithRedirectError(err error) LocalOption {
	return func(p *LocalProvider) { p.redirectErr = err }
}

// NewLocal creates a local provider.
func NewLocal(opts ...LocalOption) *LocalProvider {
	p := &LocalProvider{
		accounts: make(map[string]*Identity),
		federated: Identity{
			UID:         "local-user",
			DisplayName: "Local User",
			Email:       "local@localhost",
		},
		signInURL: "http://localhost/sign-in",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *LocalProvider) AuthenticateFederated(ctx context.Context, mode FlowMode, onRedirect func(string)) (*Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	popupErr, redirectErr := p.popupErr, p.redirectErr
	p.mu.Unlock()

	switch mode {
	case ModePopup:
		if popupErr != nil {
			return nil, popupErr
		}
	case ModeRedirect:
		if onRedirect != nil {
			onRedirect(p.signInURL)
		}
		if redirectErr != nil {
			return nil, redirectErr
		}
	}

	p.mu.Lock()
	id := copyIdentity(&p.federated)
	id.IsAnonymous = false
	if existing, ok := p.accounts[id.UID]; ok {
		id = copyIdentity(existing)
	}
	p.accounts[id.UID] = id
	p.current = id
	p.mu.Unlock()

	p.notifier.notify(copyIdentity(id))
	return copyIdentity(id), nil
}

func (p *LocalProvider) AuthenticateAnonymous(ctx context.Context) (*Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := &Identity{UID: uuid.NewString(), IsAnonymous: true}

	p.mu.Lock()
	p.accounts[id.UID] = id
	p.current = id
	p.mu.Unlock()

	p.notifier.notify(copyIdentity(id))
	return copyIdentity(id), nil
}

func (p *LocalProvider) UpdateDisplayIdentity(_ context.Context, uid, displayName, avatarURL string) error {
	p.mu.Lock()
	acct, ok := p.accounts[uid]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("update %s: %w", uid, ErrUnknownUser)
	}
	acct.DisplayName = displayName
	acct.PhotoURL = avatarURL
	var changed *Identity
	if p.current != nil && p.current.UID == uid {
		p.current = acct
		changed = copyIdentity(acct)
	}
	p.mu.Unlock()

	if changed != nil {
		p.notifier.notify(changed)
	}
	return nil
}

func (p *LocalProvider) Lookup(_ context.Context, uid string) (*Identity, error) {
	p.mu.Lock()
	acct, ok := p.accounts[uid]
	if ok {
		p.current = acct
	}
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("lookup %s: %w", uid, ErrUnknownUser)
	}
	return copyIdentity(acct), nil
}

func (p *LocalProvider) Current() *Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyIdentity(p.current)
}

func (p *LocalProvider) Watch() (<-chan *Identity, func()) {
	return p.notifier.watch()
}

func (p *LocalProvider) SignOut(context.Context) error {
	p.mu.Lock()
	wasSignedIn := p.current != nil
	p.current = nil
	p.mu.Unlock()

	if wasSignedIn {
		p.notifier.notify(nil)
	}
	return nil
}

// Register adds an account without signing it in, as if created by another
// client of the same provider.
func (p *LocalProvider) Register(id Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[id.UID] = copyIdentity(&id)
}
