package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"firebase.google.com/go/v4/auth"
	"go.uber.org/zap"
)

// authClient is the subset of the Firebase admin auth client used here.
type authClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
	GetUser(ctx context.Context, uid string) (*auth.UserRecord, error)
	CreateUser(ctx context.Context, user *auth.UserToCreate) (*auth.UserRecord, error)
	UpdateUser(ctx context.Context, uid string, user *auth.UserToUpdate) (*auth.UserRecord, error)
	RevokeRefreshTokens(ctx context.Context, uid string) error
}

// Firebase is a Provider backed by Firebase Authentication. Federated
// sign-in goes through a FederatedFlow whose ID token is verified with the
// admin SDK; anonymous accounts are created server-side.
type Firebase struct {
	client   authClient
	flow     *FederatedFlow
	log      *zap.Logger
	mu       sync.Mutex
	current  *Identity
	notifier notifier
}

// NewFirebase creates a provider from an admin auth client.
func NewFirebase(client *auth.Client, flow *FederatedFlow, log *zap.Logger) *Firebase {
	return newFirebase(client, flow, log)
}

func newFirebase(client authClient, flow *FederatedFlow, log *zap.Logger) *Firebase {
	if log == nil {
		log = zap.NewNop()
	}
	return &Firebase{client: client, flow: flow, log: log}
}

func (f *Firebase) AuthenticateFederated(ctx context.Context, mode FlowMode, onRedirect func(string)) (*Identity, error) {
	token, err := f.flow.Run(ctx, mode, onRedirect)
	if err != nil {
		return nil, err
	}
	verified, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}
	rec, err := f.client.GetUser(ctx, verified.UID)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", verified.UID, err)
	}
	id := fromRecord(rec)
	f.setCurrent(id)
	return copyIdentity(id), nil
}

func (f *Firebase) AuthenticateAnonymous(ctx context.Context) (*Identity, error) {
	rec, err := f.client.CreateUser(ctx, &auth.UserToCreate{})
	if err != nil {
		return nil, fmt.Errorf("create anonymous user: %w", err)
	}
	id := fromRecord(rec)
	id.IsAnonymous = true
	f.setCurrent(id)
	return copyIdentity(id), nil
}

func (f *Firebase) UpdateDisplayIdentity(ctx context.Context, uid, displayName, avatarURL string) error {
	update := (&auth.UserToUpdate{}).DisplayName(displayName).PhotoURL(avatarURL)
	if _, err := f.client.UpdateUser(ctx, uid, update); err != nil {
		return fmt.Errorf("update user %s: %w", uid, err)
	}

	f.mu.Lock()
	var changed *Identity
	if f.current != nil && f.current.UID == uid {
		f.current.DisplayName = displayName
		f.current.PhotoURL = avatarURL
		changed = copyIdentity(f.current)
	}
	f.mu.Unlock()
	if changed != nil {
		f.notifier.notify(changed)
	}
	return nil
}

func (f *Firebase) Lookup(ctx context.Context, uid string) (*Identity, error) {
	rec, err := f.client.GetUser(ctx, uid)
	if auth.IsUserNotFound(err) {
		return nil, fmt.Errorf("lookup %s: %w", uid, ErrUnknownUser)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", uid, err)
	}
	if rec.Disabled {
		return nil, fmt.Errorf("lookup %s: account disabled: %w", uid, ErrUnknownUser)
	}
	id := fromRecord(rec)
	f.mu.Lock()
	f.current = id
	f.mu.Unlock()
	return copyIdentity(id), nil
}

func (f *Firebase) Current() *Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyIdentity(f.current)
}

func (f *Firebase) Watch() (<-chan *Identity, func()) {
	return f.notifier.watch()
}

// SignOut revokes the current user's refresh tokens and forgets the session.
func (f *Firebase) SignOut(ctx context.Context) error {
	f.mu.Lock()
	cur := f.current
	f.current = nil
	f.mu.Unlock()
	if cur == nil {
		return nil
	}
	f.notifier.notify(nil)
	if err := f.client.RevokeRefreshTokens(ctx, cur.UID); err != nil {
		f.log.Warn("revoke refresh tokens", zap.String("uid", cur.UID), zap.Error(err))
		return fmt.Errorf("sign out %s: %w", cur.UID, err)
	}
	return nil
}

func (f *Firebase) setCurrent(id *Identity) {
	f.mu.Lock()
	f.current = id
	f.mu.Unlock()
	f.notifier.notify(copyIdentity(id))
}

// fromRecord maps a user record. Accounts without linked providers were
// created anonymously.
func fromRecord(rec *auth.UserRecord) *Identity {
	id := &Identity{IsAnonymous: len(rec.ProviderUserInfo) == 0}
	if rec.UserInfo != nil {
		id.UID = rec.UID
		id.DisplayName = rec.DisplayName
		id.Email = rec.Email
		id.PhotoURL = rec.PhotoURL
	}
	if rec.UserMetadata != nil {
		if rec.UserMetadata.CreationTimestamp > 0 {
			id.CreatedAt = time.UnixMilli(rec.UserMetadata.CreationTimestamp)
		}
		if rec.UserMetadata.LastLogInTimestamp > 0 {
			id.LastSeen = time.UnixMilli(rec.UserMetadata.LastLogInTimestamp)
		}
	}
	return id
}
