// Package session owns the answer to "who is using the client right now":
// the three admission paths (federated, anonymous, development bypass), logout,
// restore across restarts and the expiry sweep for anonymous sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/matheus3301/criptx/internal/apperr"
	"github.com/matheus3301/criptx/internal/bus"
	"github.com/matheus3301/criptx/internal/docstore"
	"github.com/matheus3301/criptx/internal/identity"
	"github.com/matheus3301/criptx/internal/status"
	"github.com/matheus3301/criptx/internal/store"
	"go.uber.org/zap"
)

// ProfileCollection holds the profile mirror of every identity, keyed by uid.
const ProfileCollection = "users"

const (
	minNickname = 3
	maxNickname = 20

	DefaultTTL           = 24 * time.Hour
	DefaultSweepInterval = time.Minute
)

// Bypass identity used in development mode.
const (
	BypassUID         = "dev-user-123"
	BypassDisplayName = "Developer"
	BypassEmail       = "dev@example.com"
)

// ErrDevModeDisabled is returned by BypassAuth outside development mode.
var ErrDevModeDisabled = errors.New("bypass login requires dev mode")

// ErrAlreadySignedIn is returned when a session is already established.
var ErrAlreadySignedIn = errors.New("already signed in")

// StateStore persists the local session record.
type StateStore interface {
	LoadSessionState(ctx context.Context) (*store.SessionState, error)
	SaveSessionState(ctx context.Context, st *store.SessionState) error
	ClearSessionState(ctx context.Context) error
}

// Options tune the manager.
type Options struct {
	DevMode       bool
	TTL           time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
}

// Expired is the payload of session.expired events.
type Expired struct {
	UID       string
	LoginTime time.Time
}

// Manager is the single authoritative view of the current identity.
type Manager struct {
	provider identity.Provider
	docs     docstore.Store
	state    StateStore
	machine  *status.Machine
	bus      *bus.Bus
	logger   *zap.Logger
	opts     Options

	// opMu serializes admission and eviction; mu guards the fields below.
	opMu      sync.Mutex
	mu        sync.RWMutex
	current   *identity.Identity
	loginTime time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a manager. Zero options take the defaults.
func NewManager(provider identity.Provider, docs docstore.Store, state StateStore, machine *status.Machine, b *bus.Bus, logger *zap.Logger, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		provider: provider,
		docs:     docs,
		state:    state,
		machine:  machine,
		bus:      b,
		logger:   logger,
		opts:     opts,
	}
}

// AvatarURL returns the generated avatar for a nickname.
func AvatarURL(nickname string) string {
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(nickname) + "&background=random"
}

// ValidateNickname trims nickname and checks its length in runes.
func ValidateNickname(nickname string) (string, error) {
	nick := strings.TrimSpace(nickname)
	if n := utf8.RuneCountInString(nick); n < minNickname || n > maxNickname {
		return "", apperr.Invalid("nickname", fmt.Sprintf("must be %d to %d characters", minNickname, maxNickname))
	}
	return nick, nil
}

// Current returns a copy of the signed-in identity, or nil.
func (m *Manager) Current() *identity.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil
	}
	c := *m.current
	return &c
}

// State returns the session state.
func (m *Manager) State() status.State { return m.machine.Current() }

// DevMode reports whether the development bypass is available.
func (m *Manager) DevMode() bool { return m.opts.DevMode }

// Kind returns the admission path of the current session.
func (m *Manager) Kind() status.Kind { return m.machine.Kind() }

// LoginFederated runs the provider's interactive sign-in, falling back to the
// redirect flow when the popup is blocked. The redirect URL is published as a
// session.redirect event.
func (m *Manager) LoginFederated(ctx context.Context) (*identity.Identity, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.machine.Current() == status.Authenticated {
		return nil, ErrAlreadySignedIn
	}
	if err := m.machine.Transition(status.Authenticating); err != nil {
		return nil, err
	}

	id, err := m.provider.AuthenticateFederated(ctx, identity.ModePopup, nil)
	if errors.Is(err, identity.ErrPopupBlocked) {
		m.logger.Info("popup blocked, falling back to redirect")
		if terr := m.machine.Transition(status.AwaitingRedirect); terr != nil {
			return nil, terr
		}
		id, err = m.provider.AuthenticateFederated(ctx, identity.ModeRedirect, func(u string) {
			m.bus.Emit(bus.KindSessionRedirect, u)
		})
	}
	if err != nil {
		perr := classify(err)
		m.logger.Warn("federated login failed", zap.String("code", string(perr.Code)), zap.Error(err))
		m.abort(ctx, false)
		return nil, perr
	}

	err = m.docs.Set(ctx, ProfileCollection, id.UID, docstore.Fields{
		"displayName": id.DisplayName,
		"email":       id.Email,
		"photoURL":    id.PhotoURL,
		"isAnonymous": false,
		"lastSeen":    docstore.ServerTimestamp,
	}, true)
	if err != nil {
		m.logger.Error("write profile failed", zap.String("uid", id.UID), zap.Error(err))
		m.abort(ctx, true)
		return nil, apperr.Write("profile", err)
	}

	m.persist(ctx, &store.SessionState{DurableUserID: id.UID})
	if err := m.establish(id, time.Time{}, status.KindDurable); err != nil {
		return nil, err
	}
	m.logger.Info("signed in", zap.String("uid", id.UID), zap.String("kind", string(status.KindDurable)))
	return m.Current(), nil
}

// LoginAnonymous provisions an ephemeral identity that expires after the
// configured TTL. An invalid nickname is rejected before any remote call.
func (m *Manager) LoginAnonymous(ctx context.Context, nickname string) (*identity.Identity, error) {
	nick, err := ValidateNickname(nickname)
	if err != nil {
		return nil, err
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.machine.Current() == status.Authenticated {
		return nil, ErrAlreadySignedIn
	}
	if err := m.machine.Transition(status.Authenticating); err != nil {
		return nil, err
	}

	id, err := m.provider.AuthenticateAnonymous(ctx)
	if err != nil {
		perr := classify(err)
		m.logger.Warn("anonymous login failed", zap.Error(err))
		m.abort(ctx, false)
		return nil, perr
	}

	avatar := AvatarURL(nick)
	if err := m.provider.UpdateDisplayIdentity(ctx, id.UID, nick, avatar); err != nil {
		m.logger.Warn("update display identity failed", zap.String("uid", id.UID), zap.Error(err))
		m.abort(ctx, true)
		return nil, classify(err)
	}

	now := m.opts.Now()
	id.IsAnonymous = true
	id.Nickname = nick
	id.DisplayName = nick
	id.PhotoURL = avatar
	id.CreatedAt = now
	id.ExpiresAt = now.Add(m.opts.TTL)
	id.LastSeen = now

	err = m.docs.Set(ctx, ProfileCollection, id.UID, docstore.Fields{
		"nickname":    nick,
		"displayName": nick,
		"isAnonymous": true,
		"createdAt":   docstore.ServerTimestamp,
		"expiresAt":   id.ExpiresAt,
		"lastSeen":    docstore.ServerTimestamp,
		"photoURL":    avatar,
	}, false)
	if err != nil {
		m.logger.Error("write profile failed", zap.String("uid", id.UID), zap.Error(err))
		m.abort(ctx, true)
		return nil, apperr.Write("profile", err)
	}

	m.persist(ctx, &store.SessionState{AnonymousUserID: id.UID, AnonymousLoginTime: now})
	if err := m.establish(id, now, status.KindEphemeral); err != nil {
		return nil, err
	}
	m.logger.Info("signed in",
		zap.String("uid", id.UID),
		zap.String("kind", string(status.KindEphemeral)),
		zap.Time("expires_at", id.ExpiresAt),
	)
	return m.Current(), nil
}

// BypassAuth signs in the fixed development identity without contacting the
// provider or the store. Outside dev mode it changes nothing.
func (m *Manager) BypassAuth(ctx context.Context) (*identity.Identity, error) {
	if !m.opts.DevMode {
		return nil, ErrDevModeDisabled
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.establish(bypassIdentity(), time.Time{}, status.KindBypass); err != nil {
		return nil, err
	}
	m.persist(ctx, &store.SessionState{DevMode: true})
	m.logger.Info("signed in", zap.String("uid", BypassUID), zap.String("kind", string(status.KindBypass)))
	return m.Current(), nil
}

// Logout ends the current session. It is a no-op when nobody is signed in.
func (m *Manager) Logout(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.logoutLocked(ctx, true)
}

func (m *Manager) logoutLocked(ctx context.Context, signOut bool) error {
	if m.machine.Current() != status.Authenticated {
		return nil
	}
	kind := m.machine.Kind()
	uid := ""
	if cur := m.Current(); cur != nil {
		uid = cur.UID
	}

	var signOutErr error
	if kind != status.KindBypass && signOut {
		if err := m.provider.SignOut(ctx); err != nil {
			m.logger.Warn("provider sign-out failed", zap.String("uid", uid), zap.Error(err))
			signOutErr = classify(err)
		}
	}
	if err := m.state.ClearSessionState(ctx); err != nil {
		m.logger.Warn("clear session state failed", zap.Error(err))
	}

	m.mu.Lock()
	m.current = nil
	m.loginTime = time.Time{}
	m.mu.Unlock()
	if err := m.machine.Transition(status.Unauthenticated); err != nil {
		return err
	}
	m.logger.Info("signed out", zap.String("uid", uid), zap.String("kind", string(kind)))
	return signOutErr
}

// Restore re-establishes the session recorded in local state. An expired
// anonymous session is cleared instead; returns nil when nothing was restored.
func (m *Manager) Restore(ctx context.Context) (*identity.Identity, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	st, err := m.state.LoadSessionState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session state: %w", err)
	}
	if st.Empty() {
		return nil, nil
	}

	switch {
	case st.DevMode:
		if !m.opts.DevMode {
			m.logger.Info("discarding bypass session outside dev mode")
			return nil, m.state.ClearSessionState(ctx)
		}
		if err := m.establish(bypassIdentity(), time.Time{}, status.KindBypass); err != nil {
			return nil, err
		}

	case st.AnonymousUserID != "":
		if m.expired(st.AnonymousLoginTime) {
			m.logger.Info("stored anonymous session expired",
				zap.String("uid", st.AnonymousUserID),
				zap.Time("login_time", st.AnonymousLoginTime),
			)
			m.bus.Emit(bus.KindSessionExpired, Expired{UID: st.AnonymousUserID, LoginTime: st.AnonymousLoginTime})
			return nil, m.state.ClearSessionState(ctx)
		}
		id, err := m.provider.Lookup(ctx, st.AnonymousUserID)
		if err != nil {
			return nil, m.restoreFailed(ctx, st.AnonymousUserID, err)
		}
		id.IsAnonymous = true
		id.Nickname = id.DisplayName
		if doc, err := m.docs.Get(ctx, ProfileCollection, id.UID); err == nil {
			if nick := doc.Fields.String("nickname"); nick != "" {
				id.Nickname = nick
			}
		}
		id.CreatedAt = st.AnonymousLoginTime
		id.ExpiresAt = st.AnonymousLoginTime.Add(m.opts.TTL)
		if err := m.establish(id, st.AnonymousLoginTime, status.KindEphemeral); err != nil {
			return nil, err
		}

	case st.DurableUserID != "":
		id, err := m.provider.Lookup(ctx, st.DurableUserID)
		if err != nil {
			return nil, m.restoreFailed(ctx, st.DurableUserID, err)
		}
		if err := m.establish(id, time.Time{}, status.KindDurable); err != nil {
			return nil, err
		}
	}

	cur := m.Current()
	m.logger.Info("session restored", zap.String("uid", cur.UID), zap.String("kind", string(m.machine.Kind())))
	return cur, nil
}

func (m *Manager) restoreFailed(ctx context.Context, uid string, err error) error {
	if errors.Is(err, identity.ErrUnknownUser) {
		m.logger.Info("stored identity no longer exists", zap.String("uid", uid))
		return m.state.ClearSessionState(ctx)
	}
	return fmt.Errorf("restore %s: %w", uid, err)
}

// Sweep logs out an anonymous session whose TTL has elapsed. Reports whether
// it did.
func (m *Manager) Sweep(ctx context.Context) bool {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.machine.Current() != status.Authenticated || m.machine.Kind() != status.KindEphemeral {
		return false
	}
	m.mu.RLock()
	loginTime := m.loginTime
	uid := m.current.UID
	m.mu.RUnlock()
	if !m.expired(loginTime) {
		return false
	}

	m.logger.Info("anonymous session expired", zap.String("uid", uid), zap.Time("login_time", loginTime))
	if err := m.logoutLocked(ctx, true); err != nil {
		m.logger.Warn("logout after expiry", zap.Error(err))
	}
	m.bus.Emit(bus.KindSessionExpired, Expired{UID: uid, LoginTime: loginTime})
	return true
}

func (m *Manager) expired(loginTime time.Time) bool {
	return m.opts.Now().After(loginTime.Add(m.opts.TTL))
}

// Start runs the expiry sweep and follows provider-side sign-outs.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	changes, stopWatch := m.provider.Watch()

	go func() {
		defer close(m.done)
		defer stopWatch()

		ticker := time.NewTicker(m.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep(ctx)
			case id := <-changes:
				if id == nil {
					m.providerSignedOut(ctx)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the sweep and waits for it to exit.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

func (m *Manager) providerSignedOut(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.machine.Current() != status.Authenticated || m.machine.Kind() == status.KindBypass {
		return
	}
	if m.provider.Current() != nil {
		return
	}
	m.logger.Info("provider ended the session")
	if err := m.logoutLocked(ctx, false); err != nil {
		m.logger.Warn("logout after provider sign-out", zap.Error(err))
	}
}

func (m *Manager) establish(id *identity.Identity, loginTime time.Time, kind status.Kind) error {
	if m.machine.Current() == status.Authenticated {
		return ErrAlreadySignedIn
	}
	m.mu.Lock()
	m.current = id
	m.loginTime = loginTime
	m.mu.Unlock()
	if err := m.machine.Authenticate(kind); err != nil {
		m.mu.Lock()
		m.current = nil
		m.loginTime = time.Time{}
		m.mu.Unlock()
		return err
	}
	return nil
}

// abort returns a failed attempt to Unauthenticated, signing out of the
// provider when it already issued an identity.
func (m *Manager) abort(ctx context.Context, signOut bool) {
	if signOut {
		if err := m.provider.SignOut(ctx); err != nil {
			m.logger.Warn("sign-out after failed login", zap.Error(err))
		}
	}
	if err := m.machine.Transition(status.Unauthenticated); err != nil {
		m.logger.Error("reset session state", zap.Error(err))
	}
}

func (m *Manager) persist(ctx context.Context, st *store.SessionState) {
	if err := m.state.SaveSessionState(ctx, st); err != nil {
		m.logger.Warn("persist session state failed", zap.Error(err))
	}
}

func classify(err error) *apperr.ProviderError {
	var perr *apperr.ProviderError
	if errors.As(err, &perr) {
		return perr
	}
	switch {
	case errors.Is(err, identity.ErrPopupBlocked):
		return apperr.Provider(apperr.CodeBlocked, err)
	case errors.Is(err, identity.ErrUnauthorizedOrigin):
		return apperr.Provider(apperr.CodeUnauthorizedOrigin, err)
	default:
		return apperr.Provider(apperr.CodeUnknown, err)
	}
}

func bypassIdentity() *identity.Identity {
	return &identity.Identity{
		UID:         BypassUID,
		DisplayName: BypassDisplayName,
		Email:       BypassEmail,
		PhotoURL:    AvatarURL(BypassDisplayName),
	}
}
