// Package app composes the client core with fx: configuration, the local
// profile (lock, state database, logs), the remote document store, the
// identity provider, the session manager and the chat client.
package app

import (
	"context"
	"fmt"

	"github.com/matheus3301/criptx/internal/bus"
	"github.com/matheus3301/criptx/internal/chat"
	"github.com/matheus3301/criptx/internal/config"
	"github.com/matheus3301/criptx/internal/docstore"
	"github.com/matheus3301/criptx/internal/feed"
	"github.com/matheus3301/criptx/internal/handshake"
	"github.com/matheus3301/criptx/internal/identity"
	"github.com/matheus3301/criptx/internal/lock"
	"github.com/matheus3301/criptx/internal/logging"
	"github.com/matheus3301/criptx/internal/profile"
	"github.com/matheus3301/criptx/internal/session"
	"github.com/matheus3301/criptx/internal/status"
	"github.com/matheus3301/criptx/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	Config     *config.Config
	SocketPath string // optional override for testing; empty = use default
	Console    bool   // also log to stderr
}

// Module returns the fx module for the client, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Default()
	}
	return fx.Module("criptx",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideFirebase,
			provideDocStore,
			provideIdentity,
			provideSessionManager,
			provideFeed,
			provideHandshake,
			chat.New,
			NewHealthServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile, p.Console)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so the state database is only opened by
// the process that owns the profile.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.StateDBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideDocStore(lc fx.Lifecycle, p Params, fb *firebaseApp, logger *zap.Logger) (docstore.Store, error) {
	cfg := p.Config.Store
	var docs docstore.Store
	switch cfg.Driver {
	case config.StoreMemory:
		docs = docstore.NewMemory()
	case config.StoreFirestore:
		app, err := fb.get(context.Background())
		if err != nil {
			return nil, err
		}
		client, err := app.Firestore(context.Background())
		if err != nil {
			return nil, fmt.Errorf("firestore client: %w", err)
		}
		docs = docstore.NewFirestore(client)
	case config.StoreRedis:
		r, err := docstore.NewRedis(context.Background(), docstore.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, err
		}
		docs = r
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	logger.Info("document store ready", zap.String("driver", cfg.Driver))

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return docs.Close()
		},
	})
	return docs, nil
}

func provideIdentity(p Params, fb *firebaseApp, logger *zap.Logger) (identity.Provider, error) {
	cfg := p.Config.Auth
	switch cfg.Driver {
	case config.AuthLocal:
		return identity.NewLocal(), nil
	case config.AuthFirebase:
		app, err := fb.get(context.Background())
		if err != nil {
			return nil, err
		}
		client, err := app.Auth(context.Background())
		if err != nil {
			return nil, fmt.Errorf("firebase auth client: %w", err)
		}
		flow := &identity.FederatedFlow{
			SignInURL:      cfg.SignInURL,
			CallbackAddr:   cfg.CallbackAddr,
			BrowserCommand: cfg.BrowserCommand,
			Log:            logger.Named("signin"),
		}
		return identity.NewFirebase(client, flow, logger.Named("identity")), nil
	default:
		return nil, fmt.Errorf("unknown auth driver %q", cfg.Driver)
	}
}

func provideSessionManager(p Params, provider identity.Provider, docs docstore.Store, db *store.DB, m *status.Machine, b *bus.Bus, logger *zap.Logger) *session.Manager {
	return session.NewManager(provider, docs, db, m, b, logger.Named("session"), session.Options{
		DevMode:       p.Config.DevMode,
		TTL:           p.Config.Session.EphemeralTTL,
		SweepInterval: p.Config.Session.SweepInterval,
	})
}

func provideFeed(p Params, docs docstore.Store, b *bus.Bus, logger *zap.Logger) *feed.Feed {
	return feed.New(docs, b, logger.Named("feed"), p.Config.Feed.Limit)
}

func provideHandshake(docs docstore.Store, b *bus.Bus, logger *zap.Logger) *handshake.Handshake {
	return handshake.New(docs, b, logger.Named("handshake"))
}

func registerLifecycle(lc fx.Lifecycle, srv *HealthServer, lk *lock.Lock, db *store.DB, mgr *session.Manager, client *chat.Client, b *bus.Bus, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("health server error", zap.Error(err))
				}
			}()
			srv.Follow(ctx, b)

			client.Start(ctx)

			if _, err := mgr.Restore(startCtx); err != nil {
				logger.Warn("session restore failed", zap.Error(err))
			}
			mgr.Start(ctx)
			logger.Info("client started", zap.String("state", string(mgr.State())))
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			mgr.Stop()
			client.Stop()
			cancel()
			srv.Stop(stopCtx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing state database", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
