// Package chat ties the feed and the contact-request inbox to the session:
// both subscriptions open when an identity signs in and close when it leaves.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/criptx/internal/bus"
	"github.com/matheus3301/criptx/internal/feed"
	"github.com/matheus3301/criptx/internal/handshake"
	"github.com/matheus3301/criptx/internal/identity"
	"github.com/matheus3301/criptx/internal/session"
	"github.com/matheus3301/criptx/internal/status"
	"go.uber.org/zap"
)

// ErrNotSignedIn is returned by actions that need an identity.
var ErrNotSignedIn = errors.New("not signed in")

const (
	// reconcileInterval is how often the subscriptions are checked against
	// the session when no event arrives.
	reconcileInterval = time.Second
	// maxRetryDelay caps the wait between attempts to reopen a stream, and
	// is how long a stream must stay up for the backoff to reset.
	maxRetryDelay = 30 * time.Second
)

// Client is the surface the UI and the CLI drive.
type Client struct {
	sessions *session.Manager
	feed     *feed.Feed
	requests *handshake.Handshake
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration

	mu       sync.Mutex
	bound    string
	openedAt time.Time
	delay    time.Duration
	retryAt  time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a client.
func New(sessions *session.Manager, f *feed.Feed, h *handshake.Handshake, b *bus.Bus, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{sessions: sessions, feed: f, requests: h, bus: b, logger: logger, interval: reconcileInterval}
}

// Sessions returns the session manager.
func (c *Client) Sessions() *session.Manager { return c.sessions }

// Start follows session changes until Stop or ctx ends. A stream the
// backend ends is reopened with backoff. Status events can be dropped by a
// full bus, so the session is also rechecked on every tick.
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	events, unsub := c.bus.Subscribe("session.", 64)
	feedEnded, unsubFeed := c.bus.Subscribe(bus.KindFeedEnded, 4)
	inboxEnded, unsubInbox := c.bus.Subscribe(bus.KindHandshakeEnded, 4)
	c.reconcile(ctx)

	go func() {
		defer close(c.done)
		defer unsub()
		defer unsubFeed()
		defer unsubInbox()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case evt := <-events:
				if evt.Kind == bus.KindSessionStatus {
					c.reconcile(ctx)
				}
			case <-feedEnded:
				c.streamEnded(ctx)
			case <-inboxEnded:
				c.streamEnded(ctx)
			case <-ticker.C:
				c.reconcile(ctx)
			case <-ctx.Done():
				c.unbind()
				return
			}
		}
	}()
}

// Stop closes both subscriptions and stops following the session.
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

func (c *Client) streamEnded(ctx context.Context) {
	c.mu.Lock()
	c.deferRetry()
	c.mu.Unlock()
	c.reconcile(ctx)
}

// deferRetry schedules the next reopen attempt. The first one is
// immediate; later ones double up to maxRetryDelay. Caller holds mu.
func (c *Client) deferRetry() {
	c.retryAt = time.Now().Add(c.delay)
	c.delay = min(max(2*c.delay, c.interval), maxRetryDelay)
}

// reconcile opens or closes the subscriptions to match the session.
func (c *Client) reconcile(ctx context.Context) {
	who := c.sessions.Current()
	if c.sessions.State() != status.Authenticated || who == nil {
		c.unbind()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bound != "" && c.bound != who.UID {
		c.unbindLocked()
	}
	feedUp, inboxUp := c.feed.Active(), c.requests.Active()
	if c.bound == who.UID && feedUp && inboxUp {
		if c.delay > 0 && time.Since(c.openedAt) >= maxRetryDelay {
			c.delay = 0
		}
		return
	}
	if time.Now().Before(c.retryAt) {
		return
	}

	c.bound = who.UID
	if !feedUp {
		if err := c.feed.Start(ctx, who); err != nil {
			c.logger.Error("open feed", zap.String("uid", who.UID), zap.Error(err))
			c.deferRetry()
			return
		}
	}
	if !inboxUp {
		if err := c.requests.Start(ctx, who); err != nil {
			c.logger.Error("open request inbox", zap.String("uid", who.UID), zap.Error(err))
			c.deferRetry()
			return
		}
	}
	c.openedAt = time.Now()
	c.logger.Info("subscriptions opened", zap.String("uid", who.UID))
}

func (c *Client) unbind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unbindLocked()
}

func (c *Client) unbindLocked() {
	if c.bound == "" {
		return
	}
	c.feed.Stop()
	c.requests.Stop()
	c.logger.Info("subscriptions closed", zap.String("uid", c.bound))
	c.bound = ""
	c.delay = 0
	c.retryAt = time.Time{}
}

// Bound reports whether both subscriptions are open.
func (c *Client) Bound() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bound != "" && c.feed.Active() && c.requests.Active()
}

func (c *Client) who() (*identity.Identity, error) {
	who := c.sessions.Current()
	if who == nil || c.sessions.State() != status.Authenticated {
		return nil, ErrNotSignedIn
	}
	return who, nil
}

// Send posts text to the feed as the current identity.
func (c *Client) Send(ctx context.Context, text string) error {
	who, err := c.who()
	if err != nil {
		return err
	}
	return c.feed.Send(ctx, who, text)
}

// RequestContact sends a chat request to target, a uid or a nickname.
func (c *Client) RequestContact(ctx context.Context, target string) (string, error) {
	who, err := c.who()
	if err != nil {
		return "", err
	}
	return c.requests.Create(ctx, who, target)
}

// Answer accepts or rejects a pending request.
func (c *Client) Answer(ctx context.Context, requestID string, accept bool) error {
	who, err := c.who()
	if err != nil {
		return err
	}
	return c.requests.Answer(ctx, who, requestID, accept)
}

// Messages returns the feed in chronological order.
func (c *Client) Messages() []feed.Message { return c.feed.Messages() }

// Pending returns the open requests addressed to the current identity.
func (c *Client) Pending() []handshake.Request { return c.requests.Pending() }
