// Package feed keeps a bounded, chronologically ordered mirror of the global
// message log and appends to it.
package feed

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/criptx/internal/apperr"
	"github.com/matheus3301/criptx/internal/bus"
	"github.com/matheus3301/criptx/internal/docstore"
	"github.com/matheus3301/criptx/internal/identity"
	"go.uber.org/zap"
)

const (
	// Collection holds every message of the global feed.
	Collection = "messages"
	// DefaultLimit is the size of the recent window.
	DefaultLimit = 50
	// PlaceholderPhoto is used for authors without a photo.
	PlaceholderPhoto = "https://via.placeholder.com/40"
)

// Message is one immutable entry of the feed.
type Message struct {
	ID          string
	Text        string
	UID         string
	DisplayName string
	PhotoURL    string
	CreatedAt   time.Time
}

// Updated is the payload of feed.updated events.
type Updated struct {
	Messages []Message
}

// SendFailed is the payload of feed.send_failed events.
type SendFailed struct {
	Text string
	Err  error
}

// Ended is the payload of feed.ended events, published when the backend
// ends the subscription. Err is nil when the store closed it cleanly.
type Ended struct {
	Err error
}

// Feed mirrors the most recent messages. The local view is replaced by each
// snapshot; a sent message only appears once the subscription echoes it.
type Feed struct {
	docs   docstore.Store
	bus    *bus.Bus
	logger *zap.Logger
	limit  int

	mu       sync.Mutex
	messages []Message
	sub      *docstore.Subscription
	done     chan struct{}
}

// New creates a feed. A non-positive limit takes DefaultLimit.
func New(docs docstore.Store, b *bus.Bus, logger *zap.Logger, limit int) *Feed {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{docs: docs, bus: b, logger: logger, limit: limit}
}

// Start opens the standing query for who's session. A running subscription
// is replaced.
func (f *Feed) Start(ctx context.Context, who *identity.Identity) error {
	f.Stop()

	q := docstore.From(Collection).OrderBy("createdAt", docstore.Desc).Limit(f.limit)
	sub, err := f.docs.Subscribe(ctx, q)
	if err != nil {
		return err
	}
	done := make(chan struct{})

	f.mu.Lock()
	f.sub = sub
	f.done = done
	f.mu.Unlock()

	uid := ""
	if who != nil {
		uid = who.UID
	}
	f.logger.Info("feed subscribed", zap.String("uid", uid), zap.Int("limit", f.limit))

	go func() {
		defer close(done)
		for snap := range sub.Snapshots() {
			f.apply(snap)
		}
		f.ended(sub)
	}()
	return nil
}

// ended handles a stream that closed without Stop. The last snapshot stays
// visible until the subscription is reopened.
func (f *Feed) ended(sub *docstore.Subscription) {
	f.mu.Lock()
	own := f.sub == sub
	if own {
		f.sub, f.done = nil, nil
	}
	f.mu.Unlock()
	if !own {
		return
	}
	err := sub.Err()
	f.logger.Warn("feed subscription ended", zap.Error(err))
	f.bus.Emit(bus.KindFeedEnded, Ended{Err: err})
}

// Active reports whether the subscription is open.
func (f *Feed) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sub != nil
}

// Stop releases the subscription and clears the local view.
func (f *Feed) Stop() {
	f.mu.Lock()
	sub, done := f.sub, f.done
	f.sub, f.done = nil, nil
	f.mu.Unlock()
	if sub != nil {
		sub.Close()
		<-done
	}

	f.mu.Lock()
	f.messages = nil
	f.mu.Unlock()
}

// Messages returns the local view in chronological order.
func (f *Feed) Messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.messages)
}

// apply replaces the local view with snap, which is newest first.
func (f *Feed) apply(snap docstore.Snapshot) {
	docs := snap.Docs
	if len(docs) > f.limit {
		docs = docs[:f.limit]
	}
	msgs := make([]Message, len(docs))
	for i, d := range docs {
		msgs[len(docs)-1-i] = fromDocument(d)
	}

	f.mu.Lock()
	f.messages = msgs
	f.mu.Unlock()
	f.bus.Emit(bus.KindFeedUpdated, Updated{Messages: slices.Clone(msgs)})
}

// Send appends text as a new message by who. Whitespace-only text is
// rejected before any write. A failed write is returned, not retried.
func (f *Feed) Send(ctx context.Context, who *identity.Identity, text string) error {
	if strings.TrimSpace(text) == "" {
		return apperr.Invalid("text", "message is empty")
	}
	if who == nil {
		return apperr.Invalid("author", "not signed in")
	}

	photo := who.PhotoURL
	if photo == "" {
		photo = PlaceholderPhoto
	}
	_, err := f.docs.Add(ctx, Collection, docstore.Fields{
		"text":        text,
		"uid":         who.UID,
		"displayName": who.Label(),
		"photoURL":    photo,
		"createdAt":   docstore.ServerTimestamp,
	})
	if err != nil {
		f.logger.Error("send message failed", zap.String("uid", who.UID), zap.Error(err))
		f.bus.Emit(bus.KindFeedSendFailed, SendFailed{Text: text, Err: err})
		return apperr.Write("message", err)
	}
	return nil
}

func fromDocument(d docstore.Document) Message {
	return Message{
		ID:          d.ID,
		Text:        d.Fields.String("text"),
		UID:         d.Fields.String("uid"),
		DisplayName: d.Fields.String("displayName"),
		PhotoURL:    d.Fields.String("photoURL"),
		CreatedAt:   d.Fields.Time("createdAt"),
	}
}
