// Package handshake implements contact requests: one identity asks another
// for permission to converse and the addressee accepts or rejects once.
//
// The handshake is advisory. The message feed stays global, so an accepted
// request does not change who may read or write messages.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/criptx/internal/apperr"
	"github.com/matheus3301/criptx/internal/bus"
	"github.com/matheus3301/criptx/internal/docstore"
	"github.com/matheus3301/criptx/internal/identity"
	"github.com/matheus3301/criptx/internal/session"
	"go.uber.org/zap"
)

// Collection holds every chat request, one document per request.
const Collection = "chatRequests"

// Status is the lifecycle state of a request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

var (
	ErrRequestNotFound = errors.New("chat request not found")
	ErrAlreadyAnswered = errors.New("chat request already answered")
	ErrNotRecipient    = errors.New("chat request is addressed to someone else")
)

// Recipient resolution failures. Each is reported as a ValidationError on
// the target field.
var (
	ErrUnknownRecipient   = errors.New("no user with that id or nickname")
	ErrAmbiguousRecipient = errors.New("nickname matches more than one user")
	ErrSelfRequest        = errors.New("cannot send a request to yourself")
)

// Request is one chat request.
type Request struct {
	ID           string
	From         string
	FromNickname string
	To           string
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Updated is the payload of handshake.updated events.
type Updated struct {
	Pending []Request
}

// Ended is the payload of handshake.ended events, published when the
// backend ends the inbox subscription.
type Ended struct {
	Err error
}

// Handshake tracks the pending requests addressed to the current identity.
type Handshake struct {
	docs   docstore.Store
	bus    *bus.Bus
	logger *zap.Logger

	mu      sync.Mutex
	pending []Request
	sub     *docstore.Subscription
	done    chan struct{}
}

// New creates a handshake component.
func New(docs docstore.Store, b *bus.Bus, logger *zap.Logger) *Handshake {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handshake{docs: docs, bus: b, logger: logger}
}

// Start subscribes to pending requests addressed to who. A running
// subscription is replaced.
func (h *Handshake) Start(ctx context.Context, who *identity.Identity) error {
	h.Stop()

	q := docstore.From(Collection).
		Where("to", who.UID).
		Where("status", string(StatusPending)).
		OrderBy("createdAt", docstore.Asc)
	sub, err := h.docs.Subscribe(ctx, q)
	if err != nil {
		return err
	}
	done := make(chan struct{})

	h.mu.Lock()
	h.sub = sub
	h.done = done
	h.mu.Unlock()
	h.logger.Info("pending requests subscribed", zap.String("uid", who.UID))

	go func() {
		defer close(done)
		for snap := range sub.Snapshots() {
			h.apply(snap)
		}
		h.ended(sub)
	}()
	return nil
}

func (h *Handshake) ended(sub *docstore.Subscription) {
	h.mu.Lock()
	own := h.sub == sub
	if own {
		h.sub, h.done = nil, nil
	}
	h.mu.Unlock()
	if !own {
		return
	}
	err := sub.Err()
	h.logger.Warn("request subscription ended", zap.Error(err))
	h.bus.Emit(bus.KindHandshakeEnded, Ended{Err: err})
}

// Active reports whether the inbox subscription is open.
func (h *Handshake) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sub != nil
}

// Stop releases the subscription and clears the pending list.
func (h *Handshake) Stop() {
	h.mu.Lock()
	sub, done := h.sub, h.done
	h.sub, h.done = nil, nil
	h.mu.Unlock()
	if sub != nil {
		sub.Close()
		<-done
	}

	h.mu.Lock()
	h.pending = nil
	h.mu.Unlock()
}

// Pending returns the open requests addressed to the current identity.
func (h *Handshake) Pending() []Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.pending)
}

func (h *Handshake) apply(snap docstore.Snapshot) {
	reqs := make([]Request, len(snap.Docs))
	for i, d := range snap.Docs {
		reqs[i] = fromDocument(d)
	}
	h.mu.Lock()
	h.pending = reqs
	h.mu.Unlock()
	h.bus.Emit(bus.KindHandshakeUpdated, Updated{Pending: slices.Clone(reqs)})
}

// Create sends a request from who to target, a uid or a nickname. Returns
// the new request id.
func (h *Handshake) Create(ctx context.Context, who *identity.Identity, target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", apperr.Invalid("target", "recipient is empty")
	}
	to, err := h.resolve(ctx, target)
	if err != nil {
		return "", err
	}
	if to == who.UID {
		return "", invalidRecipient(ErrSelfRequest)
	}

	id, err := h.docs.Add(ctx, Collection, docstore.Fields{
		"from":         who.UID,
		"fromNickname": who.Label(),
		"to":           to,
		"status":       string(StatusPending),
		"createdAt":    docstore.ServerTimestamp,
	})
	if err != nil {
		h.logger.Error("create chat request failed", zap.String("from", who.UID), zap.String("to", to), zap.Error(err))
		return "", apperr.Write("chat request", err)
	}
	h.logger.Info("chat request created", zap.String("id", id), zap.String("from", who.UID), zap.String("to", to))
	return id, nil
}

// resolve maps target to a uid: an existing profile id first, then a unique
// nickname match.
func (h *Handshake) resolve(ctx context.Context, target string) (string, error) {
	_, err := h.docs.Get(ctx, session.ProfileCollection, target)
	if err == nil {
		return target, nil
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return "", fmt.Errorf("resolve recipient %q: %w", target, err)
	}

	matches, err := h.docs.Query(ctx, docstore.From(session.ProfileCollection).Where("nickname", target).Limit(2))
	if err != nil {
		return "", fmt.Errorf("resolve recipient %q: %w", target, err)
	}
	switch len(matches) {
	case 0:
		return "", invalidRecipient(ErrUnknownRecipient)
	case 1:
		return matches[0].ID, nil
	default:
		return "", invalidRecipient(ErrAmbiguousRecipient)
	}
}

// Answer records who's decision on a pending request. The request document
// is updated in place inside a transaction, so only one answer ever lands.
func (h *Handshake) Answer(ctx context.Context, who *identity.Identity, requestID string, accept bool) error {
	next := StatusRejected
	if accept {
		next = StatusAccepted
	}

	err := h.docs.Update(ctx, Collection, requestID, func(cur *docstore.Document) (docstore.Fields, error) {
		if cur == nil {
			return nil, ErrRequestNotFound
		}
		if cur.Fields.String("to") != who.UID {
			return nil, ErrNotRecipient
		}
		if Status(cur.Fields.String("status")) != StatusPending {
			return nil, ErrAlreadyAnswered
		}
		return docstore.Fields{
			"status":    string(next),
			"updatedAt": docstore.ServerTimestamp,
		}, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrRequestNotFound), errors.Is(err, ErrNotRecipient), errors.Is(err, ErrAlreadyAnswered):
		return fmt.Errorf("answer %s: %w", requestID, err)
	default:
		h.logger.Error("answer chat request failed", zap.String("id", requestID), zap.Error(err))
		return apperr.Write("chat request answer", err)
	}
	h.logger.Info("chat request answered", zap.String("id", requestID), zap.String("status", string(next)))
	return nil
}

// Get reads one request.
func (h *Handshake) Get(ctx context.Context, requestID string) (*Request, error) {
	doc, err := h.docs.Get(ctx, Collection, requestID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	r := fromDocument(*doc)
	return &r, nil
}

// recipientError is a ValidationError that also matches its sentinel.
type recipientError struct {
	*apperr.ValidationError
	sentinel error
}

func (e *recipientError) Unwrap() []error {
	return []error{e.ValidationError, e.sentinel}
}

func invalidRecipient(sentinel error) error {
	return &recipientError{apperr.Invalid("target", sentinel.Error()), sentinel}
}

func fromDocument(d docstore.Document) Request {
	return Request{
		ID:           d.ID,
		From:         d.Fields.String("from"),
		FromNickname: d.Fields.String("fromNickname"),
		To:           d.Fields.String("to"),
		Status:       Status(d.Fields.String("status")),
		CreatedAt:    d.Fields.Time("createdAt"),
		UpdatedAt:    d.Fields.Time("updatedAt"),
	}
}
