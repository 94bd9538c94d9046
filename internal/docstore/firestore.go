package docstore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore is a Store backed by Cloud Firestore. Subscriptions use
// Query.Snapshots, so each pushed snapshot is the server's full result set.
type Firestore struct {
	client *firestore.Client
}

// NewFirestore wraps an open Firestore client. Close closes the client.
func NewFirestore(client *firestore.Client) *Firestore {
	return &Firestore{client: client}
}

func (f *Firestore) Add(ctx context.Context, collection string, fields Fields) (string, error) {
	ref, _, err := f.client.Collection(collection).Add(ctx, toFirestore(fields))
	if err != nil {
		return "", err
	}
	return ref.ID, nil
}

func (f *Firestore) Set(ctx context.Context, collection, id string, fields Fields, merge bool) error {
	var opts []firestore.SetOption
	if merge {
		opts = append(opts, firestore.MergeAll)
	}
	_, err := f.client.Collection(collection).Doc(id).Set(ctx, toFirestore(fields), opts...)
	return err
}

func (f *Firestore) Get(ctx context.Context, collection, id string) (*Document, error) {
	snap, err := f.client.Collection(collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &Document{ID: snap.Ref.ID, Fields: snap.Data()}, nil
}

func (f *Firestore) Query(ctx context.Context, q Query) ([]Document, error) {
	snaps, err := f.query(q).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	return fromSnapshots(snaps), nil
}

func (f *Firestore) Update(ctx context.Context, collection, id string, fn UpdateFunc) error {
	ref := f.client.Collection(collection).Doc(id)
	return f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current *Document
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			current = &Document{ID: snap.Ref.ID, Fields: snap.Data()}
		}
		patch, err := fn(current)
		if err != nil {
			return err
		}
		return tx.Set(ref, toFirestore(patch), firestore.MergeAll)
	})
}

func (f *Firestore) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	it := f.query(q).Snapshots(ctx)
	sub := newSubscription(cancel)

	go func() {
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, iterator.Done) {
					sub.Close()
					return
				}
				sub.fail(fmt.Errorf("firestore snapshot %s: %w", q.Collection, err))
				return
			}
			snaps, err := qs.Documents.GetAll()
			if err != nil {
				sub.fail(fmt.Errorf("firestore snapshot documents %s: %w", q.Collection, err))
				return
			}
			if !sub.push(Snapshot{Docs: fromSnapshots(snaps), ReadAt: qs.ReadTime}) {
				return
			}
		}
	}()
	return sub, nil
}

func (f *Firestore) Close() error {
	return f.client.Close()
}

func (f *Firestore) query(q Query) firestore.Query {
	fq := f.client.Collection(q.Collection).Query
	for _, flt := range q.Filters {
		fq = fq.Where(flt.Field, "==", flt.Value)
	}
	if q.OrderField != "" {
		dir := firestore.Asc
		if q.Dir == Desc {
			dir = firestore.Desc
		}
		fq = fq.OrderBy(q.OrderField, dir).OrderBy(firestore.DocumentID, dir)
	}
	if q.Max > 0 {
		fq = fq.Limit(q.Max)
	}
	return fq
}

func toFirestore(fields Fields) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if isServerTimestamp(v) {
			out[k] = firestore.ServerTimestamp
			continue
		}
		out[k] = v
	}
	return out
}

func fromSnapshots(snaps []*firestore.DocumentSnapshot) []Document {
	docs := make([]Document, 0, len(snaps))
	for _, s := range snaps {
		docs = append(docs, Document{ID: s.Ref.ID, Fields: s.Data()})
	}
	return docs
}
