package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	maxTxRetries = 10
	// indexedField is kept in a per-collection sorted set so windowed
	// queries ordered by it read only the documents they return.
	indexedField = "createdAt"
)

type txPipeliner interface {
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Redis is a Store backed by Redis. Each collection is a hash of id to
// encoded document; every write publishes the changed id on the collection's
// channel, and subscribers re-evaluate their query on each notification.
// A sorted set scored by createdAt in microseconds indexes each collection.
// Server timestamps come from the Redis TIME command.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Redis{client: client, prefix: opts.Prefix}, nil
}

func (r *Redis) key(collection string) string {
	return r.prefix + ":docs:" + collection
}

func (r *Redis) indexKey(collection string) string {
	return r.prefix + ":idx:" + collection + ":" + indexedField
}

func (r *Redis) channel(collection string) string {
	return r.prefix + ":changed:" + collection
}

func (r *Redis) serverTime(ctx context.Context) (time.Time, error) {
	return r.client.Time(ctx).Result()
}

func (r *Redis) Add(ctx context.Context, collection string, fields Fields) (string, error) {
	id := uuid.NewString()
	if err := r.write(ctx, r.client, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (r *Redis) Set(ctx context.Context, collection, id string, fields Fields, merge bool) error {
	if merge {
		return r.Update(ctx, collection, id, func(*Document) (Fields, error) { return fields, nil })
	}
	return r.write(ctx, r.client, collection, id, fields)
}

// write stores fields under id and publishes the change in one MULTI block.
func (r *Redis) write(ctx context.Context, c txPipeliner, collection, id string, fields Fields) error {
	ts, err := r.serverTime(ctx)
	if err != nil {
		return fmt.Errorf("redis time: %w", err)
	}
	resolved := resolveTimestamps(fields, ts)
	data, err := encodeFields(resolved)
	if err != nil {
		return err
	}
	_, err = c.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, r.key(collection), id, data)
		if t, ok := resolved[indexedField].(time.Time); ok {
			p.ZAdd(ctx, r.indexKey(collection), redis.Z{Score: float64(t.UnixMicro()), Member: id})
		} else {
			p.ZRem(ctx, r.indexKey(collection), id)
		}
		p.Publish(ctx, r.channel(collection), id)
		return nil
	})
	return err
}

func (r *Redis) Get(ctx context.Context, collection, id string) (*Document, error) {
	data, err := r.client.HGet(ctx, r.key(collection), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	fields, err := decodeFields(data)
	if err != nil {
		return nil, err
	}
	return &Document{ID: id, Fields: fields}, nil
}

func (r *Redis) Query(ctx context.Context, q Query) ([]Document, error) {
	if q.OrderField == indexedField && len(q.Filters) == 0 && q.Max > 0 {
		docs, ok, err := r.queryIndex(ctx, q)
		if err != nil || ok {
			return docs, err
		}
	}
	all, err := r.client.HGetAll(ctx, r.key(q.Collection)).Result()
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(all))
	for id, data := range all {
		fields, err := decodeFields([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("document %s/%s: %w", q.Collection, id, err)
		}
		docs = append(docs, Document{ID: id, Fields: fields})
	}
	return q.Apply(docs), nil
}

// queryIndex reads the first q.Max ids from the createdAt index and fetches
// only those documents. ok is false when some document lacks the indexed
// field, since only a full scan orders those.
func (r *Redis) queryIndex(ctx context.Context, q Query) ([]Document, bool, error) {
	key, idx := r.key(q.Collection), r.indexKey(q.Collection)
	var (
		total, indexed *redis.IntCmd
		ids            *redis.StringSliceCmd
	)
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		total = p.HLen(ctx, key)
		indexed = p.ZCard(ctx, idx)
		stop := int64(q.Max - 1)
		if q.Dir == Desc {
			ids = p.ZRevRange(ctx, idx, 0, stop)
		} else {
			ids = p.ZRange(ctx, idx, 0, stop)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if total.Val() != indexed.Val() {
		return nil, false, nil
	}
	if len(ids.Val()) == 0 {
		return []Document{}, true, nil
	}

	values, err := r.client.HMGet(ctx, key, ids.Val()...).Result()
	if err != nil {
		return nil, false, err
	}
	docs := make([]Document, 0, len(values))
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			// Removed between the two round trips.
			continue
		}
		fields, err := decodeFields([]byte(data))
		if err != nil {
			return nil, false, fmt.Errorf("document %s/%s: %w", q.Collection, ids.Val()[i], err)
		}
		docs = append(docs, Document{ID: ids.Val()[i], Fields: fields})
	}
	return q.Apply(docs), true, nil
}

func (r *Redis) Update(ctx context.Context, collection, id string, fn UpdateFunc) error {
	key := r.key(collection)
	txf := func(tx *redis.Tx) error {
		var current *Document
		data, err := tx.HGet(ctx, key, id).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			fields, err := decodeFields(data)
			if err != nil {
				return err
			}
			current = &Document{ID: id, Fields: fields}
		}
		patch, err := fn(current)
		if err != nil {
			return err
		}
		var base Fields
		if current != nil {
			base = current.Fields
		}
		return r.write(ctx, tx, collection, id, mergeFields(base, patch))
	}

	for range maxTxRetries {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update %s/%s: too much contention", collection, id)
}

func (r *Redis) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	ps := r.client.Subscribe(ctx, r.channel(q.Collection))
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", q.Collection, err)
	}
	sub := newSubscription(func() {
		cancel()
		_ = ps.Close()
	})

	// Listening before the first query means no write can fall between
	// the initial snapshot and the first notification.
	notifications := ps.Channel()
	go func() {
		if !r.pushQuery(ctx, q, sub) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case _, ok := <-notifications:
				if !ok {
					sub.Close()
					return
				}
				if !r.pushQuery(ctx, q, sub) {
					return
				}
			}
		}
	}()
	return sub, nil
}

func (r *Redis) pushQuery(ctx context.Context, q Query, sub *Subscription) bool {
	readAt, err := r.serverTime(ctx)
	var docs []Document
	if err == nil {
		docs, err = r.Query(ctx, q)
	}
	if err != nil {
		if ctx.Err() != nil {
			sub.Close()
		} else {
			sub.fail(err)
		}
		return false
	}
	return sub.push(Snapshot{Docs: docs, ReadAt: readAt})
}

func (r *Redis) Close() error {
	return r.client.Close()
}
