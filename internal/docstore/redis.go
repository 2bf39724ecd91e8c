// internal/docstore/redis.go
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const incrementRetries = 5

// RedisStore implements Store on Redis. Documents are JSON values under
// doc:{collection}:{id}, each collection keeps a set of its ids, and a
// pub/sub channel per collection drives the full-snapshot re-emits.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func docKey(collection, id string) string {
	return fmt.Sprintf("doc:%s:%s", collection, id)
}

func setKey(collection string) string {
	return fmt.Sprintf("collection:%s", collection)
}

func changeChannel(collection string) string {
	return fmt.Sprintf("changes:%s", collection)
}

func (r *RedisStore) Get(ctx context.Context, collection, id string) (Document, error) {
	raw, err := r.client.Get(ctx, docKey(collection, id)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeDocument(raw)
}

func (r *RedisStore) Set(ctx context.Context, collection, id string, doc Document, merge bool) error {
	resolved := ResolveTimestamps(doc, time.Now())

	if merge {
		// Merge needs read-modify-write; guard it with an optimistic
		// transaction so concurrent merges do not clobber each other.
		key := docKey(collection, id)
		err := r.watchRetry(ctx, key, func(tx *redis.Tx) error {
			existing := Document{}
			raw, err := tx.Get(ctx, key).Result()
			if err != nil && err != redis.Nil {
				return err
			}
			if err == nil {
				existing, err = decodeDocument(raw)
				if err != nil {
					return err
				}
			}
			for k, v := range resolved {
				existing[k] = v
			}
			payload, err := json.Marshal(existing)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, 0)
				pipe.SAdd(ctx, setKey(collection), id)
				return nil
			})
			return err
		})
		if err != nil {
			return err
		}
		return r.publish(ctx, collection, id)
	}

	payload, err := json.Marshal(resolved)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, docKey(collection, id), payload, 0)
		pipe.SAdd(ctx, setKey(collection), id)
		return nil
	})
	if err != nil {
		return err
	}
	return r.publish(ctx, collection, id)
}

func (r *RedisStore) Create(ctx context.Context, collection, id string, doc Document) error {
	payload, err := json.Marshal(ResolveTimestamps(doc, time.Now()))
	if err != nil {
		return err
	}

	ok, err := r.client.SetNX(ctx, docKey(collection, id), payload, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrExists
	}

	if err := r.client.SAdd(ctx, setKey(collection), id).Err(); err != nil {
		return err
	}
	return r.publish(ctx, collection, id)
}

func (r *RedisStore) Delete(ctx context.Context, collection, id string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, docKey(collection, id))
		pipe.SRem(ctx, setKey(collection), id)
		return nil
	})
	if err != nil {
		return err
	}
	return r.publish(ctx, collection, id)
}

func (r *RedisStore) Increment(ctx context.Context, collection, id, field string, delta int64) error {
	key := docKey(collection, id)

	err := r.watchRetry(ctx, key, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		doc, err := decodeDocument(raw)
		if err != nil {
			return err
		}
		current, _ := asNumber(doc[field])
		doc[field] = int64(current) + delta

		payload, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	})
	if err != nil {
		return err
	}
	return r.publish(ctx, collection, id)
}

// watchRetry runs fn under WATCH, retrying when a concurrent writer
// invalidates the transaction.
func (r *RedisStore) watchRetry(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	var err error
	for i := 0; i < incrementRetries; i++ {
		err = r.client.Watch(ctx, fn, key)
		if err != redis.TxFailedErr {
			return err
		}
	}
	return err
}

func (r *RedisStore) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	pubsub := r.client.Subscribe(ctx, changeChannel(q.Collection))
	// Force the subscription onto the wire before the initial snapshot so
	// no change can slip between the two.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	sub := newSubscription(func() { pubsub.Close() })

	snap, err := r.evaluate(ctx, q)
	if err != nil {
		pubsub.Close()
		return nil, err
	}
	sub.emit(snap)

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				snap, err := r.evaluate(ctx, q)
				if err != nil {
					sub.fail(err)
					pubsub.Close()
					return
				}
				sub.emit(snap)
			}
		}
	}()

	return sub, nil
}

func (r *RedisStore) SubscribeDoc(ctx context.Context, collection, id string) (*DocSubscription, error) {
	pubsub := r.client.Subscribe(ctx, changeChannel(collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	sub := newDocSubscription(func() { pubsub.Close() })

	snap, err := r.docSnapshot(ctx, collection, id)
	if err != nil {
		pubsub.Close()
		return nil, err
	}
	sub.emit(snap)

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Payload != id {
					continue
				}
				snap, err := r.docSnapshot(ctx, collection, id)
				if err != nil {
					sub.fail(err)
					pubsub.Close()
					return
				}
				sub.emit(snap)
			}
		}
	}()

	return sub, nil
}

func (r *RedisStore) Close() error {
	return nil // the shared client is owned by the caller
}

func (r *RedisStore) publish(ctx context.Context, collection, id string) error {
	return r.client.Publish(ctx, changeChannel(collection), id).Err()
}

func (r *RedisStore) evaluate(ctx context.Context, q Query) ([]Entry, error) {
	ids, err := r.client.SMembers(ctx, setKey(q.Collection)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(q.Collection, id)
	}
	raws, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for i, raw := range raws {
		s, ok := raw.(string)
		if !ok {
			continue // id set member without a document, skip
		}
		doc, err := decodeDocument(s)
		if err != nil {
			return nil, err
		}
		if q.Matches(doc) {
			entries = append(entries, Entry{ID: ids[i], Data: doc})
		}
	}
	return q.Apply(entries), nil
}

func (r *RedisStore) docSnapshot(ctx context.Context, collection, id string) (DocSnapshot, error) {
	doc, err := r.Get(ctx, collection, id)
	if err == ErrNotFound {
		return DocSnapshot{}, nil
	}
	if err != nil {
		return DocSnapshot{}, err
	}
	return DocSnapshot{Exists: true, Data: doc}, nil
}

func decodeDocument(raw string) (Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("malformed document payload: %w", err)
	}
	return doc, nil
}
