package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic-lock retries in Redis.Update.
const maxTxRetries = 25

// Redis is a Store backed by a Redis server, for queues shared between
// machines or containers. Keys are namespaced under prefix. Update uses
// WATCH/MULTI, so fn may run more than once and must not have side effects
// beyond the Tx.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to addr and verifies the connection.
func NewRedis(ctx context.Context, addr, prefix string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	if prefix == "" {
		prefix = "pulse:"
	}
	return &Redis{client: client, prefix: prefix}, nil
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Update(ctx context.Context, fn func(tx Tx) error) error {
	for range maxTxRetries {
		err := r.client.Watch(ctx, func(rtx *redis.Tx) error {
			tx := &redisTx{ctx: ctx, rtx: rtx, store: r, overlay: newMapTx(nil)}
			if err := fn(tx); err != nil {
				return err
			}
			if tx.err != nil {
				return tx.err
			}
			if !tx.overlay.dirty() {
				return nil
			}
			_, err := rtx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				for k := range tx.overlay.deletes {
					p.Del(ctx, r.key(k))
				}
				for k, v := range tx.overlay.writes {
					p.Set(ctx, r.key(k), v, 0)
				}
				return nil
			})
			return err
		})
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis update: %w", redis.TxFailedErr)
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// redisTx watches every key it reads so a concurrent writer aborts the
// commit.
type redisTx struct {
	ctx     context.Context
	rtx     *redis.Tx
	store   *Redis
	overlay *mapTx
	err     error
}

func (t *redisTx) Get(key string) ([]byte, error) {
	if t.overlay.deletes[key] {
		return nil, ErrNotFound
	}
	if v, ok := t.overlay.writes[key]; ok {
		return v, nil
	}
	k := t.store.key(key)
	if err := t.rtx.Watch(t.ctx, k).Err(); err != nil {
		t.err = fmt.Errorf("watching %s: %w", key, err)
		return nil, t.err
	}
	v, err := t.rtx.Get(t.ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return v, nil
}

func (t *redisTx) Set(key string, value []byte) { t.overlay.Set(key, value) }
func (t *redisTx) Delete(key string)            { t.overlay.Delete(key) }
