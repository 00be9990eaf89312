// Package kv provides the key/value persistence capability the durable queue
// is built on. Backends share one contract: single-key reads and writes, plus
// Update, which runs a read-modify-write over any keys as one atomic step even
// when several pulse processes share the same store.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when a key has no value.
var ErrNotFound = errors.New("key not found")

// Store is a key/value store with atomic multi-key updates.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set overwrites the value stored at key.
	Set(ctx context.Context, key string, value []byte) error
	// Update runs fn against a consistent view of the store and commits its
	// writes atomically. If fn returns an error nothing is written.
	Update(ctx context.Context, fn func(tx Tx) error) error
	// Close releases the backend's resources.
	Close() error
}

// Tx is the view of the store inside Update.
type Tx interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte)
	Delete(key string)
}

// mapTx is a Tx over an in-memory snapshot that records its writes.
type mapTx struct {
	data    map[string][]byte
	writes  map[string][]byte
	deletes map[string]bool
}

func newMapTx(data map[string][]byte) *mapTx {
	return &mapTx{
		data:    data,
		writes:  make(map[string][]byte),
		deletes: make(map[string]bool),
	}
}

func (t *mapTx) Get(key string) ([]byte, error) {
	if t.deletes[key] {
		return nil, ErrNotFound
	}
	if v, ok := t.writes[key]; ok {
		return v, nil
	}
	if v, ok := t.data[key]; ok {
		return v, nil
	}
	return nil, ErrNotFound
}

func (t *mapTx) Set(key string, value []byte) {
	delete(t.deletes, key)
	t.writes[key] = append([]byte(nil), value...)
}

func (t *mapTx) Delete(key string) {
	delete(t.writes, key)
	t.deletes[key] = true
}

func (t *mapTx) dirty() bool {
	return len(t.writes) > 0 || len(t.deletes) > 0
}

// apply folds the recorded writes into data.
func (t *mapTx) apply(data map[string][]byte) {
	for k := range t.deletes {
		delete(data, k)
	}
	for k, v := range t.writes {
		data[k] = v
	}
}
