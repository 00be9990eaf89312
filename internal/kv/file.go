package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"
)

// lockRetry is how often a blocked Update polls for the cross-process lock.
const lockRetry = 50 * time.Millisecond

// ErrNotJSON is returned by File when a value is not a JSON document.
var ErrNotJSON = errors.New("value is not valid JSON")

// File is a Store backed by a single JSON document; values must themselves
// be JSON. Reads and writes go
// through fs; every mutation holds an advisory lock on path+".lock" so that
// concurrent pulse processes serialise their read-modify-write cycles.
type File struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

// NewFile returns a File store at path. The lock file always lives on the
// host filesystem, next to path.
func NewFile(fs afero.Fs, path string) (*File, error) {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	return &File{fs: fs, path: path, lock: flock.New(path + ".lock")}, nil
}

// DefaultPath returns $XDG_DATA_HOME/pulse/store.json or
// ~/.local/share/pulse/store.json.
func DefaultPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "store.json"), nil
}

// DataDir returns the pulse-specific XDG data directory.
func DataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "pulse"), nil
}

func (f *File) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := f.locked(ctx, func() error {
		data, err := f.load()
		if err != nil {
			return err
		}
		v, ok := data[key]
		if !ok {
			return ErrNotFound
		}
		out = v
		return nil
	})
	return out, err
}

func (f *File) Set(ctx context.Context, key string, value []byte) error {
	return f.Update(ctx, func(tx Tx) error {
		tx.Set(key, value)
		return nil
	})
}

func (f *File) Update(ctx context.Context, fn func(tx Tx) error) error {
	return f.locked(ctx, func() error {
		data, err := f.load()
		if err != nil {
			return err
		}
		tx := newMapTx(data)
		if err := fn(tx); err != nil {
			return err
		}
		if !tx.dirty() {
			return nil
		}
		tx.apply(data)
		return f.save(data)
	})
}

func (f *File) Close() error {
	return f.lock.Close()
}

// locked runs fn while holding both the in-process mutex and the file lock.
func (f *File) locked(ctx context.Context, fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ok, err := f.lock.TryLockContext(ctx, lockRetry)
	if !ok {
		if err == nil {
			err = errors.New("lock not acquired")
		}
		return fmt.Errorf("locking store %s: %w", f.path, err)
	}
	defer f.lock.Unlock()
	return fn()
}

func (f *File) load() (map[string][]byte, error) {
	raw, err := afero.ReadFile(f.fs, f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string][]byte), nil
		}
		return nil, fmt.Errorf("reading store: %w", err)
	}
	doc := make(map[string]json.RawMessage)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parsing store %s: %w", f.path, err)
		}
	}
	data := make(map[string][]byte, len(doc))
	for k, v := range doc {
		data[k] = []byte(v)
	}
	return data, nil
}

// save writes data atomically via a temp file and rename.
func (f *File) save(data map[string][]byte) (err error) {
	doc := make(map[string]json.RawMessage, len(data))
	for k, v := range data {
		if !json.Valid(v) {
			return fmt.Errorf("%w: %s", ErrNotJSON, k)
		}
		doc[k] = v
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding store: %w", err)
	}

	tmp, err := afero.TempFile(f.fs, filepath.Dir(f.path), "store-*.json.tmp")
	if err != nil {
		return fmt.Errorf("writing store: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = f.fs.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("writing store: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("writing store: %w", err)
	}
	if err = f.fs.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("writing store: %w", err)
	}
	return nil
}
