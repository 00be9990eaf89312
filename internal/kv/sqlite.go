package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLite is a Store backed by a single key/value table. Update runs inside
// an IMMEDIATE transaction, which takes the database write lock up front.
type SQLite struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// OpenSQLite opens (creating if needed) the database at dbPath and applies
// migrations. An empty dbPath selects <data dir>/pulse.db.
func OpenSQLite(dbPath string) (*SQLite, error) {
	if dbPath == "" {
		dir, err := DataDir()
		if err != nil {
			return nil, fmt.Errorf("could not determine data directory: %w", err)
		}
		dbPath = filepath.Join(dir, "pulse.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("could not create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not ping database: %w", err)
	}
	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}
	return &SQLite{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string { return s.dbPath }

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRow(ctx, s.db, key)
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, upsertKV, key, value)
	if err != nil {
		return fmt.Errorf("could not write %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Update(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer sqlTx.Rollback() //nolint:errcheck

	tx := &sqliteTx{ctx: ctx, tx: sqlTx, overlay: newMapTx(nil)}
	if err := fn(tx); err != nil {
		return err
	}
	for k := range tx.overlay.deletes {
		if _, err := sqlTx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, k); err != nil {
			return fmt.Errorf("could not delete %s: %w", k, err)
		}
	}
	for k, v := range tx.overlay.writes {
		if _, err := sqlTx.ExecContext(ctx, upsertKV, k, v); err != nil {
			return fmt.Errorf("could not write %s: %w", k, err)
		}
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("could not close database: %w", err)
	}
	return nil
}

const upsertKV = `
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRow(ctx context.Context, q querier, key string) ([]byte, error) {
	var v []byte
	err := q.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", key, err)
	}
	return v, nil
}

// sqliteTx reads through the open transaction and buffers writes until
// commit.
type sqliteTx struct {
	ctx     context.Context
	tx      *sql.Tx
	overlay *mapTx
}

func (t *sqliteTx) Get(key string) ([]byte, error) {
	if t.overlay.deletes[key] {
		return nil, ErrNotFound
	}
	if v, ok := t.overlay.writes[key]; ok {
		return v, nil
	}
	return getRow(t.ctx, t.tx, key)
}

func (t *sqliteTx) Set(key string, value []byte) { t.overlay.Set(key, value) }
func (t *sqliteTx) Delete(key string)            { t.overlay.Delete(key) }
