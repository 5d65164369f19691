// Package postgres is a hub.Store backed by PostgreSQL. Several hub processes
// may share one database; per-key updates are serialized with transaction
// scoped advisory locks.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/hub"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/store"

	_ "github.com/lib/pq"
)

const (
	querySelect          = `SELECT record FROM signal_sessions WHERE session_key = $1`
	querySelectForUpdate = `SELECT record FROM signal_sessions WHERE session_key = $1 FOR UPDATE`
	queryAdvisoryLock    = `SELECT pg_advisory_xact_lock(hashtext($1))`
	queryUpsert          = `INSERT INTO signal_sessions (session_key, record, updated_at) VALUES ($1, $2, NOW()) ON CONFLICT (session_key) DO UPDATE SET record = EXCLUDED.record, updated_at = EXCLUDED.updated_at`
	queryBootstrap       = `INSERT INTO signal_hub_meta (name, value) VALUES ($1, NOW()::text) ON CONFLICT (name) DO NOTHING`
	queryInitialized     = `SELECT COUNT(*) FROM signal_hub_meta WHERE name = $1`
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS signal_sessions (
		session_key TEXT PRIMARY KEY,
		record JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS signal_hub_meta (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

type Store struct {
	db *sql.DB
}

var _ hub.Store = (*Store)(nil)

// Open connects to dsn and applies migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle. Call Migrate before use on a fresh database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate(ctx context.Context) error {
	for i, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("postgres migration %d: %w", i, err)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key hub.SessionKey) (hub.Record, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, querySelect, string(key)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return hub.Record{}, false, nil
	}
	if err != nil {
		return hub.Record{}, false, fmt.Errorf("failed to get session: %w", err)
	}
	rec, err := store.DecodeRecord(raw)
	if err != nil {
		return hub.Record{}, false, err
	}
	return rec, true, nil
}

func (s *Store) Update(ctx context.Context, key hub.SessionKey, fn hub.UpdateFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// FOR UPDATE cannot lock a row that does not exist yet; the advisory lock
	// also covers first inserts.
	if _, err := tx.ExecContext(ctx, queryAdvisoryLock, string(key)); err != nil {
		return fmt.Errorf("lock session: %w", err)
	}

	var cur *hub.Record
	var raw []byte
	err = tx.QueryRowContext(ctx, querySelectForUpdate, string(key)).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read session: %w", err)
	default:
		rec, err := store.DecodeRecord(raw)
		if err != nil {
			return err
		}
		cur = &rec
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}
	b, err := store.EncodeRecord(*next)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, queryUpsert, string(key), string(b)); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) Bootstrap(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, queryBootstrap, store.MetaInitialized)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if n == 0 {
		return hub.ErrAlreadyInitialized
	}
	return nil
}

func (s *Store) Initialized(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, queryInitialized, store.MetaInitialized).Scan(&n); err != nil {
		return false, fmt.Errorf("read meta: %w", err)
	}
	return n > 0, nil
}

func (s *Store) Close() error { return s.db.Close() }
