// Package sqlite is a hub.Store backed by a single SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/hub"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/store"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

var _ hub.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// SQLite has a single writer. One connection also keeps ":memory:"
	// databases shared across calls.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Set("_txlock", "immediate")
	q.Add("_pragma", "busy_timeout(5000)")
	if path != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + q.Encode()
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS signal_sessions (
		session_key TEXT PRIMARY KEY,
		record TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS signal_hub_meta (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for i, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("sqlite migration %d: %w", i, err)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key hub.SessionKey) (hub.Record, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM signal_sessions WHERE session_key = ?`,
		string(key),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return hub.Record{}, false, nil
	}
	if err != nil {
		return hub.Record{}, false, fmt.Errorf("get session: %w", err)
	}
	rec, err := store.DecodeRecord([]byte(raw))
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

	var cur *hub.Record
	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT record FROM signal_sessions WHERE session_key = ?`,
		string(key),
	).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read session: %w", err)
	default:
		rec, err := store.DecodeRecord([]byte(raw))
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

	_, err = tx.ExecContext(ctx,
		`INSERT INTO signal_sessions (session_key, record, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (session_key) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		string(key), string(b), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) Bootstrap(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO signal_hub_meta (name, value) VALUES (?, ?) ON CONFLICT (name) DO NOTHING`,
		store.MetaInitialized, time.Now().UTC().Format(time.RFC3339),
	)
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
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM signal_hub_meta WHERE name = ?`,
		store.MetaInitialized,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("read meta: %w", err)
	}
	return n > 0, nil
}

func (s *Store) Close() error { return s.db.Close() }
