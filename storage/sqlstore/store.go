// Package sqlstore keeps session namespaces in the session_entries table of a SQL database
// (SQLite or PostgreSQL, see storage/database).
package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-dashboard/core/session"
)

var nowFunc = time.Now // mockable

// Entry is a row of session_entries.
type Entry struct {
	Namespace string    `db:"namespace"`
	Key       string    `db:"entry_key"`
	Value     string    `db:"value"`
	UpdatedAt null.Time `db:"updated_at"`
}

// Tables opens namespace Stores on one database.
type Tables struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Tables {
	return &Tables{db: db}
}

func (t *Tables) Close() error {
	return t.db.Close()
}

// Store opens the Store of namespace.
func (t *Tables) Store(namespace string) (session.Store, error) {
	if namespace == "" {
		return nil, errors.New("sqlstore: empty namespace")
	}
	return &store{db: t.db, ns: namespace}, nil
}

// Entries lists the entries of namespace, most recently updated first.
func (t *Tables) Entries(ctx context.Context, namespace string) ([]Entry, error) {
	var entries []Entry
	q := t.db.Rebind(`SELECT namespace, entry_key, value, updated_at FROM session_entries
		WHERE namespace = ? ORDER BY updated_at DESC, entry_key`)
	if err := t.db.SelectContext(ctx, &entries, q, namespace); err != nil {
		return nil, errors.Wrap(err, "querying session entries")
	}
	return entries, nil
}

// PurgeIdle deletes the entries not updated since before; it returns how many went.
func (t *Tables) PurgeIdle(ctx context.Context, before time.Time) (int, error) {
	q := t.db.Rebind(`DELETE FROM session_entries WHERE updated_at IS NULL OR updated_at < ?`)
	res, err := t.db.ExecContext(ctx, q, before.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "purging idle session entries")
	}
	cnt, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "counting purged session entries")
	}
	return int(cnt), nil
}

type store struct {
	db *sqlx.DB
	ns string
}

var _ session.Store = (*store)(nil) // interface compliance check

func (s *store) Get(ctx context.Context, key string) (string, error) {
	var entry Entry
	q := s.db.Rebind(`SELECT namespace, entry_key, value, updated_at FROM session_entries
		WHERE namespace = ? AND entry_key = ?`)
	if err := s.db.GetContext(ctx, &entry, q, s.ns, key); err != nil {
		if err == sql.ErrNoRows {
			return "", session.ErrNotFound
		}
		return "", errors.Wrap(err, "finding session entry")
	}
	return entry.Value, nil
}

func (s *store) Set(ctx context.Context, key, value string) error {
	q := s.db.Rebind(`INSERT INTO session_entries (namespace, entry_key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, entry_key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, q, s.ns, key, value, null.TimeFrom(nowFunc().UTC())); err != nil {
		return errors.Wrap(err, "upserting session entry")
	}
	return nil
}

func (s *store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	q, args, err := sqlx.In(`DELETE FROM session_entries WHERE namespace = ? AND entry_key IN (?)`, s.ns, keys)
	if err != nil {
		return errors.Wrap(err, "building delete query")
	}
	if _, err = s.db.ExecContext(ctx, s.db.Rebind(q), args...); err != nil {
		return errors.Wrap(err, "deleting session entries")
	}
	return nil
}

func (s *store) Clear(ctx context.Context) error {
	q := s.db.Rebind(`DELETE FROM session_entries WHERE namespace = ?`)
	if _, err := s.db.ExecContext(ctx, q, s.ns); err != nil {
		return errors.Wrap(err, "clearing session entries")
	}
	return nil
}
