// Package database opens the SQL databases backing the session store and keeps their schema
// up to date.
package database

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/trezcool/masomo-dashboard/core"
)

//go:embed migrations/*.sql
var migrations embed.FS

var pingBackoff = 100 * time.Millisecond // mockable

// OpenPostgres opens the PostgreSQL database at conf.Session.DatabaseURL.
func OpenPostgres(ctx context.Context, conf *core.Config) (*sqlx.DB, error) {
	u, err := url.Parse(conf.Session.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing database URL")
	}
	q := u.Query()
	if q.Get("timezone") == "" {
		q.Set("timezone", "utc")
	}
	u.RawQuery = q.Encode()

	db, err := sql.Open("postgres", u.String())
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err = ping(ctx, db, 30); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err = Migrate(ctx, db, goose.DialectPostgres); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sqlx.NewDb(db, "postgres"), nil
}

// OpenSQLite opens (creating it if needed) the SQLite database at path.
func OpenSQLite(ctx context.Context, path string) (*sqlx.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, errors.Wrap(err, "creating database directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	if err = ping(ctx, db, 1); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "setting busy timeout")
	}
	if err = Migrate(ctx, db, goose.DialectSQLite3); err != nil {
		_ = db.Close()
		return nil, err
	}
	// "sqlite3" tells sqlx to keep `?` bind vars
	return sqlx.NewDb(db, "sqlite3"), nil
}

// ping waits for the database to be ready. Waits longer between each attempt.
func ping(ctx context.Context, db *sql.DB, maxAttempts int) error {
	var err error
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		if attempts == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "DB ping canceled")
		case <-time.After(time.Duration(attempts) * pingBackoff):
		}
	}
	return errors.Wrap(err, "DB ping timeout")
}

// Migrate applies every pending migration.
func Migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return errors.Wrap(err, "loading migrations")
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return errors.Wrap(err, "preparing migrations")
	}
	if _, err = provider.Up(ctx); err != nil {
		return errors.Wrap(err, "migrating database")
	}
	return nil
}
