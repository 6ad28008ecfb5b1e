// Package storage picks the session store backend named by the configuration.
package storage

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-dashboard/core"
	"github.com/trezcool/masomo-dashboard/core/session"
	"github.com/trezcool/masomo-dashboard/storage/database"
	"github.com/trezcool/masomo-dashboard/storage/filestore"
	"github.com/trezcool/masomo-dashboard/storage/memory"
	"github.com/trezcool/masomo-dashboard/storage/redisstore"
	"github.com/trezcool/masomo-dashboard/storage/sqlstore"
)

var ErrUnknownStore = errors.New("unknown session store")

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open returns the StoreFactory configured by conf.Session.Store and what must be closed on shutdown.
func Open(ctx context.Context, conf *core.Config) (session.StoreFactory, io.Closer, error) {
	switch conf.Session.Store {
	case core.StoreMemory:
		return memory.NewDB(), nopCloser{}, nil

	case core.StoreFile, "":
		dir, err := filestore.Open(conf.Session.Dir)
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening file store")
		}
		return dir, nopCloser{}, nil

	case core.StoreRedis:
		client, err := redisstore.Open(ctx, redisstore.Options{
			Addr:     conf.Session.RedisAddr,
			Password: conf.Session.RedisPassword,
			DB:       conf.Session.RedisDB,
			TTL:      conf.Server.DeviceCookieTTL,
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening redis store")
		}
		return client, client, nil

	case core.StoreSQLite:
		db, err := database.OpenSQLite(ctx, conf.Session.SQLitePath)
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening sqlite store")
		}
		tables := sqlstore.New(db)
		return tables, tables, nil

	case core.StorePostgres:
		db, err := database.OpenPostgres(ctx, conf)
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening postgres store")
		}
		tables := sqlstore.New(db)
		return tables, tables, nil

	default:
		return nil, nil, errors.Wrapf(ErrUnknownStore, "%q", conf.Session.Store)
	}
}
