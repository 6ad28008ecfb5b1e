package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/trezcool/masomo-dashboard/apps/web/di"
	echoweb "github.com/trezcool/masomo-dashboard/apps/web/echo"
	"github.com/trezcool/masomo-dashboard/core"
)

func main() {
	c := di.New()

	must(c.Invoke(func(
		conf *core.Config,
		logger core.Logger,
		store di.StoreParam,
		server *echoweb.Server,
	) {
		logger.Info(fmt.Sprintf("Dashboard initializing : version %q, session store %q", conf.Build, conf.Session.Store))

		defer func() {
			if err := store.Closer.Close(); err != nil {
				logger.Error("failed to close session store", err)
			}
		}()
		defer logger.Info("Dashboard stopped")

		sweepCtx, stopSweep := context.WithCancel(context.Background())
		defer stopSweep()
		purger, _ := store.Factory.(idlePurger)
		go sweepIdleSessions(sweepCtx, server, purger, conf.Server.DeviceCookieTTL, logger)

		go func() {
			server.Start()
		}()

		select {
		case err := <-server.Errors():
			logger.Error(fmt.Sprintf("server error: %v", err), err)

		case sig := <-server.ShutdownSignal():
			logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

			// give outstanding requests a deadline for completion
			ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(ctx); err != nil {
				logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

				if err = server.Close(); err != nil {
					logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
				}
			}
		}
	}))
}

// idlePurger is implemented by the SQL session store.
type idlePurger interface {
	PurgeIdle(ctx context.Context, before time.Time) (int, error)
}

// sweepIdleSessions periodically frees idle devices and, when the store supports it,
// drops the sessions of devices whose cookie has expired.
func sweepIdleSessions(ctx context.Context, server *echoweb.Server, p idlePurger, ttl time.Duration, logger core.Logger) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if n := server.EvictIdleDevices(); n > 0 {
			logger.Debug(fmt.Sprintf("evicted %d idle devices", n))
		}
		if p == nil {
			continue
		}
		n, err := p.PurgeIdle(ctx, time.Now().Add(-ttl))
		if err != nil {
			logger.Error("purging idle sessions", err)
		} else if n > 0 {
			logger.Info(fmt.Sprintf("purged %d idle session entries", n))
		}
	}
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
