// Package app assembles and runs the full position risk manager: exchange
// gateway, decision engine, order queue, executor, learner, monitor loop and
// the status HTTP surface.
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"sentinel/internal/config"
	"sentinel/internal/logger"
	"sentinel/internal/monitor"
	"sentinel/internal/profile"
	"sentinel/internal/queue"
	"sentinel/internal/store/auditlog"
	"sentinel/internal/store/gormstore"
	httpapi "sentinel/internal/transport/http"
)

type App struct {
	cfg      *config.Config
	orders   *queue.Queue
	monitor  *monitor.Monitor
	httpSrv  *httpapi.Server
	store    *gormstore.Store
	audit    *auditlog.Store
	registry *profile.Registry
}

// NewApp builds the application from configuration without starting it.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return NewAppBuilder(cfg).Build(context.Background())
}

// Run starts the queue worker, the monitor loop and the HTTP server, and
// blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()

	group, ctx := errgroup.WithContext(ctx)

	a.orders.Start(ctx)
	group.Go(func() error {
		<-ctx.Done()
		a.orders.Stop()
		return nil
	})

	if a.httpSrv != nil {
		group.Go(func() error {
			logger.Infof("App: status API listening on %s", a.httpSrv.Addr())
			if err := a.httpSrv.Start(ctx); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		a.monitor.Run(ctx)
		return nil
	})

	return group.Wait()
}

func (a *App) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("App: state store close: %v", err)
		}
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			logger.Warnf("App: audit store close: %v", err)
		}
	}
}

// Orders exposes the queue, mainly for harnesses.
func (a *App) Orders() *queue.Queue {
	if a == nil {
		return nil
	}
	return a.orders
}
