// Package daemon composes the cache engine into a long-running process:
// logger, data-dir lock, event bus, cache handle, prometheus registry
// and the health server, wired with fx lifecycle hooks.
package daemon

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/MrX1068/stunxtV2-sub001/internal/bus"
	"github.com/MrX1068/stunxtV2-sub001/internal/cache"
	"github.com/MrX1068/stunxtV2-sub001/internal/config"
	"github.com/MrX1068/stunxtV2-sub001/internal/lock"
	"github.com/MrX1068/stunxtV2-sub001/internal/logging"
	"github.com/MrX1068/stunxtV2-sub001/internal/metrics"
)

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	Config *config.Config
}

// Module returns the fx module for the cache daemon.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideRegistry,
			provideCache,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(p.Config.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data-dir lock", zap.String("dir", p.Config.DataDir))
	l, err := lock.Acquire(p.Config.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data-dir lock acquired")
	return l, nil
}

func provideRegistry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	metrics.Register(r)
	return r
}

func provideCache(p Params, b *bus.Bus, logger *zap.Logger, _ *lock.Lock) *cache.Cache {
	return cache.New(p.Config, b, logger)
}

func provideServer(p Params, c *cache.Cache, logger *zap.Logger) (*Server, error) {
	return NewServer(p.Config.Socket(), c, logger)
}

func registerLifecycle(lc fx.Lifecycle, c *cache.Cache, srv *Server, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := c.Open(context.Background()); err != nil {
				return err
			}
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("health server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			if err := c.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
