package entitlement

import (
	"context"

	"github.com/pairwell/entitlements/internal/clock"
	"github.com/pairwell/entitlements/internal/config"
	"github.com/pairwell/entitlements/internal/entitlement/cache"
	"github.com/pairwell/entitlements/internal/entitlement/domain"
	"github.com/pairwell/entitlements/internal/entitlement/service"
	grantservice "github.com/pairwell/entitlements/internal/grant/service"
	obsmetrics "github.com/pairwell/entitlements/internal/observability/metrics"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewSnapshotCache(cfg config.Config, clk clock.Clock, log *zap.Logger) *cache.SnapshotCache {
	return cache.New(cache.Config{TTL: cfg.SnapshotTTL}, clk, log)
}

// runFanout attaches the cross-replica invalidation channel when redis is
// configured. Without redis each replica relies on its TTL bound alone.
func runFanout(lc fx.Lifecycle, client *redis.Client, c *cache.SnapshotCache, log *zap.Logger) {
	if client == nil {
		return
	}

	fanout := cache.NewRedisFanout(client, log)
	c.SetFanout(fanout)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				fanout.Run(ctx, c)
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			<-done
			return nil
		},
	})
}

type instrumentsParams struct {
	fx.In

	Cache      *cache.SnapshotCache
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func attachInstruments(p instrumentsParams) {
	if p.ObsMetrics != nil {
		p.Cache.SetInstruments(p.ObsMetrics)
	}
}

var Module = fx.Module("entitlement.service",
	fx.Provide(NewSnapshotCache),
	fx.Provide(service.NewService),
	fx.Provide(func(svc domain.Service) grantservice.CacheInvalidator { return svc }),
	fx.Invoke(attachInstruments),
	fx.Invoke(runFanout),
)
