// Package scheduler runs periodic maintenance, currently the webhook dedup
// prune job.
package scheduler

import (
	"context"
	"time"

	"github.com/pairwell/entitlements/internal/clock"
	"github.com/pairwell/entitlements/internal/config"
	obsmetrics "github.com/pairwell/entitlements/internal/observability/metrics"
	webhookdomain "github.com/pairwell/entitlements/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Cfg        config.Config
	Repo       webhookdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	retention  time.Duration
	interval   time.Duration
	repo       webhookdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) *Scheduler {
	retention := p.Cfg.DedupRetention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	interval := p.Cfg.PruneInterval
	if interval <= 0 {
		interval = time.Hour
	}

	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		clock:      p.Clock,
		retention:  retention,
		interval:   interval,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce prunes processed dedup rows older than the retention window.
// Unprocessed rows are kept regardless of age; they still gate reprocessing.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.retention)

	removed, err := s.repo.PruneProcessedBefore(ctx, s.db, cutoff)
	if err != nil {
		return err
	}
	if removed > 0 {
		s.obsMetrics.RecordDedupPruned(ctx, removed)
		s.log.Info("pruned webhook dedup rows",
			zap.Int64("removed", removed),
			zap.Time("cutoff", cutoff),
		)
	}
	return nil
}
