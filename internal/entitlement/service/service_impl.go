package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pairwell/entitlements/internal/catalog"
	"github.com/pairwell/entitlements/internal/clock"
	"github.com/pairwell/entitlements/internal/config"
	"github.com/pairwell/entitlements/internal/entitlement/cache"
	"github.com/pairwell/entitlements/internal/entitlement/domain"
	"github.com/pairwell/entitlements/internal/entitlement/resolver"
	grantdomain "github.com/pairwell/entitlements/internal/grant/domain"
	obsmetrics "github.com/pairwell/entitlements/internal/observability/metrics"
	subscriptiondomain "github.com/pairwell/entitlements/internal/subscription/domain"
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
	Catalog    *catalog.Holder
	SubRepo    subscriptiondomain.Repository
	GrantRepo  grantdomain.Repository
	Cache      *cache.SnapshotCache
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	grace      time.Duration
	catalog    *catalog.Holder
	subRepo    subscriptiondomain.Repository
	grantRepo  grantdomain.Repository
	cache      *cache.SnapshotCache
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("entitlement.service"),
		clock:      p.Clock,
		grace:      p.Cfg.GraceWindow,
		catalog:    p.Catalog,
		subRepo:    p.SubRepo,
		grantRepo:  p.GrantRepo,
		cache:      p.Cache,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) HasFeature(ctx context.Context, userID snowflake.ID, key catalog.FeatureKey) (bool, error) {
	if err := s.validateKey(key); err != nil {
		return false, err
	}
	snap, err := s.GetAll(ctx, userID)
	if err != nil {
		return false, err
	}
	return snap.Has(key), nil
}

func (s *Service) GetLimits(ctx context.Context, userID snowflake.ID, key catalog.FeatureKey) (domain.Limits, error) {
	if err := s.validateKey(key); err != nil {
		return domain.Limits{}, err
	}
	snap, err := s.GetAll(ctx, userID)
	if err != nil {
		return domain.Limits{}, err
	}
	limits, _ := snap.LimitsFor(key)
	return limits, nil
}

func (s *Service) GetAll(ctx context.Context, userID snowflake.ID) (domain.Snapshot, error) {
	if userID == 0 {
		return domain.Snapshot{}, domain.ErrInvalidUser
	}
	return s.cache.Get(ctx, userID, s.load)
}

func (s *Service) Invalidate(userID snowflake.ID) {
	s.cache.Invalidate(userID)
}

func (s *Service) InvalidateAll() {
	s.cache.InvalidateAll()
}

// load reads the ledger and grant rows and resolves them. Business emptiness
// (no subscription, no grants) is a valid free-tier result, never an error;
// only a failed storage read errors, and the cache decides the fail-open
// policy.
func (s *Service) load(ctx context.Context, userID snowflake.ID) (domain.Snapshot, error) {
	record, err := s.subRepo.FindCurrentByUserID(ctx, s.db, userID)
	if err != nil {
		s.obsMetrics.RecordResolverFailure(ctx)
		s.log.Error("ledger read failed", zap.String("user_id", userID.String()), zap.Error(err))
		return domain.Snapshot{}, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}

	grants, err := s.grantRepo.ListByUser(ctx, s.db, userID)
	if err != nil {
		s.obsMetrics.RecordResolverFailure(ctx)
		s.log.Error("grant read failed", zap.String("user_id", userID.String()), zap.Error(err))
		return domain.Snapshot{}, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}

	return resolver.Resolve(resolver.Inputs{
		Now:         s.clock.Now(),
		GraceWindow: s.grace,
		Catalog:     s.catalog.Get(),
		UserID:      userID,
		Record:      record,
		Grants:      grants,
	}), nil
}

func (s *Service) validateKey(key catalog.FeatureKey) error {
	if _, ok := s.catalog.Get().Feature(key); !ok {
		return domain.ErrUnknownFeature
	}
	return nil
}
