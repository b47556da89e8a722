package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/pairwell/entitlements/internal/catalog"
	"github.com/pairwell/entitlements/internal/clock"
	"github.com/pairwell/entitlements/internal/grant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CacheInvalidator is satisfied by the entitlement snapshot cache. Grants
// change entitlement truth, so every mutation must invalidate.
type CacheInvalidator interface {
	Invalidate(userID snowflake.ID)
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Catalog     *catalog.Holder
	Repo        domain.Repository
	Invalidator CacheInvalidator
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	catalog     *catalog.Holder
	repo        domain.Repository
	invalidator CacheInvalidator
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("grant.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		catalog:     p.Catalog,
		repo:        p.Repo,
		invalidator: p.Invalidator,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (domain.Response, error) {
	userID, err := parseUserID(req.UserID)
	if err != nil {
		return domain.Response{}, err
	}

	key := strings.TrimSpace(req.FeatureKey)
	if key == "" {
		return domain.Response{}, domain.ErrInvalidFeatureKey
	}
	if _, ok := s.catalog.Get().Feature(catalog.FeatureKey(key)); !ok {
		return domain.Response{}, domain.ErrInvalidFeatureKey
	}

	now := s.clock.Now()
	grant := &domain.FeatureGrant{
		ID:         s.genID.Generate(),
		UserID:     userID,
		FeatureKey: key,
		Enabled:    true,
		Unlimited:  true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if req.Enabled != nil {
		grant.Enabled = *req.Enabled
	}
	if req.Unlimited != nil {
		grant.Unlimited = *req.Unlimited
	}
	if len(req.Limits) > 0 {
		grant.Unlimited = false
		grant.Limits = make(datatypes.JSONMap, len(req.Limits))
		for k, v := range req.Limits {
			grant.Limits[k] = v
		}
	}

	if err := s.repo.Upsert(ctx, s.db, grant); err != nil {
		return domain.Response{}, err
	}

	s.invalidator.Invalidate(userID)
	s.log.Info("feature grant written",
		zap.String("user_id", userID.String()),
		zap.String("feature_key", key),
		zap.Bool("enabled", grant.Enabled),
	)

	stored, err := s.repo.FindByUserAndKey(ctx, s.db, userID, key)
	if err != nil || stored == nil {
		return toResponse(grant), nil
	}
	return toResponse(stored), nil
}

func (s *Service) Revoke(ctx context.Context, req domain.RevokeRequest) error {
	userID, err := parseUserID(req.UserID)
	if err != nil {
		return err
	}
	key := strings.TrimSpace(req.FeatureKey)
	if key == "" {
		return domain.ErrInvalidFeatureKey
	}

	deleted, err := s.repo.Delete(ctx, s.db, userID, key)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrGrantNotFound
	}

	s.invalidator.Invalidate(userID)
	s.log.Info("feature grant revoked",
		zap.String("user_id", userID.String()),
		zap.String("feature_key", key),
	)
	return nil
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]domain.Response, error) {
	id, err := parseUserID(userID)
	if err != nil {
		return nil, err
	}

	grants, err := s.repo.ListByUser(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Response, 0, len(grants))
	for i := range grants {
		out = append(out, toResponse(&grants[i]))
	}
	return out, nil
}

func parseUserID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidUser
	}
	return id, nil
}

func toResponse(grant *domain.FeatureGrant) domain.Response {
	return domain.Response{
		ID:         grant.ID.String(),
		UserID:     grant.UserID.String(),
		FeatureKey: grant.FeatureKey,
		Enabled:    grant.Enabled,
		Unlimited:  grant.Unlimited,
		Limits:     grant.LimitValues(),
		CreatedAt:  grant.CreatedAt,
		UpdatedAt:  grant.UpdatedAt,
	}
}
