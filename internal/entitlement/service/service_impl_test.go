package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pairwell/entitlements/internal/catalog"
	"github.com/pairwell/entitlements/internal/clock"
	"github.com/pairwell/entitlements/internal/config"
	"github.com/pairwell/entitlements/internal/entitlement/cache"
	"github.com/pairwell/entitlements/internal/entitlement/domain"
	grantdomain "github.com/pairwell/entitlements/internal/grant/domain"
	subscriptiondomain "github.com/pairwell/entitlements/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type stubSubscriptionRepo struct {
	subscriptiondomain.Repository

	record *subscriptiondomain.Record
	err    error
}

func (s *stubSubscriptionRepo) FindCurrentByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*subscriptiondomain.Record, error) {
	return s.record, s.err
}

type stubGrantRepo struct {
	grantdomain.Repository

	grants []grantdomain.FeatureGrant
	err    error
}

func (s *stubGrantRepo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]grantdomain.FeatureGrant, error) {
	return s.grants, s.err
}

func newTestService(t *testing.T, subs *stubSubscriptionRepo, grants *stubGrantRepo) (domain.Service, *clock.FakeClock) {
	t.Helper()

	cat, err := catalog.New(catalog.DefaultFeatures(), catalog.DefaultPlans())
	require.NoError(t, err)

	clk := clock.NewFakeClock(baseTime)
	cfg := config.Config{SnapshotTTL: 5 * time.Minute, GraceWindow: 72 * time.Hour}

	return NewService(Params{
		Log:       zap.NewNop(),
		Clock:     clk,
		Cfg:       cfg,
		Catalog:   catalog.NewHolderFor(cat),
		SubRepo:   subs,
		GrantRepo: grants,
		Cache:     cache.New(cache.Config{TTL: cfg.SnapshotTTL}, clk, zap.NewNop()),
	}), clk
}

func timePtr(t time.Time) *time.Time { return &t }

func TestFreeTierUserGetsCappedDefaults(t *testing.T) {
	svc, _ := newTestService(t, &stubSubscriptionRepo{}, &stubGrantRepo{})
	userID := snowflake.ID(42)

	has, err := svc.HasFeature(context.Background(), userID, "unlimited_messages")
	require.NoError(t, err)
	assert.False(t, has)

	limits, err := svc.GetLimits(context.Background(), userID, "unlimited_messages")
	require.NoError(t, err)
	assert.False(t, limits.Unlimited)
	assert.Equal(t, int64(50), limits.Values["max_messages_per_day"])
}

func TestActiveSubscriberHasPlanFeatures(t *testing.T) {
	userID := snowflake.ID(42)
	subs := &stubSubscriptionRepo{record: &subscriptiondomain.Record{
		ID:      snowflake.ID(1),
		UserID:  userID,
		PlanID:  "premium_monthly",
		Status:  subscriptiondomain.StatusActive,
		StartAt: baseTime.Add(-24 * time.Hour),
		EndAt:   timePtr(baseTime.Add(29 * 24 * time.Hour)),
	}}

	svc, _ := newTestService(t, subs, &stubGrantRepo{})

	has, err := svc.HasFeature(context.Background(), userID, "unlimited_messages")
	require.NoError(t, err)
	assert.True(t, has)

	snap, err := svc.GetAll(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, domain.SourcePlan, snap.Entitlements["unlimited_messages"].Source)
}

func TestUnknownFeatureKeyRejected(t *testing.T) {
	svc, _ := newTestService(t, &stubSubscriptionRepo{}, &stubGrantRepo{})

	_, err := svc.HasFeature(context.Background(), snowflake.ID(42), "feature_that_never_existed")
	assert.ErrorIs(t, err, domain.ErrUnknownFeature)

	_, err = svc.GetLimits(context.Background(), snowflake.ID(42), "feature_that_never_existed")
	assert.ErrorIs(t, err, domain.ErrUnknownFeature)
}

func TestZeroUserIDRejected(t *testing.T) {
	svc, _ := newTestService(t, &stubSubscriptionRepo{}, &stubGrantRepo{})

	_, err := svc.GetAll(context.Background(), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidUser)
}

func TestStorageFailureSurfacesWhenNothingCached(t *testing.T) {
	svc, _ := newTestService(t, &stubSubscriptionRepo{err: errors.New("connection refused")}, &stubGrantRepo{})

	_, err := svc.GetAll(context.Background(), snowflake.ID(42))
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestStaleSnapshotServedAcrossStorageOutage(t *testing.T) {
	userID := snowflake.ID(42)
	subs := &stubSubscriptionRepo{}
	svc, clk := newTestService(t, subs, &stubGrantRepo{})

	first, err := svc.GetAll(context.Background(), userID)
	require.NoError(t, err)

	subs.err = errors.New("connection refused")
	clk.Advance(10 * time.Minute)

	stale, err := svc.GetAll(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, first.ComputedAt, stale.ComputedAt)
}

func TestInvalidateMakesNewGrantVisibleImmediately(t *testing.T) {
	userID := snowflake.ID(42)
	grants := &stubGrantRepo{}
	svc, _ := newTestService(t, &stubSubscriptionRepo{}, grants)

	has, err := svc.HasFeature(context.Background(), userID, "verified_badge")
	require.NoError(t, err)
	require.False(t, has)

	grants.grants = []grantdomain.FeatureGrant{{
		UserID:     userID,
		FeatureKey: "verified_badge",
		Enabled:    true,
		Unlimited:  true,
	}}
	svc.Invalidate(userID)

	has, err = svc.HasFeature(context.Background(), userID, "verified_badge")
	require.NoError(t, err)
	assert.True(t, has)
}
