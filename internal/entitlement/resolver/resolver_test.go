package resolver

import (
	"reflect"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pairwell/entitlements/internal/catalog"
	grantdomain "github.com/pairwell/entitlements/internal/grant/domain"
	subscriptiondomain "github.com/pairwell/entitlements/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

const grace = 72 * time.Hour

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(catalog.DefaultFeatures(), catalog.DefaultPlans())
	require.NoError(t, err)
	return cat
}

func timePtr(t time.Time) *time.Time { return &t }

func activeRecord(userID snowflake.ID, planID string) *subscriptiondomain.Record {
	return &subscriptiondomain.Record{
		ID:      snowflake.ID(1),
		UserID:  userID,
		PlanID:  planID,
		Status:  subscriptiondomain.StatusActive,
		StartAt: baseTime.Add(-24 * time.Hour),
		EndAt:   timePtr(baseTime.Add(29 * 24 * time.Hour)),
	}
}

func TestResolveFreeTier(t *testing.T) {
	snap := Resolve(Inputs{
		Now:         baseTime,
		GraceWindow: grace,
		Catalog:     testCatalog(t),
		UserID:      snowflake.ID(42),
	})

	assert.False(t, snap.Has("unlimited_messages"))
	limits, ok := snap.LimitsFor("unlimited_messages")
	require.True(t, ok)
	assert.False(t, limits.Unlimited)
	assert.Equal(t, int64(50), limits.Values["max_messages_per_day"])

	// Every catalog key resolves, even with no rows at all.
	assert.Len(t, snap.Entitlements, len(testCatalog(t).Keys()))
}

func TestResolveActivePlan(t *testing.T) {
	userID := snowflake.ID(42)
	snap := Resolve(Inputs{
		Now:         baseTime,
		GraceWindow: grace,
		Catalog:     testCatalog(t),
		UserID:      userID,
		Record:      activeRecord(userID, "premium_monthly"),
	})

	assert.True(t, snap.Has("unlimited_messages"))
	limits, _ := snap.LimitsFor("unlimited_messages")
	assert.True(t, limits.Unlimited)

	boost, _ := snap.LimitsFor("profile_boost")
	assert.False(t, boost.Unlimited)
	assert.Equal(t, int64(5), boost.Values["boosts_per_month"])
}

func TestResolveExpiredRecordFallsThroughToFreeTier(t *testing.T) {
	userID := snowflake.ID(42)
	rec := activeRecord(userID, "premium_monthly")
	rec.EndAt = timePtr(baseTime.Add(-time.Second))

	snap := Resolve(Inputs{
		Now:         baseTime,
		GraceWindow: grace,
		Catalog:     testCatalog(t),
		UserID:      userID,
		Record:      rec,
	})

	assert.False(t, snap.Has("unlimited_messages"))
	assert.Equal(t, "free", string(snap.Entitlements["unlimited_messages"].Source))
}

func TestResolveGraceWindowBoundary(t *testing.T) {
	userID := snowflake.ID(42)

	rec := activeRecord(userID, "premium_monthly")
	rec.Status = subscriptiondomain.StatusPastDue
	rec.PastDueAt = timePtr(baseTime.Add(-grace + time.Second))

	snap := Resolve(Inputs{Now: baseTime, GraceWindow: grace, Catalog: testCatalog(t), UserID: userID, Record: rec})
	assert.True(t, snap.Has("unlimited_messages"), "still inside grace window")

	rec.PastDueAt = timePtr(baseTime.Add(-grace - time.Second))
	snap = Resolve(Inputs{Now: baseTime, GraceWindow: grace, Catalog: testCatalog(t), UserID: userID, Record: rec})
	assert.False(t, snap.Has("unlimited_messages"), "grace elapsed resolves free tier with no write")
}

func TestResolveGrantOverridesEverything(t *testing.T) {
	userID := snowflake.ID(42)
	grants := []grantdomain.FeatureGrant{{
		UserID:     userID,
		FeatureKey: "unlimited_messages",
		Enabled:    true,
		Unlimited:  true,
	}}

	// No subscription at all: grant still wins.
	snap := Resolve(Inputs{Now: baseTime, GraceWindow: grace, Catalog: testCatalog(t), UserID: userID, Grants: grants})
	assert.True(t, snap.Has("unlimited_messages"))
	assert.Equal(t, "grant", string(snap.Entitlements["unlimited_messages"].Source))
}

func TestResolveGrantLimitOverrides(t *testing.T) {
	userID := snowflake.ID(42)
	grants := []grantdomain.FeatureGrant{{
		UserID:     userID,
		FeatureKey: "profile_boost",
		Enabled:    true,
		Unlimited:  false,
		Limits:     datatypes.JSONMap{"boosts_per_month": int64(20)},
	}}

	snap := Resolve(Inputs{Now: baseTime, GraceWindow: grace, Catalog: testCatalog(t), UserID: userID, Grants: grants})
	limits, _ := snap.LimitsFor("profile_boost")
	assert.Equal(t, int64(20), limits.Values["boosts_per_month"])
}

func TestResolveDisabledGrantIsKillSwitch(t *testing.T) {
	userID := snowflake.ID(42)
	grants := []grantdomain.FeatureGrant{{
		UserID:     userID,
		FeatureKey: "unlimited_messages",
		Enabled:    false,
	}}

	snap := Resolve(Inputs{
		Now:         baseTime,
		GraceWindow: grace,
		Catalog:     testCatalog(t),
		UserID:      userID,
		Record:      activeRecord(userID, "premium_monthly"),
		Grants:      grants,
	})

	assert.False(t, snap.Has("unlimited_messages"))
	limits, _ := snap.LimitsFor("unlimited_messages")
	assert.Equal(t, int64(50), limits.Values["max_messages_per_day"])
}

func TestResolveUnknownPlanResolvesFreeTier(t *testing.T) {
	userID := snowflake.ID(42)
	snap := Resolve(Inputs{
		Now:         baseTime,
		GraceWindow: grace,
		Catalog:     testCatalog(t),
		UserID:      userID,
		Record:      activeRecord(userID, "plan_that_never_existed"),
	})
	assert.False(t, snap.Has("unlimited_messages"))
}

func TestResolveIsDeterministic(t *testing.T) {
	userID := snowflake.ID(42)
	in := Inputs{
		Now:         baseTime,
		GraceWindow: grace,
		Catalog:     testCatalog(t),
		UserID:      userID,
		Record:      activeRecord(userID, "plus_monthly"),
		Grants: []grantdomain.FeatureGrant{{
			UserID: userID, FeatureKey: "verified_badge", Enabled: true, Unlimited: true,
		}},
	}

	first := Resolve(in)
	second := Resolve(in)
	assert.True(t, reflect.DeepEqual(first, second))
}
