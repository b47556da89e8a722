package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsAreValid(t *testing.T) {
	cat, err := New(DefaultFeatures(), DefaultPlans())
	require.NoError(t, err)

	spec, ok := cat.Feature("unlimited_messages")
	require.True(t, ok)
	assert.Equal(t, CategoryMessaging, spec.Category)
	assert.Equal(t, int64(50), spec.DefaultLimits["max_messages_per_day"])

	plan, ok := cat.Plan("premium_monthly")
	require.True(t, ok)
	assert.NotEmpty(t, plan.Features)
}

func TestNewRejectsPlanWithUnknownFeature(t *testing.T) {
	features := []FeatureSpec{{Key: "unlimited_messages", Category: CategoryMessaging}}
	plans := []PlanSpec{{ID: "broken", Features: []PlanFeature{{Key: "does_not_exist"}}}}

	_, err := New(features, plans)
	require.ErrorIs(t, err, ErrUnknownFeature)
}

func TestNewRejectsDuplicateKeys(t *testing.T) {
	features := []FeatureSpec{
		{Key: "unlimited_messages", Category: CategoryMessaging},
		{Key: "unlimited_messages", Category: CategoryMessaging},
	}

	_, err := New(features, nil)
	require.ErrorIs(t, err, ErrDuplicateKey)
}

func TestNewRejectsEmptyCatalog(t *testing.T) {
	_, err := New(nil, nil)
	require.ErrorIs(t, err, ErrEmptyCatalog)
}

func TestKeysAreSorted(t *testing.T) {
	cat, err := New([]FeatureSpec{
		{Key: "zeta"},
		{Key: "alpha"},
		{Key: "mid"},
	}, nil)
	require.NoError(t, err)

	keys := cat.Keys()
	require.Len(t, keys, 3)
	assert.Equal(t, FeatureKey("alpha"), keys[0])
	assert.Equal(t, FeatureKey("zeta"), keys[2])
}

func TestDefaultLimitsReturnsCopy(t *testing.T) {
	cat, err := New(DefaultFeatures(), nil)
	require.NoError(t, err)

	limits := cat.DefaultLimits("unlimited_messages")
	limits["max_messages_per_day"] = 9999

	again := cat.DefaultLimits("unlimited_messages")
	assert.Equal(t, int64(50), again["max_messages_per_day"])
}
