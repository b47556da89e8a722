// Package domain defines the resolved entitlement view served to feature-gate
// callers.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pairwell/entitlements/internal/catalog"
)

// Source records which layer produced an entitlement decision.
type Source string

const (
	SourceGrant Source = "grant"
	SourcePlan  Source = "plan"
	SourceFree  Source = "free"
)

// Limits is the effective limit set for one feature. Unlimited features carry
// no values.
type Limits struct {
	Unlimited bool             `json:"unlimited"`
	Values    map[string]int64 `json:"values,omitempty"`
}

// Entitlement is the resolved decision for a single feature key. Free-tier
// users still resolve every catalog key, just with Granted=false and the
// catalog's capped limits.
type Entitlement struct {
	Key     catalog.FeatureKey `json:"key"`
	Granted bool               `json:"granted"`
	Source  Source             `json:"source"`
	Limits  Limits             `json:"limits"`
}

// Snapshot is one user's cached entitlement computation. Owned exclusively by
// the cache; never persisted.
type Snapshot struct {
	UserID       snowflake.ID                       `json:"user_id"`
	Entitlements map[catalog.FeatureKey]Entitlement `json:"entitlements"`
	ComputedAt   time.Time                          `json:"computed_at"`
	ExpiresAt    time.Time                          `json:"expires_at"`
}

// Has reports whether the feature is granted beyond the free tier.
func (s Snapshot) Has(key catalog.FeatureKey) bool {
	return s.Entitlements[key].Granted
}

// LimitsFor returns the effective limits for key.
func (s Snapshot) LimitsFor(key catalog.FeatureKey) (Limits, bool) {
	e, ok := s.Entitlements[key]
	return e.Limits, ok
}
