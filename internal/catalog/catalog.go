// Package catalog holds the static feature and plan definitions. Feature keys
// are stable identifiers; changing the catalog requires a config reload, never
// a code path.
package catalog

import (
	"errors"
	"fmt"
	"sort"
)

// FeatureKey is the stable string identifier of a gated capability.
type FeatureKey string

// Category groups features for display and reporting.
type Category string

const (
	CategoryMessaging    Category = "messaging"
	CategoryVisibility   Category = "visibility"
	CategoryVerification Category = "verification"
	CategoryDiscovery    Category = "discovery"
)

// FeatureSpec declares one catalog entry: the key, its category and the
// free-tier limit schema that applies when no subscription or grant covers it.
type FeatureSpec struct {
	Key           FeatureKey       `mapstructure:"key" json:"key"`
	Category      Category         `mapstructure:"category" json:"category"`
	DefaultLimits map[string]int64 `mapstructure:"default_limits" json:"default_limits"`
}

// PlanFeature declares a feature included in a plan, either unlimited or with
// plan-specific limit values.
type PlanFeature struct {
	Key       FeatureKey       `mapstructure:"key" json:"key"`
	Unlimited bool             `mapstructure:"unlimited" json:"unlimited"`
	Limits    map[string]int64 `mapstructure:"limits" json:"limits,omitempty"`
}

// PlanSpec declares a purchasable plan and the features it includes.
type PlanSpec struct {
	ID       string        `mapstructure:"id" json:"id"`
	Name     string        `mapstructure:"name" json:"name"`
	Features []PlanFeature `mapstructure:"features" json:"features"`
}

// Catalog is an immutable snapshot of the feature and plan definitions.
type Catalog struct {
	features map[FeatureKey]FeatureSpec
	plans    map[string]PlanSpec
	keys     []FeatureKey
}

var (
	ErrEmptyCatalog   = errors.New("empty_catalog")
	ErrDuplicateKey   = errors.New("duplicate_feature_key")
	ErrUnknownFeature = errors.New("unknown_feature_key")
	ErrInvalidPlan    = errors.New("invalid_plan")
)

// New validates the raw definitions and builds a Catalog. A plan referencing a
// feature key with no catalog entry is a configuration error.
func New(features []FeatureSpec, plans []PlanSpec) (*Catalog, error) {
	if len(features) == 0 {
		return nil, ErrEmptyCatalog
	}

	byKey := make(map[FeatureKey]FeatureSpec, len(features))
	keys := make([]FeatureKey, 0, len(features))
	for _, f := range features {
		if f.Key == "" {
			return nil, fmt.Errorf("%w: empty key", ErrUnknownFeature)
		}
		if _, ok := byKey[f.Key]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, f.Key)
		}
		byKey[f.Key] = f
		keys = append(keys, f.Key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	byPlan := make(map[string]PlanSpec, len(plans))
	for _, p := range plans {
		if p.ID == "" {
			return nil, fmt.Errorf("%w: empty plan id", ErrInvalidPlan)
		}
		if _, ok := byPlan[p.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate plan %s", ErrInvalidPlan, p.ID)
		}
		for _, pf := range p.Features {
			if _, ok := byKey[pf.Key]; !ok {
				return nil, fmt.Errorf("%w: plan %s references %s", ErrUnknownFeature, p.ID, pf.Key)
			}
		}
		byPlan[p.ID] = p
	}

	return &Catalog{features: byKey, plans: byPlan, keys: keys}, nil
}

// Feature returns the catalog entry for key.
func (c *Catalog) Feature(key FeatureKey) (FeatureSpec, bool) {
	f, ok := c.features[key]
	return f, ok
}

// Category returns the category of key, or the empty category when unknown.
func (c *Catalog) Category(key FeatureKey) Category {
	return c.features[key].Category
}

// DefaultLimits returns a copy of the free-tier limits for key.
func (c *Catalog) DefaultLimits(key FeatureKey) map[string]int64 {
	f, ok := c.features[key]
	if !ok || len(f.DefaultLimits) == 0 {
		return nil
	}
	out := make(map[string]int64, len(f.DefaultLimits))
	for k, v := range f.DefaultLimits {
		out[k] = v
	}
	return out
}

// Plan returns the plan definition for id.
func (c *Catalog) Plan(id string) (PlanSpec, bool) {
	p, ok := c.plans[id]
	return p, ok
}

// Keys returns all feature keys in stable sorted order.
func (c *Catalog) Keys() []FeatureKey {
	return c.keys
}

// Plans returns all plan definitions sorted by id.
func (c *Catalog) Plans() []PlanSpec {
	out := make([]PlanSpec, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
