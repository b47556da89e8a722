package catalog

import (
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DefaultFeatures is the built-in catalog used when no config file is present.
func DefaultFeatures() []FeatureSpec {
	return []FeatureSpec{
		{Key: "unlimited_messages", Category: CategoryMessaging, DefaultLimits: map[string]int64{"max_messages_per_day": 50}},
		{Key: "see_who_likes_you", Category: CategoryVisibility, DefaultLimits: map[string]int64{"reveals_per_day": 0}},
		{Key: "profile_boost", Category: CategoryVisibility, DefaultLimits: map[string]int64{"boosts_per_month": 0}},
		{Key: "advanced_filters", Category: CategoryDiscovery, DefaultLimits: map[string]int64{"filters_per_search": 1}},
		{Key: "verified_badge", Category: CategoryVerification, DefaultLimits: map[string]int64{"enabled": 0}},
		{Key: "read_receipts", Category: CategoryMessaging, DefaultLimits: map[string]int64{"enabled": 0}},
	}
}

// DefaultPlans is the built-in plan catalog.
func DefaultPlans() []PlanSpec {
	premium := []PlanFeature{
		{Key: "unlimited_messages", Unlimited: true},
		{Key: "see_who_likes_you", Unlimited: true},
		{Key: "profile_boost", Limits: map[string]int64{"boosts_per_month": 5}},
		{Key: "advanced_filters", Unlimited: true},
		{Key: "verified_badge", Unlimited: true},
		{Key: "read_receipts", Unlimited: true},
	}
	plus := []PlanFeature{
		{Key: "unlimited_messages", Unlimited: true},
		{Key: "advanced_filters", Limits: map[string]int64{"filters_per_search": 5}},
		{Key: "read_receipts", Unlimited: true},
	}
	return []PlanSpec{
		{ID: "plus_monthly", Name: "Plus (monthly)", Features: plus},
		{ID: "premium_monthly", Name: "Premium (monthly)", Features: premium},
		{ID: "premium_yearly", Name: "Premium (yearly)", Features: premium},
	}
}

type fileCatalog struct {
	Features []FeatureSpec `mapstructure:"features"`
	Plans    []PlanSpec    `mapstructure:"plans"`
}

// Holder exposes the current catalog and swaps it atomically on config reload.
// An invalid reload is ignored; the previous catalog stays in effect.
type Holder struct {
	current atomic.Value // holds *Catalog
}

// NewHolder loads the catalog from catalog.yml, falling back to the built-in
// defaults when no file exists. Invalid startup config is a hard error.
func NewHolder() (*Holder, error) {
	v := viper.New()

	v.SetConfigName("catalog")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/entitlements/config")
	v.AddConfigPath("/etc/entitlements")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ENTITLEMENTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fromFile := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fromFile = false
	}

	var cat *Catalog
	if fromFile {
		loaded, err := unmarshalCatalog(v)
		if err != nil {
			return nil, err
		}
		cat = loaded
	} else {
		built, err := New(DefaultFeatures(), DefaultPlans())
		if err != nil {
			return nil, err
		}
		cat = built
	}

	holder := &Holder{}
	holder.current.Store(cat)

	if fromFile {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := unmarshalCatalog(v)
			if err != nil {
				log.Printf("[catalog] invalid config ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[catalog] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

// NewHolderFor wraps an already-built catalog; used by tests.
func NewHolderFor(cat *Catalog) *Holder {
	holder := &Holder{}
	holder.current.Store(cat)
	return holder
}

func (h *Holder) Get() *Catalog {
	return h.current.Load().(*Catalog)
}

func unmarshalCatalog(v *viper.Viper) (*Catalog, error) {
	var raw fileCatalog
	if err := v.Unmarshal(&raw); err != nil {
		return nil, err
	}
	return New(raw.Features, raw.Plans)
}
