// Package resolver computes the effective entitlement set for one user. It is
// a pure function of the ledger record, the grant rows and the catalog;
// identical inputs always produce identical output, which is what makes the
// snapshot cache safe.
package resolver

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pairwell/entitlements/internal/catalog"
	"github.com/pairwell/entitlements/internal/entitlement/domain"
	grantdomain "github.com/pairwell/entitlements/internal/grant/domain"
	subscriptiondomain "github.com/pairwell/entitlements/internal/subscription/domain"
)

// Inputs carries everything Resolve needs. Record may be nil (no
// subscription); Grants may be empty. Neither is an error: both resolve to
// the free tier.
type Inputs struct {
	Now         time.Time
	GraceWindow time.Duration
	Catalog     *catalog.Catalog
	UserID      snowflake.ID
	Record      *subscriptiondomain.Record
	Grants      []grantdomain.FeatureGrant
}

// Resolve layers the three sources by precedence: admin grant, then an
// entitling subscription, then catalog free-tier defaults.
func Resolve(in Inputs) domain.Snapshot {
	snap := domain.Snapshot{
		UserID:       in.UserID,
		Entitlements: make(map[catalog.FeatureKey]domain.Entitlement, len(in.Catalog.Keys())),
		ComputedAt:   in.Now,
	}

	// Free tier is the floor: every catalog key resolves, capped.
	for _, key := range in.Catalog.Keys() {
		snap.Entitlements[key] = domain.Entitlement{
			Key:     key,
			Granted: false,
			Source:  domain.SourceFree,
			Limits:  domain.Limits{Values: in.Catalog.DefaultLimits(key)},
		}
	}

	// Subscription layer. Expiry and the grace window are computed from the
	// record at Now; no prior write is required.
	if in.Record != nil && in.Record.EntitledAt(in.Now, in.GraceWindow) {
		if plan, ok := in.Catalog.Plan(in.Record.PlanID); ok {
			for _, pf := range plan.Features {
				snap.Entitlements[pf.Key] = domain.Entitlement{
					Key:     pf.Key,
					Granted: true,
					Source:  domain.SourcePlan,
					Limits:  planLimits(pf),
				}
			}
		}
	}

	// Grant layer wins over everything. A disabled grant is an explicit
	// kill-switch back to free tier.
	for _, g := range in.Grants {
		key := catalog.FeatureKey(g.FeatureKey)
		if _, ok := in.Catalog.Feature(key); !ok {
			continue
		}
		if !g.Enabled {
			snap.Entitlements[key] = domain.Entitlement{
				Key:     key,
				Granted: false,
				Source:  domain.SourceGrant,
				Limits:  domain.Limits{Values: in.Catalog.DefaultLimits(key)},
			}
			continue
		}
		snap.Entitlements[key] = domain.Entitlement{
			Key:     key,
			Granted: true,
			Source:  domain.SourceGrant,
			Limits:  grantLimits(g),
		}
	}

	return snap
}

func planLimits(pf catalog.PlanFeature) domain.Limits {
	if pf.Unlimited {
		return domain.Limits{Unlimited: true}
	}
	values := make(map[string]int64, len(pf.Limits))
	for k, v := range pf.Limits {
		values[k] = v
	}
	return domain.Limits{Values: values}
}

func grantLimits(g grantdomain.FeatureGrant) domain.Limits {
	if g.Unlimited {
		return domain.Limits{Unlimited: true}
	}
	return domain.Limits{Values: g.LimitValues()}
}
