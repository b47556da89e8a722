package webhook

import (
	"github.com/pairwell/entitlements/internal/config"
	entitlementdomain "github.com/pairwell/entitlements/internal/entitlement/domain"
	"github.com/pairwell/entitlements/internal/webhook/adapters"
	"github.com/pairwell/entitlements/internal/webhook/adapters/stripe"
	"github.com/pairwell/entitlements/internal/webhook/domain"
	"github.com/pairwell/entitlements/internal/webhook/repository"
	"github.com/pairwell/entitlements/internal/webhook/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newRegistry(cfg config.Config, log *zap.Logger) (*adapters.Registry, error) {
	var list []domain.Adapter
	if cfg.StripeWebhookSecret != "" {
		adapter, err := stripe.New(cfg.StripeWebhookSecret)
		if err != nil {
			return nil, err
		}
		list = append(list, adapter)
	} else {
		log.Warn("stripe webhook secret not configured, stripe deliveries will be rejected")
	}
	return adapters.NewRegistry(list...), nil
}

var Module = fx.Module("webhook.service",
	fx.Provide(newRegistry),
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(svc entitlementdomain.Service) service.CacheInvalidator { return svc }),
)
