package grant

import (
	"github.com/pairwell/entitlements/internal/grant/repository"
	"github.com/pairwell/entitlements/internal/grant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("grant.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
