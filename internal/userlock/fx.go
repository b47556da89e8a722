package userlock

import "go.uber.org/fx"

var Module = fx.Module("userlock",
	fx.Provide(New),
)
