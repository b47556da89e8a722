package catalog

import "go.uber.org/fx"

// Module provides the catalog holder.
var Module = fx.Module("catalog",
	fx.Provide(NewHolder),
)
