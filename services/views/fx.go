package views

import "go.uber.org/fx"

var Module = fx.Module("views",
	fx.Provide(NewAggregator),
)
