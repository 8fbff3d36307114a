package service

import "go.uber.org/fx"

var Module = fx.Module("diaspora.service",
	fx.Provide(New),
)
