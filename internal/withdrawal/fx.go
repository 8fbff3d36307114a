package withdrawal

import (
	"github.com/smallbiznis/homeledger/internal/withdrawal/repository"
	"github.com/smallbiznis/homeledger/internal/withdrawal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("withdrawal.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
