package analytics

import (
	"github.com/smallbiznis/homeledger/internal/analytics/aggregator"
	"github.com/smallbiznis/homeledger/internal/analytics/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("analytics.aggregator",
	fx.Provide(repository.Provide),
	fx.Provide(aggregator.New),
)
