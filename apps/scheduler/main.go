package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homeledger/internal/analytics"
	"github.com/smallbiznis/homeledger/internal/booking"
	"github.com/smallbiznis/homeledger/internal/clock"
	"github.com/smallbiznis/homeledger/internal/commission"
	"github.com/smallbiznis/homeledger/internal/config"
	"github.com/smallbiznis/homeledger/internal/events"
	"github.com/smallbiznis/homeledger/internal/lock"
	"github.com/smallbiznis/homeledger/internal/observability"
	"github.com/smallbiznis/homeledger/internal/scheduler"
	"github.com/smallbiznis/homeledger/internal/settings"
	"github.com/smallbiznis/homeledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,
		events.Module,

		// Domain services required by scheduler
		commission.Module,
		analytics.Module,

		// Transitive dependencies (commission pipeline needs bookings and rates)
		booking.Module,
		settings.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
