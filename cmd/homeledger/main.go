package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homeledger/internal/analytics"
	"github.com/smallbiznis/homeledger/internal/booking"
	"github.com/smallbiznis/homeledger/internal/clock"
	"github.com/smallbiznis/homeledger/internal/commission"
	"github.com/smallbiznis/homeledger/internal/config"
	diasporaservice "github.com/smallbiznis/homeledger/internal/diaspora/service"
	"github.com/smallbiznis/homeledger/internal/events"
	"github.com/smallbiznis/homeledger/internal/lock"
	"github.com/smallbiznis/homeledger/internal/migration"
	"github.com/smallbiznis/homeledger/internal/observability"
	"github.com/smallbiznis/homeledger/internal/scheduler"
	"github.com/smallbiznis/homeledger/internal/server"
	"github.com/smallbiznis/homeledger/internal/settings"
	"github.com/smallbiznis/homeledger/internal/withdrawal"
	"github.com/smallbiznis/homeledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,
		events.Module,
		migration.Module,

		// Functional Domains
		booking.Module,
		settings.Module,
		commission.Module,
		diasporaservice.Module,
		withdrawal.Module,
		analytics.Module,

		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
