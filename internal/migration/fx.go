package migration

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homeledger/internal/clock"
	"github.com/smallbiznis/homeledger/internal/config"
	"github.com/smallbiznis/homeledger/internal/seed"
	settingsrepository "github.com/smallbiznis/homeledger/internal/settings/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type BootstrapParams struct {
	fx.In

	DB         *gorm.DB
	Config     config.Config
	Operations *config.OperationsConfigHolder
	GenID      *snowflake.Node
	Clock      clock.Clock
	Log        *zap.Logger
}

var Module = fx.Module("migrations",
	fx.Invoke(Bootstrap),
)

// Bootstrap applies the schema and seeds settings when the bootstrap flags
// ask for it.
func Bootstrap(p BootstrapParams) error {
	log := p.Log.Named("migrations")

	if p.Config.Bootstrap.RunMigrations {
		if err := Apply(p.DB); err != nil {
			return err
		}
		log.Info("schema up to date", zap.String("dialect", p.DB.Dialector.Name()))
	}

	if !p.Config.Bootstrap.SeedSettings {
		return nil
	}
	inserted, err := seed.EnsureSettings(context.Background(), p.DB, settingsrepository.Provide(), p.GenID, p.Clock, p.Operations.Get().Settings)
	if err != nil {
		return err
	}
	log.Info("settings seeded", zap.Int("inserted", inserted))
	return nil
}
