package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	analyticsdomain "github.com/smallbiznis/homeledger/internal/analytics/domain"
	bookingdomain "github.com/smallbiznis/homeledger/internal/booking/domain"
	commissiondomain "github.com/smallbiznis/homeledger/internal/commission/domain"
	"github.com/smallbiznis/homeledger/internal/events"
	settingsdomain "github.com/smallbiznis/homeledger/internal/settings/domain"
	withdrawaldomain "github.com/smallbiznis/homeledger/internal/withdrawal/domain"
	"github.com/smallbiznis/homeledger/pkg/db"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every table the pipeline reads or writes, in dependency
// order.
func Models() []any {
	return []any{
		&bookingdomain.User{},
		&bookingdomain.Property{},
		&bookingdomain.Booking{},
		&bookingdomain.Payment{},
		&settingsdomain.Setting{},
		&commissiondomain.Commission{},
		&commissiondomain.Reconciliation{},
		&analyticsdomain.CommissionAnalytics{},
		&withdrawaldomain.Withdrawal{},
		&withdrawaldomain.AgentBalanceLock{},
		&events.Record{},
	}
}

// Apply brings the schema up to date. Postgres uses the versioned SQL
// migrations; other dialects fall back to AutoMigrate.
func Apply(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if !db.IsPostgres(conn) {
		return AutoMigrate(conn)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func RunMigrations(sqlDB *sql.DB) error {
	if sqlDB == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Closing the migrator would close the shared *sql.DB.

	return nil
}
