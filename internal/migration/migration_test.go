package migration

import (
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homeledger/internal/clock"
	"github.com/smallbiznis/homeledger/internal/config"
	settingsdomain "github.com/smallbiznis/homeledger/internal/settings/domain"
	"github.com/smallbiznis/homeledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

func TestApplyAutoMigratesNonPostgres(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)

	require.NoError(t, Apply(conn))
	for _, model := range Models() {
		assert.True(t, conn.Migrator().HasTable(model), "%T", model)
	}
	// rerunning is a no-op
	require.NoError(t, Apply(conn))
}

func TestBootstrapSeedsWhenEnabled(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	ops := config.DefaultOperationsConfig()
	ops.Settings = map[string]string{"sale_commission_rate": "0.05"}

	err = Bootstrap(BootstrapParams{
		DB:         conn,
		Config:     config.Config{Bootstrap: config.BootstrapConfig{RunMigrations: true, SeedSettings: true}},
		Operations: config.NewStaticOperationsConfigHolder(ops),
		GenID:      node,
		Clock:      clock.NewFakeClock(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)),
		Log:        zap.NewNop(),
	})
	require.NoError(t, err)

	var setting settingsdomain.Setting
	require.NoError(t, conn.Where("key = ?", "sale_commission_rate").First(&setting).Error)
	assert.Equal(t, "0.05", setting.Value)
}
