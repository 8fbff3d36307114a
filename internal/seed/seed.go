package seed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homeledger/internal/clock"
	settingsdomain "github.com/smallbiznis/homeledger/internal/settings/domain"
	"gorm.io/gorm"
)

const seededDescription = "seeded from operations config"

// EnsureSettings inserts each configured setting whose key is not already
// present. Existing values are never overwritten, so an administrator's
// change survives restarts. Rates are validated before anything is
// written. It returns the number of rows inserted.
func EnsureSettings(ctx context.Context, db *gorm.DB, repo settingsdomain.Repository, node *snowflake.Node, clk clock.Clock, values map[string]string) (int, error) {
	if db == nil {
		return 0, errors.New("seed database handle is required")
	}
	if len(values) == 0 {
		return 0, nil
	}

	normalized := make(map[string]string, len(values))
	keys := make([]string, 0, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			return 0, errors.New("seed setting key is required")
		}
		if _, err := settingsdomain.ParseRate(value); err != nil {
			return 0, fmt.Errorf("seed setting %s: %w", key, err)
		}
		normalized[key] = strings.TrimSpace(value)
		keys = append(keys, key)
	}
	sort.Strings(keys)

	inserted := 0
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, key := range keys {
			now := clk.Now()
			description := seededDescription
			ok, err := repo.InsertIfAbsent(ctx, tx, &settingsdomain.Setting{
				ID:          node.Generate(),
				Key:         key,
				Value:       normalized[key],
				Description: &description,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
			if err != nil {
				return fmt.Errorf("seed setting %s: %w", key, err)
			}
			if ok {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}
