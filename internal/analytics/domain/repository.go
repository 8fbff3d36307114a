package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	// Upsert writes row, replacing the totals of an existing row for the
	// same date.
	Upsert(ctx context.Context, db *gorm.DB, row *CommissionAnalytics) error
	FindByDate(ctx context.Context, db *gorm.DB, date time.Time) (*CommissionAnalytics, error)
}
