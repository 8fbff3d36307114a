package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/homeledger/internal/analytics/domain"
	"github.com/smallbiznis/homeledger/pkg/db/option"
	"github.com/smallbiznis/homeledger/pkg/repository"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, row *domain.CommissionAnalytics) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"total_commission",
				"platform_commission",
				"agent_commission",
				"total_transactions",
				"updated_at",
			}),
		}).
		Create(row).Error
}

func (r *repo) FindByDate(ctx context.Context, db *gorm.DB, date time.Time) (*domain.CommissionAnalytics, error) {
	return repository.ProvideStore[domain.CommissionAnalytics](db).
		FindOne(ctx, nil, option.WithWhere("date = ?", datatypes.Date(domain.Day(date))))
}
