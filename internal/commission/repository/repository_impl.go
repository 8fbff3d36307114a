package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/homeledger/internal/commission/domain"
	"github.com/smallbiznis/homeledger/pkg/db/option"
	"github.com/smallbiznis/homeledger/pkg/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertCommission(ctx context.Context, db *gorm.DB, commission *domain.Commission) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_id"}, {Name: "commission_for"}},
			DoNothing: true,
		}).
		Create(commission)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListByPayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]domain.Commission, error) {
	rows, err := repository.ProvideStore[domain.Commission](db).Find(ctx,
		&domain.Commission{PaymentID: paymentID},
		option.WithSortBy("commission_for", "desc"),
	)
	if err != nil {
		return nil, err
	}
	items := make([]domain.Commission, 0, len(rows))
	for _, row := range rows {
		items = append(items, *row)
	}
	return items, nil
}

func (r *repo) ListCreatedBetween(ctx context.Context, db *gorm.DB, from, to time.Time) ([]domain.Commission, error) {
	var items []domain.Commission
	err := db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
		Order("created_at ASC").
		Order("id ASC").
		Find(&items).Error
	return items, err
}

// SumAgentEarnings adds amounts in decimal rather than SQL SUM so the
// result is exact on every dialect.
func (r *repo) SumAgentEarnings(ctx context.Context, db *gorm.DB, agentID snowflake.ID) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	err := db.WithContext(ctx).
		Model(&domain.Commission{}).
		Where("agent_id = ? AND commission_for = ?", agentID, domain.CommissionForAgent).
		Pluck("amount", &amounts).Error
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.Sum(decimal.Zero, amounts...), nil
}

func (r *repo) InsertReconciliation(ctx context.Context, db *gorm.DB, reconciliation *domain.Reconciliation) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "payment_id"}}, DoNothing: true}).
		Create(reconciliation)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ResolveReconciliation(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Reconciliation{}).
		Where("payment_id = ? AND resolved_at IS NULL", paymentID).
		Update("resolved_at", at.UTC())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
