package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/homeledger/internal/withdrawal/domain"
	"github.com/smallbiznis/homeledger/pkg/db/option"
	"github.com/smallbiznis/homeledger/pkg/db/pagination"
	"github.com/smallbiznis/homeledger/pkg/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) LockAgent(ctx context.Context, db *gorm.DB, agentID snowflake.ID, now time.Time) error {
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "agent_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"updated_at"}),
		}).
		Create(&domain.AgentBalanceLock{AgentID: agentID, UpdatedAt: now.UTC()}).Error
	if err != nil {
		return err
	}

	_, err = repository.ProvideStore[domain.AgentBalanceLock](db).
		FindOne(ctx, nil, option.WithWhere("agent_id = ?", agentID), option.WithLockingUpdate())
	return err
}

func (r *repo) SumApproved(ctx context.Context, db *gorm.DB, agentID snowflake.ID) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	err := db.WithContext(ctx).
		Model(&domain.Withdrawal{}).
		Where("agent_id = ? AND status = ?", agentID, domain.StatusApproved).
		Pluck("amount", &amounts).Error
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.Sum(decimal.Zero, amounts...), nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, withdrawal *domain.Withdrawal) error {
	return repository.ProvideStore[domain.Withdrawal](db).Create(ctx, withdrawal)
}

func (r *repo) List(ctx context.Context, db *gorm.DB, agentID snowflake.ID, page pagination.Pagination) ([]*domain.Withdrawal, error) {
	return repository.ProvideStore[domain.Withdrawal](db).Find(ctx,
		&domain.Withdrawal{AgentID: agentID},
		option.ApplyPagination(page),
		option.WithSortBy("created_at", "desc"),
		option.WithSortBy("id", "desc"),
	)
}
