package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertCommission reports false when the (payment, commission_for)
	// row already exists.
	InsertCommission(ctx context.Context, db *gorm.DB, commission *Commission) (bool, error)
	ListByPayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]Commission, error)
	// ListCreatedBetween returns commissions with from <= created_at < to.
	ListCreatedBetween(ctx context.Context, db *gorm.DB, from, to time.Time) ([]Commission, error)
	SumAgentEarnings(ctx context.Context, db *gorm.DB, agentID snowflake.ID) (decimal.Decimal, error)
	InsertReconciliation(ctx context.Context, db *gorm.DB, reconciliation *Reconciliation) (bool, error)
	ResolveReconciliation(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, at time.Time) (bool, error)
}
