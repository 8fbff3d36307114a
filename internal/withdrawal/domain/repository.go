package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/homeledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	// LockAgent creates the agent's lock row if needed and holds it
	// FOR UPDATE until db's transaction ends.
	LockAgent(ctx context.Context, db *gorm.DB, agentID snowflake.ID, now time.Time) error
	SumApproved(ctx context.Context, db *gorm.DB, agentID snowflake.ID) (decimal.Decimal, error)
	Insert(ctx context.Context, db *gorm.DB, withdrawal *Withdrawal) error
	List(ctx context.Context, db *gorm.DB, agentID snowflake.ID, page pagination.Pagination) ([]*Withdrawal, error)
}
