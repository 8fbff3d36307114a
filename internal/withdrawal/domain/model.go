package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Withdrawal is an agent's request to pay out earned commission. Only
// approved withdrawals reduce the available balance.
type Withdrawal struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id,string"`
	AgentID     snowflake.ID    `gorm:"column:agent_id;not null;index:ix_withdrawals_agent_status,priority:1" json:"agentId,string"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Status      Status          `gorm:"type:varchar(16);not null;index:ix_withdrawals_agent_status,priority:2" json:"status"`
	CreatedAt   time.Time       `gorm:"not null" json:"createdAt"`
	ProcessedAt *time.Time      `gorm:"column:processed_at" json:"processedAt,omitempty"`
}

func (Withdrawal) TableName() string { return "withdrawals" }

// AgentBalanceLock is the row a withdrawal locks to serialize balance
// checks for one agent.
type AgentBalanceLock struct {
	AgentID   snowflake.ID `gorm:"column:agent_id;primaryKey;autoIncrement:false"`
	UpdatedAt time.Time    `gorm:"not null"`
}

func (AgentBalanceLock) TableName() string { return "agent_balance_locks" }

type Balance struct {
	AgentID        snowflake.ID    `json:"agentId,string"`
	TotalEarnings  decimal.Decimal `json:"totalEarnings"`
	TotalWithdrawn decimal.Decimal `json:"totalWithdrawn"`
	Available      decimal.Decimal `json:"available"`
}
