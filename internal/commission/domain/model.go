package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	bookingdomain "github.com/smallbiznis/homeledger/internal/booking/domain"
)

type CommissionFor string

const (
	CommissionForPlatform CommissionFor = "platform"
	CommissionForAgent    CommissionFor = "agent"
)

// Record is a computed commission before it is persisted.
type Record struct {
	BookingID       snowflake.ID
	AgentID         *snowflake.ID
	Amount          decimal.Decimal
	TransactionType bookingdomain.TransactionType
	CommissionFor   CommissionFor
}

// Commission is money owed to the platform (AgentID nil) or to an agent.
// (payment_id, commission_for) is unique, which makes redelivery of the
// same confirmed payment a no-op.
type Commission struct {
	ID              snowflake.ID                  `gorm:"primaryKey"`
	BookingID       snowflake.ID                  `gorm:"column:booking_id;not null;index"`
	PaymentID       snowflake.ID                  `gorm:"column:payment_id;not null;uniqueIndex:ux_commissions_payment_for,priority:1"`
	AgentID         *snowflake.ID                 `gorm:"column:agent_id;index:ix_commissions_agent_for,priority:1"`
	Amount          decimal.Decimal               `gorm:"type:decimal(20,2);not null"`
	TransactionType bookingdomain.TransactionType `gorm:"column:transaction_type;type:varchar(16);not null"`
	CommissionFor   CommissionFor                 `gorm:"column:commission_for;type:varchar(16);not null;uniqueIndex:ux_commissions_payment_for,priority:2;index:ix_commissions_agent_for,priority:2"`
	CreatedAt       time.Time                     `gorm:"not null;index"`
}

func (Commission) TableName() string { return "commissions" }

// Reconciliation flags a payment whose commission set was only partly
// written. ResolvedAt is set once a later run completes the set.
type Reconciliation struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	PaymentID  snowflake.ID `gorm:"column:payment_id;not null;uniqueIndex:ux_commission_reconciliations_payment"`
	BookingID  snowflake.ID `gorm:"column:booking_id;not null"`
	Reason     string       `gorm:"type:text;not null"`
	CreatedAt  time.Time    `gorm:"not null"`
	ResolvedAt *time.Time   `gorm:"column:resolved_at"`
}

func (Reconciliation) TableName() string { return "commission_reconciliations" }
