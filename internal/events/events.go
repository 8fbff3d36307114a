package events

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	EventDiasporaEscrowFeeApplied         = "diaspora_escrow_fee_applied"
	EventCommissionRecorded               = "commission_recorded"
	EventCommissionReconciliationRequired = "commission_reconciliation_required"
	EventWithdrawalRequested              = "withdrawal_requested"
)

// Event is an analytics or notice event enqueued by a handler. Events with
// the same DedupeKey are stored once.
type Event struct {
	Type      string
	Payload   map[string]any
	DedupeKey string
}

// Record is the persisted outbox row.
type Record struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	EventType   string            `gorm:"column:event_type;type:varchar(64);not null;index"`
	Payload     datatypes.JSONMap `gorm:"column:payload"`
	DedupeKey   *string           `gorm:"column:dedupe_key;type:varchar(191);uniqueIndex:ux_analytics_events_dedupe_key"`
	Published   bool              `gorm:"not null;default:false;index:ix_analytics_events_pending,priority:1"`
	PublishedAt *time.Time        `gorm:"column:published_at"`
	CreatedAt   time.Time         `gorm:"not null;index:ix_analytics_events_pending,priority:2"`
}

func (Record) TableName() string { return "analytics_events" }
