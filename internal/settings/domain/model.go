package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	KeyAgentCommissionRate    = "agent_commission_rate"
	KeyDiasporaEscrowFeeRate  = "diaspora_escrow_fee_rate"
	platformCommissionKeyTmpl = "_commission_rate"
)

// PlatformRateKey returns the settings key holding the platform rate for a
// transaction type, e.g. rent_commission_rate.
func PlatformRateKey(transactionType string) string {
	return strings.ToLower(strings.TrimSpace(transactionType)) + platformCommissionKeyTmpl
}

// Setting is an administrator-managed named value. Rates are stored as
// decimal text so no precision is lost in transit.
type Setting struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	Key         string       `gorm:"type:varchar(128);not null;uniqueIndex:ux_settings_key"`
	Value       string       `gorm:"type:text;not null"`
	Description *string      `gorm:"type:text"`
	CreatedAt   time.Time    `gorm:"not null"`
	UpdatedAt   time.Time    `gorm:"not null"`
}

func (Setting) TableName() string { return "settings" }
