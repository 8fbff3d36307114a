package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// CommissionAnalytics is the daily commission rollup. There is one row per
// UTC date; re-aggregating a date replaces its totals.
type CommissionAnalytics struct {
	ID                 snowflake.ID    `gorm:"primaryKey" json:"id,string"`
	Date               datatypes.Date  `gorm:"not null;uniqueIndex:ux_commission_analytics_date" json:"date"`
	TotalCommission    decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"totalCommission"`
	PlatformCommission decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"platformCommission"`
	AgentCommission    decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"agentCommission"`
	TotalTransactions  int64           `gorm:"not null" json:"totalTransactions"`
	CreatedAt          time.Time       `gorm:"not null" json:"createdAt"`
	UpdatedAt          time.Time       `gorm:"not null" json:"updatedAt"`
}

func (CommissionAnalytics) TableName() string { return "commission_analytics" }

// Day returns the UTC midnight that starts the day containing t.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Yesterday is the date the nightly run aggregates.
func Yesterday(now time.Time) time.Time {
	return Day(now).AddDate(0, 0, -1)
}
