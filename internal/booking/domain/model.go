package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeRent TransactionType = "rent"
	TransactionTypeSale TransactionType = "sale"
)

func (t TransactionType) Valid() bool {
	return t == TransactionTypeRent || t == TransactionTypeSale
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusConfirmed PaymentStatus = "confirmed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

const PaymentMethodEscrowFee = "escrow_fee"

type Role string

const (
	RoleRenter   Role = "renter"
	RoleBuyer    Role = "buyer"
	RoleAgent    Role = "agent"
	RoleDiaspora Role = "diaspora"
	RoleAdmin    Role = "admin"
)

// Booking is owned by booking management; the pipeline only reads it.
type Booking struct {
	ID              snowflake.ID    `gorm:"primaryKey"`
	TransactionType TransactionType `gorm:"column:transaction_type;type:varchar(16);not null"`
	Price           decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	UserID          snowflake.ID    `gorm:"column:user_id;not null;index"`
	PropertyID      snowflake.ID    `gorm:"column:property_id;not null;index"`
	AgentID         *snowflake.ID   `gorm:"column:agent_id;index"`
	CreatedAt       time.Time       `gorm:"not null"`
}

func (Booking) TableName() string { return "bookings" }

// HasAgent reports whether an agent earns commission on this booking.
func (b Booking) HasAgent() bool {
	return b.AgentID != nil && *b.AgentID != 0
}

// Payment is one payment attempt against a booking. Escrow fees are
// payments with method escrow_fee and a per-booking idempotency key.
type Payment struct {
	ID             snowflake.ID    `gorm:"primaryKey"`
	BookingID      snowflake.ID    `gorm:"column:booking_id;not null;index"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	Status         PaymentStatus   `gorm:"type:varchar(16);not null"`
	Method         string          `gorm:"type:varchar(32);not null"`
	IdempotencyKey *string         `gorm:"column:idempotency_key;type:varchar(128);uniqueIndex:ux_payments_idempotency_key"`
	CreatedAt      time.Time       `gorm:"not null"`
	UpdatedAt      time.Time       `gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

type User struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Role      Role         `gorm:"type:varchar(32);not null"`
	Country   string       `gorm:"type:char(2)"`
	CreatedAt time.Time    `gorm:"not null"`
}

func (User) TableName() string { return "users" }

type Property struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	CountryCode string       `gorm:"column:country_code;type:char(2)"`
	CreatedAt   time.Time    `gorm:"not null"`
}

func (Property) TableName() string { return "properties" }
