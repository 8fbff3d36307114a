package domain

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrSettingNotFound = errors.New("setting_not_found")
	ErrInvalidRate     = errors.New("invalid_rate")
)

// Resolver reads rates from the settings store. Every call re-reads the
// store; nothing is cached between calls.
type Resolver interface {
	GetRate(ctx context.Context, key string) (decimal.Decimal, error)
	PlatformRate(ctx context.Context, transactionType string) (decimal.Decimal, error)
	AgentRate(ctx context.Context) (decimal.Decimal, error)
	DiasporaRate(ctx context.Context) (decimal.Decimal, error)
}

var one = decimal.NewFromInt(1)

// ParseRate accepts a finite decimal fraction in [0, 1).
func ParseRate(raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, ErrInvalidRate
	}
	if value.IsNegative() || value.GreaterThanOrEqual(one) {
		return decimal.Zero, ErrInvalidRate
	}
	return value, nil
}
