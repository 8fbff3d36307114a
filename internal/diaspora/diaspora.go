// Package diaspora decides whether a booking is cross-border and prices
// the escrow surcharge applied to it.
package diaspora

import (
	"strings"

	"github.com/shopspring/decimal"
	bookingdomain "github.com/smallbiznis/homeledger/internal/booking/domain"
	"github.com/smallbiznis/homeledger/internal/commission/calculator"
)

// IsDiaspora reports whether user is registered as diaspora or books a
// property outside their home country. Countries compare as trimmed,
// case-insensitive ISO codes.
func IsDiaspora(user bookingdomain.User, property bookingdomain.Property) bool {
	if user.Role == bookingdomain.RoleDiaspora {
		return true
	}
	return !strings.EqualFold(strings.TrimSpace(user.Country), strings.TrimSpace(property.CountryCode))
}

// Fee rounds like commissions do.
func Fee(amount, rate decimal.Decimal) decimal.Decimal {
	return calculator.Apply(amount, rate)
}
