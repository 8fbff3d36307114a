package calculator

import (
	"github.com/shopspring/decimal"
	bookingdomain "github.com/smallbiznis/homeledger/internal/booking/domain"
	"github.com/smallbiznis/homeledger/internal/commission/domain"
)

// MinorUnitPlaces is the number of decimal places of the smallest currency unit.
const MinorUnitPlaces = 2

// Compute returns the platform commission for booking and, when the booking
// has an agent and agentRate is non-nil, the agent commission. Each amount
// is price * rate rounded half-even to minor units exactly once.
func Compute(booking bookingdomain.Booking, platformRate decimal.Decimal, agentRate *decimal.Decimal) []domain.Record {
	records := make([]domain.Record, 0, 2)
	records = append(records, domain.Record{
		BookingID:       booking.ID,
		Amount:          Apply(booking.Price, platformRate),
		TransactionType: booking.TransactionType,
		CommissionFor:   domain.CommissionForPlatform,
	})

	if booking.HasAgent() && agentRate != nil {
		agentID := *booking.AgentID
		records = append(records, domain.Record{
			BookingID:       booking.ID,
			AgentID:         &agentID,
			Amount:          Apply(booking.Price, *agentRate),
			TransactionType: booking.TransactionType,
			CommissionFor:   domain.CommissionForAgent,
		})
	}
	return records
}

// Apply multiplies amount by rate and rounds half-even to minor units.
func Apply(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).RoundBank(MinorUnitPlaces)
}
