package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/homeledger/internal/booking/domain"
)

type Stage string

const (
	StageReceived  Stage = "RECEIVED"
	StageValidated Stage = "VALIDATED"
	StageRated     Stage = "RATED"
	StagePersisted Stage = "PERSISTED"
	StageEmitted   Stage = "EMITTED"
	StageSkipped   Stage = "SKIPPED"
	StageFailed    Stage = "FAILED"
)

func (s Stage) Terminal() bool {
	return s == StageEmitted || s == StageSkipped || s == StageFailed
}

const (
	MessageNotConfirmed      = "Payment not confirmed"
	MessageRecorded          = "Commissions recorded"
	MessageAlreadyRecorded   = "Commissions already recorded"
	MessageCompletedRecovery = "Commissions completed after partial failure"
)

// PaymentEvent is the payload of a payment status change.
type PaymentEvent struct {
	PaymentID snowflake.ID
	BookingID snowflake.ID
	Status    bookingdomain.PaymentStatus
}

// Run is the outcome of one pipeline invocation.
type Run struct {
	PaymentID   snowflake.ID
	BookingID   snowflake.ID
	State       Stage
	Message     string
	Commissions []Commission
	// Inserted counts rows written by this run; redelivery writes none.
	Inserted int
}

type Pipeline interface {
	OnPaymentConfirmed(ctx context.Context, event PaymentEvent) (Run, error)
}
