package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	bookingdomain "github.com/smallbiznis/homeledger/internal/booking/domain"
	"github.com/smallbiznis/homeledger/internal/clock"
	"github.com/smallbiznis/homeledger/internal/config"
	"github.com/smallbiznis/homeledger/internal/diaspora"
	"github.com/smallbiznis/homeledger/internal/events"
	"github.com/smallbiznis/homeledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/homeledger/internal/observability/metrics"
	"github.com/smallbiznis/homeledger/internal/outcome"
	settingsdomain "github.com/smallbiznis/homeledger/internal/settings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	MessageApplied        = "Diaspora escrow fee applied"
	MessageAlreadyApplied = "Diaspora escrow fee already applied"
	MessageNotDiaspora    = "Not a diaspora transaction"
)

const (
	stateApplied = "APPLIED"
	stateSkipped = "SKIPPED"
	stateFailed  = "FAILED"
)

// BookingEvent is the payload of a booking creation.
type BookingEvent struct {
	ID              snowflake.ID
	UserID          snowflake.ID
	PropertyID      snowflake.ID
	Price           decimal.Decimal
	TransactionType bookingdomain.TransactionType
}

// EscrowFee is returned in the result data when a fee applies.
type EscrowFee struct {
	PaymentID string `json:"paymentId"`
	BookingID string `json:"bookingId"`
	FeeAmount string `json:"feeAmount"`
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   config.Config
	Bookings bookingdomain.Repository
	Rates    settingsdomain.Resolver
	Outbox   *events.Outbox               `optional:"true"`
	Pipeline *obsmetrics.PipelineMetrics `optional:"true"`
	Metrics  *obsmetrics.Metrics         `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	timeout  time.Duration
	bookings bookingdomain.Repository
	rates    settingsdomain.Resolver
	outbox   *events.Outbox
	pipeline *obsmetrics.PipelineMetrics
	metrics  *obsmetrics.Metrics
}

func New(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("diaspora.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		timeout:  p.Config.StoreTimeout,
		bookings: p.Bookings,
		rates:    p.Rates,
		outbox:   p.Outbox,
		pipeline: p.Pipeline,
		metrics:  p.Metrics,
	}
}

// OnBookingCreated writes a pending escrow fee payment for diaspora
// bookings. Non-diaspora bookings succeed with no writes. The fee is keyed
// on the booking, so redelivery never creates a second one.
func (s *Service) OnBookingCreated(ctx context.Context, event BookingEvent) (outcome.Result, error) {
	log := logger.WithContext(ctx, s.log).With(zap.String("booking_id", event.ID.String()))
	started := time.Now()

	result, err := s.evaluate(ctx, log, event)
	state := stateApplied
	switch {
	case err != nil:
		state = stateFailed
	case result.Message == MessageNotDiaspora:
		state = stateSkipped
	}
	s.pipeline.IncRun(obsmetrics.PipelineDiasporaFee, state, string(outcome.KindOf(err)))
	s.pipeline.ObserveStage(obsmetrics.PipelineDiasporaFee, state, time.Since(started))

	if err != nil {
		log.Error("diaspora fee evaluation failed",
			zap.String("error_kind", string(outcome.KindOf(err))),
			zap.Error(err),
		)
		return outcome.Failure(err), err
	}
	log.Info("diaspora fee evaluated", zap.String("message", result.Message))
	return result, nil
}

func (s *Service) evaluate(ctx context.Context, log *zap.Logger, event BookingEvent) (outcome.Result, error) {
	if event.ID == 0 || event.UserID == 0 || event.PropertyID == 0 {
		return outcome.Result{}, outcome.New(outcome.KindInvalidRequest, "id, userId and propertyId are required").
			WithBooking(event.ID.String())
	}
	if event.Price.IsNegative() {
		return outcome.Result{}, outcome.New(outcome.KindInvalidAmount, "price must not be negative").
			WithBooking(event.ID.String())
	}

	user, property, err := s.loadParties(ctx, event)
	if err != nil {
		return outcome.Result{}, err
	}
	if !diaspora.IsDiaspora(*user, *property) {
		return outcome.Success(MessageNotDiaspora), nil
	}

	rate, err := s.rates.DiasporaRate(ctx)
	if err != nil {
		return outcome.Result{}, withBooking(err, event.ID)
	}
	fee := diaspora.Fee(event.Price, rate)

	payment, inserted, err := s.applyFee(ctx, event, fee)
	if err != nil {
		return outcome.Result{}, withBooking(outcome.Store(err, "record escrow fee"), event.ID)
	}

	data := EscrowFee{
		PaymentID: payment.ID.String(),
		BookingID: event.ID.String(),
		FeeAmount: payment.Amount.StringFixed(2),
	}
	if !inserted {
		log.Info("escrow fee already recorded", zap.String("payment_id", payment.ID.String()))
		return outcome.SuccessWith(MessageAlreadyApplied, data), nil
	}

	s.metrics.RecordEscrowFee(ctx)
	log.Info("escrow fee recorded",
		zap.String("payment_id", payment.ID.String()),
		zap.String("fee_amount", data.FeeAmount),
		zap.String("user_country", user.Country),
		zap.String("property_country", property.CountryCode),
	)
	return outcome.SuccessWith(MessageApplied, data), nil
}

func (s *Service) loadParties(ctx context.Context, event BookingEvent) (*bookingdomain.User, *bookingdomain.Property, error) {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	user, err := s.bookings.FindUser(storeCtx, s.db, event.UserID)
	if err != nil {
		return nil, nil, withBooking(outcome.Store(err, "load user"), event.ID)
	}
	if user == nil {
		return nil, nil, withBooking(outcome.Wrap(outcome.KindUserNotFound, bookingdomain.ErrUserNotFound,
			fmt.Sprintf("user %s not found", event.UserID)), event.ID)
	}

	property, err := s.bookings.FindProperty(storeCtx, s.db, event.PropertyID)
	if err != nil {
		return nil, nil, withBooking(outcome.Store(err, "load property"), event.ID)
	}
	if property == nil {
		return nil, nil, withBooking(outcome.Wrap(outcome.KindPropertyNotFound, bookingdomain.ErrPropertyNotFound,
			fmt.Sprintf("property %s not found", event.PropertyID)), event.ID)
	}
	return user, property, nil
}

// applyFee writes the fee payment and its analytics event in one
// transaction. When the fee already exists the stored payment is returned.
func (s *Service) applyFee(ctx context.Context, event BookingEvent, fee decimal.Decimal) (*bookingdomain.Payment, bool, error) {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	key := EscrowFeeKey(event.ID)
	now := s.clock.Now()
	payment := &bookingdomain.Payment{
		ID:             s.genID.Generate(),
		BookingID:      event.ID,
		Amount:         fee,
		Status:         bookingdomain.PaymentStatusPending,
		Method:         bookingdomain.PaymentMethodEscrowFee,
		IdempotencyKey: &key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var inserted bool
	err := s.db.WithContext(storeCtx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.bookings.InsertPaymentIfAbsent(storeCtx, tx, payment)
		if err != nil {
			return err
		}
		inserted = ok
		if !ok {
			existing, err := s.bookings.FindPaymentByIdempotencyKey(storeCtx, tx, key)
			if err != nil {
				return err
			}
			if existing == nil {
				return fmt.Errorf("escrow fee %s vanished after conflict", key)
			}
			payment = existing
			return nil
		}
		if s.outbox == nil {
			return nil
		}
		return s.outbox.PublishTx(storeCtx, tx, events.Event{
			Type: events.EventDiasporaEscrowFeeApplied,
			Payload: map[string]any{
				"bookingId": event.ID.String(),
				"feeAmount": fee.StringFixed(2),
			},
			DedupeKey: key,
		})
	})
	if err != nil {
		return nil, false, err
	}
	return payment, inserted, nil
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// EscrowFeeKey is the idempotency key of a booking's escrow fee payment.
func EscrowFeeKey(bookingID snowflake.ID) string {
	return "escrow_fee:" + bookingID.String()
}

func withBooking(err error, bookingID snowflake.ID) *outcome.Fault {
	var fault *outcome.Fault
	if !errors.As(err, &fault) {
		fault = outcome.Store(err, "diaspora fee")
	}
	return fault.WithBooking(bookingID.String())
}
