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
	"github.com/smallbiznis/homeledger/internal/commission/calculator"
	"github.com/smallbiznis/homeledger/internal/commission/domain"
	"github.com/smallbiznis/homeledger/internal/config"
	"github.com/smallbiznis/homeledger/internal/events"
	"github.com/smallbiznis/homeledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/homeledger/internal/observability/metrics"
	"github.com/smallbiznis/homeledger/internal/outcome"
	settingsdomain "github.com/smallbiznis/homeledger/internal/settings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   config.Config
	Repo     domain.Repository
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
	repo     domain.Repository
	bookings bookingdomain.Repository
	rates    settingsdomain.Resolver
	outbox   *events.Outbox
	pipeline *obsmetrics.PipelineMetrics
	metrics  *obsmetrics.Metrics
}

func New(p Params) domain.Pipeline {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("commission.pipeline"),
		genID:    p.GenID,
		clock:    p.Clock,
		timeout:  p.Config.StoreTimeout,
		repo:     p.Repo,
		bookings: p.Bookings,
		rates:    p.Rates,
		outbox:   p.Outbox,
		pipeline: p.Pipeline,
		metrics:  p.Metrics,
	}
}

// OnPaymentConfirmed records the commissions owed on a confirmed payment.
// Events for payments in any other status are skipped. Redelivery of the
// same payment writes nothing. A failed run may have written the platform
// row; retrying it is safe and completes the set.
func (s *Service) OnPaymentConfirmed(ctx context.Context, event domain.PaymentEvent) (domain.Run, error) {
	run := domain.Run{
		PaymentID: event.PaymentID,
		BookingID: event.BookingID,
		State:     domain.StageReceived,
	}
	log := logger.WithContext(ctx, s.log).With(
		zap.String("payment_id", event.PaymentID.String()),
		zap.String("booking_id", event.BookingID.String()),
	)
	started := time.Now()
	log.Debug("payment event received", zap.String("status", string(event.Status)))

	if event.Status != bookingdomain.PaymentStatusConfirmed {
		run.State = domain.StageSkipped
		run.Message = domain.MessageNotConfirmed
		s.finish(log, run, nil)
		return run, nil
	}
	if event.PaymentID == 0 || event.BookingID == 0 {
		return s.fail(log, run, outcome.New(outcome.KindInvalidRequest, "paymentId and bookingId are required"))
	}

	booking, err := s.loadBooking(ctx, event.BookingID)
	if err != nil {
		return s.fail(log, run, withIDs(err, event))
	}
	s.advance(log, &run, domain.StageValidated, started)

	platformRate, agentRate, err := s.resolveRates(ctx, booking)
	if err != nil {
		return s.fail(log, run, withIDs(err, event))
	}
	s.advance(log, &run, domain.StageRated, started)

	records := calculator.Compute(*booking, platformRate, agentRate)
	if err := s.persist(ctx, log, &run, event, records); err != nil {
		return s.fail(log, run, err)
	}
	s.advance(log, &run, domain.StagePersisted, started)

	run.Message = runMessage(run.Inserted, len(records))
	s.emit(ctx, log, run, booking, len(records))
	s.advance(log, &run, domain.StageEmitted, started)
	s.finish(log, run, nil)
	return run, nil
}

func (s *Service) loadBooking(ctx context.Context, bookingID snowflake.ID) (*bookingdomain.Booking, error) {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	booking, err := s.bookings.FindBooking(storeCtx, s.db, bookingID)
	if err != nil {
		return nil, outcome.Store(err, "load booking")
	}
	if booking == nil {
		return nil, outcome.Wrap(outcome.KindBookingNotFound, bookingdomain.ErrBookingNotFound,
			fmt.Sprintf("booking %s not found", bookingID))
	}
	return booking, nil
}

// resolveRates reads the agent rate only when the booking has an agent.
func (s *Service) resolveRates(ctx context.Context, booking *bookingdomain.Booking) (decimal.Decimal, *decimal.Decimal, error) {
	platformRate, err := s.rates.PlatformRate(ctx, string(booking.TransactionType))
	if err != nil {
		return decimal.Zero, nil, err
	}
	if !booking.HasAgent() {
		return platformRate, nil, nil
	}
	agentRate, err := s.rates.AgentRate(ctx)
	if err != nil {
		return decimal.Zero, nil, err
	}
	return platformRate, &agentRate, nil
}

// persist inserts the platform record first. Once it is stored, any later
// failure is a PartialCommissionFailure and is queued for reconciliation.
func (s *Service) persist(ctx context.Context, log *zap.Logger, run *domain.Run, event domain.PaymentEvent, records []domain.Record) error {
	now := s.clock.Now()
	platformStored := false

	for _, record := range records {
		commission := domain.Commission{
			ID:              s.genID.Generate(),
			BookingID:       record.BookingID,
			PaymentID:       event.PaymentID,
			AgentID:         record.AgentID,
			Amount:          record.Amount,
			TransactionType: record.TransactionType,
			CommissionFor:   record.CommissionFor,
			CreatedAt:       now,
		}

		inserted, err := s.insert(ctx, &commission)
		if err != nil {
			if !platformStored {
				return withIDs(outcome.Store(err, "record platform commission"), event)
			}
			fault := withIDs(outcome.Wrap(outcome.KindPartialCommissionFailure, err,
				fmt.Sprintf("%s commission not recorded after platform commission", record.CommissionFor)), event)
			if record.AgentID != nil {
				fault.WithAgent(record.AgentID.String())
			}
			s.queueReconciliation(ctx, log, event, fault)
			return fault
		}

		if record.CommissionFor == domain.CommissionForPlatform {
			platformStored = true
		}
		if inserted {
			run.Inserted++
			run.Commissions = append(run.Commissions, commission)
			s.pipeline.AddCommissionAmount(string(commission.CommissionFor), commission.Amount.InexactFloat64())
			s.metrics.RecordCommission(ctx, string(commission.CommissionFor), string(commission.TransactionType))
			log.Info("commission recorded",
				zap.String("commission_id", commission.ID.String()),
				zap.String("commission_for", string(commission.CommissionFor)),
				zap.String("amount", commission.Amount.StringFixed(calculator.MinorUnitPlaces)),
			)
		} else {
			log.Info("commission already recorded", zap.String("commission_for", string(commission.CommissionFor)))
		}
	}
	return nil
}

func (s *Service) insert(ctx context.Context, commission *domain.Commission) (bool, error) {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	return s.repo.InsertCommission(storeCtx, s.db, commission)
}

// queueReconciliation is best-effort: the returned fault already carries
// every id an operator needs.
func (s *Service) queueReconciliation(ctx context.Context, log *zap.Logger, event domain.PaymentEvent, fault *outcome.Fault) {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	queued := false
	err := s.db.WithContext(storeCtx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.InsertReconciliation(storeCtx, tx, &domain.Reconciliation{
			ID:        s.genID.Generate(),
			PaymentID: event.PaymentID,
			BookingID: event.BookingID,
			Reason:    fault.Error(),
			CreatedAt: s.clock.Now(),
		})
		if err != nil || !inserted {
			return err
		}
		queued = true
		if s.outbox == nil {
			return nil
		}
		return s.outbox.PublishTx(storeCtx, tx, events.Event{
			Type: events.EventCommissionReconciliationRequired,
			Payload: map[string]any{
				"paymentId": event.PaymentID.String(),
				"bookingId": event.BookingID.String(),
				"errorKind": string(fault.Kind),
			},
			DedupeKey: "reconciliation:" + event.PaymentID.String(),
		})
	})
	if err != nil {
		log.Error("failed to queue commission reconciliation", zap.Error(err))
		return
	}
	if queued {
		s.pipeline.IncReconciliation()
		log.Warn("commission reconciliation queued", zap.String("error_kind", string(fault.Kind)))
	}
}

// emit enqueues downstream events. Failures never fail the run. The
// commission event always lists the payment's full commission set, even
// when this run only inserted part of it.
func (s *Service) emit(ctx context.Context, log *zap.Logger, run domain.Run, booking *bookingdomain.Booking, total int) {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	if run.Message == domain.MessageCompletedRecovery {
		if _, err := s.repo.ResolveReconciliation(storeCtx, s.db, run.PaymentID, s.clock.Now()); err != nil {
			log.Warn("failed to resolve commission reconciliation", zap.Error(err))
		}
	}
	if s.outbox == nil || run.Inserted == 0 {
		return
	}

	recorded := run.Commissions
	if run.Inserted < total {
		stored, err := s.repo.ListByPayment(storeCtx, s.db, run.PaymentID)
		if err != nil {
			log.Warn("failed to load commission set for event", zap.Error(err))
			return
		}
		recorded = stored
	}

	commissions := make([]map[string]any, 0, len(recorded))
	for _, c := range recorded {
		item := map[string]any{
			"commissionFor": string(c.CommissionFor),
			"amount":        c.Amount.StringFixed(calculator.MinorUnitPlaces),
		}
		if c.AgentID != nil {
			item["agentId"] = c.AgentID.String()
		}
		commissions = append(commissions, item)
	}
	err := s.outbox.Publish(storeCtx, events.Event{
		Type: events.EventCommissionRecorded,
		Payload: map[string]any{
			"paymentId":       run.PaymentID.String(),
			"bookingId":       run.BookingID.String(),
			"transactionType": string(booking.TransactionType),
			"commissions":     commissions,
		},
		DedupeKey: "commission:" + run.PaymentID.String(),
	})
	if err != nil {
		log.Warn("failed to enqueue commission event", zap.Error(err))
	}
}

func (s *Service) advance(log *zap.Logger, run *domain.Run, stage domain.Stage, started time.Time) {
	run.State = stage
	s.pipeline.ObserveStage(obsmetrics.PipelineCommission, string(stage), time.Since(started))
	log.Debug("commission pipeline transition", zap.String("state", string(stage)))
}

func (s *Service) fail(log *zap.Logger, run domain.Run, err error) (domain.Run, error) {
	run.State = domain.StageFailed
	s.finish(log, run, err)
	return run, err
}

func (s *Service) finish(log *zap.Logger, run domain.Run, err error) {
	kind := outcome.KindOf(err)
	s.pipeline.IncRun(obsmetrics.PipelineCommission, string(run.State), string(kind))
	if err != nil {
		log.Error("commission pipeline failed",
			zap.String("state", string(run.State)),
			zap.String("error_kind", string(kind)),
			zap.Error(err),
		)
		return
	}
	log.Info("commission pipeline finished",
		zap.String("state", string(run.State)),
		zap.String("message", run.Message),
		zap.Int("inserted", run.Inserted),
	)
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func runMessage(inserted, total int) string {
	switch {
	case inserted == 0:
		return domain.MessageAlreadyRecorded
	case inserted < total:
		return domain.MessageCompletedRecovery
	default:
		return domain.MessageRecorded
	}
}

func withIDs(err error, event domain.PaymentEvent) *outcome.Fault {
	var fault *outcome.Fault
	if !errors.As(err, &fault) {
		fault = outcome.Store(err, "commission pipeline")
	}
	return fault.WithPayment(event.PaymentID.String()).WithBooking(event.BookingID.String())
}
