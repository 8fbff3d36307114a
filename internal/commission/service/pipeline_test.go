package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	bookingdomain "github.com/smallbiznis/homeledger/internal/booking/domain"
	bookingrepository "github.com/smallbiznis/homeledger/internal/booking/repository"
	"github.com/smallbiznis/homeledger/internal/clock"
	"github.com/smallbiznis/homeledger/internal/commission/domain"
	"github.com/smallbiznis/homeledger/internal/commission/repository"
	"github.com/smallbiznis/homeledger/internal/config"
	"github.com/smallbiznis/homeledger/internal/events"
	obsmetrics "github.com/smallbiznis/homeledger/internal/observability/metrics"
	"github.com/smallbiznis/homeledger/internal/outcome"
	settingsdomain "github.com/smallbiznis/homeledger/internal/settings/domain"
	settingsrepository "github.com/smallbiznis/homeledger/internal/settings/repository"
	settingsservice "github.com/smallbiznis/homeledger/internal/settings/service"
	"github.com/smallbiznis/homeledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type pipelineFixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	repo  *flakyRepo
	svc   domain.Pipeline
}

// flakyRepo fails agent inserts while failAgent is set.
type flakyRepo struct {
	domain.Repository
	mu        sync.Mutex
	failAgent bool
}

func (r *flakyRepo) InsertCommission(ctx context.Context, db *gorm.DB, c *domain.Commission) (bool, error) {
	r.mu.Lock()
	fail := r.failAgent && c.CommissionFor == domain.CommissionForAgent
	r.mu.Unlock()
	if fail {
		return false, errors.New("agent insert failed")
	}
	return r.Repository.InsertCommission(ctx, db, c)
}

func (r *flakyRepo) setFailAgent(v bool) {
	r.mu.Lock()
	r.failAgent = v
	r.mu.Unlock()
}

func setupPipeline(t *testing.T) *pipelineFixture {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&bookingdomain.Booking{},
		&settingsdomain.Setting{},
		&domain.Commission{},
		&domain.Reconciliation{},
		&events.Record{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	cfg := config.Config{StoreTimeout: time.Second}
	log := zap.NewNop()

	resolver := settingsservice.New(settingsservice.Params{
		DB:     conn,
		Log:    log,
		Repo:   settingsrepository.Provide(),
		Config: cfg,
	})
	repo := &flakyRepo{Repository: repository.Provide()}

	svc := New(Params{
		DB:       conn,
		Log:      log,
		GenID:    node,
		Clock:    fake,
		Config:   cfg,
		Repo:     repo,
		Bookings: bookingrepository.Provide(),
		Rates:    resolver,
		Outbox:   events.NewOutbox(events.OutboxParams{DB: conn, GenID: node, Clock: fake}),
		Pipeline: obsmetrics.NewPipelineMetricsForRegistry(prometheus.NewRegistry()),
	})

	return &pipelineFixture{db: conn, node: node, clock: fake, repo: repo, svc: svc}
}

func (f *pipelineFixture) setting(t *testing.T, key, value string) {
	t.Helper()
	now := f.clock.Now()
	require.NoError(t, f.db.Create(&settingsdomain.Setting{
		ID: f.node.Generate(), Key: key, Value: value, CreatedAt: now, UpdatedAt: now,
	}).Error)
}

func (f *pipelineFixture) booking(t *testing.T, txType bookingdomain.TransactionType, price string, agentID *snowflake.ID) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	require.NoError(t, f.db.Create(&bookingdomain.Booking{
		ID:              id,
		TransactionType: txType,
		Price:           decimal.RequireFromString(price),
		UserID:          1,
		PropertyID:      2,
		AgentID:         agentID,
		CreatedAt:       f.clock.Now(),
	}).Error)
	return id
}

func (f *pipelineFixture) commissions(t *testing.T, paymentID snowflake.ID) []domain.Commission {
	t.Helper()
	var rows []domain.Commission
	require.NoError(t, f.db.Where("payment_id = ?", paymentID).Order("commission_for DESC").Find(&rows).Error)
	return rows
}

func (f *pipelineFixture) countEvents(t *testing.T, eventType string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&events.Record{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}

func confirmed(paymentID, bookingID snowflake.ID) domain.PaymentEvent {
	return domain.PaymentEvent{
		PaymentID: paymentID,
		BookingID: bookingID,
		Status:    bookingdomain.PaymentStatusConfirmed,
	}
}

func TestOnPaymentConfirmedRecordsPlatformAndAgent(t *testing.T) {
	f := setupPipeline(t)
	f.setting(t, "rent_commission_rate", "0.05")
	f.setting(t, "agent_commission_rate", "0.10")
	agentID := snowflake.ID(900)
	bookingID := f.booking(t, bookingdomain.TransactionTypeRent, "1000", &agentID)

	run, err := f.svc.OnPaymentConfirmed(context.Background(), confirmed(500, bookingID))
	require.NoError(t, err)
	assert.Equal(t, domain.StageEmitted, run.State)
	assert.Equal(t, domain.MessageRecorded, run.Message)
	assert.Equal(t, 2, run.Inserted)

	rows := f.commissions(t, 500)
	require.Len(t, rows, 2)
	assert.Equal(t, domain.CommissionForPlatform, rows[0].CommissionFor)
	assert.Equal(t, "50.00", rows[0].Amount.StringFixed(2))
	assert.Nil(t, rows[0].AgentID)
	assert.Equal(t, domain.CommissionForAgent, rows[1].CommissionFor)
	assert.Equal(t, "100.00", rows[1].Amount.StringFixed(2))
	require.NotNil(t, rows[1].AgentID)
	assert.Equal(t, agentID, *rows[1].AgentID)

	assert.Equal(t, int64(1), f.countEvents(t, events.EventCommissionRecorded))
}

func TestOnPaymentConfirmedWithoutAgentSkipsAgentRate(t *testing.T) {
	f := setupPipeline(t)
	f.setting(t, "sale_commission_rate", "0.03")
	bookingID := f.booking(t, bookingdomain.TransactionTypeSale, "250000", nil)

	run, err := f.svc.OnPaymentConfirmed(context.Background(), confirmed(501, bookingID))
	require.NoError(t, err)
	assert.Equal(t, domain.StageEmitted, run.State)

	rows := f.commissions(t, 501)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.CommissionForPlatform, rows[0].CommissionFor)
	assert.Equal(t, "7500.00", rows[0].Amount.StringFixed(2))
}

func TestDuplicateDeliveryWritesOnce(t *testing.T) {
	f := setupPipeline(t)
	f.setting(t, "rent_commission_rate", "0.05")
	f.setting(t, "agent_commission_rate", "0.10")
	agentID := snowflake.ID(901)
	bookingID := f.booking(t, bookingdomain.TransactionTypeRent, "1000", &agentID)
	event := confirmed(502, bookingID)

	_, err := f.svc.OnPaymentConfirmed(context.Background(), event)
	require.NoError(t, err)

	again, err := f.svc.OnPaymentConfirmed(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, domain.StageEmitted, again.State)
	assert.Equal(t, domain.MessageAlreadyRecorded, again.Message)
	assert.Equal(t, 0, again.Inserted)

	assert.Len(t, f.commissions(t, 502), 2)
	assert.Equal(t, int64(1), f.countEvents(t, events.EventCommissionRecorded))
}

func TestConcurrentDuplicateDeliveryWritesOnce(t *testing.T) {
	f := setupPipeline(t)
	f.setting(t, "rent_commission_rate", "0.05")
	f.setting(t, "agent_commission_rate", "0.10")
	agentID := snowflake.ID(902)
	bookingID := f.booking(t, bookingdomain.TransactionTypeRent, "1000", &agentID)
	event := confirmed(503, bookingID)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.OnPaymentConfirmed(context.Background(), event)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rows := f.commissions(t, 503)
	require.Len(t, rows, 2)
	assert.NotEqual(t, rows[0].CommissionFor, rows[1].CommissionFor)
}

func TestPendingPaymentIsSkipped(t *testing.T) {
	f := setupPipeline(t)

	event := domain.PaymentEvent{PaymentID: 504, BookingID: 42, Status: bookingdomain.PaymentStatusPending}
	run, err := f.svc.OnPaymentConfirmed(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, domain.StageSkipped, run.State)
	assert.Equal(t, "Payment not confirmed", run.Message)

	var n int64
	require.NoError(t, f.db.Model(&domain.Commission{}).Count(&n).Error)
	assert.Equal(t, int64(0), n)
}

func TestMissingPlatformRateIsConfigMissing(t *testing.T) {
	f := setupPipeline(t)
	bookingID := f.booking(t, bookingdomain.TransactionTypeRent, "1000", nil)

	run, err := f.svc.OnPaymentConfirmed(context.Background(), confirmed(505, bookingID))
	require.Error(t, err)
	assert.Equal(t, domain.StageFailed, run.State)
	assert.Equal(t, outcome.KindConfigMissing, outcome.KindOf(err))

	var fault *outcome.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "505", fault.PaymentID)
	assert.Equal(t, bookingID.String(), fault.BookingID)
	assert.Empty(t, f.commissions(t, 505))
}

func TestMissingAgentRateWritesNothing(t *testing.T) {
	f := setupPipeline(t)
	f.setting(t, "rent_commission_rate", "0.05")
	agentID := snowflake.ID(903)
	bookingID := f.booking(t, bookingdomain.TransactionTypeRent, "1000", &agentID)

	_, err := f.svc.OnPaymentConfirmed(context.Background(), confirmed(506, bookingID))
	require.Error(t, err)
	assert.Equal(t, outcome.KindConfigMissing, outcome.KindOf(err))
	assert.Empty(t, f.commissions(t, 506))
}

func TestUnknownBookingIsBookingNotFound(t *testing.T) {
	f := setupPipeline(t)

	run, err := f.svc.OnPaymentConfirmed(context.Background(), confirmed(507, 12345))
	require.Error(t, err)
	assert.Equal(t, domain.StageFailed, run.State)
	assert.Equal(t, outcome.KindBookingNotFound, outcome.KindOf(err))
	assert.ErrorIs(t, err, bookingdomain.ErrBookingNotFound)
}

func TestPartialFailureQueuesReconciliationAndRetryCompletes(t *testing.T) {
	f := setupPipeline(t)
	f.setting(t, "rent_commission_rate", "0.05")
	f.setting(t, "agent_commission_rate", "0.10")
	agentID := snowflake.ID(904)
	bookingID := f.booking(t, bookingdomain.TransactionTypeRent, "1000", &agentID)
	event := confirmed(508, bookingID)

	f.repo.setFailAgent(true)
	run, err := f.svc.OnPaymentConfirmed(context.Background(), event)
	require.Error(t, err)
	assert.Equal(t, domain.StageFailed, run.State)
	assert.Equal(t, outcome.KindPartialCommissionFailure, outcome.KindOf(err))

	var fault *outcome.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, agentID.String(), fault.AgentID)

	rows := f.commissions(t, 508)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.CommissionForPlatform, rows[0].CommissionFor)

	var rec domain.Reconciliation
	require.NoError(t, f.db.Where("payment_id = ?", 508).First(&rec).Error)
	assert.Nil(t, rec.ResolvedAt)
	assert.Equal(t, int64(1), f.countEvents(t, events.EventCommissionReconciliationRequired))
	assert.Equal(t, int64(0), f.countEvents(t, events.EventCommissionRecorded))

	f.repo.setFailAgent(false)
	retry, err := f.svc.OnPaymentConfirmed(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageCompletedRecovery, retry.Message)
	assert.Equal(t, 1, retry.Inserted)

	rows = f.commissions(t, 508)
	require.Len(t, rows, 2)

	require.NoError(t, f.db.Where("payment_id = ?", 508).First(&rec).Error)
	assert.NotNil(t, rec.ResolvedAt)
	assert.Equal(t, int64(1), f.countEvents(t, events.EventCommissionRecorded))

	var recorded events.Record
	require.NoError(t, f.db.Where("event_type = ?", events.EventCommissionRecorded).First(&recorded).Error)
	items, ok := recorded.Payload["commissions"].([]any)
	require.True(t, ok, "commissions payload is %T", recorded.Payload["commissions"])
	require.Len(t, items, 2, "the event lists the whole commission set")

	byRecipient := map[string]map[string]any{}
	for _, item := range items {
		entry, ok := item.(map[string]any)
		require.True(t, ok)
		byRecipient[entry["commissionFor"].(string)] = entry
	}
	assert.Equal(t, "50.00", byRecipient["platform"]["amount"])
	assert.Nil(t, byRecipient["platform"]["agentId"])
	assert.Equal(t, "100.00", byRecipient["agent"]["amount"])
	assert.Equal(t, agentID.String(), byRecipient["agent"]["agentId"])
}
