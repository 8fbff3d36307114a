package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	analyticsdomain "github.com/smallbiznis/homeledger/internal/analytics/domain"
	bookingdomain "github.com/smallbiznis/homeledger/internal/booking/domain"
	"github.com/smallbiznis/homeledger/internal/clock"
	commissiondomain "github.com/smallbiznis/homeledger/internal/commission/domain"
	diasporaservice "github.com/smallbiznis/homeledger/internal/diaspora/service"
	"github.com/smallbiznis/homeledger/internal/observability"
	"github.com/smallbiznis/homeledger/internal/outcome"
	"github.com/smallbiznis/homeledger/internal/ratelimit"
	withdrawaldomain "github.com/smallbiznis/homeledger/internal/withdrawal/domain"
	"github.com/smallbiznis/homeledger/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type pipelineStub struct {
	calls []commissiondomain.PaymentEvent
	run   commissiondomain.Run
	err   error
}

func (p *pipelineStub) OnPaymentConfirmed(ctx context.Context, event commissiondomain.PaymentEvent) (commissiondomain.Run, error) {
	p.calls = append(p.calls, event)
	return p.run, p.err
}

type feeStub struct {
	calls  []diasporaservice.BookingEvent
	result outcome.Result
	err    error
}

func (f *feeStub) OnBookingCreated(ctx context.Context, event diasporaservice.BookingEvent) (outcome.Result, error) {
	f.calls = append(f.calls, event)
	if f.err != nil {
		return outcome.Failure(f.err), f.err
	}
	return f.result, nil
}

type aggregatorStub struct {
	dates []time.Time
	err   error
}

func (a *aggregatorStub) Aggregate(ctx context.Context, date time.Time) (*analyticsdomain.CommissionAnalytics, error) {
	a.dates = append(a.dates, date)
	if a.err != nil {
		return nil, a.err
	}
	return &analyticsdomain.CommissionAnalytics{
		ID:                 snowflake.ID(9),
		Date:               datatypes.Date(analyticsdomain.Day(date)),
		TotalCommission:    decimal.RequireFromString("150"),
		PlatformCommission: decimal.RequireFromString("50"),
		AgentCommission:    decimal.RequireFromString("100"),
		TotalTransactions:  1,
	}, nil
}

type withdrawalStub struct {
	requested []decimal.Decimal
	listReq   withdrawaldomain.ListRequest
	err       error
}

func (w *withdrawalStub) RequestWithdrawal(ctx context.Context, agentID snowflake.ID, amount decimal.Decimal) (*withdrawaldomain.Withdrawal, error) {
	w.requested = append(w.requested, amount)
	if w.err != nil {
		return nil, w.err
	}
	return &withdrawaldomain.Withdrawal{
		ID:        snowflake.ID(77),
		AgentID:   agentID,
		Amount:    amount,
		Status:    withdrawaldomain.StatusPending,
		CreatedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}, nil
}

func (w *withdrawalStub) Balance(ctx context.Context, agentID snowflake.ID) (withdrawaldomain.Balance, error) {
	return withdrawaldomain.Balance{
		AgentID:        agentID,
		TotalEarnings:  decimal.RequireFromString("150"),
		TotalWithdrawn: decimal.RequireFromString("40"),
		Available:      decimal.RequireFromString("110"),
	}, nil
}

func (w *withdrawalStub) List(ctx context.Context, req withdrawaldomain.ListRequest) (withdrawaldomain.ListResponse, error) {
	w.listReq = req
	return withdrawaldomain.ListResponse{
		Withdrawals: []withdrawaldomain.Withdrawal{{
			ID:        snowflake.ID(5),
			AgentID:   req.AgentID,
			Amount:    decimal.RequireFromString("12.5"),
			Status:    withdrawaldomain.StatusApproved,
			CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		}},
		PageInfo: pagination.PageInfo{NextPageToken: "next", HasMore: true},
	}, nil
}

type envelope struct {
	OK           bool            `json:"ok"`
	Message      string          `json:"message"`
	ErrorKind    string          `json:"errorKind"`
	ErrorMessage string          `json:"errorMessage"`
	Data         json.RawMessage `json:"data"`
}

type testServer struct {
	srv         *Server
	pipeline    *pipelineStub
	fees        *feeStub
	aggregator  *aggregatorStub
	withdrawals *withdrawalStub
	clock       *clock.FakeClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		pipeline:    &pipelineStub{},
		fees:        &feeStub{},
		aggregator:  &aggregatorStub{},
		withdrawals: &withdrawalStub{},
		clock:       clock.NewFakeClock(time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC)),
	}
	ts.srv = NewServer(ServerParams{
		Gin:         NewEngine(observability.Config{Environment: "test"}, nil),
		Log:         zap.NewNop(),
		Clock:       ts.clock,
		Commissions: ts.pipeline,
		Fees:        ts.fees,
		Aggregator:  ts.aggregator,
		Withdrawals: ts.withdrawals,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Buffer
	if body == "" {
		reader = &bytes.Buffer{}
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(resp, req)

	var env envelope
	if resp.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &env))
	}
	return resp, env
}

func TestPaymentConfirmedRecordsCommissions(t *testing.T) {
	ts := newTestServer(t)
	agentID := snowflake.ID(30)
	ts.pipeline.run = commissiondomain.Run{
		PaymentID: 10,
		BookingID: 20,
		State:     commissiondomain.StageEmitted,
		Message:   commissiondomain.MessageRecorded,
		Inserted:  2,
		Commissions: []commissiondomain.Commission{
			{ID: 1, BookingID: 20, Amount: decimal.RequireFromString("50"), TransactionType: bookingdomain.TransactionTypeRent, CommissionFor: commissiondomain.CommissionForPlatform},
			{ID: 2, BookingID: 20, AgentID: &agentID, Amount: decimal.RequireFromString("100"), TransactionType: bookingdomain.TransactionTypeRent, CommissionFor: commissiondomain.CommissionForAgent},
		},
	}

	resp, env := ts.do(t, http.MethodPost, "/internal/events/payment-confirmed",
		`{"id":"10","bookingId":"20","amount":"1000.00","status":"confirmed","method":"card"}`)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, env.OK)
	assert.Equal(t, commissiondomain.MessageRecorded, env.Message)

	require.Len(t, ts.pipeline.calls, 1)
	event := ts.pipeline.calls[0]
	assert.Equal(t, snowflake.ID(10), event.PaymentID)
	assert.Equal(t, snowflake.ID(20), event.BookingID)
	assert.Equal(t, bookingdomain.PaymentStatusConfirmed, event.Status)

	var data paymentRunView
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 2, data.Inserted)
	require.Len(t, data.Commissions, 2)
	assert.Nil(t, data.Commissions[0].AgentID)
	assert.Equal(t, "50.00", data.Commissions[0].Amount)
	require.NotNil(t, data.Commissions[1].AgentID)
	assert.Equal(t, "30", *data.Commissions[1].AgentID)
	assert.Equal(t, "100.00", data.Commissions[1].Amount)
}

func TestPaymentPendingIsPlainSuccess(t *testing.T) {
	ts := newTestServer(t)
	ts.pipeline.run = commissiondomain.Run{State: commissiondomain.StageSkipped, Message: commissiondomain.MessageNotConfirmed}

	resp, env := ts.do(t, http.MethodPost, "/internal/events/payment-confirmed",
		`{"id":"10","bookingId":"20","amount":100,"status":"pending"}`)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, env.OK)
	assert.Equal(t, "Payment not confirmed", env.Message)
	assert.Empty(t, env.Data)
}

func TestUnconfirmedPaymentSkipsWhateverThePayload(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status bookingdomain.PaymentStatus
	}{
		{name: "pending with unparsable booking id", body: `{"status":"pending","bookingId":"x"}`, status: bookingdomain.PaymentStatusPending},
		{name: "failed with unparsable amount", body: `{"id":"10","bookingId":"20","amount":"n/a","status":"failed"}`, status: bookingdomain.PaymentStatusFailed},
		{name: "pending with object id", body: `{"id":{"v":1},"status":"pending","method":7}`, status: bookingdomain.PaymentStatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.pipeline.run = commissiondomain.Run{State: commissiondomain.StageSkipped, Message: commissiondomain.MessageNotConfirmed}

			resp, env := ts.do(t, http.MethodPost, "/internal/events/payment-confirmed", tc.body)

			require.Equal(t, http.StatusOK, resp.Code)
			assert.True(t, env.OK)
			assert.Equal(t, commissiondomain.MessageNotConfirmed, env.Message)
			assert.Empty(t, env.ErrorKind)
			require.Len(t, ts.pipeline.calls, 1)
			assert.Equal(t, tc.status, ts.pipeline.calls[0].Status)
		})
	}
}

func TestPaymentConfirmedAcceptsNumericIDs(t *testing.T) {
	ts := newTestServer(t)
	ts.pipeline.run = commissiondomain.Run{PaymentID: 10, BookingID: 20, State: commissiondomain.StageEmitted, Message: commissiondomain.MessageAlreadyRecorded}

	resp, _ := ts.do(t, http.MethodPost, "/internal/events/payment-confirmed",
		`{"id":10,"bookingId":20,"status":"confirmed"}`)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, ts.pipeline.calls, 1)
	assert.Equal(t, snowflake.ID(10), ts.pipeline.calls[0].PaymentID)
	assert.Equal(t, snowflake.ID(20), ts.pipeline.calls[0].BookingID)
}

func TestPaymentConfirmedSurfacesFaults(t *testing.T) {
	ts := newTestServer(t)
	ts.pipeline.err = outcome.New(outcome.KindBookingNotFound, "booking not found").WithBooking("20")

	resp, env := ts.do(t, http.MethodPost, "/internal/events/payment-confirmed",
		`{"id":"10","bookingId":"20","amount":"100","status":"confirmed"}`)

	require.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.False(t, env.OK)
	assert.Equal(t, string(outcome.KindBookingNotFound), env.ErrorKind)
	assert.Equal(t, "booking not found", env.ErrorMessage)
}

func TestMalformedPayloadIsInvalidRequest(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name string
		path string
		body string
	}{
		{name: "payment not json", path: "/internal/events/payment-confirmed", body: `{"id":`},
		{name: "payment bad id", path: "/internal/events/payment-confirmed", body: `{"id":"abc","bookingId":"20","status":"confirmed"}`},
		{name: "confirmed payment bad booking id", path: "/internal/events/payment-confirmed", body: `{"id":"10","bookingId":"x","status":"confirmed"}`},
		{name: "booking not json", path: "/internal/events/booking-created", body: `[]`},
		{name: "withdrawal bad amount", path: "/agents/30/withdrawals", body: `{"amount":"ten"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, env := ts.do(t, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.Code)
			assert.False(t, env.OK)
			assert.Equal(t, string(outcome.KindInvalidRequest), env.ErrorKind)
		})
	}
	assert.Empty(t, ts.pipeline.calls)
	assert.Empty(t, ts.fees.calls)
	assert.Empty(t, ts.withdrawals.requested)
}

func TestBookingCreatedPassesEventThrough(t *testing.T) {
	ts := newTestServer(t)
	ts.fees.result = outcome.SuccessWith(diasporaservice.MessageApplied, diasporaservice.EscrowFee{
		PaymentID: "99",
		BookingID: "40",
		FeeAmount: "20.00",
	})

	resp, env := ts.do(t, http.MethodPost, "/internal/events/booking-created",
		`{"id":"40","userId":"41","propertyId":"42","price":"1000","transactionType":"sale"}`)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, env.OK)
	assert.Equal(t, diasporaservice.MessageApplied, env.Message)

	require.Len(t, ts.fees.calls, 1)
	event := ts.fees.calls[0]
	assert.Equal(t, snowflake.ID(40), event.ID)
	assert.Equal(t, snowflake.ID(41), event.UserID)
	assert.Equal(t, snowflake.ID(42), event.PropertyID)
	assert.Equal(t, bookingdomain.TransactionTypeSale, event.TransactionType)

	var fee diasporaservice.EscrowFee
	require.NoError(t, json.Unmarshal(env.Data, &fee))
	assert.Equal(t, "20.00", fee.FeeAmount)
}

func TestBookingCreatedRequiresPrice(t *testing.T) {
	ts := newTestServer(t)

	resp, env := ts.do(t, http.MethodPost, "/internal/events/booking-created",
		`{"id":"40","userId":"41","propertyId":"42","transactionType":"rent"}`)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, string(outcome.KindInvalidAmount), env.ErrorKind)
	assert.Empty(t, ts.fees.calls)
}

func TestBookingCreatedFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.fees.err = outcome.New(outcome.KindConfigMissing, "diaspora_escrow_fee_rate is not configured")

	resp, env := ts.do(t, http.MethodPost, "/internal/events/booking-created",
		`{"id":"40","userId":"41","propertyId":"42","price":500,"transactionType":"rent"}`)

	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.False(t, env.OK)
	assert.Equal(t, string(outcome.KindConfigMissing), env.ErrorKind)
}

func TestCommissionAnalyticsDefaultsToYesterday(t *testing.T) {
	ts := newTestServer(t)

	resp, env := ts.do(t, http.MethodPost, "/internal/jobs/commission-analytics", "")

	require.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, ts.aggregator.dates, 1)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), ts.aggregator.dates[0])

	var view analyticsView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "2026-03-14", view.Date)
	assert.Equal(t, "150.00", view.TotalCommission)
	assert.Equal(t, int64(1), view.TotalTransactions)
}

func TestCommissionAnalyticsExplicitDate(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, http.MethodPost, "/internal/jobs/commission-analytics?date=2026-01-31", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, ts.aggregator.dates, 1)
	assert.Equal(t, time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), ts.aggregator.dates[0])

	resp, env := ts.do(t, http.MethodPost, "/internal/jobs/commission-analytics?date=31-01-2026", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, string(outcome.KindInvalidRequest), env.ErrorKind)
	assert.Len(t, ts.aggregator.dates, 1)
}

func TestCommissionAnalyticsStoreFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.aggregator.err = context.DeadlineExceeded

	resp, env := ts.do(t, http.MethodPost, "/internal/jobs/commission-analytics", "")

	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Equal(t, string(outcome.KindStoreUnavailable), env.ErrorKind)
	assert.Equal(t, "record store unavailable", env.ErrorMessage)
}

func TestRequestWithdrawal(t *testing.T) {
	ts := newTestServer(t)

	resp, env := ts.do(t, http.MethodPost, "/agents/30/withdrawals", `{"amount":"100.00"}`)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, env.OK)
	assert.Equal(t, messageWithdrawalRequested, env.Message)

	var view withdrawalView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "77", view.ID)
	assert.Equal(t, "30", view.AgentID)
	assert.Equal(t, "100.00", view.Amount)
	assert.Equal(t, "pending", view.Status)
	assert.Equal(t, "2026-03-02T10:00:00Z", view.CreatedAt)
}

func TestRequestWithdrawalInsufficientBalance(t *testing.T) {
	ts := newTestServer(t)
	ts.withdrawals.err = outcome.Wrap(outcome.KindInsufficientBalance, withdrawaldomain.ErrInsufficientBalance,
		"requested 200.00 exceeds available balance 150.00").WithAgent("30")

	resp, env := ts.do(t, http.MethodPost, "/agents/30/withdrawals", `{"amount":200}`)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.False(t, env.OK)
	assert.Equal(t, string(outcome.KindInsufficientBalance), env.ErrorKind)
	assert.Equal(t, "requested 200.00 exceeds available balance 150.00", env.ErrorMessage)
}

func TestRequestWithdrawalRequiresAmount(t *testing.T) {
	ts := newTestServer(t)

	resp, env := ts.do(t, http.MethodPost, "/agents/30/withdrawals", `{}`)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, string(outcome.KindInvalidAmount), env.ErrorKind)
	assert.Empty(t, ts.withdrawals.requested)
}

func TestAgentRoutesRejectBadAgentID(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/agents/abc/balance", "/agents/0/withdrawals"} {
		resp, env := ts.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, resp.Code, path)
		assert.Equal(t, string(outcome.KindInvalidRequest), env.ErrorKind, path)
	}
}

func TestAgentBalance(t *testing.T) {
	ts := newTestServer(t)

	resp, env := ts.do(t, http.MethodGet, "/agents/30/balance", "")

	require.Equal(t, http.StatusOK, resp.Code)
	var view balanceView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, balanceView{
		AgentID:        "30",
		TotalEarnings:  "150.00",
		TotalWithdrawn: "40.00",
		Available:      "110.00",
	}, view)
}

func TestListWithdrawals(t *testing.T) {
	ts := newTestServer(t)

	resp, env := ts.do(t, http.MethodGet, "/agents/30/withdrawals?page_size=5&page_token=abc", "")

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, withdrawaldomain.ListRequest{AgentID: 30, PageToken: "abc", PageSize: 5}, ts.withdrawals.listReq)

	var view withdrawalListView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	require.Len(t, view.Withdrawals, 1)
	assert.Equal(t, "12.50", view.Withdrawals[0].Amount)
	assert.True(t, view.PageInfo.HasMore)
	assert.Equal(t, "next", view.PageInfo.NextPageToken)

	resp, _ = ts.do(t, http.MethodGet, "/agents/30/withdrawals?page_size=-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHealthAndFallback(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.NotEmpty(t, resp.Header().Get("X-Request-Id"))

	notFound, env := ts.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, notFound.Code)
	assert.Equal(t, string(outcome.KindInvalidRequest), env.ErrorKind)
}

// emptyBucket answers every token-bucket call with "denied, zero tokens".
type emptyBucket struct{}

func (emptyBucket) denied() *redis.Cmd {
	return redis.NewCmdResult([]any{int64(0), "0", int64(1700000000000)}, nil)
}

func (b emptyBucket) Eval(context.Context, string, []string, ...any) *redis.Cmd { return b.denied() }
func (b emptyBucket) EvalSha(context.Context, string, []string, ...any) *redis.Cmd { return b.denied() }
func (b emptyBucket) EvalRO(context.Context, string, []string, ...any) *redis.Cmd { return b.denied() }
func (b emptyBucket) EvalShaRO(context.Context, string, []string, ...any) *redis.Cmd { return b.denied() }
func (emptyBucket) ScriptExists(_ context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}
func (emptyBucket) ScriptLoad(context.Context, string) *redis.StringCmd {
	return redis.NewStringResult("", nil)
}

func TestWithdrawalsAreThrottledPerAgent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter, err := ratelimit.NewWithdrawalLimiterWithClient(emptyBucket{}, 0.5, 1)
	require.NoError(t, err)

	withdrawals := &withdrawalStub{}
	srv := NewServer(ServerParams{
		Gin:         NewEngine(observability.Config{Environment: "test"}, nil),
		Log:         zap.NewNop(),
		Clock:       clock.NewFakeClock(time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC)),
		Commissions: &pipelineStub{},
		Fees:        &feeStub{},
		Aggregator:  &aggregatorStub{},
		Withdrawals: withdrawals,
		Limiter:     limiter,
	})

	req := httptest.NewRequest(http.MethodPost, "/agents/30/withdrawals", bytes.NewBufferString(`{"amount":"10"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	srv.Engine().ServeHTTP(resp, req)

	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Equal(t, "2", resp.Header().Get("Retry-After"))
	var env envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &env))
	assert.Equal(t, string(outcome.KindRateLimited), env.ErrorKind)
	assert.Empty(t, withdrawals.requested)

	// reads are not throttled
	balance := httptest.NewRecorder()
	srv.Engine().ServeHTTP(balance, httptest.NewRequest(http.MethodGet, "/agents/30/balance", nil))
	assert.Equal(t, http.StatusOK, balance.Code)
}
