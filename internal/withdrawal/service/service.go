package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/homeledger/internal/clock"
	commissiondomain "github.com/smallbiznis/homeledger/internal/commission/domain"
	"github.com/smallbiznis/homeledger/internal/config"
	"github.com/smallbiznis/homeledger/internal/events"
	"github.com/smallbiznis/homeledger/internal/lock"
	"github.com/smallbiznis/homeledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/homeledger/internal/observability/metrics"
	"github.com/smallbiznis/homeledger/internal/outcome"
	"github.com/smallbiznis/homeledger/internal/withdrawal/domain"
	"github.com/smallbiznis/homeledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	minorUnitPlaces = 2
	defaultPageSize = 50
	lockTTL         = 30 * time.Second
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      config.Config
	Repo        domain.Repository
	Commissions commissiondomain.Repository
	Locker      *lock.Locker                `optional:"true"`
	Outbox      *events.Outbox              `optional:"true"`
	Pipeline    *obsmetrics.PipelineMetrics `optional:"true"`
	Metrics     *obsmetrics.Metrics         `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	timeout     time.Duration
	repo        domain.Repository
	commissions commissiondomain.Repository
	locker      *lock.Locker
	outbox      *events.Outbox
	pipeline    *obsmetrics.PipelineMetrics
	metrics     *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("withdrawal.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		timeout:     p.Config.StoreTimeout,
		repo:        p.Repo,
		commissions: p.Commissions,
		locker:      p.Locker,
		outbox:      p.Outbox,
		pipeline:    p.Pipeline,
		metrics:     p.Metrics,
	}
}

// RequestWithdrawal records a pending withdrawal when amount fits within
// the agent's earnings minus approved withdrawals. Pending withdrawals do
// not reserve balance. The check and the insert run under the agent's
// lock row, so concurrent requests cannot both spend the same balance.
func (s *Service) RequestWithdrawal(ctx context.Context, agentID snowflake.ID, amount decimal.Decimal) (*domain.Withdrawal, error) {
	log := logger.WithContext(ctx, s.log).With(
		zap.String("agent_id", agentID.String()),
		zap.String("amount", amount.String()),
	)
	started := time.Now()

	withdrawal, err := s.request(ctx, agentID, amount)

	result := string(domain.StatusPending)
	state := "RECORDED"
	kind := outcome.KindOf(err)
	switch {
	case err == nil:
	case kind.IsBusinessRejection():
		result = string(kind)
		state = "REJECTED"
	default:
		result = "failed"
		state = "FAILED"
	}
	s.metrics.RecordWithdrawal(ctx, result)
	s.pipeline.IncRun(obsmetrics.PipelineWithdrawal, state, string(kind))
	s.pipeline.ObserveStage(obsmetrics.PipelineWithdrawal, state, time.Since(started))

	switch {
	case err == nil:
		log.Info("withdrawal requested", zap.String("withdrawal_id", withdrawal.ID.String()))
		return withdrawal, nil
	case kind.IsBusinessRejection():
		log.Info("withdrawal rejected", zap.String("error_kind", string(kind)), zap.Error(err))
	default:
		log.Error("withdrawal request failed", zap.String("error_kind", string(kind)), zap.Error(err))
	}
	return nil, err
}

func (s *Service) request(ctx context.Context, agentID snowflake.ID, amount decimal.Decimal) (*domain.Withdrawal, error) {
	if agentID == 0 {
		return nil, outcome.Wrap(outcome.KindInvalidRequest, domain.ErrInvalidAgent, "agentId is required")
	}
	if !amount.IsPositive() || !amount.Equal(amount.Round(minorUnitPlaces)) {
		return nil, outcome.Wrap(outcome.KindInvalidAmount, domain.ErrInvalidAmount,
			"amount must be positive with at most two decimal places").WithAgent(agentID.String())
	}

	var withdrawal *domain.Withdrawal
	acquired, err := s.locker.Do(ctx, "withdrawal:"+agentID.String(), lockTTL, func(ctx context.Context) error {
		var err error
		withdrawal, err = s.insertWithinBalance(ctx, agentID, amount)
		return err
	})
	if err != nil {
		var fault *outcome.Fault
		if errors.As(err, &fault) {
			return nil, err
		}
		return nil, outcome.Store(err, "record withdrawal").WithAgent(agentID.String())
	}
	if !acquired {
		return nil, outcome.Wrap(outcome.KindStoreUnavailable, domain.ErrWithdrawalBusy,
			"another withdrawal for this agent is in progress").WithAgent(agentID.String())
	}
	return withdrawal, nil
}

func (s *Service) insertWithinBalance(ctx context.Context, agentID snowflake.ID, amount decimal.Decimal) (*domain.Withdrawal, error) {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	now := s.clock.Now()
	withdrawal := &domain.Withdrawal{
		ID:        s.genID.Generate(),
		AgentID:   agentID,
		Amount:    amount,
		Status:    domain.StatusPending,
		CreatedAt: now,
	}

	err := s.db.WithContext(storeCtx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.LockAgent(storeCtx, tx, agentID, now); err != nil {
			return err
		}
		balance, err := s.balance(storeCtx, tx, agentID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(balance.Available) {
			return outcome.Wrap(outcome.KindInsufficientBalance, domain.ErrInsufficientBalance,
				fmt.Sprintf("requested %s exceeds available balance %s",
					amount.StringFixed(minorUnitPlaces), balance.Available.StringFixed(minorUnitPlaces)),
			).WithAgent(agentID.String())
		}
		if err := s.repo.Insert(storeCtx, tx, withdrawal); err != nil {
			return err
		}
		if s.outbox == nil {
			return nil
		}
		return s.outbox.PublishTx(storeCtx, tx, events.Event{
			Type: events.EventWithdrawalRequested,
			Payload: map[string]any{
				"withdrawalId": withdrawal.ID.String(),
				"agentId":      agentID.String(),
				"amount":       amount.StringFixed(minorUnitPlaces),
			},
			DedupeKey: "withdrawal:" + withdrawal.ID.String(),
		})
	})
	if err != nil {
		return nil, err
	}
	return withdrawal, nil
}

func (s *Service) Balance(ctx context.Context, agentID snowflake.ID) (domain.Balance, error) {
	if agentID == 0 {
		return domain.Balance{}, outcome.Wrap(outcome.KindInvalidRequest, domain.ErrInvalidAgent, "agentId is required")
	}
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	balance, err := s.balance(storeCtx, s.db, agentID)
	if err != nil {
		return domain.Balance{}, outcome.Store(err, "compute balance").WithAgent(agentID.String())
	}
	return balance, nil
}

func (s *Service) balance(ctx context.Context, db *gorm.DB, agentID snowflake.ID) (domain.Balance, error) {
	earnings, err := s.commissions.SumAgentEarnings(ctx, db, agentID)
	if err != nil {
		return domain.Balance{}, err
	}
	withdrawn, err := s.repo.SumApproved(ctx, db, agentID)
	if err != nil {
		return domain.Balance{}, err
	}
	return domain.Balance{
		AgentID:        agentID,
		TotalEarnings:  earnings,
		TotalWithdrawn: withdrawn,
		Available:      earnings.Sub(withdrawn),
	}, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	if req.AgentID == 0 {
		return domain.ListResponse{}, outcome.Wrap(outcome.KindInvalidRequest, domain.ErrInvalidAgent, "agentId is required")
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > pagination.MaxPageSize {
		pageSize = pagination.MaxPageSize
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	items, err := s.repo.List(storeCtx, s.db, req.AgentID, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.ListResponse{}, outcome.Store(err, "list withdrawals").WithAgent(req.AgentID.String())
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(w *domain.Withdrawal) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        w.ID.String(),
			CreatedAt: w.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > pageSize {
		items = items[:pageSize]
	}

	withdrawals := make([]domain.Withdrawal, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		withdrawals = append(withdrawals, *item)
	}

	resp := domain.ListResponse{Withdrawals: withdrawals}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
