package aggregator

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/homeledger/internal/analytics/domain"
	"github.com/smallbiznis/homeledger/internal/clock"
	commissiondomain "github.com/smallbiznis/homeledger/internal/commission/domain"
	"github.com/smallbiznis/homeledger/internal/config"
	"github.com/smallbiznis/homeledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/homeledger/internal/observability/metrics"
	"github.com/smallbiznis/homeledger/internal/outcome"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
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
	Pipeline    *obsmetrics.PipelineMetrics `optional:"true"`
}

type Aggregator struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	timeout     time.Duration
	repo        domain.Repository
	commissions commissiondomain.Repository
	pipeline    *obsmetrics.PipelineMetrics
}

func New(p Params) *Aggregator {
	return &Aggregator{
		db:          p.DB,
		log:         p.Log.Named("analytics.aggregator"),
		genID:       p.GenID,
		clock:       p.Clock,
		timeout:     p.Config.StoreTimeout,
		repo:        p.Repo,
		commissions: p.Commissions,
		pipeline:    p.Pipeline,
	}
}

// Totals are the sums of one day's commissions.
type Totals struct {
	Total        decimal.Decimal
	Platform     decimal.Decimal
	Agent        decimal.Decimal
	Transactions int64
}

// Summarize adds up commissions by recipient.
func Summarize(commissions []commissiondomain.Commission) Totals {
	totals := Totals{Total: decimal.Zero, Platform: decimal.Zero, Agent: decimal.Zero}
	for _, c := range commissions {
		totals.Total = totals.Total.Add(c.Amount)
		switch c.CommissionFor {
		case commissiondomain.CommissionForPlatform:
			totals.Platform = totals.Platform.Add(c.Amount)
		case commissiondomain.CommissionForAgent:
			totals.Agent = totals.Agent.Add(c.Amount)
		}
		totals.Transactions++
	}
	return totals
}

// Aggregate rolls up commissions created during the UTC day containing
// date. A day with no commissions yields a zero row. Running it again for
// the same date replaces the totals.
func (a *Aggregator) Aggregate(ctx context.Context, date time.Time) (*domain.CommissionAnalytics, error) {
	from := domain.Day(date)
	to := from.AddDate(0, 0, 1)
	log := logger.WithContext(ctx, a.log).With(zap.String("date", from.Format(time.DateOnly)))
	started := time.Now()

	row, err := a.aggregate(ctx, from, to)
	state := "AGGREGATED"
	if err != nil {
		state = "FAILED"
	}
	a.pipeline.IncRun(obsmetrics.PipelineAnalytics, state, string(outcome.KindOf(err)))
	a.pipeline.ObserveStage(obsmetrics.PipelineAnalytics, state, time.Since(started))

	if err != nil {
		log.Error("commission analytics failed", zap.Error(err))
		return nil, err
	}
	log.Info("commission analytics aggregated",
		zap.String("total_commission", row.TotalCommission.StringFixed(2)),
		zap.Int64("total_transactions", row.TotalTransactions),
	)
	return row, nil
}

func (a *Aggregator) aggregate(ctx context.Context, from, to time.Time) (*domain.CommissionAnalytics, error) {
	storeCtx, cancel := a.storeContext(ctx)
	defer cancel()

	commissions, err := a.commissions.ListCreatedBetween(storeCtx, a.db, from, to)
	if err != nil {
		return nil, outcome.Store(err, "list commissions")
	}
	totals := Summarize(commissions)

	now := a.clock.Now()
	row := &domain.CommissionAnalytics{
		ID:                 a.genID.Generate(),
		Date:               datatypes.Date(from),
		TotalCommission:    totals.Total,
		PlatformCommission: totals.Platform,
		AgentCommission:    totals.Agent,
		TotalTransactions:  totals.Transactions,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := a.repo.Upsert(storeCtx, a.db, row); err != nil {
		return nil, outcome.Store(err, "upsert commission analytics")
	}

	stored, err := a.repo.FindByDate(storeCtx, a.db, from)
	if err != nil {
		return nil, outcome.Store(err, "reload commission analytics")
	}
	if stored == nil {
		return row, nil
	}
	return stored, nil
}

func (a *Aggregator) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}
