package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homeledger/internal/analytics/aggregator"
	analyticsdomain "github.com/smallbiznis/homeledger/internal/analytics/domain"
	"github.com/smallbiznis/homeledger/internal/clock"
	"github.com/smallbiznis/homeledger/internal/config"
	"github.com/smallbiznis/homeledger/internal/events"
	"github.com/smallbiznis/homeledger/internal/lock"
	obsmetrics "github.com/smallbiznis/homeledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobCommissionAnalytics = "commission_analytics"
	JobEventsRelay         = "events_relay"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Aggregator *aggregator.Aggregator
	Config     Config                         `optional:"true"`
	Operations *config.OperationsConfigHolder `optional:"true"`
	Relay      *events.Relay                  `optional:"true"`
	Locker     *lock.Locker                   `optional:"true"`
	Metrics    *obsmetrics.SchedulerMetrics   `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	operations *config.OperationsConfigHolder
	aggregator *aggregator.Aggregator
	relay      *events.Relay
	locker     *lock.Locker
	metrics    *obsmetrics.SchedulerMetrics

	mu             sync.Mutex
	lastAggregated time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Aggregator == nil {
		return nil, ErrInvalidConfig
	}
	metrics := p.Metrics
	if metrics == nil {
		metrics = obsmetrics.Scheduler()
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		operations: p.Operations,
		aggregator: p.Aggregator,
		relay:      p.Relay,
		locker:     p.Locker,
		metrics:    metrics,
	}, nil
}

// runJob bounds fn by timeout. A job that times out or finds its lock held
// is counted and logged but does not fail the run; the next tick retries.
func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(zap.String("run_id", run.runID))
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 && !errors.Is(err, obsmetrics.ErrLockHeld) {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(name, err)
	switch {
	case errors.Is(err, obsmetrics.ErrLockHeld):
		log.Info("job skipped, lock held elsewhere", zap.Error(err))
		return nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.metrics.IncJobTimeout(name)
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job once and joins their errors.
func (s *Scheduler) RunOnce(parent context.Context) error {
	ops := s.operations.Get().Scheduler
	var err error

	if ops.AnalyticsEnabled && s.isJobEnabled(JobCommissionAnalytics) {
		err = errors.Join(err, s.runJob(parent, JobCommissionAnalytics, 1, s.cfg.AnalyticsTimeout, s.CommissionAnalyticsJob))
	}
	if ops.RelayEnabled && s.relay.Enabled() && s.isJobEnabled(JobEventsRelay) {
		batchSize := ops.RelayBatchSize
		err = errors.Join(err, s.runJob(parent, JobEventsRelay, batchSize, s.cfg.RelayTimeout, func(ctx context.Context) error {
			return s.EventsRelayJob(ctx, batchSize)
		}))
	}

	return err
}

// RunForever calls RunOnce until ctx is done. The interval is re-read
// after every run so operators can change it without a restart.
func (s *Scheduler) RunForever(ctx context.Context) {
	interval := s.runInterval()
	nextRun := s.clock.Now()

	for {
		if runLag := s.clock.Now().Sub(nextRun); runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		interval = s.runInterval()
		nextRun = nextRun.Add(interval)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Scheduler) runInterval() time.Duration {
	interval := s.operations.Get().Scheduler.RunInterval
	if interval <= 0 {
		return config.DefaultOperationsConfig().Scheduler.RunInterval
	}
	return interval
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

// CommissionAnalyticsJob aggregates yesterday's commissions once per UTC
// day per process. Across replicas the lock keeps one aggregation of a
// date at a time.
func (s *Scheduler) CommissionAnalyticsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobCommissionAnalytics, 1)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	date := analyticsdomain.Yesterday(s.clock.Now())
	if s.alreadyAggregated(date) {
		return nil
	}

	key := "job:" + JobCommissionAnalytics + ":" + date.Format(time.DateOnly)
	var transactions int64
	acquired, err := s.locker.Do(ctx, key, s.cfg.AnalyticsLockTTL, func(ctx context.Context) error {
		row, err := s.aggregator.Aggregate(ctx, date)
		if err != nil {
			return err
		}
		transactions = row.TotalTransactions
		return nil
	})
	if err != nil {
		s.logSchedulerError(ctx, run, "commission analytics failed", err, zap.String("date", date.Format(time.DateOnly)))
		return err
	}
	if !acquired {
		return fmt.Errorf("%s: %w", key, obsmetrics.ErrLockHeld)
	}

	s.markAggregated(date)
	run.AddProcessed(int(transactions))
	s.metrics.AddBatchProcessed(JobCommissionAnalytics, "commissions", int(transactions))
	return nil
}

func (s *Scheduler) alreadyAggregated(date time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAggregated.Equal(date)
}

func (s *Scheduler) markAggregated(date time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAggregated = date
}

// EventsRelayJob drains the outbox in batches until a short batch.
func (s *Scheduler) EventsRelayJob(ctx context.Context, batchSize int) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobEventsRelay, batchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	if batchSize <= 0 {
		batchSize = config.DefaultOperationsConfig().Scheduler.RelayBatchSize
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		published, err := s.relay.ProcessPending(ctx, batchSize)
		run.AddProcessed(published)
		s.metrics.AddBatchProcessed(JobEventsRelay, "analytics_events", published)
		if err != nil {
			s.logSchedulerError(ctx, run, "outbox relay failed", err)
			return err
		}
		if published < batchSize {
			return nil
		}
	}
}
