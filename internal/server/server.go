package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/homeledger/internal/analytics/aggregator"
	analyticsdomain "github.com/smallbiznis/homeledger/internal/analytics/domain"
	"github.com/smallbiznis/homeledger/internal/clock"
	commissiondomain "github.com/smallbiznis/homeledger/internal/commission/domain"
	"github.com/smallbiznis/homeledger/internal/config"
	diasporaservice "github.com/smallbiznis/homeledger/internal/diaspora/service"
	"github.com/smallbiznis/homeledger/internal/observability"
	obsmiddleware "github.com/smallbiznis/homeledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/homeledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/homeledger/internal/observability/tracing"
	"github.com/smallbiznis/homeledger/internal/outcome"
	"github.com/smallbiznis/homeledger/internal/ratelimit"
	withdrawaldomain "github.com/smallbiznis/homeledger/internal/withdrawal/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Provide(provideAggregator),
	fx.Provide(provideFeeEvaluator),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

// FeeEvaluator handles booking-created events.
type FeeEvaluator interface {
	OnBookingCreated(ctx context.Context, event diasporaservice.BookingEvent) (outcome.Result, error)
}

// Aggregator rolls up one UTC day of commissions.
type Aggregator interface {
	Aggregate(ctx context.Context, date time.Time) (*analyticsdomain.CommissionAnalytics, error)
}

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.Middleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if obsCfg.Debug() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func provideAggregator(a *aggregator.Aggregator) Aggregator {
	return a
}

func provideFeeEvaluator(s *diasporaservice.Service) FeeEvaluator {
	return s
}

// RunHTTP serves the engine on the configured port for the app lifetime.
func RunHTTP(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log = log.Named("http.server")

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine      *gin.Engine
	log         *zap.Logger
	clock       clock.Clock
	commissions commissiondomain.Pipeline
	fees        FeeEvaluator
	aggregator  Aggregator
	withdrawals withdrawaldomain.Service
	limiter     *ratelimit.WithdrawalLimiter
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Log         *zap.Logger
	Clock       clock.Clock
	Commissions commissiondomain.Pipeline
	Fees        FeeEvaluator
	Aggregator  Aggregator
	Withdrawals withdrawaldomain.Service
	Limiter     *ratelimit.WithdrawalLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		log:         p.Log.Named("http.handler"),
		clock:       p.Clock,
		commissions: p.Commissions,
		fees:        p.Fees,
		aggregator:  p.Aggregator,
		withdrawals: p.Withdrawals,
		limiter:     p.Limiter,
	}

	svc.registerInternalRoutes()
	svc.registerAgentRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerInternalRoutes exposes the event triggers. They are meant for the
// platform's own event source and sit behind the internal network.
func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal")

	events := internal.Group("/events")
	events.POST("/payment-confirmed", s.PaymentConfirmed)
	events.POST("/booking-created", s.BookingCreated)

	jobs := internal.Group("/jobs")
	jobs.POST("/commission-analytics", s.RunCommissionAnalytics)
}

func (s *Server) registerAgentRoutes() {
	agents := s.engine.Group("/agents/:agent_id")

	agents.GET("/balance", s.AgentBalance)
	agents.POST("/withdrawals", s.ThrottleWithdrawals(), s.RequestWithdrawal)
	agents.GET("/withdrawals", s.ListWithdrawals)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, outcome.Result{
			ErrorKind:    outcome.KindInvalidRequest,
			ErrorMessage: "route not found",
		})
	})
}
