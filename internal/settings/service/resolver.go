package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/homeledger/internal/config"
	"github.com/smallbiznis/homeledger/internal/outcome"
	"github.com/smallbiznis/homeledger/internal/settings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Repo   domain.Repository
	Config config.Config
}

type Resolver struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    domain.Repository
	timeout time.Duration
}

func New(p Params) domain.Resolver {
	return &Resolver{
		db:      p.DB,
		log:     p.Log.Named("settings.resolver"),
		repo:    p.Repo,
		timeout: p.Config.StoreTimeout,
	}
}

// GetRate fails with ConfigMissing when key is absent or holds anything
// other than a decimal in [0, 1). There is no fallback value.
func (r *Resolver) GetRate(ctx context.Context, key string) (decimal.Decimal, error) {
	storeCtx, cancel := r.storeContext(ctx)
	defer cancel()

	setting, err := r.repo.FindByKey(storeCtx, r.db, key)
	if err != nil {
		return decimal.Zero, outcome.Store(err, fmt.Sprintf("read setting %s", key))
	}
	if setting == nil {
		return decimal.Zero, outcome.Wrap(outcome.KindConfigMissing, domain.ErrSettingNotFound,
			fmt.Sprintf("setting %s is not configured", key))
	}

	rate, err := domain.ParseRate(setting.Value)
	if err != nil {
		r.log.Error("invalid rate setting",
			zap.String("key", key),
			zap.String("value", setting.Value),
		)
		return decimal.Zero, outcome.Wrap(outcome.KindConfigMissing, err,
			fmt.Sprintf("setting %s has an invalid rate", key))
	}
	return rate, nil
}

func (r *Resolver) PlatformRate(ctx context.Context, transactionType string) (decimal.Decimal, error) {
	return r.GetRate(ctx, domain.PlatformRateKey(transactionType))
}

func (r *Resolver) AgentRate(ctx context.Context) (decimal.Decimal, error) {
	return r.GetRate(ctx, domain.KeyAgentCommissionRate)
}

func (r *Resolver) DiasporaRate(ctx context.Context) (decimal.Decimal, error) {
	return r.GetRate(ctx, domain.KeyDiasporaEscrowFeeRate)
}

func (r *Resolver) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

