package ratelimit

import (
	"context"
	"errors"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/homeledger/internal/config"
	"go.uber.org/fx"
)

const keyWithdrawalAgent = "homeledger:ratelimit:withdrawal:"

type Params struct {
	fx.In

	Config config.Config
	Client *redis.Client `optional:"true"`
}

// WithdrawalLimiter throttles withdrawal requests per agent. A nil limiter
// allows everything.
type WithdrawalLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewWithdrawalLimiter(p Params) (*WithdrawalLimiter, error) {
	limitCfg := p.Config.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if p.Client == nil {
		return nil, errors.New("withdrawal rate limit requires REDIS_ADDR")
	}
	return NewWithdrawalLimiterWithClient(p.Client, limitCfg.WithdrawalRate, limitCfg.WithdrawalBurst)
}

func NewWithdrawalLimiterWithClient(client redis.Scripter, rate float64, burst int) (*WithdrawalLimiter, error) {
	if rate <= 0 || burst <= 0 {
		return nil, errors.New("withdrawal rate limit must be positive")
	}
	return &WithdrawalLimiter{
		bucket: NewTokenBucket(client),
		rate:   rate,
		burst:  burst,
	}, nil
}

func (l *WithdrawalLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *WithdrawalLimiter) AllowAgent(ctx context.Context, agentID string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, keyWithdrawalAgent+strings.TrimSpace(agentID), l.rate, l.burst)
}
