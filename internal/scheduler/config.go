package scheduler

import (
	"time"

	"github.com/smallbiznis/homeledger/internal/config"
)

// Config holds the scheduler settings fixed at startup. Interval and job
// toggles come from the operations config and may change while running.
type Config struct {
	EnabledJobs      []string
	AnalyticsTimeout time.Duration
	RelayTimeout     time.Duration
	AnalyticsLockTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		AnalyticsTimeout: 5 * time.Minute,
		RelayTimeout:     30 * time.Second,
		AnalyticsLockTTL: 10 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	c := DefaultConfig()
	c.EnabledJobs = cfg.SchedulerJobs
	return c
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.AnalyticsTimeout <= 0 {
		c.AnalyticsTimeout = defaults.AnalyticsTimeout
	}
	if c.RelayTimeout <= 0 {
		c.RelayTimeout = defaults.RelayTimeout
	}
	if c.AnalyticsLockTTL <= 0 {
		c.AnalyticsLockTTL = defaults.AnalyticsLockTTL
	}
	return c
}
