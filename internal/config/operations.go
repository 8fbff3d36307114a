package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// OperationsConfig holds knobs that operators may change without a restart.
type OperationsConfig struct {
	Scheduler SchedulerOperations `mapstructure:"scheduler"`
	// Settings are bootstrap values for the settings table. They are only
	// written when a key is absent and are never read by the pipeline.
	Settings map[string]string `mapstructure:"settings"`
}

type SchedulerOperations struct {
	RunInterval      time.Duration `mapstructure:"runInterval"`
	AnalyticsEnabled bool          `mapstructure:"analyticsEnabled"`
	RelayEnabled     bool          `mapstructure:"relayEnabled"`
	RelayBatchSize   int           `mapstructure:"relayBatchSize"`
}

func DefaultOperationsConfig() OperationsConfig {
	return OperationsConfig{
		Scheduler: SchedulerOperations{
			RunInterval:      time.Minute,
			AnalyticsEnabled: true,
			RelayEnabled:     true,
			RelayBatchSize:   100,
		},
		Settings: map[string]string{},
	}
}

type OperationsConfigHolder struct {
	current atomic.Value // holds OperationsConfig
}

func NewOperationsConfigHolder() (*OperationsConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("operations")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/homeledger/config") // Volume-mounted config
	v.AddConfigPath("/etc/homeledger")            // System config
	v.AddConfigPath(".")                          // Current directory (dev mode)

	v.SetEnvPrefix("HOMELEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultOperationsConfig()
	v.SetDefault("scheduler.runInterval", defaults.Scheduler.RunInterval)
	v.SetDefault("scheduler.analyticsEnabled", defaults.Scheduler.AnalyticsEnabled)
	v.SetDefault("scheduler.relayEnabled", defaults.Scheduler.RelayEnabled)
	v.SetDefault("scheduler.relayBatchSize", defaults.Scheduler.RelayBatchSize)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg OperationsConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := validateOperationsConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticOperationsConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated OperationsConfig
		if err := v.Unmarshal(&updated); err != nil {
			log.Printf("[operations-config] reload failed: %v", err)
			return
		}
		if err := validateOperationsConfig(updated); err != nil {
			log.Printf("[operations-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[operations-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticOperationsConfigHolder returns a holder that never reloads.
func NewStaticOperationsConfigHolder(cfg OperationsConfig) *OperationsConfigHolder {
	holder := &OperationsConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *OperationsConfigHolder) Get() OperationsConfig {
	if h == nil {
		return DefaultOperationsConfig()
	}
	return h.current.Load().(OperationsConfig)
}

func validateOperationsConfig(cfg OperationsConfig) error {
	if cfg.Scheduler.RunInterval <= 0 {
		return errors.New("scheduler.runInterval must be positive")
	}
	if cfg.Scheduler.RelayBatchSize <= 0 {
		return errors.New("scheduler.relayBatchSize must be positive")
	}
	for key := range cfg.Settings {
		if strings.TrimSpace(key) == "" {
			return errors.New("settings keys cannot be empty")
		}
	}
	return nil
}
