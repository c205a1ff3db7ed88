package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DunningConfig controls what happens to an active subscription when a
// payment for it fails after the grace period. Disabled by default: a failed
// retry inside the current period should not interrupt service.
type DunningConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	GracePeriodDays int  `mapstructure:"gracePeriodDays"`
}

func DefaultDunningConfig() DunningConfig {
	return DunningConfig{
		Enabled:         false,
		GracePeriodDays: 3,
	}
}

type DunningConfigHolder struct {
	current atomic.Value // holds DunningConfig
}

func NewDunningConfigHolder() (*DunningConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("dunning")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/fleetlane/config")
	v.AddConfigPath("/etc/fleetlane")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FLEETLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultDunningConfig()
		v.SetDefault("dunning.enabled", defaults.Enabled)
		v.SetDefault("dunning.gracePeriodDays", defaults.GracePeriodDays)
	}

	var cfg DunningConfig
	if err := v.UnmarshalKey("dunning", &cfg); err != nil {
		return nil, err
	}
	if err := validateDunningConfig(cfg); err != nil {
		return nil, err
	}

	holder := &DunningConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated DunningConfig
		if err := v.UnmarshalKey("dunning", &updated); err != nil {
			log.Printf("[dunning-config] reload failed: %v", err)
			return
		}
		if err := validateDunningConfig(updated); err != nil {
			log.Printf("[dunning-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[dunning-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticDunningHolder builds a holder pinned to the given config.
func NewStaticDunningHolder(cfg DunningConfig) *DunningConfigHolder {
	holder := &DunningConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *DunningConfigHolder) Get() DunningConfig {
	return h.current.Load().(DunningConfig)
}

func validateDunningConfig(cfg DunningConfig) error {
	if cfg.GracePeriodDays < 0 {
		return errors.New("dunning.gracePeriodDays cannot be negative")
	}
	return nil
}
