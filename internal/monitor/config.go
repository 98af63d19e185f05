package monitor

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines staleness monitoring configuration.
type Config struct {
	CheckInterval    time.Duration           `yaml:"check_interval"`
	DefaultThreshold time.Duration           `yaml:"default_threshold"`
	Devices          map[string]DeviceConfig `yaml:"devices"`
}

// DeviceConfig overrides monitoring settings for one device.
type DeviceConfig struct {
	Threshold time.Duration `yaml:"threshold"`
	Disabled  bool          `yaml:"disabled"`
}

// LoadConfig loads config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		CheckInterval:    getenvDuration("MONITOR_CHECK_INTERVAL", time.Minute),
		DefaultThreshold: getenvDuration("MONITOR_STALENESS_THRESHOLD", 5*time.Minute),
	}

	if path := os.Getenv("MONITOR_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.CheckInterval <= 0 {
		return cfg, errors.New("monitor: check interval must be positive")
	}
	if cfg.DefaultThreshold <= 0 {
		return cfg, errors.New("monitor: staleness threshold must be positive")
	}
	return cfg, nil
}

// ThresholdFor returns the staleness threshold for a device.
func (c Config) ThresholdFor(device string) time.Duration {
	if c.Devices != nil {
		if override, ok := c.Devices[device]; ok && override.Threshold > 0 {
			return override.Threshold
		}
	}
	return c.DefaultThreshold
}

// Monitored reports whether a device should be checked.
func (c Config) Monitored(device string) bool {
	if c.Devices != nil {
		if override, ok := c.Devices[device]; ok && override.Disabled {
			return false
		}
	}
	return true
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
