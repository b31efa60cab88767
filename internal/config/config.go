// Package config loads scopectl settings from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rjboer/GoScope/internal/logging"
	"github.com/rjboer/GoScope/internal/mdns"
	"github.com/rjboer/GoScope/internal/scope"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "scopectl.yaml"

// Config holds every setting scopectl reads from disk.
type Config struct {
	Instrument  InstrumentConfig  `yaml:"instrument"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Logging     LoggingConfig     `yaml:"logging"`
	Web         WebConfig         `yaml:"web"`
}

type InstrumentConfig struct {
	// Resource is a VISA style resource string; empty auto-discovers.
	Resource         string        `yaml:"resource"`
	Timeout          time.Duration `yaml:"timeout"`
	ConnectAttempts  int           `yaml:"connect_attempts"`
	ConnectBaseDelay time.Duration `yaml:"connect_base_delay"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	TriggerWait      time.Duration `yaml:"trigger_wait"`
}

type AcquisitionConfig struct {
	Channel     int    `yaml:"channel"`
	MemoryDepth string `yaml:"memory_depth"` // "" leaves the instrument setting alone
	Scale       string `yaml:"scale"`
}

type DiscoveryConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	Services []string      `yaml:"services"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type WebConfig struct {
	ListenAddr   string `yaml:"listen_addr"`
	HistoryLimit int    `yaml:"history_limit"`
}

// Default returns the settings used when no file exists.
func Default() Config {
	d := scope.DefaultOptions()
	return Config{
		Instrument: InstrumentConfig{
			Timeout:          d.Timeout,
			ConnectAttempts:  d.ConnectAttempts,
			ConnectBaseDelay: d.ConnectBaseDelay,
			PollInterval:     d.PollInterval,
			RetryDelay:       d.RetryDelay,
			SettleDelay:      d.SettleDelay,
			TriggerWait:      d.TriggerWait,
		},
		Acquisition: AcquisitionConfig{
			Channel: 1,
			Scale:   string(scope.ScaleUint8),
		},
		Discovery: DiscoveryConfig{
			Timeout:  d.DiscoveryTimeout,
			Services: append([]string(nil), mdns.DefaultServices...),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Web: WebConfig{
			ListenAddr:   "",
			HistoryLimit: 500,
		},
	}
}

// Load reads path over the defaults and applies environment overrides
// through lookup. A missing file is not an error.
func Load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if lookup != nil {
		cfg.ApplyEnv(lookup)
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides settings from SCOPE_* variables. Unparsable values
// are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	c.Instrument.Resource = envString(lookup, "SCOPE_RESOURCE", c.Instrument.Resource)
	c.Instrument.Timeout = envDuration(lookup, "SCOPE_TIMEOUT", c.Instrument.Timeout)
	c.Instrument.ConnectAttempts = envInt(lookup, "SCOPE_CONNECT_ATTEMPTS", c.Instrument.ConnectAttempts)
	c.Acquisition.Channel = envInt(lookup, "SCOPE_CHANNEL", c.Acquisition.Channel)
	c.Discovery.Timeout = envDuration(lookup, "SCOPE_DISCOVERY_TIMEOUT", c.Discovery.Timeout)
	c.Logging.Level = envString(lookup, "SCOPE_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = envString(lookup, "SCOPE_LOG_FORMAT", c.Logging.Format)
	c.Web.ListenAddr = envString(lookup, "SCOPE_WEB_ADDR", c.Web.ListenAddr)
	c.Web.HistoryLimit = envInt(lookup, "SCOPE_HISTORY_LIMIT", c.Web.HistoryLimit)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"instrument.timeout", c.Instrument.Timeout},
		{"instrument.connect_base_delay", c.Instrument.ConnectBaseDelay},
		{"instrument.poll_interval", c.Instrument.PollInterval},
		{"instrument.retry_delay", c.Instrument.RetryDelay},
		{"instrument.settle_delay", c.Instrument.SettleDelay},
		{"instrument.trigger_wait", c.Instrument.TriggerWait},
		{"discovery.timeout", c.Discovery.Timeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", d.name, d.d)
		}
	}
	if c.Instrument.ConnectAttempts < 1 {
		return fmt.Errorf("instrument.connect_attempts must be at least 1, got %d", c.Instrument.ConnectAttempts)
	}
	if c.Acquisition.Channel < scope.MinChannel || c.Acquisition.Channel > scope.MaxChannel {
		return fmt.Errorf("acquisition.channel must be %d..%d, got %d", scope.MinChannel, scope.MaxChannel, c.Acquisition.Channel)
	}
	if _, err := scope.ParseScale(c.Acquisition.Scale); err != nil {
		return fmt.Errorf("acquisition.scale: %w", err)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		return fmt.Errorf("logging.format: %w", err)
	}
	if c.Web.HistoryLimit < 1 {
		return fmt.Errorf("web.history_limit must be positive, got %d", c.Web.HistoryLimit)
	}
	return nil
}

// Save writes the config as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ScopeOptions maps the instrument and discovery settings onto scope
// options.
func (c Config) ScopeOptions(logger logging.Logger) scope.Options {
	opts := scope.DefaultOptions()
	opts.Timeout = c.Instrument.Timeout
	opts.ConnectAttempts = c.Instrument.ConnectAttempts
	opts.ConnectBaseDelay = c.Instrument.ConnectBaseDelay
	opts.PollInterval = c.Instrument.PollInterval
	opts.RetryDelay = c.Instrument.RetryDelay
	opts.SettleDelay = c.Instrument.SettleDelay
	opts.TriggerWait = c.Instrument.TriggerWait
	opts.DiscoveryTimeout = c.Discovery.Timeout
	opts.DiscoveryServices = c.Discovery.Services
	opts.Logger = logger
	return opts
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envDuration(lookup func(string) (string, bool), key string, def time.Duration) time.Duration {
	if val, ok := lookup(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return def
}
