package app

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from yaml strings like "24h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the runtime tuning for one engine instance.
type Config struct {
	Session struct {
		// MaxSkip bounds how many skipped message keys a session retains.
		MaxSkip uint32 `yaml:"max_skip"`
	} `yaml:"session"`

	Envelope struct {
		// MaxAge rejects envelopes older than this on receive.
		MaxAge Duration `yaml:"max_age"`
		// ClockSkew tolerates slightly future timestamps.
		ClockSkew Duration `yaml:"clock_skew"`
		// DefaultTTL is stamped into envelopes sent without an explicit TTL.
		DefaultTTL uint32 `yaml:"default_ttl"`
	} `yaml:"envelope"`

	Directory struct {
		// BundleCacheTTL bounds how long a fetched peer bundle is reused.
		BundleCacheTTL Duration `yaml:"bundle_cache_ttl"`
	} `yaml:"directory"`

	Rotation struct {
		MediumKeyTTL    Duration `yaml:"medium_key_ttl"`
		GracePeriod     Duration `yaml:"grace_period"`
		OneTimeLowWater int      `yaml:"one_time_low_water"`
		OneTimeBatch    int      `yaml:"one_time_batch"`
		RotateInterval  Duration `yaml:"rotate_interval"`
		SweepInterval   Duration `yaml:"sweep_interval"`
		PublishRetries  uint64   `yaml:"publish_retries"`
	} `yaml:"rotation"`

	Authz struct {
		// FailOpen lets traffic through (audited) when the authorizer is
		// unreachable; the default is fail-closed.
		FailOpen bool `yaml:"fail_open"`
	} `yaml:"authz"`

	Audit struct {
		BufferSize int  `yaml:"buffer_size"`
		DropIfFull bool `yaml:"drop_if_full"`
	} `yaml:"audit"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	var c Config
	c.Session.MaxSkip = 1000
	c.Envelope.MaxAge = Duration(5 * time.Minute)
	c.Envelope.ClockSkew = Duration(30 * time.Second)
	c.Envelope.DefaultTTL = 3600
	c.Directory.BundleCacheTTL = Duration(time.Minute)
	c.Rotation.MediumKeyTTL = Duration(7 * 24 * time.Hour)
	c.Rotation.GracePeriod = Duration(24 * time.Hour)
	c.Rotation.OneTimeLowWater = 10
	c.Rotation.OneTimeBatch = 50
	c.Rotation.RotateInterval = Duration(24 * time.Hour)
	c.Rotation.SweepInterval = Duration(time.Hour)
	c.Rotation.PublishRetries = 5
	c.Audit.BufferSize = 256
	return c
}

// Load reads a yaml config file layered over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot work.
func (c Config) Validate() error {
	if c.Session.MaxSkip == 0 {
		return fmt.Errorf("session.max_skip must be positive")
	}
	if c.Envelope.MaxAge <= 0 {
		return fmt.Errorf("envelope.max_age must be positive")
	}
	if c.Envelope.ClockSkew < 0 {
		return fmt.Errorf("envelope.clock_skew must not be negative")
	}
	if c.Directory.BundleCacheTTL <= 0 {
		return fmt.Errorf("directory.bundle_cache_ttl must be positive")
	}
	if c.Rotation.GracePeriod.Std() >= c.Rotation.MediumKeyTTL.Std() {
		return fmt.Errorf("rotation.grace_period must be shorter than rotation.medium_key_ttl")
	}
	if c.Rotation.OneTimeLowWater > c.Rotation.OneTimeBatch {
		return fmt.Errorf("rotation.one_time_low_water must not exceed rotation.one_time_batch")
	}
	if c.Audit.BufferSize <= 0 {
		return fmt.Errorf("audit.buffer_size must be positive")
	}
	return nil
}
