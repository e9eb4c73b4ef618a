// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config holds the agent's immutable-after-init configuration:
// defaults, environment overrides, an optional YAML file loader, and
// validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variable names, mirroring the original agent's AIVORY_ENV_*
// constants.
const (
	EnvAPIKey        = "AIVORY_API_KEY"
	EnvBackendURL    = "AIVORY_BACKEND_URL"
	EnvEnvironment   = "AIVORY_ENVIRONMENT"
	EnvSamplingRate  = "AIVORY_SAMPLING_RATE"
	EnvDebug         = "AIVORY_DEBUG"
	EnvCaptureSignal = "AIVORY_CAPTURE_SIGNALS"
)

// Default values.
const (
	DefaultBackendURL        = "wss://api.aivory.net/monitor/agent"
	DefaultEnvironment       = "production"
	DefaultSamplingRate      = 1.0
	DefaultMaxCaptureDepth   = 10
	DefaultMaxStringLength   = 1000
	DefaultMaxCollectionSize = 100
	DefaultQueueSize         = 100
	DefaultMaxStackFrames    = 50
	DefaultMaxReconnectTries = 10
)

// Config is the agent's configuration. It is immutable once passed to
// Init: nothing in this package ever mutates a Config value after
// validation.
type Config struct {
	// APIKey authenticates the agent to the backend. Required, non-empty.
	APIKey string

	// BackendURL is the ws:// or wss:// endpoint of the collection service.
	BackendURL string

	// Environment is a free-form label (e.g. "production", "staging").
	Environment string

	// SamplingRate is the probability in [0,1] that an explicit error is
	// reported. Values >= 1.0 always accept, <= 0.0 always reject.
	SamplingRate float64

	// MaxCaptureDepth bounds how many stack frames are walked.
	MaxCaptureDepth int

	// MaxStringLength truncates a report's message field, marking it as
	// truncated. Other string fields of a report are not truncated.
	MaxStringLength int

	// MaxCollectionSize is passed to the report builder; no field of a
	// report is bounded by it.
	MaxCollectionSize int

	// Debug enables verbose logging of internal agent behavior.
	Debug bool

	// CaptureSignals installs fatal-signal handlers at Init if true.
	CaptureSignals bool

	// QueueSize bounds the outbound backlog (Q in spec terms).
	QueueSize int

	// MaxReconnectAttempts bounds the transport's reconnect loop (M).
	MaxReconnectAttempts int

	// ArchivalEnabled turns on the optional S3 archival spool for
	// dropped/evicted records. Disabled by default.
	ArchivalEnabled bool

	// ArchivalBucket, ArchivalPrefix, ArchivalCronSpec, ArchivalAWSRegion
	// configure the archival spool when ArchivalEnabled is true.
	ArchivalBucket    string
	ArchivalPrefix    string
	ArchivalCronSpec  string
	ArchivalAWSRegion string

	// ArchivalAccessKeyID and ArchivalSecretAccessKey, when both
	// non-empty, are used as static credentials for the archival
	// uploader instead of the default AWS credential chain.
	ArchivalAccessKeyID     string
	ArchivalSecretAccessKey string
}

// Default returns a Config populated with package defaults. Callers
// typically follow this with ApplyEnvironment and then apply explicit
// overrides, per the override precedence in spec.md §6: env values
// override defaults but never explicit host values.
func Default() Config {
	return Config{
		BackendURL:           DefaultBackendURL,
		Environment:          DefaultEnvironment,
		SamplingRate:         DefaultSamplingRate,
		MaxCaptureDepth:      DefaultMaxCaptureDepth,
		MaxStringLength:      DefaultMaxStringLength,
		MaxCollectionSize:    DefaultMaxCollectionSize,
		CaptureSignals:       true,
		QueueSize:            DefaultQueueSize,
		MaxReconnectAttempts: DefaultMaxReconnectTries,
		ArchivalCronSpec:     "@every 15m",
	}
}

// ApplyEnvironment overrides cfg's fields with values read from the
// process environment, where present. Call this on a Default() value
// before layering explicit host options on top, so explicit host values
// always win.
func ApplyEnvironment(cfg Config) Config {
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv(EnvBackendURL); v != "" {
		cfg.BackendURL = v
	}
	if v := os.Getenv(EnvEnvironment); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv(EnvSamplingRate); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SamplingRate = rate
		}
	}
	if v := os.Getenv(EnvDebug); v != "" {
		cfg.Debug = strings.EqualFold(v, "true")
	}
	if v := os.Getenv(EnvCaptureSignal); v != "" {
		cfg.CaptureSignals = !strings.EqualFold(v, "false")
	}
	return cfg
}

// fileConfig is the YAML shape accepted by LoadFile, for host programs
// that prefer a config file over explicit struct construction.
type fileConfig struct {
	APIKey            string  `yaml:"api_key"`
	BackendURL        string  `yaml:"backend_url"`
	Environment       string  `yaml:"environment"`
	SamplingRate      float64 `yaml:"sampling_rate"`
	MaxCaptureDepth   int     `yaml:"max_capture_depth"`
	MaxStringLength   int     `yaml:"max_string_length"`
	MaxCollectionSize int     `yaml:"max_collection_size"`
	Debug             bool    `yaml:"debug"`
	CaptureSignals    *bool   `yaml:"capture_signals"`
	QueueSize         int     `yaml:"queue_size"`

	Archival struct {
		Enabled         bool   `yaml:"enabled"`
		Bucket          string `yaml:"bucket"`
		Prefix          string `yaml:"prefix"`
		CronSpec        string `yaml:"cron_spec"`
		Region          string `yaml:"region"`
		AccessKeyID     string `yaml:"access_key_id"`
		SecretAccessKey string `yaml:"secret_access_key"`
	} `yaml:"archival"`
}

// LoadFile reads and validates a YAML config file, layering it on top of
// Default(). Mirrors the teacher's config.LoadAgentConfig shape.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading agent config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("parsing agent config: %w", err)
	}

	if fc.APIKey != "" {
		cfg.APIKey = fc.APIKey
	}
	if fc.BackendURL != "" {
		cfg.BackendURL = fc.BackendURL
	}
	if fc.Environment != "" {
		cfg.Environment = fc.Environment
	}
	if fc.SamplingRate != 0 {
		cfg.SamplingRate = fc.SamplingRate
	}
	if fc.MaxCaptureDepth != 0 {
		cfg.MaxCaptureDepth = fc.MaxCaptureDepth
	}
	if fc.MaxStringLength != 0 {
		cfg.MaxStringLength = fc.MaxStringLength
	}
	if fc.MaxCollectionSize != 0 {
		cfg.MaxCollectionSize = fc.MaxCollectionSize
	}
	cfg.Debug = fc.Debug
	if fc.CaptureSignals != nil {
		cfg.CaptureSignals = *fc.CaptureSignals
	}
	if fc.QueueSize != 0 {
		cfg.QueueSize = fc.QueueSize
	}
	cfg.ArchivalEnabled = fc.Archival.Enabled
	cfg.ArchivalBucket = fc.Archival.Bucket
	cfg.ArchivalPrefix = fc.Archival.Prefix
	cfg.ArchivalAWSRegion = fc.Archival.Region
	cfg.ArchivalAccessKeyID = fc.Archival.AccessKeyID
	cfg.ArchivalSecretAccessKey = fc.Archival.SecretAccessKey
	if fc.Archival.CronSpec != "" {
		cfg.ArchivalCronSpec = fc.Archival.CronSpec
	}

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("validating agent config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration error kinds named in spec.md §7:
// a missing or empty API key and a malformed backend URL both fail init
// synchronously. The URL's scheme is checked here only superficially
// (ws/wss); full host/port/path parsing lives in internal/transport.
func Validate(cfg Config) error {
	if cfg.APIKey == "" {
		return fmt.Errorf("config: api key is required")
	}
	if !strings.HasPrefix(cfg.BackendURL, "ws://") && !strings.HasPrefix(cfg.BackendURL, "wss://") {
		return fmt.Errorf("config: backend url must use ws:// or wss://, got %q", cfg.BackendURL)
	}
	if cfg.SamplingRate < 0 {
		return fmt.Errorf("config: sampling rate must be >= 0, got %f", cfg.SamplingRate)
	}
	if cfg.ArchivalEnabled && cfg.ArchivalBucket == "" {
		return fmt.Errorf("config: archival.bucket is required when archival is enabled")
	}
	return nil
}
