// Package config loads flightrec settings from a YAML file, FLIGHTREC_
// environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/Sumatoshi-tech/flightrec/internal/observability"
	"github.com/Sumatoshi-tech/flightrec/pkg/plan"
	"github.com/Sumatoshi-tech/flightrec/pkg/recording"
)

// Config is the top-level configuration struct for flightrec.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Decode    DecodeConfig    `mapstructure:"decode"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// DecodeConfig holds session and parsing-context knobs.
type DecodeConfig struct {
	// Workers bounds concurrent chunks; 0 selects GOMAXPROCS.
	Workers          int    `mapstructure:"workers"`
	CacheSize        int    `mapstructure:"cache_size"`
	Strategy         string `mapstructure:"strategy"`
	FailurePolicy    string `mapstructure:"failure_policy"`
	StrictTruncation bool   `mapstructure:"strict_truncation"`
	// MaxInputSize rejects larger files before reading, e.g. "2GiB".
	MaxInputSize string `mapstructure:"max_input_size"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// TelemetryConfig holds OTel export settings.
type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders  string  `mapstructure:"otlp_headers"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	DebugTrace   bool    `mapstructure:"debug_trace"`
	MetricsAddr  string  `mapstructure:"metrics_addr"`
}

// Sentinel errors for configuration validation.
var (
	// ErrInvalidWorkers indicates the workers value is negative.
	ErrInvalidWorkers = errors.New("decode.workers must be non-negative")
	// ErrInvalidCacheSize indicates the plan cache size is negative.
	ErrInvalidCacheSize = errors.New("decode.cache_size must be non-negative")
	// ErrInvalidStrategy indicates an unknown decode strategy.
	ErrInvalidStrategy = errors.New("decode.strategy must be auto, direct or interpreter")
	// ErrInvalidFailurePolicy indicates an unknown failure policy.
	ErrInvalidFailurePolicy = errors.New("decode.failure_policy must be cancel or finish")
	// ErrInvalidMaxInputSize indicates an unparsable size.
	ErrInvalidMaxInputSize = errors.New("decode.max_input_size must be a byte size")
	// ErrInvalidLogLevel indicates an unknown log level.
	ErrInvalidLogLevel = errors.New("log.level must be debug, info, warn or error")
	// ErrInvalidSampleRatio indicates the sample ratio is out of range.
	ErrInvalidSampleRatio = errors.New("telemetry.sample_ratio must be between 0 and 1")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	decodeErr := c.validateDecode()
	if decodeErr != nil {
		return decodeErr
	}

	if _, err := c.LogLevel(); err != nil {
		return err
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return ErrInvalidSampleRatio
	}

	return nil
}

func (c *Config) validateDecode() error {
	if c.Decode.Workers < 0 {
		return ErrInvalidWorkers
	}

	if c.Decode.CacheSize < 0 {
		return ErrInvalidCacheSize
	}

	switch c.Decode.Strategy {
	case "", plan.StrategyAuto, plan.StrategyDirect, plan.StrategyInterpreter:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStrategy, c.Decode.Strategy)
	}

	if _, err := c.FailurePolicy(); err != nil {
		return err
	}

	if _, err := c.MaxInputBytes(); err != nil {
		return err
	}

	return nil
}

// FailurePolicy parses Decode.FailurePolicy.
func (c *Config) FailurePolicy() (recording.FailurePolicy, error) {
	p, err := recording.ParseFailurePolicy(c.Decode.FailurePolicy)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidFailurePolicy, err)
	}

	return p, nil
}

// MaxInputBytes parses Decode.MaxInputSize; 0 means unlimited.
func (c *Config) MaxInputBytes() (uint64, error) {
	if c.Decode.MaxInputSize == "" {
		return 0, nil
	}

	n, err := humanize.ParseBytes(c.Decode.MaxInputSize)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidMaxInputSize, err)
	}

	return n, nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level

	if err := lvl.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Log.Level)
	}

	return lvl, nil
}

// Observability maps the config onto an observability.Config.
func (c *Config) Observability(version string) (observability.Config, error) {
	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version
	obsCfg.OTLPEndpoint = c.Telemetry.OTLPEndpoint
	obsCfg.OTLPInsecure = c.Telemetry.OTLPInsecure
	obsCfg.SampleRatio = c.Telemetry.SampleRatio
	obsCfg.DebugTrace = c.Telemetry.DebugTrace
	obsCfg.TraceVerbose = c.Telemetry.DebugTrace
	obsCfg.Prometheus = c.Telemetry.MetricsAddr != ""
	obsCfg.LogJSON = c.Log.JSON

	lvl, err := c.LogLevel()
	if err != nil {
		return obsCfg, err
	}

	obsCfg.LogLevel = lvl

	if c.Telemetry.OTLPHeaders != "" {
		obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(c.Telemetry.OTLPHeaders)
	}

	return obsCfg, nil
}
