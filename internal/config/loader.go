package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	configName = ".flightrec"
	configType = "yaml"
	// envPrefix maps decode.workers to FLIGHTREC_DECODE_WORKERS.
	envPrefix = "FLIGHTREC"
)

// defaults seeds every key so AutomaticEnv can override keys absent from
// the config file.
var defaults = map[string]any{
	"decode.workers":           DefaultWorkers,
	"decode.cache_size":        DefaultCacheSize,
	"decode.strategy":          DefaultStrategy,
	"decode.failure_policy":    DefaultFailurePolicy,
	"decode.strict_truncation": DefaultStrictTruncation,
	"decode.max_input_size":    DefaultMaxInputSize,
	"log.level":                DefaultLogLevel,
	"log.json":                 DefaultLogJSON,
	"telemetry.otlp_endpoint":  "",
	"telemetry.otlp_headers":   "",
	"telemetry.otlp_insecure":  false,
	"telemetry.sample_ratio":   DefaultSampleRatio,
	"telemetry.debug_trace":    false,
	"telemetry.metrics_addr":   "",
}

// LoadConfig merges defaults, the config file and FLIGHTREC_* environment
// variables, then validates the result. An empty configPath searches for
// .flightrec.yaml in the working directory and then $HOME; finding none is
// not an error.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	switch {
	case configPath != "":
		v.SetConfigFile(configPath)
	default:
		v.SetConfigName(configName)
		v.AddConfigPath(".")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	var notFound viper.ConfigFileNotFoundError
	if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
