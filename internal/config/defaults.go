package config

import "github.com/Sumatoshi-tech/flightrec/pkg/plan"

// Default configuration values.
const (
	DefaultWorkers          = 0
	DefaultCacheSize        = plan.DefaultCacheSize
	DefaultStrategy         = plan.StrategyAuto
	DefaultFailurePolicy    = "cancel"
	DefaultStrictTruncation = false
	DefaultMaxInputSize     = "4GiB"
	DefaultLogLevel         = "info"
	DefaultLogJSON          = false
	DefaultSampleRatio      = 0.1
)
