// Package observability provides OpenTelemetry tracing, decode metrics and
// structured logging for the flightrec CLI and library users.
package observability

import (
	"log/slog"
	"time"
)

// AppMode identifies how the decoder was launched.
type AppMode string

const (
	// ModeCLI is the flightrec command line.
	ModeCLI AppMode = "cli"
	// ModeLibrary is an embedding program driving sessions directly.
	ModeLibrary AppMode = "library"
)

const defaultShutdownTimeout = 5 * time.Second

// Config selects exporters and logging for Init. The zero value of every
// exporter field disables that exporter.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Mode           AppMode

	// OTLPEndpoint is a gRPC collector address such as "localhost:4317".
	OTLPEndpoint string
	OTLPHeaders  map[string]string
	OTLPInsecure bool

	// Prometheus exposes metrics through Providers.MetricsHandler.
	Prometheus bool

	// DebugTrace samples every trace and logs stripped span attributes.
	DebugTrace  bool
	SampleRatio float64
	// TraceVerbose keeps the metadata and plan spans of every chunk.
	TraceVerbose bool

	LogLevel slog.Level
	LogJSON  bool

	ShutdownTimeout time.Duration
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		ServiceName:     "flightrec",
		Mode:            ModeCLI,
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: defaultShutdownTimeout,
	}
}
