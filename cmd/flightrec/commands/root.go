// Package commands implements CLI command handlers for flightrec.
package commands

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/flightrec/internal/config"
	"github.com/Sumatoshi-tech/flightrec/internal/observability"
	"github.com/Sumatoshi-tech/flightrec/pkg/recording"
	"github.com/Sumatoshi-tech/flightrec/pkg/version"
)

// ErrInputTooLarge indicates a recording above decode.max_input_size.
var ErrInputTooLarge = errors.New("recording exceeds decode.max_input_size")

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath   string
	workers      int
	logLevel     string
	logJSON      bool
	metricsAddr  string
	otlpEndpoint string
	noColor      bool
}

// NewRootCommand creates the flightrec command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "flightrec",
		Short: "Decode JDK Flight Recorder recordings",
		Long: `flightrec decodes chunked JDK Flight Recorder (.jfr) files.

Commands:
  summary      Per-type event counts and sizes
  print        Decoded events as JSON or YAML
  metadata     Schema of one chunk
  chunks       Chunk table
  schema-diff  Compare the schemas of two recordings`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default .flightrec.yaml in . or $HOME)")
	flags.IntVar(&opts.workers, "workers", 0, "chunks decoded concurrently (0 = GOMAXPROCS)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&opts.logJSON, "log-json", false, "log as JSON")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	flags.StringVar(&opts.otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC collector address")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newSummaryCommand(opts),
		newPrintCommand(opts),
		newMetadataCommand(opts),
		newChunksCommand(opts),
		newSchemaDiffCommand(opts),
		newVersionCommand(),
	)

	return root
}

// env is the runtime of one command invocation.
type env struct {
	cfg       *config.Config
	providers observability.Providers
	pctx      *recording.Context
	diag      *observability.DiagnosticsServer
}

func (o *globalOptions) setup(cmd *cobra.Command) (*env, error) {
	if o.noColor {
		color.NoColor = true //nolint:reassign // intentional override of library global
	}

	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}

	o.override(cmd, cfg)

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate flags: %w", validateErr)
	}

	obsCfg, err := cfg.Observability(version.Version)
	if err != nil {
		return nil, err
	}

	providers, err := observability.InitWithWriter(obsCfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	e := &env{cfg: cfg, providers: providers}

	if cfg.Telemetry.MetricsAddr != "" {
		e.diag, err = observability.NewDiagnosticsServer(cfg.Telemetry.MetricsAddr, providers.MetricsHandler, providers.Logger)
		if err != nil {
			return nil, errors.Join(err, providers.Shutdown(cmd.Context()))
		}
	}

	e.pctx, err = recording.NewContext(
		recording.WithLogger(providers.Logger),
		recording.WithMeter(providers.Meter),
		recording.WithTracer(providers.Tracer),
		recording.WithCacheSize(cfg.Decode.CacheSize),
		recording.WithStrategy(cfg.Decode.Strategy),
	)
	if err != nil {
		return nil, errors.Join(err, e.close(cmd.Context()))
	}

	return e, nil
}

// override applies explicitly set flags on top of file and env settings.
func (o *globalOptions) override(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("workers") {
		cfg.Decode.Workers = o.workers
	}

	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}

	if flags.Changed("log-json") {
		cfg.Log.JSON = o.logJSON
	}

	if flags.Changed("metrics-addr") {
		cfg.Telemetry.MetricsAddr = o.metricsAddr
	}

	if flags.Changed("otlp-endpoint") {
		cfg.Telemetry.OTLPEndpoint = o.otlpEndpoint
	}
}

func (e *env) close(ctx context.Context) error {
	var diagErr error
	if e.diag != nil {
		diagErr = e.diag.Close()
	}

	return errors.Join(diagErr, e.providers.Shutdown(context.WithoutCancel(ctx)))
}

// open creates a session for path with the configured decode options.
func (e *env) open(ctx context.Context, path string, extra ...recording.Option) (*recording.Session, error) {
	limit, err := e.cfg.MaxInputBytes()
	if err != nil {
		return nil, err
	}

	if limit > 0 {
		info, statErr := os.Stat(path)
		if statErr != nil {
			return nil, &recording.ResourceError{Op: "stat", Path: path, Err: statErr}
		}

		if size := uint64(info.Size()); size > limit { //nolint:gosec // file sizes are non-negative.
			return nil, fmt.Errorf("%w: %s is %s, limit %s", ErrInputTooLarge, path, humanize.IBytes(size), humanize.IBytes(limit))
		}
	}

	policy, err := e.cfg.FailurePolicy()
	if err != nil {
		return nil, err
	}

	opts := []recording.Option{
		recording.WithParsingContext(e.pctx),
		recording.WithFailurePolicy(policy),
	}

	if e.cfg.Decode.Workers > 0 {
		opts = append(opts, recording.WithWorkers(e.cfg.Decode.Workers))
	}

	if e.cfg.Decode.StrictTruncation {
		opts = append(opts, recording.WithStrictTruncation())
	}

	if limit > 0 {
		opts = append(opts, recording.WithMaxSize(int64(min(limit, math.MaxInt64)))) //nolint:gosec // clamped above.
	}

	s, err := recording.Open(ctx, path, append(opts, extra...)...)
	if errors.Is(err, recording.ErrTooLarge) {
		return nil, fmt.Errorf("%w: %w", ErrInputTooLarge, err)
	}

	return s, err
}

// withEnv runs fn with a fully set up env and tears it down afterwards.
func (o *globalOptions) withEnv(cmd *cobra.Command, fn func(e *env) error) error {
	e, err := o.setup(cmd)
	if err != nil {
		return err
	}

	runErr := fn(e)

	return errors.Join(runErr, e.close(cmd.Context()))
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
