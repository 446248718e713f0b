package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/flightrec/pkg/recording"
	"github.com/Sumatoshi-tech/flightrec/pkg/value"
)

// ErrUnknownFormat indicates an unsupported --format value.
var ErrUnknownFormat = errors.New("unknown output format")

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// printedEvent is the output document of one event.
type printedEvent struct {
	Type   string        `json:"type"   yaml:"type"`
	Chunk  int           `json:"chunk"  yaml:"chunk"`
	Offset int64         `json:"offset" yaml:"offset"`
	Fields *value.Object `json:"fields" yaml:"fields"`
}

type eventEncoder interface {
	Encode(v any) error
}

type printOptions struct {
	types  []string
	format string
	limit  int
}

func newPrintCommand(opts *globalOptions) *cobra.Command {
	po := &printOptions{}

	cmd := &cobra.Command{
		Use:   "print <file>",
		Short: "Print decoded events",
		Long: `Print decodes events in record order, one document per event.
Pool references are expanded; a reference met again inside its own
expansion prints as {"$ref": type, "id": id}.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(e *env) error {
				return runPrint(cmd, e, args[0], po)
			})
		},
	}

	cmd.Flags().StringSliceVar(&po.types, "type", nil, "event types to print (repeatable; default all)")
	cmd.Flags().StringVar(&po.format, "format", formatJSON, "output format: json or yaml")
	cmd.Flags().IntVar(&po.limit, "limit", 0, "stop after N events (0 = no limit)")

	return cmd
}

func newEncoder(w io.Writer, format string) (eventEncoder, func() error, error) {
	switch format {
	case formatJSON:
		return json.NewEncoder(w), func() error { return nil }, nil
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		return enc, enc.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func runPrint(cmd *cobra.Command, e *env, path string, po *printOptions) error {
	enc, flush, err := newEncoder(cmd.OutOrStdout(), po.format)
	if err != nil {
		return err
	}

	// One worker keeps output in record order across chunks.
	s, err := e.open(cmd.Context(), path, recording.WithWorkers(1))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var (
		mu      sync.Mutex
		printed int
	)

	handle := func(ev recording.Event, ctl *recording.Control) error {
		mu.Lock()
		defer mu.Unlock()

		if po.limit > 0 && printed >= po.limit {
			return nil
		}

		doc := printedEvent{Type: ev.Name(), Chunk: ctl.Chunk().Index, Offset: ctl.Position(), Fields: ev.Fields}
		if encErr := enc.Encode(doc); encErr != nil {
			return fmt.Errorf("encode %s: %w", ev.Name(), encErr)
		}

		printed++
		if po.limit > 0 && printed >= po.limit {
			cancel()
		}

		return nil
	}

	if len(po.types) == 0 {
		s.HandleAll(handle)
	} else {
		for _, t := range po.types {
			s.HandleType(t, handle)
		}
	}

	runErr := s.Run(ctx)
	if errors.Is(runErr, context.Canceled) && cmd.Context().Err() == nil {
		runErr = nil
	}

	reportTruncation(cmd.ErrOrStderr(), s.Truncation())

	return errors.Join(runErr, flush())
}
