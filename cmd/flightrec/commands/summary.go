package commands

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/flightrec/pkg/recording"
)

func newSummaryCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <file>",
		Short: "Show per-type event counts and sizes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(e *env) error {
				return runSummary(cmd, e, args[0])
			})
		},
	}
}

func runSummary(cmd *cobra.Command, e *env, path string) error {
	s, err := e.open(cmd.Context(), path)
	if err != nil {
		return err
	}

	sum := recording.NewSummary()
	s.Listen(sum)

	if err := s.Run(cmd.Context()); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	events, size := sum.Totals()
	start, dur := sum.Span()
	seen, _ := sum.Chunks()

	heading(w, "%s", path)
	fmt.Fprintf(w, "  size:     %s\n", humanize.IBytes(uint64(s.Size()))) //nolint:gosec // lengths are non-negative.
	fmt.Fprintf(w, "  chunks:   %d\n", seen)
	fmt.Fprintf(w, "  start:    %s\n", start.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(w, "  duration: %s\n", dur)
	fmt.Fprintf(w, "  events:   %s\n\n", humanize.Comma(events))

	tbl := newTable(w, "Event Type", "Count", "Size", "Share")

	for _, r := range sum.Rows() {
		tbl.AppendRow([]any{r.Type, humanize.Comma(r.Count), humanize.IBytes(uint64(r.Bytes)), percent(r.Bytes, size)}) //nolint:gosec // byte totals are non-negative.
	}

	tbl.Render()
	reportTruncation(cmd.ErrOrStderr(), s.Truncation())

	return nil
}
