package commands

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newChunksCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chunks <file>",
		Short: "List the chunks of a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(e *env) error {
				s, err := e.open(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				tbl := newTable(cmd.OutOrStdout(), "#", "Offset", "Size", "Version", "Start", "Duration", "Ticks/s", "Compressed", "Final")

				for _, d := range s.Chunks() {
					h := d.Header
					tbl.AppendRow([]any{
						d.Index,
						d.Offset,
						humanize.IBytes(uint64(d.Size())), //nolint:gosec // validated chunk sizes are positive.
						fmt.Sprintf("%d.%d", h.Major, h.Minor),
						d.Start().UTC().Format(time.RFC3339),
						d.Duration(),
						humanize.Comma(h.TicksPerSecond),
						d.Compressed(),
						d.Final(),
					})
				}

				tbl.Render()
				reportTruncation(cmd.ErrOrStderr(), s.Truncation())

				return nil
			})
		},
	}
}
