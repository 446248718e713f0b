package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/flightrec/pkg/metadata"
)

type metadataOptions struct {
	chunk    int
	ids      bool
	builtins bool
}

func newMetadataCommand(opts *globalOptions) *cobra.Command {
	mo := &metadataOptions{}

	cmd := &cobra.Command{
		Use:   "metadata <file>",
		Short: "Dump the schema of one chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(e *env) error {
				s, err := e.open(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				reg, err := s.Metadata(mo.chunk)
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()

				heading(w, "chunk %d: %d types, %d events, fingerprint %016x",
					mo.chunk, reg.Len(), len(reg.Events()), reg.Fingerprint())

				if err := reg.Dump(w, metadata.DumpOptions{IDs: mo.ids, Builtins: mo.builtins}); err != nil {
					return fmt.Errorf("dump chunk %d: %w", mo.chunk, err)
				}

				return nil
			})
		},
	}

	cmd.Flags().IntVar(&mo.chunk, "chunk", 0, "chunk index")
	cmd.Flags().BoolVar(&mo.ids, "ids", false, "include chunk-local type ids")
	cmd.Flags().BoolVar(&mo.builtins, "builtins", false, "include primitive types")

	return cmd
}
