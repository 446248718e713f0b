package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/flightrec/pkg/metadata"
)

// ErrSchemasDiffer is returned by schema-diff --exit-code when schemas differ.
var ErrSchemasDiffer = errors.New("schemas differ")

func newSchemaDiffCommand(opts *globalOptions) *cobra.Command {
	var exitCode bool

	cmd := &cobra.Command{
		Use:   "schema-diff <a> <b>",
		Short: "Compare the first-chunk schemas of two recordings",
		Args:  cobra.ExactArgs(2), //nolint:mnd // two recordings.
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(e *env) error {
				a, err := loadSchema(cmd, e, args[0])
				if err != nil {
					return err
				}

				b, err := loadSchema(cmd, e, args[1])
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()

				if a.Fingerprint() == b.Fingerprint() {
					heading(w, "schemas identical (fingerprint %016x)", a.Fingerprint())

					return nil
				}

				changed, err := writeSchemaDiff(w, a, b)
				if err != nil {
					return err
				}

				if changed && exitCode {
					return ErrSchemasDiffer
				}

				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&exitCode, "exit-code", false, "fail when the schemas differ")

	return cmd
}

func loadSchema(cmd *cobra.Command, e *env, path string) (*metadata.Registry, error) {
	s, err := e.open(cmd.Context(), path)
	if err != nil {
		return nil, err
	}

	return s.Metadata(0)
}

func dumpString(reg *metadata.Registry) (string, error) {
	var b strings.Builder

	if err := reg.Dump(&b, metadata.DumpOptions{}); err != nil {
		return "", err
	}

	return b.String(), nil
}

// writeSchemaDiff prints a line diff of the schema dumps and reports whether
// any line changed.
func writeSchemaDiff(w io.Writer, a, b *metadata.Registry) (bool, error) {
	textA, err := dumpString(a)
	if err != nil {
		return false, err
	}

	textB, err := dumpString(b)
	if err != nil {
		return false, err
	}

	dmp := diffmatchpatch.New()
	charsA, charsB, lines := dmp.DiffLinesToChars(textA, textB)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(charsA, charsB, false), lines)

	removed := color.New(color.FgRed)
	added := color.New(color.FgGreen)
	changed := false

	for _, d := range diffs {
		for line := range strings.SplitSeq(strings.TrimSuffix(d.Text, "\n"), "\n") {
			switch d.Type {
			case diffmatchpatch.DiffDelete:
				changed = true

				removed.Fprintf(w, "- %s\n", line)
			case diffmatchpatch.DiffInsert:
				changed = true

				added.Fprintf(w, "+ %s\n", line)
			case diffmatchpatch.DiffEqual:
				fmt.Fprintf(w, "  %s\n", line)
			}
		}
	}

	return changed, nil
}
