package commands

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/flightrec/pkg/chunk"
)

func heading(w io.Writer, format string, args ...any) {
	color.New(color.FgCyan, color.Bold).Fprintf(w, format+"\n", args...)
}

func warn(w io.Writer, format string, args ...any) {
	color.New(color.FgYellow).Fprintf(w, format+"\n", args...)
}

func newTable(w io.Writer, header ...any) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateHeader = true
	tbl.AppendHeader(table.Row(header))

	return tbl
}

func reportTruncation(w io.Writer, trunc *chunk.TruncationError) {
	if trunc == nil {
		return
	}

	warn(w, "warning: recording ends in a truncated chunk at offset %d (%d of %d bytes present); %d complete chunks decoded",
		trunc.Offset, trunc.Available, trunc.Declared, trunc.Complete)
}

func percent(part, total int64) string {
	if total == 0 {
		return "0.0%"
	}

	return fmt.Sprintf("%.1f%%", float64(part)*100/float64(total))
}
