package jfrtest

import (
	"github.com/Sumatoshi-tech/flightrec/pkg/cursor"
)

// Span locates one event record inside a built chunk. Offsets are absolute.
type Span struct {
	TypeID  int64
	Start   int
	Payload int
	End     int
}

// EventSpans lists the event records of the chunk starting at offset in
// data, skipping metadata and constant-pool records. It panics on malformed
// framing, which only a broken builder can produce.
func EventSpans(data []byte, offset int) []Span {
	size := int(int64FromBE(data[offset+8 : offset+16]))
	compressed := data[offset+HeaderSize-1]&1 != 0
	c := cursor.New(data, offset+HeaderSize, offset+size, compressed)

	var spans []Span

	for c.Remaining() > 0 {
		start := c.Pos()

		n, err := c.Int()
		if err != nil {
			panic(err)
		}

		typeID, err := c.Long()
		if err != nil {
			panic(err)
		}

		end := start + int(n)
		if typeID > 1 {
			spans = append(spans, Span{TypeID: typeID, Start: start, Payload: c.Pos(), End: end})
		}

		if err := c.SetPos(end); err != nil {
			panic(err)
		}
	}

	return spans
}

func int64FromBE(b []byte) int64 {
	var v int64
	for _, x := range b {
		v = v<<8 | int64(x)
	}

	return v
}
