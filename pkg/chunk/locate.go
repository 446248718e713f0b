package chunk

import (
	"bytes"
	"errors"
	"fmt"
)

// Locate scans data for consecutive chunks. A foreign or corrupt input fails
// fast with a *FormatError. When the last chunk is short or still being
// written, Locate returns the complete chunks together with a
// *TruncationError.
func Locate(data []byte) ([]Descriptor, error) {
	if len(data) == 0 {
		return nil, &FormatError{Err: ErrEmpty}
	}

	var descs []Descriptor

	for off := int64(0); off < int64(len(data)); {
		rest := data[off:]

		if !hasMagicPrefix(rest) {
			return nil, &FormatError{Offset: off, Err: fmt.Errorf("%w: % x", ErrBadMagic, rest[:min(len(rest), len(Magic))])}
		}

		h, err := ParseHeader(rest)

		switch {
		case errors.Is(err, ErrTruncated):
			return descs, &TruncationError{Offset: off, Declared: HeaderSize, Available: int64(len(rest)), Complete: len(descs)}
		case err != nil:
			return nil, &FormatError{Offset: off, Err: err}
		case h.InProgress() || h.Size > int64(len(rest)):
			return descs, &TruncationError{Offset: off, Declared: h.Size, Available: int64(len(rest)), Complete: len(descs)}
		}

		if err := h.validate(); err != nil {
			return nil, &FormatError{Offset: off, Err: err}
		}

		descs = append(descs, Descriptor{Index: len(descs), Offset: off, Header: h})
		off += h.Size
	}

	return descs, nil
}

// hasMagicPrefix reports whether b starts with the chunk magic, or with a
// prefix of it when b is shorter than the magic.
func hasMagicPrefix(b []byte) bool {
	if len(b) < len(Magic) {
		return bytes.HasPrefix(Magic, b)
	}

	return bytes.Equal(b[:len(Magic)], Magic)
}
