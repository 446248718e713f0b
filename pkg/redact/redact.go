// Package redact produces same-size replacements for event field bytes.
//
// A redaction tool walks events with a recording.Listener, picks field
// ranges from RawEvent.Fields and overwrites them in place. Replacements must
// keep the record size, so every encoder here takes the exact byte count to
// fill. Encoders target chunks with compressed integers.
package redact

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/Sumatoshi-tech/flightrec/pkg/plan"
	"github.com/Sumatoshi-tech/flightrec/pkg/safeconv"
)

// Sentinel errors.
var (
	// ErrNoEncoding indicates that no encoding fills exactly the requested size.
	ErrNoEncoding = errors.New("no encoding of the requested size")
	// ErrSizeMismatch indicates a replacement whose length differs from its range.
	ErrSizeMismatch = errors.New("replacement size differs from field size")
	// ErrOutOfRange indicates a field range outside the buffer.
	ErrOutOfRange = errors.New("field range outside buffer")
)

const (
	tagUTF8     = 3
	padByte     = '*'
	maxPrefix   = 5
	maxVarlong  = 9
	payloadBits = 7
)

// EncodeText encodes s as a UTF-8 text value occupying exactly size bytes:
// the tag, a length prefix of 1 to 5 bytes and the payload. Non-minimal
// prefixes absorb the slack, and the payload is truncated at a rune boundary
// or padded with '*' to fit.
func EncodeText(s string, size int) ([]byte, error) {
	for width := 1; width <= maxPrefix; width++ {
		n := size - 1 - width
		if n < 0 {
			break
		}

		if !fits(safeconv.MustIntToUint64(n), width) {
			continue
		}

		out := make([]byte, 0, size)
		out = append(out, tagUTF8)
		out = appendPadded(out, safeconv.MustIntToUint64(n), width)
		out = append(out, fill(s, n)...)

		return out, nil
	}

	return nil, fmt.Errorf("%w: text in %d bytes", ErrNoEncoding, size)
}

// EncodeVarlong encodes v as a varint of exactly size bytes.
func EncodeVarlong(v int64, size int) ([]byte, error) {
	if size < 1 || size > maxVarlong {
		return nil, fmt.Errorf("%w: varlong in %d bytes", ErrNoEncoding, size)
	}

	u := uint64(v) //nolint:gosec // two's complement bit pattern is the wire form.
	if !fits(u, size) {
		return nil, fmt.Errorf("%w: %d in %d bytes", ErrNoEncoding, v, size)
	}

	return appendPadded(make([]byte, 0, size), u, size), nil
}

// Overwrite replaces the bytes of r in buf with replacement.
func Overwrite(buf []byte, r plan.FieldRange, replacement []byte) error {
	if r.Start < 0 || r.End > len(buf) || r.Start > r.End {
		return fmt.Errorf("%w: %s [%d,%d) of %d", ErrOutOfRange, r.Name, r.Start, r.End, len(buf))
	}

	if len(replacement) != r.Len() {
		return fmt.Errorf("%w: %s has %d bytes, replacement %d", ErrSizeMismatch, r.Name, r.Len(), len(replacement))
	}

	copy(buf[r.Start:r.End], replacement)

	return nil
}

// fits reports whether u can be written as a varint of width bytes.
func fits(u uint64, width int) bool {
	if width >= maxVarlong {
		return true
	}

	return u>>(payloadBits*width) == 0
}

// appendPadded writes u as a varint of exactly width bytes. The ninth byte of
// a full-width varint carries eight bits.
func appendPadded(out []byte, u uint64, width int) []byte {
	for i := range width - 1 {
		out = append(out, byte(u>>(payloadBits*i))&0x7f|0x80)
	}

	last := u >> (payloadBits * (width - 1))
	if width < maxVarlong {
		last &= 0x7f
	}

	return append(out, byte(last))
}

func fill(s string, n int) []byte {
	if len(s) > n {
		s = s[:n]
		for len(s) > 0 && !utf8.ValidString(s) {
			s = s[:len(s)-1]
		}
	}

	out := make([]byte, n)
	copy(out, s)

	for i := len(s); i < n; i++ {
		out[i] = padByte
	}

	return out
}
