// Package cursor provides a bounded, seekable reader over an in-memory
// recording. It decodes the fixed-width, variable-length and text encodings
// used inside recording chunks.
package cursor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Sentinel errors returned (wrapped) by Cursor reads.
var (
	// ErrOutOfBounds is returned when a read would cross the cursor limit.
	ErrOutOfBounds = errors.New("read out of bounds")
	// ErrMalformed is returned when bytes cannot encode a valid value.
	ErrMalformed = errors.New("malformed value")
)

// maxVarintBytes is the longest varlong encoding; the last byte carries 8 bits.
const maxVarintBytes = 9

// Cursor is a bounded reader over a byte slice. The zero value is unusable;
// create one with New or Cursor.Sub.
type Cursor struct {
	buf        []byte
	pos        int
	start      int
	limit      int
	compressed bool
}

// New returns a cursor over data[start:limit]. Positions are absolute
// offsets into data. When compressed is true integers use the varint
// encoding, otherwise fixed-width big-endian.
func New(data []byte, start, limit int, compressed bool) *Cursor {
	if limit > len(data) {
		limit = len(data)
	}

	if start < 0 {
		start = 0
	}

	if start > limit {
		start = limit
	}

	return &Cursor{buf: data, pos: start, start: start, limit: limit, compressed: compressed}
}

// Sub returns a new cursor over [start, end) sharing the same buffer.
func (c *Cursor) Sub(start, end int) (*Cursor, error) {
	if start < c.start || end > c.limit || start > end {
		return nil, fmt.Errorf("%w: sub range [%d,%d) outside [%d,%d)", ErrOutOfBounds, start, end, c.start, c.limit)
	}

	return &Cursor{buf: c.buf, pos: start, start: start, limit: end, compressed: c.compressed}, nil
}

// Pos returns the absolute read position.
func (c *Cursor) Pos() int { return c.pos }

// Start returns the lower bound of the cursor.
func (c *Cursor) Start() int { return c.start }

// Limit returns the exclusive upper bound of the cursor.
func (c *Cursor) Limit() int { return c.limit }

// Remaining returns the number of unread bytes before the limit.
func (c *Cursor) Remaining() int { return c.limit - c.pos }

// Compressed reports whether integers are varint encoded.
func (c *Cursor) Compressed() bool { return c.compressed }

// Bytes returns the underlying buffer.
func (c *Cursor) Bytes() []byte { return c.buf }

// SetPos moves the read position. It may point anywhere in [start, limit].
func (c *Cursor) SetPos(pos int) error {
	if pos < c.start || pos > c.limit {
		return fmt.Errorf("%w: seek to %d outside [%d,%d]", ErrOutOfBounds, pos, c.start, c.limit)
	}

	c.pos = pos

	return nil
}

// Skip advances the read position by n bytes.
func (c *Cursor) Skip(n int) error {
	if n < 0 || n > c.Remaining() {
		return fmt.Errorf("%w: skip %d at %d (remaining %d)", ErrOutOfBounds, n, c.pos, c.Remaining())
	}

	c.pos += n

	return nil
}

func (c *Cursor) need(n int) error {
	if n > c.Remaining() {
		return fmt.Errorf("%w: need %d bytes at %d (remaining %d)", ErrOutOfBounds, n, c.pos, c.Remaining())
	}

	return nil
}

// Slice returns the next n bytes without copying and advances past them.
func (c *Cursor) Slice(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d at %d", ErrMalformed, n, c.pos)
	}

	if err := c.need(n); err != nil {
		return nil, err
	}

	out := c.buf[c.pos : c.pos+n]
	c.pos += n

	return out, nil
}

// Byte reads one byte.
func (c *Cursor) Byte() (byte, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}

	b := c.buf[c.pos]
	c.pos++

	return b, nil
}

// Bool reads a one-byte boolean.
func (c *Cursor) Bool() (bool, error) {
	b, err := c.Byte()

	return b != 0, err
}

// Uint16 reads a fixed-width big-endian uint16.
func (c *Cursor) Uint16() (uint16, error) {
	if err := c.need(2); err != nil {
		return 0, err
	}

	v := binary.BigEndian.Uint16(c.buf[c.pos:])
	c.pos += 2

	return v, nil
}

// Uint32 reads a fixed-width big-endian uint32.
func (c *Cursor) Uint32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}

	v := binary.BigEndian.Uint32(c.buf[c.pos:])
	c.pos += 4

	return v, nil
}

// Uint64 reads a fixed-width big-endian uint64.
func (c *Cursor) Uint64() (uint64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}

	v := binary.BigEndian.Uint64(c.buf[c.pos:])
	c.pos += 8

	return v, nil
}

// Float32 reads a big-endian IEEE-754 float.
func (c *Cursor) Float32() (float32, error) {
	v, err := c.Uint32()

	return math.Float32frombits(v), err
}

// Float64 reads a big-endian IEEE-754 double.
func (c *Cursor) Float64() (float64, error) {
	v, err := c.Uint64()

	return math.Float64frombits(v), err
}

// Varlong reads a variable-length 64-bit integer. Each of the first eight
// bytes contributes seven bits; a ninth byte contributes all eight.
func (c *Cursor) Varlong() (int64, error) {
	var v uint64

	for i := range maxVarintBytes {
		if c.pos >= c.limit {
			return 0, fmt.Errorf("%w: truncated varint at %d", ErrOutOfBounds, c.pos)
		}

		b := c.buf[c.pos]
		c.pos++

		if i == maxVarintBytes-1 {
			v |= uint64(b) << 56

			break
		}

		v |= uint64(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			break
		}
	}

	return int64(v), nil
}

// SkipVarlong advances past one variable-length integer without decoding it.
func (c *Cursor) SkipVarlong() error {
	for i := range maxVarintBytes {
		if c.pos >= c.limit {
			return fmt.Errorf("%w: truncated varint at %d", ErrOutOfBounds, c.pos)
		}

		b := c.buf[c.pos]
		c.pos++

		if b&0x80 == 0 || i == maxVarintBytes-1 {
			return nil
		}
	}

	return nil
}

// Varint reads a variable-length 32-bit integer with int32(varlong) semantics.
func (c *Cursor) Varint() (int32, error) {
	v, err := c.Varlong()

	return int32(v), err //nolint:gosec // truncation is the wire semantics.
}

// Short reads a 16-bit integer in the cursor's integer encoding.
func (c *Cursor) Short() (int16, error) {
	if c.compressed {
		v, err := c.Varlong()

		return int16(v), err //nolint:gosec // wire truncation.
	}

	v, err := c.Uint16()

	return int16(v), err //nolint:gosec // two's complement reinterpretation.
}

// Char reads a 16-bit character in the cursor's integer encoding.
func (c *Cursor) Char() (uint16, error) {
	if c.compressed {
		v, err := c.Varlong()

		return uint16(v), err //nolint:gosec // wire truncation.
	}

	return c.Uint16()
}

// Int reads a 32-bit integer in the cursor's integer encoding.
func (c *Cursor) Int() (int32, error) {
	if c.compressed {
		return c.Varint()
	}

	v, err := c.Uint32()

	return int32(v), err //nolint:gosec // two's complement reinterpretation.
}

// Long reads a 64-bit integer in the cursor's integer encoding.
func (c *Cursor) Long() (int64, error) {
	if c.compressed {
		return c.Varlong()
	}

	v, err := c.Uint64()

	return int64(v), err //nolint:gosec // two's complement reinterpretation.
}

// SkipInt advances past one short, char, int or long in the cursor's
// integer encoding. width is the fixed width used when not compressed.
func (c *Cursor) SkipInt(width int) error {
	if c.compressed {
		return c.SkipVarlong()
	}

	return c.Skip(width)
}
