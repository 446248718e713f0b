package cursor

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
	"unicode/utf16"
)

// Text encodings, selected by the leading tag byte.
const (
	TextNull   byte = 0
	TextEmpty  byte = 1
	TextPool   byte = 2
	TextUTF8   byte = 3
	TextChars  byte = 4
	TextLatin1 byte = 5
)

const (
	wordBytes     = 8
	continuations = 0x8080808080808080
	payloadBits   = 0x7f7f7f7f7f7f7f7f
)

// StringPool resolves a constant-pool string reference. ok is false when the
// id has no entry.
type StringPool func(id int64) (s string, ok bool)

// TextLength reads a text length prefix. The common case is decoded from a
// single 8-byte word; values the word path cannot represent as a
// non-negative int32 are re-read by the scalar decoder, which applies the
// int32(varlong) wire semantics. Uncompressed chunks use a fixed int.
func (c *Cursor) TextLength() (int, error) {
	if !c.compressed {
		return c.scalarLength()
	}

	if n, size, ok := c.fastLength(); ok {
		c.pos += size

		return n, nil
	}

	return c.scalarLength()
}

// fastLength decodes the varint at the current position without advancing.
// ok is false when the fast path cannot produce a trustworthy length.
func (c *Cursor) fastLength() (int, int, bool) {
	if c.Remaining() < wordBytes+1 {
		return 0, 0, false
	}

	word := binary.LittleEndian.Uint64(c.buf[c.pos:])
	stops := ^word & continuations

	var (
		v    uint64
		size int
	)

	if stops == 0 {
		size = maxVarintBytes
		v = gather(word) | uint64(c.buf[c.pos+wordBytes])<<56
	} else {
		size = bits.TrailingZeros64(stops)/8 + 1
		if size < wordBytes {
			word &= (uint64(1) << (8 * size)) - 1
		}

		v = gather(word)
	}

	if int64(v) < 0 || v > math.MaxInt32 { //nolint:gosec // sign probe.
		return 0, 0, false
	}

	return int(v), size, true
}

// gather packs the seven payload bits of each byte of word into a
// contiguous 56-bit value, least significant group first.
func gather(word uint64) uint64 {
	x := word & payloadBits
	x = (x & 0x007f007f007f007f) | ((x & 0x7f007f007f007f00) >> 1)
	x = (x & 0x00003fff00003fff) | ((x & 0x3fff00003fff0000) >> 2)
	x = (x & 0x000000000fffffff) | ((x & 0x0fffffff00000000) >> 4)

	return x
}

func (c *Cursor) scalarLength() (int, error) {
	at := c.pos

	v, err := c.Int()
	if err != nil {
		return 0, err
	}

	if v < 0 {
		return 0, fmt.Errorf("%w: negative text length %d at %d", ErrMalformed, v, at)
	}

	return int(v), nil
}

// Text reads one tagged text value. present is false for the null encoding.
// pool resolves tag-2 references; a missing entry yields an empty string.
func (c *Cursor) Text(pool StringPool) (string, bool, error) {
	at := c.pos

	tag, err := c.Byte()
	if err != nil {
		return "", false, err
	}

	switch tag {
	case TextNull:
		return "", false, nil
	case TextEmpty:
		return "", true, nil
	case TextPool:
		id, err := c.Long()
		if err != nil {
			return "", false, err
		}

		if pool == nil {
			return "", true, nil
		}

		s, _ := pool(id)

		return s, true, nil
	case TextUTF8:
		raw, err := c.lengthPrefixed()
		if err != nil {
			return "", false, err
		}

		return string(raw), true, nil
	case TextChars:
		return c.chars()
	case TextLatin1:
		raw, err := c.lengthPrefixed()
		if err != nil {
			return "", false, err
		}

		return latin1(raw), true, nil
	default:
		return "", false, fmt.Errorf("%w: unknown text encoding %d at %d", ErrMalformed, tag, at)
	}
}

// SkipText advances past one tagged text value.
func (c *Cursor) SkipText() error {
	at := c.pos

	tag, err := c.Byte()
	if err != nil {
		return err
	}

	switch tag {
	case TextNull, TextEmpty:
		return nil
	case TextPool:
		return c.SkipInt(8)
	case TextUTF8, TextLatin1:
		n, err := c.TextLength()
		if err != nil {
			return err
		}

		return c.Skip(n)
	case TextChars:
		n, err := c.TextLength()
		if err != nil {
			return err
		}

		for range n {
			if err := c.SkipInt(2); err != nil {
				return err
			}
		}

		return nil
	default:
		return fmt.Errorf("%w: unknown text encoding %d at %d", ErrMalformed, tag, at)
	}
}

func (c *Cursor) lengthPrefixed() ([]byte, error) {
	n, err := c.TextLength()
	if err != nil {
		return nil, err
	}

	return c.Slice(n)
}

func (c *Cursor) chars() (string, bool, error) {
	n, err := c.TextLength()
	if err != nil {
		return "", false, err
	}

	if n > c.Remaining() {
		return "", false, fmt.Errorf("%w: %d chars at %d (remaining %d)", ErrOutOfBounds, n, c.pos, c.Remaining())
	}

	units := make([]uint16, n)
	for i := range units {
		units[i], err = c.Char()
		if err != nil {
			return "", false, err
		}
	}

	return string(utf16.Decode(units)), true, nil
}

func latin1(raw []byte) string {
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}

	return string(runes)
}
