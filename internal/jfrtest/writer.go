// Package jfrtest builds byte-exact recordings for tests.
package jfrtest

import (
	"encoding/binary"
	"math"
)

// Writer appends values in the recording wire encoding.
type Writer struct {
	buf        []byte
	compressed bool
}

// NewWriter returns a writer. compressed selects varint integers.
func NewWriter(compressed bool) *Writer {
	return &Writer{compressed: compressed}
}

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of written bytes.
func (w *Writer) Len() int { return len(w.buf) }

// Raw appends raw bytes.
func (w *Writer) Raw(b ...byte) *Writer {
	w.buf = append(w.buf, b...)

	return w
}

// Byte appends one byte.
func (w *Writer) Byte(b byte) *Writer { return w.Raw(b) }

// Bool appends a one-byte boolean.
func (w *Writer) Bool(v bool) *Writer {
	if v {
		return w.Raw(1)
	}

	return w.Raw(0)
}

// Varlong appends a minimal variable-length integer.
func (w *Writer) Varlong(v int64) *Writer {
	w.buf = AppendVarlong(w.buf, uint64(v))

	return w
}

// Short appends a short in the writer's integer encoding.
func (w *Writer) Short(v int16) *Writer {
	if w.compressed {
		return w.Varlong(int64(v))
	}

	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(v))

	return w
}

// Char appends a char in the writer's integer encoding.
func (w *Writer) Char(v uint16) *Writer {
	if w.compressed {
		return w.Varlong(int64(v))
	}

	w.buf = binary.BigEndian.AppendUint16(w.buf, v)

	return w
}

// Int appends an int in the writer's integer encoding.
func (w *Writer) Int(v int32) *Writer {
	if w.compressed {
		return w.Varlong(int64(uint32(v)))
	}

	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))

	return w
}

// Long appends a long in the writer's integer encoding.
func (w *Writer) Long(v int64) *Writer {
	if w.compressed {
		return w.Varlong(v)
	}

	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))

	return w
}

// Float appends a big-endian float.
func (w *Writer) Float(v float32) *Writer {
	w.buf = binary.BigEndian.AppendUint32(w.buf, math.Float32bits(v))

	return w
}

// Double appends a big-endian double.
func (w *Writer) Double(v float64) *Writer {
	w.buf = binary.BigEndian.AppendUint64(w.buf, math.Float64bits(v))

	return w
}

// String appends UTF-8 encoded text.
func (w *Writer) String(s string) *Writer {
	if s == "" {
		return w.Raw(1)
	}

	w.Raw(3).Int(int32(len(s)))

	return w.Raw([]byte(s)...)
}

// NullString appends the null text encoding.
func (w *Writer) NullString() *Writer { return w.Raw(0) }

// PoolString appends a reference into the string constant pool.
func (w *Writer) PoolString(id int64) *Writer {
	w.Raw(2)

	return w.Long(id)
}

// Latin1 appends Latin-1 encoded text.
func (w *Writer) Latin1(s string) *Writer {
	w.Raw(5).Int(int32(len(s)))

	return w.Raw([]byte(s)...)
}

// CharArray appends text as an array of chars.
func (w *Writer) CharArray(s string) *Writer {
	runes := []rune(s)
	w.Raw(4).Int(int32(len(runes)))

	for _, r := range runes {
		w.Char(uint16(r))
	}

	return w
}

// AppendVarlong appends the minimal varlong encoding of v.
func AppendVarlong(buf []byte, v uint64) []byte {
	for range 8 {
		if v < 0x80 {
			return append(buf, byte(v))
		}

		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}

	return append(buf, byte(v))
}

// VarlongLen returns the minimal encoded length of v.
func VarlongLen(v uint64) int {
	return len(AppendVarlong(nil, v))
}
