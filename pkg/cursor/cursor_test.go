package cursor_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/flightrec/internal/jfrtest"
	"github.com/Sumatoshi-tech/flightrec/pkg/cursor"
)

func newCursor(b []byte, compressed bool) *cursor.Cursor {
	return cursor.New(b, 0, len(b), compressed)
}

func TestVarlong_RoundTrip(t *testing.T) {
	t.Parallel()

	values := []int64{0, 1, 127, 128, 300, 1 << 20, math.MaxInt32, -1, math.MinInt64, math.MaxInt64, 1 << 56}

	for _, v := range values {
		buf := jfrtest.AppendVarlong(nil, uint64(v))
		c := newCursor(buf, true)

		got, err := c.Varlong()
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, len(buf), c.Pos(), "value %d", v)

		c = newCursor(buf, true)
		require.NoError(t, c.SkipVarlong())
		assert.Equal(t, len(buf), c.Pos(), "skip of %d", v)
	}
}

func TestVarlong_Truncated(t *testing.T) {
	t.Parallel()

	c := newCursor([]byte{0x80, 0x80}, true)

	_, err := c.Varlong()
	require.ErrorIs(t, err, cursor.ErrOutOfBounds)
}

func TestFixedWidth_Uncompressed(t *testing.T) {
	t.Parallel()

	w := jfrtest.NewWriter(false).Short(-2).Int(-70000).Long(1 << 40).Char('x').Float(1.5).Double(-2.25).Bool(true)
	c := newCursor(w.Bytes(), false)

	s, err := c.Short()
	require.NoError(t, err)
	assert.Equal(t, int16(-2), s)

	i, err := c.Int()
	require.NoError(t, err)
	assert.Equal(t, int32(-70000), i)

	l, err := c.Long()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<40), l)

	ch, err := c.Char()
	require.NoError(t, err)
	assert.Equal(t, uint16('x'), ch)

	f, err := c.Float32()
	require.NoError(t, err)
	assert.InDelta(t, 1.5, f, 0)

	d, err := c.Float64()
	require.NoError(t, err)
	assert.InDelta(t, -2.25, d, 0)

	b, err := c.Bool()
	require.NoError(t, err)
	assert.True(t, b)
	assert.Zero(t, c.Remaining())
}

func TestTextLength_FastPathMatchesScalar(t *testing.T) {
	t.Parallel()

	for _, n := range []uint64{0, 1, 5, 127, 128, 16383, 16384, 1 << 21, 1 << 28, math.MaxInt32} {
		// Pad so the word path has enough bytes to run.
		buf := append(jfrtest.AppendVarlong(nil, n), make([]byte, 16)...)
		c := newCursor(buf, true)

		got, err := c.TextLength()
		require.NoError(t, err)
		assert.Equal(t, int(n), got)
		assert.Equal(t, jfrtest.VarlongLen(n), c.Pos())
	}
}

func TestTextLength_NegativeLookingValueFallsBack(t *testing.T) {
	t.Parallel()

	// A nine-byte varlong with the sign bit set whose low 32 bits are 5.
	// The word path sees a negative value; the scalar int32 decode sees 5.
	crafted := jfrtest.AppendVarlong(nil, 0x8000000000000005)
	require.Len(t, crafted, 9)

	buf := append([]byte{cursor.TextUTF8}, crafted...)
	buf = append(buf, "hello"...)
	buf = append(buf, 0xAA, 0xBB)

	c := newCursor(buf, true)
	s, present, err := c.Text(nil)
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, "hello", s)
	assert.Equal(t, len(buf)-2, c.Pos())

	c = newCursor(buf, true)
	require.NoError(t, c.SkipText())
	assert.Equal(t, len(buf)-2, c.Pos())
}

func TestTextLength_TrulyNegativeIsMalformed(t *testing.T) {
	t.Parallel()

	buf := append(jfrtest.AppendVarlong(nil, uint64(0xFFFFFFFF)), make([]byte, 16)...)
	c := newCursor(buf, true)

	_, err := c.TextLength()
	require.ErrorIs(t, err, cursor.ErrMalformed)
}

func TestText_Encodings(t *testing.T) {
	t.Parallel()

	for _, compressed := range []bool{true, false} {
		w := jfrtest.NewWriter(compressed).
			NullString().
			String("").
			String("utf8 ✓").
			Latin1("caf\xe9").
			CharArray("chars").
			PoolString(7)

		pool := func(id int64) (string, bool) {
			if id == 7 {
				return "pooled", true
			}

			return "", false
		}

		c := newCursor(w.Bytes(), compressed)

		_, present, err := c.Text(pool)
		require.NoError(t, err)
		assert.False(t, present)

		for _, want := range []string{"", "utf8 ✓", "café", "chars", "pooled"} {
			got, present, err := c.Text(pool)
			require.NoError(t, err)
			assert.True(t, present)
			assert.Equal(t, want, got)
		}

		assert.Zero(t, c.Remaining())

		skip := newCursor(w.Bytes(), compressed)
		for range 6 {
			require.NoError(t, skip.SkipText())
		}

		assert.Zero(t, skip.Remaining())
	}
}

func TestText_UnknownTag(t *testing.T) {
	t.Parallel()

	c := newCursor([]byte{9, 0, 0}, true)

	_, _, err := c.Text(nil)
	require.ErrorIs(t, err, cursor.ErrMalformed)

	c = newCursor([]byte{9, 0, 0}, true)
	require.ErrorIs(t, c.SkipText(), cursor.ErrMalformed)
}

func TestSubAndSeekBounds(t *testing.T) {
	t.Parallel()

	c := newCursor(make([]byte, 32), true)

	sub, err := c.Sub(8, 16)
	require.NoError(t, err)
	assert.Equal(t, 8, sub.Pos())
	assert.Equal(t, 8, sub.Remaining())

	require.ErrorIs(t, sub.SetPos(17), cursor.ErrOutOfBounds)
	require.ErrorIs(t, sub.Skip(9), cursor.ErrOutOfBounds)

	_, err = c.Sub(30, 40)
	require.ErrorIs(t, err, cursor.ErrOutOfBounds)

	_, err = sub.Slice(-1)
	require.ErrorIs(t, err, cursor.ErrMalformed)
}
