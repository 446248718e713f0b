package redact_test

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/flightrec/pkg/cursor"
	"github.com/Sumatoshi-tech/flightrec/pkg/plan"
	"github.com/Sumatoshi-tech/flightrec/pkg/redact"
)

func readText(t *testing.T, b []byte) string {
	t.Helper()

	c := cursor.New(b, 0, len(b), true)

	s, present, err := c.Text(nil)
	require.NoError(t, err)
	require.True(t, present)
	assert.Zero(t, c.Remaining())

	return s
}

func TestEncodeText_ExactSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		size int
		want string
	}{
		{"empty payload", "secret", 2, ""},
		{"truncated", "secret", 5, "sec"},
		{"padded", "ab", 8, "ab****"},
		{"two byte prefix", "x", 131, "x" + strings.Repeat("*", 127)},
		{"slack absorbed by prefix", "", 130, strings.Repeat("*", 127)},
		{"rune boundary", "héllo", 4, "h*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b, err := redact.EncodeText(tt.in, tt.size)
			require.NoError(t, err)
			assert.Len(t, b, tt.size)
			assert.Equal(t, tt.want, readText(t, b))
		})
	}
}

func TestEncodeText_TooSmall(t *testing.T) {
	t.Parallel()

	_, err := redact.EncodeText("x", 1)
	require.ErrorIs(t, err, redact.ErrNoEncoding)
}

func TestEncodeVarlong(t *testing.T) {
	t.Parallel()

	tests := []struct {
		v    int64
		size int
	}{
		{0, 1},
		{0, 4},
		{127, 1},
		{300, 3},
		{-1, 9},
		{math.MaxInt64, 9},
	}

	for _, tt := range tests {
		b, err := redact.EncodeVarlong(tt.v, tt.size)
		require.NoError(t, err)
		assert.Len(t, b, tt.size)

		c := cursor.New(b, 0, len(b), true)
		got, err := c.Varlong()
		require.NoError(t, err)
		assert.Equal(t, tt.v, got)
		assert.Zero(t, c.Remaining())
	}

	_, err := redact.EncodeVarlong(128, 1)
	require.ErrorIs(t, err, redact.ErrNoEncoding)

	_, err = redact.EncodeVarlong(-1, 8)
	require.ErrorIs(t, err, redact.ErrNoEncoding)

	_, err = redact.EncodeVarlong(1, 10)
	require.ErrorIs(t, err, redact.ErrNoEncoding)
}

func TestOverwrite(t *testing.T) {
	t.Parallel()

	buf := []byte("0123456789")
	r := plan.FieldRange{Name: "name", Start: 2, End: 5}

	require.NoError(t, redact.Overwrite(buf, r, []byte("abc")))
	assert.Equal(t, "01abc56789", string(buf))

	require.ErrorIs(t, redact.Overwrite(buf, r, []byte("ab")), redact.ErrSizeMismatch)
	require.ErrorIs(t, redact.Overwrite(buf, plan.FieldRange{Start: 8, End: 12}, []byte("abcd")), redact.ErrOutOfRange)
}
