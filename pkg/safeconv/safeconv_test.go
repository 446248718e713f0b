package safeconv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInt64ToInt(t *testing.T) {
	t.Parallel()

	got, err := Int64ToInt(42)
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	got, err = Int64ToInt(-7)
	require.NoError(t, err)
	assert.Equal(t, -7, got)
}

func TestNonNegative(t *testing.T) {
	t.Parallel()

	got, err := NonNegative(0)
	require.NoError(t, err)
	assert.Zero(t, got)

	_, err = NonNegative(-1)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestMustIntToUint64(t *testing.T) {
	t.Parallel()

	t.Run("normal_value", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, uint64(42), MustIntToUint64(42))
	})

	t.Run("negative_panics", func(t *testing.T) {
		t.Parallel()

		assert.PanicsWithValue(t, "safeconv: negative int to uint64 conversion", func() {
			MustIntToUint64(-1)
		})
	})
}

func TestMustIntToInt32(t *testing.T) {
	t.Parallel()

	t.Run("bounds", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, int32(math.MaxInt32), MustIntToInt32(math.MaxInt32))
		assert.Equal(t, int32(math.MinInt32), MustIntToInt32(math.MinInt32))
	})

	t.Run("overflow_panics", func(t *testing.T) {
		t.Parallel()

		if MaxInt == math.MaxInt32 {
			t.Skip("int is 32 bits")
		}

		assert.PanicsWithValue(t, "safeconv: int to int32 out of bounds", func() {
			MustIntToInt32(math.MaxInt32 + 1)
		})
	})
}
