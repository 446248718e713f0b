// Package safeconv provides checked integer conversions for offsets and
// lengths read from untrusted input.
package safeconv

import (
	"errors"
	"fmt"
	"math"
)

// ErrOverflow indicates a value outside the target type's range.
var ErrOverflow = errors.New("integer overflow")

// MaxInt is the maximum value for int type (platform-dependent).
const MaxInt = int(^uint(0) >> 1)

// Int64ToInt converts v to int, failing when it does not fit.
func Int64ToInt(v int64) (int, error) {
	if v > int64(MaxInt) || v < -int64(MaxInt)-1 {
		return 0, fmt.Errorf("%w: %d does not fit int", ErrOverflow, v)
	}

	return int(v), nil
}

// NonNegative converts a non-negative int64 length to int.
func NonNegative(v int64) (int, error) {
	if v < 0 {
		return 0, fmt.Errorf("%w: negative length %d", ErrOverflow, v)
	}

	return Int64ToInt(v)
}

// MustIntToUint64 converts int to uint64, panics if negative.
// Use only when negative values are logically impossible.
func MustIntToUint64(v int) uint64 {
	if v < 0 {
		panic("safeconv: negative int to uint64 conversion")
	}

	return uint64(v)
}

// MustIntToInt32 converts int to int32, panics on bounds violation.
// Use only when bounds violations are logically impossible.
func MustIntToInt32(v int) int32 {
	if v < math.MinInt32 || v > math.MaxInt32 {
		panic("safeconv: int to int32 out of bounds")
	}

	return int32(v)
}
