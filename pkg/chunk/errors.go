package chunk

import (
	"errors"
	"fmt"
)

// Sentinel errors for chunk location failures.
var (
	// ErrBadMagic indicates the input is not a recording.
	ErrBadMagic = errors.New("bad chunk magic")
	// ErrUnsupportedVersion indicates a chunk major version this decoder cannot read.
	ErrUnsupportedVersion = errors.New("unsupported chunk version")
	// ErrBadHeader indicates header fields that contradict each other.
	ErrBadHeader = errors.New("inconsistent chunk header")
	// ErrEmpty indicates an input without a single byte.
	ErrEmpty = errors.New("empty recording")
	// ErrTruncated marks a short trailing chunk.
	ErrTruncated = errors.New("truncated trailing chunk")
)

// FormatError is a fatal, whole-input format violation.
type FormatError struct {
	Offset int64
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format error at offset %d: %v", e.Offset, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// TruncationError reports a trailing chunk that ends before its declared
// size, usually because the recording is still being written. Chunks before
// Offset are complete and decodable.
type TruncationError struct {
	Offset    int64
	Declared  int64
	Available int64
	Complete  int
}

func (e *TruncationError) Error() string {
	return fmt.Sprintf("%v: chunk at offset %d declares %d bytes, %d available (%d complete chunks)",
		ErrTruncated, e.Offset, e.Declared, e.Available, e.Complete)
}

func (e *TruncationError) Unwrap() error { return ErrTruncated }
