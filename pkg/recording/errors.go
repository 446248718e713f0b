package recording

import (
	"errors"
	"fmt"
)

// Sentinel errors for session lifecycle failures.
var (
	// ErrRunning is returned when Run is called on a session that is running.
	ErrRunning = errors.New("session is already running")
	// ErrCallbackPanic wraps a value recovered from a panicking handler.
	ErrCallbackPanic = errors.New("handler panicked")
	// ErrRecordFraming indicates a record whose size does not fit its chunk.
	ErrRecordFraming = errors.New("bad record framing")
	// ErrTrailingBytes indicates a decoded event that ended before its record.
	ErrTrailingBytes = errors.New("event decode did not consume its record")
	// ErrTooLarge indicates input that decompresses beyond the session limit.
	ErrTooLarge = errors.New("recording exceeds size limit")
)

// ChunkError is fatal to one chunk. Events delivered before it are not
// retracted.
type ChunkError struct {
	Index  int
	Offset int64
	Err    error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d at offset %d: %v", e.Index, e.Offset, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// CallbackError carries an error returned, or a panic raised, by a handler.
// It always halts Run.
type CallbackError struct {
	Type  string
	Chunk int
	Err   error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("handler for %s in chunk %d: %v", e.Type, e.Chunk, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// ResourceError is an I/O failure reading or decompressing the input.
type ResourceError struct {
	Op   string
	Path string
	Err  error
}

func (e *ResourceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// FailurePolicy decides what happens to sibling chunks when one chunk fails.
type FailurePolicy uint8

const (
	// CancelSiblings stops every other chunk at its next record boundary.
	CancelSiblings FailurePolicy = iota
	// FinishSiblings lets other chunks run to completion; Run still returns
	// the first error.
	FinishSiblings
)

func (p FailurePolicy) String() string {
	if p == FinishSiblings {
		return "finish-siblings"
	}

	return "cancel-siblings"
}

// ParseFailurePolicy maps a policy name to its value.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "", "cancel-siblings", "cancel":
		return CancelSiblings, nil
	case "finish-siblings", "finish":
		return FinishSiblings, nil
	default:
		return 0, fmt.Errorf("unknown failure policy %q", s)
	}
}
