// Package chunk locates the self-contained chunks of a recording and decodes
// their headers.
package chunk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// HeaderSize is the fixed size of a chunk header.
const HeaderSize = 68

const (
	flagCompressedInts = 1 << 0
	flagFinal          = 1 << 1

	// stateInProgress marks a chunk whose header has not been finalized.
	stateInProgress = 255

	minMajor = 1
	maxMajor = 2
)

// Magic is the four-byte chunk signature.
var Magic = []byte{'F', 'L', 'R', 0}

// Header is the decoded fixed header of one chunk.
type Header struct {
	Major          uint16
	Minor          uint16
	Size           int64
	PoolOffset     int64
	MetadataOffset int64
	StartNanos     int64
	DurationNanos  int64
	StartTicks     int64
	TicksPerSecond int64
	FileState      byte
	Flags          byte
}

// Descriptor describes one chunk located in a recording. Offsets in a
// Descriptor are absolute within the recording.
type Descriptor struct {
	Index  int
	Offset int64
	Header Header
}

// Size returns the chunk size in bytes.
func (d Descriptor) Size() int64 { return d.Header.Size }

// End returns the absolute offset just past the chunk.
func (d Descriptor) End() int64 { return d.Offset + d.Header.Size }

// MetadataPos returns the absolute offset of the metadata record.
func (d Descriptor) MetadataPos() int64 { return d.Offset + d.Header.MetadataOffset }

// PoolPos returns the absolute offset of the newest constant-pool record.
func (d Descriptor) PoolPos() int64 { return d.Offset + d.Header.PoolOffset }

// StreamStart returns the absolute offset of the first record.
func (d Descriptor) StreamStart() int64 { return d.Offset + HeaderSize }

// Compressed reports whether integers in the chunk are varint encoded.
func (d Descriptor) Compressed() bool { return d.Header.Flags&flagCompressedInts != 0 }

// Final reports whether the writer marked this chunk as the last one.
func (d Descriptor) Final() bool { return d.Header.Flags&flagFinal != 0 }

// Start returns the wall-clock start of the chunk.
func (d Descriptor) Start() time.Time { return time.Unix(0, d.Header.StartNanos) }

// Duration returns the wall-clock duration of the chunk.
func (d Descriptor) Duration() time.Duration { return time.Duration(d.Header.DurationNanos) }

// TicksToNanos converts an absolute tick value to nanoseconds since the epoch.
func (d Descriptor) TicksToNanos(ticks int64) int64 {
	return d.Header.StartNanos + int64(d.TicksToDuration(ticks-d.Header.StartTicks))
}

// TicksToTime converts an absolute tick value to wall-clock time.
func (d Descriptor) TicksToTime(ticks int64) time.Time {
	return time.Unix(0, d.TicksToNanos(ticks))
}

// TicksToDuration converts a tick delta to a duration.
func (d Descriptor) TicksToDuration(ticks int64) time.Duration {
	freq := d.Header.TicksPerSecond
	if freq <= 0 || freq == int64(time.Second) {
		return time.Duration(ticks)
	}

	secs := ticks / freq
	rem := ticks % freq

	return time.Duration(secs)*time.Second + time.Duration(float64(rem)*float64(time.Second)/float64(freq))
}

// ParseHeader decodes the chunk header at the start of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrTruncated, HeaderSize, len(b))
	}

	if !bytes.Equal(b[:4], Magic) {
		return Header{}, fmt.Errorf("%w: % x", ErrBadMagic, b[:4])
	}

	be := binary.BigEndian
	h := Header{
		Major:          be.Uint16(b[4:]),
		Minor:          be.Uint16(b[6:]),
		Size:           int64(be.Uint64(b[8:])),  //nolint:gosec // wire value.
		PoolOffset:     int64(be.Uint64(b[16:])), //nolint:gosec // wire value.
		MetadataOffset: int64(be.Uint64(b[24:])), //nolint:gosec // wire value.
		StartNanos:     int64(be.Uint64(b[32:])), //nolint:gosec // wire value.
		DurationNanos:  int64(be.Uint64(b[40:])), //nolint:gosec // wire value.
		StartTicks:     int64(be.Uint64(b[48:])), //nolint:gosec // wire value.
		TicksPerSecond: int64(be.Uint64(b[56:])), //nolint:gosec // wire value.
		FileState:      b[64],
		Flags:          b[67],
	}

	if h.Major < minMajor || h.Major > maxMajor {
		return h, fmt.Errorf("%w: %d.%d", ErrUnsupportedVersion, h.Major, h.Minor)
	}

	return h, nil
}

// InProgress reports whether the header was still being written.
func (h Header) InProgress() bool {
	return h.FileState == stateInProgress || h.Size == 0
}

func (h Header) validate() error {
	if h.Size < HeaderSize {
		return fmt.Errorf("%w: size %d smaller than header", ErrBadHeader, h.Size)
	}

	if h.MetadataOffset < HeaderSize || h.MetadataOffset >= h.Size {
		return fmt.Errorf("%w: metadata offset %d outside chunk of %d bytes", ErrBadHeader, h.MetadataOffset, h.Size)
	}

	if h.PoolOffset != 0 && (h.PoolOffset < HeaderSize || h.PoolOffset >= h.Size) {
		return fmt.Errorf("%w: constant-pool offset %d outside chunk of %d bytes", ErrBadHeader, h.PoolOffset, h.Size)
	}

	return nil
}
