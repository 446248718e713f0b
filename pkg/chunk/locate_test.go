package chunk_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/flightrec/internal/jfrtest"
	"github.com/Sumatoshi-tech/flightrec/pkg/chunk"
)

func sampleChunk(start int64) jfrtest.Chunk {
	return jfrtest.Chunk{
		Classes: []jfrtest.Class{{
			ID:   100,
			Name: "test.Tick",
			Fields: []jfrtest.Field{
				{Name: "startTime", Type: "long"},
			},
		}},
		Events: []jfrtest.Event{
			{Type: "test.Tick", Payload: func(w *jfrtest.Writer) { w.Long(start) }},
		},
		StartNanos:     1_700_000_000_000_000_000,
		StartTicks:     1000,
		TicksPerSecond: 1000,
		DurationNanos:  int64(time.Second),
	}
}

func TestLocate_MultipleChunks(t *testing.T) {
	t.Parallel()

	first := sampleChunk(1).Bytes()
	data := jfrtest.Recording(sampleChunk(1), sampleChunk(2))

	descs, err := chunk.Locate(data)
	require.NoError(t, err)
	require.Len(t, descs, 2)

	assert.Equal(t, 0, descs[0].Index)
	assert.Equal(t, int64(0), descs[0].Offset)
	assert.Equal(t, int64(len(first)), descs[1].Offset)
	assert.Equal(t, int64(len(data)), descs[1].End())
	assert.True(t, descs[0].Compressed())
	assert.True(t, descs[0].Final())
	assert.Equal(t, uint16(2), descs[0].Header.Major)
	assert.Greater(t, descs[0].MetadataPos(), descs[0].StreamStart()-1)
}

func TestLocate_ForeignInputIsFormatError(t *testing.T) {
	t.Parallel()

	_, err := chunk.Locate([]byte("PK\x03\x04 definitely a zip file, not a recording at all....."))

	var fe *chunk.FormatError
	require.ErrorAs(t, err, &fe)
	require.ErrorIs(t, err, chunk.ErrBadMagic)
	assert.Equal(t, int64(0), fe.Offset)
}

func TestLocate_Empty(t *testing.T) {
	t.Parallel()

	_, err := chunk.Locate(nil)
	require.ErrorIs(t, err, chunk.ErrEmpty)
}

func TestLocate_BadMagicInSecondChunk(t *testing.T) {
	t.Parallel()

	data := jfrtest.Recording(sampleChunk(1))
	data = append(data, []byte("garbage trailing bytes that are long enough to be a header.........")...)

	_, err := chunk.Locate(data)

	var fe *chunk.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Positive(t, fe.Offset)
}

func TestLocate_TruncatedTrailingChunk(t *testing.T) {
	t.Parallel()

	full := jfrtest.Recording(sampleChunk(1), sampleChunk(2))
	firstLen := len(sampleChunk(1).Bytes())

	cases := map[string][]byte{
		"header cut":   full[:firstLen+20],
		"body cut":     full[:len(full)-3],
		"magic prefix": full[:firstLen+2],
		"in progress":  jfrtest.Recording(sampleChunk(1), jfrtest.Chunk{FileState: 255}),
	}

	for name, data := range cases {
		descs, err := chunk.Locate(data)

		var te *chunk.TruncationError
		require.ErrorAs(t, err, &te, name)
		assert.True(t, errors.Is(err, chunk.ErrTruncated), name)
		assert.Len(t, descs, 1, name)
		assert.Equal(t, 1, te.Complete, name)
		assert.Equal(t, int64(firstLen), te.Offset, name)
	}
}

func TestLocate_UnsupportedVersion(t *testing.T) {
	t.Parallel()

	ch := sampleChunk(1)
	ch.MajorVersion = 9

	_, err := chunk.Locate(ch.Bytes())
	require.ErrorIs(t, err, chunk.ErrUnsupportedVersion)

	var fe *chunk.FormatError
	require.ErrorAs(t, err, &fe)
}

func TestDescriptor_TickConversion(t *testing.T) {
	t.Parallel()

	descs, err := chunk.Locate(sampleChunk(1).Bytes())
	require.NoError(t, err)

	d := descs[0]
	assert.Equal(t, 1500*time.Millisecond, d.TicksToDuration(1500))
	assert.Equal(t, d.Start().Add(2*time.Second), d.TicksToTime(3000))
	assert.Equal(t, d.Header.StartNanos, d.TicksToNanos(1000))
}
