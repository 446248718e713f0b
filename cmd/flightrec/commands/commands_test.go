package commands

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/flightrec/internal/jfrtest"
)

var sampleClasses = []jfrtest.Class{
	{ID: 100, Name: "test.Thread", Fields: []jfrtest.Field{{Name: "name", Type: "java.lang.String"}}},
	{ID: 200, Name: "test.Sample", Super: "jdk.jfr.Event", Fields: []jfrtest.Field{
		{Name: "value", Type: "long"},
		{Name: "thread", Type: "test.Thread", ConstantPool: true},
	}},
}

func sampleChunk(values ...int64) jfrtest.Chunk {
	ch := jfrtest.Chunk{
		Classes: sampleClasses,
		Pools: []jfrtest.Pool{{Type: "test.Thread", Entries: []jfrtest.Entry{
			{ID: 1, Value: func(w *jfrtest.Writer) { w.String("main") }},
		}}},
	}

	for _, v := range values {
		ch.Events = append(ch.Events, jfrtest.Event{Type: "test.Sample", Payload: func(w *jfrtest.Writer) {
			w.Long(v).Long(1)
		}})
	}

	return ch
}

type harness struct {
	dir    string
	config string
}

func newHarness(t *testing.T, config string) harness {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, ".flightrec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(config), 0o600))

	return harness{dir: dir, config: path}
}

func (h harness) write(t *testing.T, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

func (h harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer

	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config", h.config}, args...))

	err := root.Execute()

	return out.String(), err
}

func TestSummaryCommand(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	path := h.write(t, "rec.jfr", jfrtest.Recording(sampleChunk(10, 20), sampleChunk(5)))

	out, err := h.run(t, "summary", path)
	require.NoError(t, err)

	assert.Contains(t, out, "chunks:   2")
	assert.Contains(t, out, "test.Sample")
	assert.Contains(t, out, "100.0%")
}

func TestPrintCommand_JSONLimit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	path := h.write(t, "rec.jfr", jfrtest.Recording(sampleChunk(10, 20), sampleChunk(5)))

	out, err := h.run(t, "print", path, "--limit", "2", "--type", "test.Sample")
	require.NoError(t, err)

	var docs []map[string]any

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var doc map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &doc))
		docs = append(docs, doc)
	}

	require.Len(t, docs, 2)
	assert.Equal(t, "test.Sample", docs[0]["type"])

	fields, ok := docs[0]["fields"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 10, fields["value"], 0)

	thread, ok := fields["thread"].(map[string]any)
	require.True(t, ok, "thread: %v", fields["thread"])
	assert.Equal(t, "main", thread["name"])
}

func TestPrintCommand_YAML(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	path := h.write(t, "rec.jfr", jfrtest.Recording(sampleChunk(7)))

	out, err := h.run(t, "print", path, "--format", "yaml")
	require.NoError(t, err)

	assert.Contains(t, out, "type: test.Sample")
	assert.Contains(t, out, "value: 7")
}

func TestPrintCommand_UnknownFormat(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	path := h.write(t, "rec.jfr", jfrtest.Recording(sampleChunk(7)))

	_, err := h.run(t, "print", path, "--format", "xml")
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestMetadataCommand(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	path := h.write(t, "rec.jfr", jfrtest.Recording(sampleChunk(1)))

	out, err := h.run(t, "metadata", path, "--ids")
	require.NoError(t, err)

	assert.Contains(t, out, "fingerprint")
	assert.Contains(t, out, "class test.Sample extends jdk.jfr.Event #200")

	_, err = h.run(t, "metadata", path, "--chunk", "3")
	require.Error(t, err)
}

func TestChunksCommand(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	path := h.write(t, "rec.jfr", jfrtest.Recording(sampleChunk(1), sampleChunk(2)))

	out, err := h.run(t, "chunks", path)
	require.NoError(t, err)

	assert.Contains(t, out, "2.1")
	assert.Contains(t, out, "1,000,000,000")
}

func TestSchemaDiffCommand(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	a := h.write(t, "a.jfr", jfrtest.Recording(sampleChunk(1)))
	b := h.write(t, "b.jfr", jfrtest.Recording(sampleChunk(2, 3)))

	out, err := h.run(t, "schema-diff", a, b)
	require.NoError(t, err)
	assert.Contains(t, out, "schemas identical")

	changed := sampleChunk(1)
	changed.Classes = append(changed.Classes, jfrtest.Class{ID: 201, Name: "test.Extra", Super: "jdk.jfr.Event", Fields: []jfrtest.Field{
		{Name: "flag", Type: "boolean"},
	}})
	c := h.write(t, "c.jfr", jfrtest.Recording(changed))

	out, err = h.run(t, "schema-diff", a, c, "--exit-code")
	require.ErrorIs(t, err, ErrSchemasDiffer)
	assert.Contains(t, out, "+ class test.Extra extends jdk.jfr.Event {")
}

func TestOpen_MaxInputSize(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "decode:\n  max_input_size: 16B\n")
	path := h.write(t, "rec.jfr", jfrtest.Recording(sampleChunk(1)))

	_, err := h.run(t, "summary", path)
	require.ErrorIs(t, err, ErrInputTooLarge)
}

func TestOpen_MaxInputSizeAppliesAfterDecompression(t *testing.T) {
	t.Parallel()

	raw := jfrtest.Recording(sampleChunk(1, 2, 3))

	var gz bytes.Buffer

	zw, err := gzip.NewWriterLevel(&gz, gzip.BestCompression)
	require.NoError(t, err)

	// Padding compresses to almost nothing but inflates past the limit.
	_, err = zw.Write(append(raw, make([]byte, 64<<10)...))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.Less(t, gz.Len(), 8<<10)

	h := newHarness(t, "decode:\n  max_input_size: 16KiB\n")
	path := h.write(t, "rec.jfr.gz", gz.Bytes())

	_, err = h.run(t, "summary", path)
	require.ErrorIs(t, err, ErrInputTooLarge)
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")

	out, err := h.run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "flightrec "))
}
