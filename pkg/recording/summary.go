package recording

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// SummaryRow aggregates the events of one type.
type SummaryRow struct {
	Type  string
	Count int64
	Bytes int64
}

// Summary is a Listener counting events and bytes per type across chunks.
type Summary struct {
	BaseListener

	mu       sync.Mutex
	rows     map[string]*SummaryRow
	chunks   int
	failed   int
	duration time.Duration
	start    time.Time
}

// NewSummary creates an empty summary.
func NewSummary() *Summary {
	return &Summary{rows: make(map[string]*SummaryRow)}
}

// OnChunkStart implements Listener.
func (s *Summary) OnChunkStart(ctl *Control) {
	d := ctl.Chunk()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.chunks++
	s.duration += d.Duration()

	if s.start.IsZero() || d.Start().Before(s.start) {
		s.start = d.Start()
	}
}

// OnEvent implements Listener.
func (s *Summary) OnEvent(_ *Control, ev RawEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[ev.Type.Name]
	if !ok {
		row = &SummaryRow{Type: ev.Type.Name}
		s.rows[ev.Type.Name] = row
	}

	row.Count++
	row.Bytes += int64(ev.Size())
}

// OnChunkEnd implements Listener.
func (s *Summary) OnChunkEnd(_ *Control, err error) {
	if err == nil {
		return
	}

	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
}

// Rows returns the per-type totals, most frequent first and by name on ties.
func (s *Summary) Rows() []SummaryRow {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SummaryRow, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, *r)
	}

	slices.SortFunc(out, func(a, b SummaryRow) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}

		return cmp.Compare(a.Type, b.Type)
	})

	return out
}

// Totals returns the event count and byte total over all types.
func (s *Summary) Totals() (events, bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rows {
		events += r.Count
		bytes += r.Bytes
	}

	return events, bytes
}

// Chunks returns the number of chunks seen and how many failed.
func (s *Summary) Chunks() (seen, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.chunks, s.failed
}

// Span returns the earliest chunk start and the summed chunk durations.
func (s *Summary) Span() (time.Time, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.start, s.duration
}
