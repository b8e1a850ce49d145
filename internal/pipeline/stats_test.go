package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	records := []ChunkRecord{
		{Index: 1, CharsIn: 10, CharsOut: 12, Latency: time.Second, FromCache: true},
		{Index: 2, CharsIn: 20, CharsOut: 20, Fallback: true, Reason: "collapse_detected", Collapse: true},
		{Index: 3, CharsIn: 5, CharsOut: 6, Latency: 2 * time.Second, Duplicate: true},
		{Index: 4, CharsIn: 7, CharsOut: 7, Resumed: true},
	}

	st := Fold(StageTranslate, records)
	assert.Equal(t, Stats{
		Stage:            StageTranslate,
		TotalChunks:      4,
		CacheHits:        1,
		Resumed:          1,
		Fallbacks:        1,
		CollapseDetected: 1,
		DuplicatesReused: 1,
		CharsIn:          42,
		CharsOut:         45,
		Latency:          3 * time.Second,
		Blocks:           records,
	}, st)
}

func TestStats_Merge(t *testing.T) {
	a := Fold(StageDesquebrar, []ChunkRecord{{Index: 1, CharsIn: 3}, {Index: 2, CharsIn: 4, Fallback: true}})
	b := Fold(StageTranslate, []ChunkRecord{{Index: 1, CharsIn: 5, FromCache: true}})

	got := Stats{Stage: "run"}.Merge(a).Merge(b)
	assert.Equal(t, "run", got.Stage)
	assert.Equal(t, 3, got.TotalChunks)
	assert.Equal(t, 12, got.CharsIn)
	assert.Equal(t, 1, got.Fallbacks)
	assert.Equal(t, 1, got.CacheHits)
	assert.Equal(t, 3, got.Blocks[2].Index)
	assert.Equal(t, 1, b.Blocks[0].Index, "merge must not modify its argument")
}

func TestStats_Manifest(t *testing.T) {
	st := Fold(StageRefine, []ChunkRecord{
		{Index: 1, CharsIn: 10, CharsOut: 9, Latency: 1500 * time.Millisecond},
		{Index: 2, CharsIn: 8, CharsOut: 8, Fallback: true, Reason: "truncated_output"},
	})

	m := st.Manifest("book.pdf")
	assert.Equal(t, StageRefine, m.Stage)
	assert.Equal(t, "book.pdf", m.Input)
	assert.Equal(t, 2, m.Totals.Chunks)
	assert.Equal(t, 1, m.Totals.Fallbacks)
	assert.InDelta(t, 1.5, m.Totals.Latency, 1e-9)
	assert.Len(t, m.Chunks, 2)
	assert.Equal(t, "truncated_output", m.Chunks[1].FallbackReason)

	r := st.Report("book.pdf", "v3", time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	assert.Equal(t, "2025-01-02T03:04:05Z", r.Timestamp)
	assert.Equal(t, "v3", r.PipelineVersion)
	assert.Equal(t, 1, r.Fallbacks)
}
