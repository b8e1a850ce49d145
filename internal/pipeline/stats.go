package pipeline

import (
	"time"

	"github.com/valpere/tradutor/internal/manifest"
)

// ChunkRecord is the immutable outcome of one chunk.
type ChunkRecord struct {
	Index     int           `json:"chunk_index"`
	CharsIn   int           `json:"chars_in"`
	CharsOut  int           `json:"chars_out"`
	Latency   time.Duration `json:"latency"`
	Attempts  int           `json:"attempts,omitempty"`
	Model     string        `json:"model,omitempty"`
	FromCache bool          `json:"from_cache"`
	Resumed   bool          `json:"resumed,omitempty"`
	Duplicate bool          `json:"duplicate,omitempty"`
	Fallback  bool          `json:"fallback"`
	Reason    string        `json:"fallback_reason,omitempty"`
	Collapse  bool          `json:"collapse,omitempty"`
	Output    string        `json:"-"`
}

// Stats summarises a stage over one document.
type Stats struct {
	Stage            string        `json:"stage"`
	TotalChunks      int           `json:"total_chunks"`
	CacheHits        int           `json:"cache_hits"`
	Resumed          int           `json:"resumed"`
	Fallbacks        int           `json:"fallbacks"`
	CollapseDetected int           `json:"collapse_detected"`
	DuplicatesReused int           `json:"duplicates_reused"`
	CharsIn          int           `json:"chars_in"`
	CharsOut         int           `json:"chars_out"`
	Latency          time.Duration `json:"latency"`
	Blocks           []ChunkRecord `json:"blocks"`
}

// Fold accumulates records in document order.
func Fold(stage string, records []ChunkRecord) Stats {
	st := Stats{Stage: stage, TotalChunks: len(records), Blocks: records}
	for _, r := range records {
		st.CharsIn += r.CharsIn
		st.CharsOut += r.CharsOut
		st.Latency += r.Latency
		if r.FromCache {
			st.CacheHits++
		}
		if r.Resumed {
			st.Resumed++
		}
		if r.Duplicate {
			st.DuplicatesReused++
		}
		if r.Fallback {
			st.Fallbacks++
		}
		if r.Collapse {
			st.CollapseDetected++
		}
	}
	return st
}

// Merge adds the counters of other to s. Blocks are appended with their
// indices shifted past the blocks already in s.
func (s Stats) Merge(other Stats) Stats {
	offset := len(s.Blocks)
	blocks := make([]ChunkRecord, 0, len(s.Blocks)+len(other.Blocks))
	blocks = append(blocks, s.Blocks...)
	for _, b := range other.Blocks {
		b.Index += offset
		blocks = append(blocks, b)
	}
	if s.Stage == "" {
		s.Stage = other.Stage
	}
	s.TotalChunks += other.TotalChunks
	s.CacheHits += other.CacheHits
	s.Resumed += other.Resumed
	s.Fallbacks += other.Fallbacks
	s.CollapseDetected += other.CollapseDetected
	s.DuplicatesReused += other.DuplicatesReused
	s.CharsIn += other.CharsIn
	s.CharsOut += other.CharsOut
	s.Latency += other.Latency
	s.Blocks = blocks
	return s
}

// Manifest converts s into the run manifest schema.
func (s Stats) Manifest(input string) manifest.Manifest {
	m := manifest.Manifest{
		Stage:  s.Stage,
		Input:  input,
		Chunks: make([]manifest.ChunkEntry, 0, len(s.Blocks)),
		Totals: manifest.Totals{
			Chunks:           s.TotalChunks,
			CharsIn:          s.CharsIn,
			CharsOut:         s.CharsOut,
			CacheHits:        s.CacheHits,
			Fallbacks:        s.Fallbacks,
			CollapseDetected: s.CollapseDetected,
			DuplicatesReused: s.DuplicatesReused,
			Latency:          s.Latency.Seconds(),
		},
	}
	for _, b := range s.Blocks {
		m.Chunks = append(m.Chunks, manifest.ChunkEntry{
			ChunkIndex:     b.Index,
			CharsIn:        b.CharsIn,
			CharsOut:       b.CharsOut,
			Latency:        b.Latency.Seconds(),
			FromCache:      b.FromCache,
			Fallback:       b.Fallback,
			FallbackReason: b.Reason,
		})
	}
	return m
}

// Report converts s into the run report.
func (s Stats) Report(input, version string, now time.Time) manifest.Report {
	return manifest.Report{
		Mode:             s.Stage,
		Input:            input,
		TotalChunks:      s.TotalChunks,
		CacheHits:        s.CacheHits,
		Fallbacks:        s.Fallbacks,
		CollapseDetected: s.CollapseDetected,
		DuplicatesReused: s.DuplicatesReused,
		Timestamp:        now.Format(time.RFC3339),
		PipelineVersion:  version,
	}
}
