package manifest

import "fmt"

// ChunkEntry is one chunk of a stage manifest.
type ChunkEntry struct {
	ChunkIndex     int     `json:"chunk_index"`
	CharsIn        int     `json:"chars_in"`
	CharsOut       int     `json:"chars_out"`
	Latency        float64 `json:"latency"`
	FromCache      bool    `json:"from_cache"`
	Fallback       bool    `json:"fallback"`
	FallbackReason string  `json:"fallback_reason,omitempty"`
}

// Totals are the counters of a stage manifest.
type Totals struct {
	Chunks           int     `json:"chunks"`
	CharsIn          int     `json:"chars_in"`
	CharsOut         int     `json:"chars_out"`
	CacheHits        int     `json:"cache_hits"`
	Fallbacks        int     `json:"fallbacks"`
	CollapseDetected int     `json:"collapse_detected"`
	DuplicatesReused int     `json:"duplicates_reused"`
	Latency          float64 `json:"latency"`
}

// Manifest is the per-stage chunk log.
type Manifest struct {
	Stage  string       `json:"stage"`
	Input  string       `json:"input"`
	Chunks []ChunkEntry `json:"chunks"`
	Totals Totals       `json:"totals"`
}

// Report is written to 99_reports/report.json.
type Report struct {
	Mode             string `json:"mode"`
	Input            string `json:"input"`
	TotalChunks      int    `json:"total_chunks"`
	CacheHits        int    `json:"cache_hits"`
	Fallbacks        int    `json:"fallbacks"`
	CollapseDetected int    `json:"collapse_detected"`
	DuplicatesReused int    `json:"duplicates_reused"`
	Timestamp        string `json:"timestamp"`
	PipelineVersion  string `json:"pipeline_version"`
}

// StageDir maps a stage name to its run subdirectory.
func StageDir(stage string) (string, error) {
	switch stage {
	case "preprocess":
		return DirPreprocess, nil
	case "desquebrar":
		return DirDesquebrar, nil
	case "split":
		return DirSplitChunk, nil
	case "translate":
		return DirTranslate, nil
	case "cleanup":
		return DirCleanup, nil
	case "refine":
		return DirRefine, nil
	}
	return "", fmt.Errorf("unknown stage %q", stage)
}

// WriteManifest writes <stage dir>/<stage>_manifest.json.
func (w *Writer) WriteManifest(stage string, m Manifest) error {
	dir, err := StageDir(stage)
	if err != nil {
		return err
	}
	m.Stage = stage
	if m.Chunks == nil {
		m.Chunks = []ChunkEntry{}
	}
	return w.WriteJSON(dir+"/"+stage+"_manifest.json", m)
}

// WriteReport writes the run report.
func (w *Writer) WriteReport(r Report) error {
	return w.WriteJSON(reportFile, r)
}

// WriteStageText writes a stage output file under its stage directory.
func (w *Writer) WriteStageText(stage, name, text string) (string, error) {
	dir, err := StageDir(stage)
	if err != nil {
		return "", err
	}
	return w.WriteText(dir+"/"+name, text)
}
