// Package manifest writes the per-run debug directory: stage inputs and
// outputs, chunk manifests, reports and an error log.
package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/goccy/go-json"
)

// Stage directories of a run, in pipeline order.
const (
	DirInputs       = "00_inputs"
	DirPreprocess   = "10_preprocess"
	DirDesquebrar   = "20_desquebrar"
	DirSplitChunk   = "30_split_chunk"
	DirTranslate    = "40_translate"
	DirCleanup      = "50_cleanup_pre_refine"
	DirRefine       = "60_refine"
	DirReports      = "99_reports"
	errorLog        = DirReports + "/errors.jsonl"
	reportFile      = DirReports + "/report.json"
	timestampLayout = "20060102_150405"
)

var subdirs = []string{DirInputs, DirPreprocess, DirDesquebrar, DirSplitChunk, DirTranslate, DirCleanup, DirRefine, DirReports}

// ErrOutsideRun is returned for paths that do not resolve inside the run
// directory.
var ErrOutsideRun = errors.New("path outside run directory")

// Config sets up a Writer. Zero limits mean unlimited.
type Config struct {
	OutputDir       string
	Slug            string
	MaxChunks       int
	MaxCharsPerFile int
	Now             time.Time
}

// Writer owns one run directory.
type Writer struct {
	root      string
	id        string
	maxChunks int
	maxChars  int
}

// New creates <output>/debug_runs/<slug>/<timestamp> with every stage
// directory.
func New(cfg Config) (*Writer, error) {
	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}
	slug := Slug(cfg.Slug)
	stamp := now.Format(timestampLayout)
	root := filepath.Join(cfg.OutputDir, "debug_runs", slug, stamp)
	for _, sub := range subdirs {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create run dir: %w", err)
		}
	}
	return &Writer{
		root:      root,
		id:        slug + "/" + stamp,
		maxChunks: cfg.MaxChunks,
		maxChars:  cfg.MaxCharsPerFile,
	}, nil
}

// Dir is the run directory.
func (w *Writer) Dir() string { return w.root }

// ID is "<slug>/<timestamp>".
func (w *Writer) ID() string { return w.id }

// Rel validates a run-relative path and returns it in slash form.
func (w *Writer) Rel(p string) (string, error) {
	if p == "" || filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q", ErrOutsideRun, p)
	}
	clean := path.Clean(filepath.ToSlash(p))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrOutsideRun, p)
	}
	return clean, nil
}

func (w *Writer) resolve(rel string) (string, error) {
	clean, err := w.Rel(rel)
	if err != nil {
		return "", err
	}
	full := filepath.Join(w.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	return full, nil
}

// ShouldWriteChunk reports whether chunk (1-based) is within the chunk
// limit.
func (w *Writer) ShouldWriteChunk(chunk int) bool {
	return w.maxChunks <= 0 || chunk <= w.maxChunks
}

// SHA256 is the hex digest of text.
func SHA256(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// WriteText writes text, truncated to the per-file limit, and returns the
// digest of the full text.
func (w *Writer) WriteText(rel, text string) (string, error) {
	full, err := w.resolve(rel)
	if err != nil {
		return "", err
	}
	digest := SHA256(text)
	if w.maxChars > 0 {
		if runes := []rune(text); len(runes) > w.maxChars {
			text = string(runes[:w.maxChars])
		}
	}
	if err := os.WriteFile(full, []byte(text), 0o644); err != nil {
		return "", err
	}
	return digest, nil
}

func encode(v any, indent bool) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteJSON writes v as indented JSON.
func (w *Writer) WriteJSON(rel string, v any) error {
	full, err := w.resolve(rel)
	if err != nil {
		return err
	}
	data, err := encode(v, true)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", rel, err)
	}
	return os.WriteFile(full, data, 0o644)
}

// AppendJSONL appends v as one JSON line.
func (w *Writer) AppendJSONL(rel string, v any) error {
	full, err := w.resolve(rel)
	if err != nil {
		return err
	}
	data, err := encode(v, false)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", rel, err)
	}
	f, err := os.OpenFile(full, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteError appends an entry to the run error log.
func (w *Writer) WriteError(v any) error {
	return w.AppendJSONL(errorLog, v)
}

// Slug turns a file name into a directory-safe name.
func Slug(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(base) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			dash = false
			continue
		}
		if !dash && sb.Len() > 0 {
			sb.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(sb.String(), "-")
	if s == "" || s == "." {
		return "run"
	}
	return s
}
