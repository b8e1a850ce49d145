package postprocess

import (
	"regexp"
	"strings"
)

// Output delimiters the prompts ask the generator to wrap its answer in.
const (
	TranslateStart = "### TEXTO_TRADUZIDO_INICIO"
	TranslateEnd   = "### TEXTO_TRADUZIDO_FIM"
	RefineStart    = "### TEXTO_REFINADO_INICIO"
	RefineEnd      = "### TEXTO_REFINADO_FIM"
)

// ParseMarked returns the text between start and end. When either marker is
// missing or they are out of order the whole raw text is returned.
func ParseMarked(raw, start, end string) string {
	i := strings.Index(raw, start)
	j := strings.Index(raw, end)
	if i == -1 || j == -1 || j <= i {
		return raw
	}
	return strings.TrimSpace(raw[i+len(start) : j])
}

var reMarkerLine = regexp.MustCompile(`(?i)###\s*TEXTO_(?:TRADUZIDO|REFINADO)_[A-Z_]*`)

// StripMarkers removes every leftover delimiter line.
func StripMarkers(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, ln := range lines {
		if reMarkerLine.MatchString(ln) {
			continue
		}
		kept = append(kept, ln)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// UnpairedMarkers reports whether a start delimiter appears without its end
// delimiter (or the reverse).
func UnpairedMarkers(text string) bool {
	lower := strings.ToLower(text)
	pairs := [][2]string{{TranslateStart, TranslateEnd}, {RefineStart, RefineEnd}}
	for _, p := range pairs {
		hasStart := strings.Contains(lower, strings.ToLower(p[0]))
		hasEnd := strings.Contains(lower, strings.ToLower(p[1]))
		if hasStart != hasEnd {
			return true
		}
	}
	return false
}

// HasStrayHeading reports a "###" heading that is not one of the known
// delimiters, which generators emit when they start narrating their work.
func HasStrayHeading(text string) bool {
	if !strings.Contains(text, "###") {
		return false
	}
	upper := strings.ToUpper(text)
	return !strings.Contains(upper, "TEXTO_TRADUZIDO") && !strings.Contains(upper, "TEXTO_REFINADO")
}
