// Package chunker splits documents into generation-safe pieces. Paragraphs
// are never broken unless a single paragraph exceeds the budget, and joining
// the chunks back reproduces the paragraph sequence exactly.
package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// ParagraphSeparator joins paragraphs inside a chunk and chunks inside a
	// document.
	ParagraphSeparator = "\n\n"

	// TranslationLookahead is how far past the target SplitForTranslation may
	// reach to close a chunk on a sentence boundary.
	TranslationLookahead = 400
)

// Chunk is one ordered, contiguous slice of a document.
type Chunk struct {
	// Index is 1-based.
	Index int
	Text  string
	// Continues marks a hard-cut slice that carries on the paragraph of the
	// previous chunk. Join concatenates it without a separator.
	Continues bool
}

// Result is the output of Assemble.
type Result struct {
	Chunks []Chunk
	// Oversized counts paragraphs that exceeded the budget and were hard-cut.
	Oversized int
}

// Texts returns the chunk texts in order.
func (r Result) Texts() []string {
	out := make([]string, len(r.Chunks))
	for i, c := range r.Chunks {
		out[i] = c.Text
	}
	return out
}

// Segment splits text into trimmed, non-empty paragraphs on blank lines.
func Segment(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	var out []string
	for _, p := range strings.Split(text, ParagraphSeparator) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Lines returns the trimmed, non-empty lines of text. Documents with a single
// paragraph are segmented this way so each wrapped line can be packed.
func Lines(text string) []string {
	var out []string
	for _, ln := range strings.Split(text, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			out = append(out, ln)
		}
	}
	return out
}

// Assemble greedily packs paragraphs into chunks of at most budget runes.
// A paragraph longer than budget is hard-cut into budget-sized slices; every
// slice after the first is flagged Continues. Blank paragraphs are skipped.
// A budget ≤ 0 puts every paragraph in a single chunk.
func Assemble(paragraphs []string, budget int) Result {
	var (
		res    Result
		cur    []string
		curLen int
	)

	emit := func(text string, continues bool) {
		res.Chunks = append(res.Chunks, Chunk{
			Index:     len(res.Chunks) + 1,
			Text:      text,
			Continues: continues,
		})
	}
	flush := func() {
		if len(cur) > 0 {
			emit(strings.Join(cur, ParagraphSeparator), false)
		}
		cur, curLen = nil, 0
	}

	for _, p := range paragraphs {
		if strings.TrimSpace(p) == "" {
			continue
		}
		n := utf8.RuneCountInString(p)

		if budget > 0 && n > budget {
			flush()
			res.Oversized++
			runes := []rune(p)
			for start := 0; start < len(runes); start += budget {
				end := start + budget
				if end > len(runes) {
					end = len(runes)
				}
				emit(string(runes[start:end]), start > 0)
			}
			continue
		}

		switch {
		case curLen == 0:
			cur, curLen = []string{p}, n
		case budget <= 0 || curLen+len(ParagraphSeparator)+n <= budget:
			cur = append(cur, p)
			curLen += len(ParagraphSeparator) + n
		default:
			flush()
			cur, curLen = []string{p}, n
		}
	}
	flush()

	return res
}

// Join reassembles chunks into a document. It is the inverse of Assemble:
// Join(Assemble(ps, b).Chunks) == strings.Join(ps, "\n\n") for non-blank ps.
func Join(chunks []Chunk) string {
	var sb strings.Builder
	for i, c := range chunks {
		if i > 0 && !c.Continues {
			sb.WriteString(ParagraphSeparator)
		}
		sb.WriteString(c.Text)
	}
	return sb.String()
}

// SplitForTranslation cuts the joined paragraphs into chunks of roughly
// maxChars runes. A chunk closes on the first sentence boundary in
// [maxChars, maxChars+TranslationLookahead]; failing that, on the last
// boundary before maxChars; failing that, exactly at maxChars.
func SplitForTranslation(paragraphs []string, maxChars int) []string {
	var kept []string
	for _, p := range paragraphs {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	text := []rune(strings.Join(kept, ParagraphSeparator))
	if len(text) == 0 {
		return nil
	}
	if maxChars <= 0 {
		return []string{string(text)}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		target := start + maxChars
		if target >= len(text) {
			if s := strings.TrimSpace(string(text[start:])); s != "" {
				chunks = append(chunks, s)
			}
			break
		}
		hard := target + TranslationLookahead
		if hard > len(text) {
			hard = len(text)
		}

		after, before := -1, -1
		for _, end := range boundaries(text, start, hard) {
			if end >= target {
				after = end
				break
			}
			before = end
		}

		end := target
		switch {
		case after > 0:
			end = after
		case before > start:
			end = before
		}

		if s := strings.TrimSpace(string(text[start:end])); s != "" {
			chunks = append(chunks, s)
		}
		start = end
	}
	return chunks
}

// boundaries returns the end offsets of safe cut points within text[from:to]:
// blank lines and sentence terminators optionally followed by a closing
// quote, when the next rune is whitespace or the end of the text.
func boundaries(text []rune, from, to int) []int {
	var out []int
	for i := from; i < to; i++ {
		r := text[i]
		if r == '\n' && i+1 < to && text[i+1] == '\n' {
			out = append(out, i+2)
			i++
			continue
		}
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		end := i + 1
		if end < len(text) && isClosingQuote(text[end]) {
			end++
		}
		if end == len(text) || (end < len(text) && unicode.IsSpace(text[end])) {
			if end <= to {
				out = append(out, end)
			}
		}
	}
	return out
}

func isClosingQuote(r rune) bool {
	return r == '"' || r == '\'' || r == '”' || r == '’'
}

var (
	reTranslationMarker = regexp.MustCompile(`###\s*TEXTO_TRADUZIDO_[A-Z_]*`)
	reWhitespace        = regexp.MustCompile(`\s+`)
)

// LastSentence returns the final sentence of text with translation markers
// removed. It is used as read-only context for the next chunk.
func LastSentence(text string) string {
	cleaned := reTranslationMarker.ReplaceAllString(text, "")
	cleaned = strings.TrimSpace(reWhitespace.ReplaceAllString(cleaned, " "))

	var parts []string
	runes := []rune(cleaned)
	start := 0
	for i := 0; i < len(runes)-1; i++ {
		if (runes[i] == '.' || runes[i] == '!' || runes[i] == '?') && runes[i+1] == ' ' {
			parts = append(parts, string(runes[start:i+1]))
			start = i + 2
		}
	}
	if start < len(runes) {
		parts = append(parts, string(runes[start:]))
	}

	for i := len(parts) - 1; i >= 0; i-- {
		candidate := strings.TrimSpace(strings.Trim(strings.TrimSpace(parts[i]), "#"))
		if candidate != "" {
			return candidate
		}
	}
	return ""
}
