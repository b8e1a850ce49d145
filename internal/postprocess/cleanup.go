package postprocess

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/valpere/tradutor/internal/similarity"
)

// CleanupStats counts what CleanupBeforeRefine changed.
type CleanupStats struct {
	LinesRemoved       int `json:"lines_removed"`
	BlocksRemoved      int `json:"blocks_removed"`
	BreaksInserted     int `json:"breaks_inserted"`
	PrefixLinesRemoved int `json:"prefix_lines_removed"`
	FragmentsRemoved   int `json:"fragments_removed"`
}

// Changed reports whether any step modified the text.
func (s CleanupStats) Changed() bool {
	return s.LinesRemoved+s.BlocksRemoved+s.BreaksInserted+s.PrefixLinesRemoved+s.FragmentsRemoved > 0
}

const (
	lineDupThreshold      = 0.94
	paragraphDupThreshold = 0.9
	shortExclamationLen   = 20
)

// CleanupBeforeRefine removes duplicated lines, paragraphs and fragments left
// by earlier stages and splits glued dialogue, without merging paragraphs.
// The result is a fixed point: a second call reports no changes.
func CleanupBeforeRefine(md string) (string, CleanupStats) {
	var st CleanupStats
	md, st.PrefixLinesRemoved = DedupePrefixLines(md)
	md, st.LinesRemoved, st.BlocksRemoved = DedupeAdjacentLines(md)
	md, st.BreaksInserted = FixGluedDialogues(md)
	md, st.FragmentsRemoved = DedupeAdjacentFragments(md)
	return md, st
}

var (
	reSingleQuotes = regexp.MustCompile("[’‘´`]")
	reDoubleQuotes = regexp.MustCompile("[“”]")
	reLongEllipsis = regexp.MustCompile(`\.{3,}`)
)

func normalizeForDupe(s string) string {
	s = similarity.NormalizeSpace(s)
	s = strings.Trim(s, "\"“”‘’")
	s = reSingleQuotes.ReplaceAllString(s, "'")
	s = reDoubleQuotes.ReplaceAllString(s, `"`)
	s = reLongEllipsis.ReplaceAllString(s, "...")
	return strings.ToLower(s)
}

func isFuzzyDuplicate(a, b string, threshold float64) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if similarity.LengthBound(a, b) >= threshold && similarity.Ratio(a, b) >= threshold {
		return true
	}
	lenRatio := float64(min(la, lb)) / float64(max(la, lb))
	return lenRatio >= 0.75 && (strings.Contains(a, b) || strings.Contains(b, a))
}

// isProtectedShortLine reports lines that legitimately repeat: short
// exclamations and onomatopoeia ("Crack!") and bare dialogue marks ("— ?").
func isProtectedShortLine(line string) bool {
	s := strings.TrimSpace(line)
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, "—") || strings.HasPrefix(s, "–") || strings.HasPrefix(s, "-") {
		if strings.IndexFunc(s, unicode.IsLetter) < 0 {
			return true
		}
	}
	if utf8.RuneCountInString(s) > shortExclamationLen {
		return false
	}
	return strings.HasSuffix(s, "!") || strings.HasSuffix(s, "?") ||
		strings.HasSuffix(s, "…") || strings.HasSuffix(s, "...")
}

func allProtected(frags []string) bool {
	for _, f := range frags {
		if !isProtectedShortLine(f) {
			return false
		}
	}
	return true
}

// DedupeAdjacentLines removes consecutive identical or near-identical lines,
// then paragraphs, keeping the longer copy. It returns the counts of removed
// lines and paragraphs.
func DedupeAdjacentLines(text string) (string, int, int) {
	var (
		kept         []string
		prevNorm     string
		linesRemoved int
	)
	for _, ln := range strings.Split(text, "\n") {
		norm := normalizeForDupe(ln)
		if norm != "" && !isProtectedShortLine(ln) && isFuzzyDuplicate(prevNorm, norm, lineDupThreshold) {
			last := len(kept) - 1
			if len(similarity.NormalizeSpace(kept[last])) < len(similarity.NormalizeSpace(ln)) {
				kept[last] = ln
			}
			linesRemoved++
			prevNorm = norm
			continue
		}
		kept = append(kept, ln)
		prevNorm = norm
	}

	var (
		paragraphs    []string
		prevParaNorm  string
		blocksRemoved int
	)
	for _, para := range strings.Split(strings.Join(kept, "\n"), "\n\n") {
		norm := normalizeForDupe(para)
		if norm != "" && !isProtectedShortLine(para) && isFuzzyDuplicate(prevParaNorm, norm, paragraphDupThreshold) {
			last := len(paragraphs) - 1
			if len(similarity.NormalizeSpace(paragraphs[last])) < len(similarity.NormalizeSpace(para)) {
				paragraphs[last] = para
			}
			blocksRemoved++
			continue
		}
		paragraphs = append(paragraphs, para)
		prevParaNorm = norm
	}

	return strings.Join(paragraphs, "\n\n"), linesRemoved, blocksRemoved
}

var reGluedSentence = regexp.MustCompile(`([.!?]["']?)\s+("?[A-Z\x{00c0}-\x{017f}])`)

// FixGluedDialogues breaks a line where a sentence ends and a new capitalised
// sentence or speech starts on the same line. Headings are left alone.
func FixGluedDialogues(text string) (string, int) {
	lines := strings.Split(text, "\n")
	breaks := 0
	for i, ln := range lines {
		if strings.HasPrefix(strings.TrimLeftFunc(ln, unicode.IsSpace), "#") {
			continue
		}
		n := len(reGluedSentence.FindAllStringIndex(ln, -1))
		if n == 0 {
			continue
		}
		lines[i] = reGluedSentence.ReplaceAllString(ln, "$1\n$2")
		breaks += n
	}
	return strings.Join(lines, "\n"), breaks
}

var reOpenEnding = regexp.MustCompile(`[.!?:;]['")\]]?\s*$`)

// DedupePrefixLines drops a truncated line when the next line starts with
// the same text and continues it.
func DedupePrefixLines(text string) (string, int) {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	removed := 0
	for i, ln := range lines {
		if i+1 < len(lines) {
			cur := similarity.NormalizeSpace(ln)
			next := similarity.NormalizeSpace(lines[i+1])
			if cur != "" && len(next) > len(cur) && strings.HasPrefix(next, cur) && !reOpenEnding.MatchString(cur) {
				removed++
				continue
			}
		}
		kept = append(kept, ln)
	}
	return strings.Join(kept, "\n"), removed
}

// splitFragments cuts a paragraph after each sentence end that is followed by
// whitespace and a quote, dash or word character. seps[i] is the whitespace
// that preceded frags[i] in the paragraph.
func splitFragments(para string) (frags, seps []string) {
	runes := []rune(strings.TrimSpace(para))
	start := 0
	sep := ""
	for i := 0; i < len(runes); i++ {
		if !strings.ContainsRune(".!?", runes[i]) {
			continue
		}
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if j == i+1 || j >= len(runes) {
			continue
		}
		if r := runes[j]; r == '"' || r == '“' || r == '-' || r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			frags = append(frags, string(runes[start:i+1]))
			seps = append(seps, sep)
			sep = string(runes[i+1 : j])
			start = j
			i = j - 1
		}
	}
	if start < len(runes) {
		frags = append(frags, string(runes[start:]))
		seps = append(seps, sep)
	}
	return frags, seps
}

// DedupeAdjacentFragments removes runs of one to three sentences repeated
// back to back inside a paragraph. Kept fragments retain their original
// separators, and paragraphs without repeats are kept verbatim.
func DedupeAdjacentFragments(text string) (string, int) {
	var out []string
	removed := 0
	for _, para := range strings.Split(text, "\n\n") {
		frags, seps := splitFragments(para)
		if len(frags) == 0 {
			continue
		}

		var (
			filtered []string
			sb       strings.Builder
		)
		dropped := 0
		for idx := 0; idx < len(frags); {
			skipped := false
			for _, k := range []int{3, 2, 1} {
				if idx+k > len(frags) || len(filtered) < k {
					continue
				}
				if allProtected(frags[idx : idx+k]) {
					continue
				}
				prev := normalizeForDupe(strings.Join(filtered[len(filtered)-k:], " "))
				next := normalizeForDupe(strings.Join(frags[idx:idx+k], " "))
				if isFuzzyDuplicate(prev, next, paragraphDupThreshold) {
					dropped += k
					idx += k
					skipped = true
					break
				}
			}
			if !skipped {
				if len(filtered) > 0 {
					sb.WriteString(seps[idx])
				}
				sb.WriteString(frags[idx])
				filtered = append(filtered, frags[idx])
				idx++
			}
		}

		removed += dropped
		if dropped == 0 {
			out = append(out, strings.TrimSpace(para))
			continue
		}
		out = append(out, sb.String())
	}
	return strings.Join(out, "\n\n"), removed
}
