package postprocess

import (
	"regexp"
	"strings"
)

// StructureStats counts the fixes applied by NormalizeStructure.
type StructureStats struct {
	DialogueSplits        int `json:"dialogue_splits"`
	TripleQuotesRemoved   int `json:"triple_quotes_removed"`
	InQuoteBlankCollapses int `json:"inquote_blank_collapses"`
}

// Total is the number of fixes of any kind.
func (s StructureStats) Total() int {
	return s.DialogueSplits + s.TripleQuotesRemoved + s.InQuoteBlankCollapses
}

var (
	reGluedCurly     = regexp.MustCompile(`”[ \t]*“`)
	reGluedStraight  = regexp.MustCompile(`([^\s"])"[ \t]*"(\S)`)
	reTrailingTriple = regexp.MustCompile(`(?m)"{3,}[ \t]*$`)
)

// NormalizeStructure repairs dialogue layout: consecutive speeches glued on
// one line are split into paragraphs, stray trailing """ are removed and
// blank lines inside a curly-quoted speech are collapsed. Applying it twice
// changes nothing the second time.
func NormalizeStructure(text string) (string, StructureStats) {
	var st StructureStats
	if text == "" {
		return text, st
	}

	text, st.TripleQuotesRemoved = replaceCounting(reTrailingTriple, text, "")
	var n int
	text, n = replaceCounting(reGluedCurly, text, "”\n\n“")
	st.DialogueSplits += n
	text, n = replaceCounting(reGluedStraight, text, "$1\"\n\n\"$2")
	st.DialogueSplits += n
	text, st.InQuoteBlankCollapses = CollapseBlankLinesInQuotes(text)
	return text, st
}

func replaceCounting(re *regexp.Regexp, text, repl string) (string, int) {
	n := len(re.FindAllStringIndex(text, -1))
	if n == 0 {
		return text, 0
	}
	return re.ReplaceAllString(text, repl), n
}

// CollapseBlankLinesInQuotes turns paragraph breaks inside an open curly
// quote into single newlines, so one speech stays one paragraph.
func CollapseBlankLinesInQuotes(text string) (string, int) {
	runes := []rune(text)
	var sb strings.Builder
	sb.Grow(len(text))
	inQuote := false
	fixes := 0

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '“':
			inQuote = true
		case r == '”':
			inQuote = false
		case inQuote && r == '\n':
			j := i + 1
			lineStart := j
			blanks := 0
			for {
				k := j
				for k < len(runes) && (runes[k] == ' ' || runes[k] == '\t') {
					k++
				}
				if k < len(runes) && runes[k] == '\n' {
					blanks++
					j = k + 1
					lineStart = j
					continue
				}
				j = k
				break
			}
			if blanks > 0 {
				sb.WriteRune('\n')
				sb.WriteString(string(runes[lineStart:j]))
				fixes += blanks
				i = j - 1
				continue
			}
		}
		sb.WriteRune(r)
	}
	if fixes == 0 {
		return text, 0
	}
	return sb.String(), fixes
}

// reNarration finds a narration sentence opening right after a sentence end,
// the usual place for a missing closing quote.
var reNarration = regexp.MustCompile(`[.!?](\s+)(?:Ele|Ela|Eles|Elas)\b`)

// FixUnbalancedQuotes inserts a closing ” when the text has exactly one
// unmatched opening “. The quote goes before the first narration sentence of
// the open speech, else before the next opening quote, else at the end.
func FixUnbalancedQuotes(text string) (string, bool) {
	opens, closes := strings.Count(text, "“"), strings.Count(text, "”")
	if opens-closes != 1 {
		return text, false
	}

	unmatched := firstUnmatchedOpen(text)
	if unmatched < 0 {
		return text, false
	}
	after := unmatched + len("“")
	searchEnd := len(text)
	if next := strings.Index(text[after:], "“"); next != -1 {
		searchEnd = after + next
	}

	insert := searchEnd
	if m := reNarration.FindStringSubmatchIndex(text[unmatched:searchEnd]); m != nil {
		insert = unmatched + m[2]
	}
	return text[:insert] + "”" + text[insert:], true
}

func firstUnmatchedOpen(text string) int {
	var stack []int
	for i, r := range text {
		switch r {
		case '“':
			stack = append(stack, i)
		case '”':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) == 0 {
		return -1
	}
	return stack[0]
}

var reChapterHeading = regexp.MustCompile(`(?i)^(?:chapter|cap[ií]tulo)\s+(\d+)`)

// NormalizeChapterHeadings rewrites "Chapter 3" style lines as "CAPÍTULO 3"
// followed by a blank line, collapses blank runs and drops a heading that
// repeats the previous one.
func NormalizeChapterHeadings(text string) string {
	var out []string
	lastBlank := false
	for _, ln := range strings.Split(text, "\n") {
		s := strings.TrimSpace(ln)
		if s == "" {
			if !lastBlank {
				out = append(out, "")
			}
			lastBlank = true
			continue
		}
		lastBlank = false
		if m := reChapterHeading.FindStringSubmatch(strings.TrimRight(s, ":")); m != nil {
			heading := "CAPÍTULO " + m[1]
			if n := len(out); n >= 2 && out[n-1] == "" && out[n-2] == heading {
				continue
			}
			out = append(out, heading, "")
			lastBlank = true
			continue
		}
		out = append(out, s)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
