package postprocess

import (
	"strings"
)

// QuoteChars are the double-quote marks counted by the dialogue guards.
const QuoteChars = "\"“”‟❝❞"

// CountQuotes returns the number of double-quote marks in text.
func CountQuotes(text string) int {
	n := 0
	for _, r := range text {
		if strings.ContainsRune(QuoteChars, r) {
			n++
		}
	}
	return n
}

// CountQuoteLines returns the number of lines that open with a quote mark.
func CountQuoteLines(text string) int {
	n := 0
	for _, ln := range strings.Split(text, "\n") {
		s := strings.TrimSpace(ln)
		if strings.HasPrefix(s, `"`) || strings.HasPrefix(s, "“") || strings.HasPrefix(s, "”") {
			n++
		}
	}
	return n
}

// IsQuoteOnlyLine reports whether line holds a single quote mark and nothing
// else, a typical generator artifact.
func IsQuoteOnlyLine(line string) bool {
	s := []rune(strings.TrimSpace(line))
	return len(s) == 1 && strings.ContainsRune(QuoteChars, s[0])
}

// CountQuoteOnlyLines returns how many lines IsQuoteOnlyLine.
func CountQuoteOnlyLines(text string) int {
	n := 0
	for _, ln := range strings.Split(text, "\n") {
		if IsQuoteOnlyLine(ln) {
			n++
		}
	}
	return n
}

// IsDialogueLine reports whether line opens with a quote mark or a dash.
func IsDialogueLine(line string) bool {
	s := strings.TrimSpace(line)
	for _, p := range []string{`"`, "'", "“", "”", "‘", "—", "–", "-"} {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
