// Package reflow joins wrongly wrapped lines in text extracted from PDFs
// without calling a generator. It is the deterministic fallback of the
// desquebrar stage and also hosts the normalizers applied to accepted
// desquebrar output.
package reflow

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// shortTitleLen is the maximum rune length of a line that can be taken
	// for a title on capitalisation alone.
	shortTitleLen = 25

	endPunctuation   = `.?!"':`
	titleTerminators = ".?!,;:"
)

// SafeReflow joins a line with the next non-blank line only when the join is
// clearly a wrap artifact:
//   - the current line does not end with terminal punctuation
//   - the next line starts with a lowercase letter
//   - the next line does not open dialogue
//   - neither line looks like a title
//
// A trailing hyphen is dropped on join. Runs of blank lines collapse to one.
func SafeReflow(text string) string {
	if text == "" {
		return text
	}
	lines := strings.Split(normalizeNewlines(text), "\n")

	var out []string
	for idx := 0; idx < len(lines); idx++ {
		if isBlank(lines[idx]) {
			if len(out) > 0 && out[len(out)-1] != "" {
				out = append(out, "")
			}
			continue
		}

		current := strings.TrimSpace(lines[idx])
		for {
			next := idx + 1
			for next < len(lines) && isBlank(lines[next]) {
				next++
			}
			if next >= len(lines) {
				idx = next
				break
			}
			if !shouldJoin(current, lines[next]) {
				break
			}
			current = mergeLines(current, lines[next])
			idx = next
		}
		out = append(out, current)
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}

// Unbreak is the deterministic desquebrar fallback: safe reflow followed by
// scene separator isolation.
func Unbreak(text string) string {
	out := SafeReflow(text)
	out, _ = NormalizeSceneSeparators(out)
	return out
}

func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

func shouldJoin(current, next string) bool {
	if isBlank(current) || isBlank(next) {
		return false
	}
	cur := strings.TrimRightFunc(current, unicode.IsSpace)
	nxt := strings.TrimLeftFunc(next, unicode.IsSpace)

	if IsSceneSeparator(cur) || IsSceneSeparator(nxt) {
		return false
	}
	if last, _ := utf8.DecodeLastRuneInString(cur); strings.ContainsRune(endPunctuation, last) {
		return false
	}
	if !startsLowercase(nxt) || isDialogueStart(nxt) {
		return false
	}
	return !isTitleLike(cur) && !isTitleLike(nxt)
}

func mergeLines(current, next string) string {
	cur := strings.TrimRightFunc(current, unicode.IsSpace)
	nxt := strings.TrimLeftFunc(next, unicode.IsSpace)
	if strings.HasSuffix(cur, "-") {
		return strings.TrimSuffix(cur, "-") + nxt
	}
	return cur + " " + nxt
}

// startsLowercase reports whether the first rune is a lowercase letter.
// A leading quote, digit or dash blocks the join.
func startsLowercase(line string) bool {
	r, _ := utf8.DecodeRuneInString(strings.TrimLeftFunc(line, unicode.IsSpace))
	return unicode.IsLetter(r) && unicode.IsLower(r)
}

func isDialogueStart(line string) bool {
	s := strings.TrimLeftFunc(line, unicode.IsSpace)
	return strings.HasPrefix(s, `"`) || strings.HasPrefix(s, "'") || strings.HasPrefix(s, "-")
}

func isTitleLike(line string) bool {
	s := strings.TrimSpace(line)
	if s == "" {
		return false
	}

	hasLetter, allUpper := false, true
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				allUpper = false
			}
		}
	}
	if hasLetter && allUpper {
		return true
	}

	if utf8.RuneCountInString(s) > shortTitleLen {
		return false
	}
	if last, _ := utf8.DecodeLastRuneInString(s); strings.ContainsRune(titleTerminators, last) {
		return false
	}

	var alphaWords, capitalised int
	for _, w := range strings.Fields(strings.ReplaceAll(s, "-", " ")) {
		if strings.IndexFunc(w, unicode.IsLetter) < 0 {
			continue
		}
		alphaWords++
		if first, _ := utf8.DecodeRuneInString(w); unicode.IsUpper(first) {
			capitalised++
		}
	}
	switch {
	case alphaWords == 0:
		return false
	case alphaWords == 1:
		return capitalised == 1
	default:
		return capitalised >= max(2, alphaWords-1)
	}
}
