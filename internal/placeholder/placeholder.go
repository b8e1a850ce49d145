// Package placeholder shields fragments that a generator must copy verbatim
// (markup, code, links) by swapping them for numbered markers [PH0], [PH1], …
// before translation and putting them back afterwards.
package placeholder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	reFencedCode = regexp.MustCompile("(?s)```.*?```")
	reInlineCode = regexp.MustCompile("`[^`\n]+`")
	reMDImage    = regexp.MustCompile(`!\[[^\]\n]*\]\([^)\n]+\)`)
	reURL        = regexp.MustCompile(`https?://[^\s)>\]]+`)
	reHTMLTag    = regexp.MustCompile(`</?[A-Za-z][^<>\n]*>`)

	rePlaceholder = regexp.MustCompile(`\[PH(\d+)\]`)
)

// protectOrder lists the patterns from the widest match to the narrowest so
// that a tag inside a code block is captured with the block.
var protectOrder = []*regexp.Regexp{reFencedCode, reInlineCode, reMDImage, reURL, reHTMLTag}

// Set holds the fragments captured by Protect for one chunk.
type Set struct {
	originals []string
}

// Protect replaces protected fragments with markers in order of appearance.
func Protect(text string) (string, *Set) {
	s := &Set{}
	replace := func(match string) string {
		id := token(len(s.originals))
		s.originals = append(s.originals, match)
		return id
	}
	for _, re := range protectOrder {
		text = re.ReplaceAllStringFunc(text, replace)
	}
	return text, s
}

func token(i int) string { return fmt.Sprintf("[PH%d]", i) }

// Len is the number of captured fragments.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.originals)
}

// Tokens returns the markers a generator answer has to carry.
func (s *Set) Tokens() []string {
	out := make([]string, s.Len())
	for i := range out {
		out[i] = token(i)
	}
	return out
}

// Restore substitutes markers with the captured fragments. Unknown indices
// are left in place.
func (s *Set) Restore(text string) string {
	if s.Len() == 0 {
		return text
	}
	return rePlaceholder.ReplaceAllStringFunc(text, func(match string) string {
		idx, err := strconv.Atoi(rePlaceholder.FindStringSubmatch(match)[1])
		if err != nil || idx >= len(s.originals) {
			return match
		}
		return s.originals[idx]
	})
}

// Missing returns the indices of markers absent from text.
func (s *Set) Missing(text string) []int {
	var missing []int
	for i := 0; i < s.Len(); i++ {
		if !strings.Contains(text, token(i)) {
			missing = append(missing, i)
		}
	}
	return missing
}

// Hint is appended to a prompt when the chunk carries markers.
func Hint() string {
	return "Preserve exatamente os marcadores [PHn]: nao traduza, nao mova e nao remova nenhum deles."
}
