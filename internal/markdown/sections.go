package markdown

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Section is a heading line and the text under it. Heading is empty for
// text that precedes the first heading.
type Section struct {
	Heading string
	Body    string
}

// Text renders the section as "heading\n\nbody".
func (s Section) Text() string {
	switch {
	case s.Heading == "":
		return s.Body
	case s.Body == "":
		return s.Heading
	}
	return s.Heading + "\n\n" + s.Body
}

// Join renders sections separated by blank lines.
func Join(sections []Section) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		if t := s.Text(); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

var reLevel2 = regexp.MustCompile(`(?m)^##\s+.+$`)

// SplitSections cuts md at level-two headings. Without any, the whole text
// is one untitled section. Text before the first heading is dropped when
// blank.
func SplitSections(md string) []Section {
	locs := reLevel2.FindAllStringIndex(md, -1)
	if len(locs) == 0 {
		return []Section{{Body: strings.TrimSpace(md)}}
	}
	var sections []Section
	if pre := strings.TrimSpace(md[:locs[0][0]]); pre != "" {
		sections = append(sections, Section{Body: pre})
	}
	for i, loc := range locs {
		end := len(md)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		sections = append(sections, Section{
			Heading: strings.TrimSpace(md[loc[0]:loc[1]]),
			Body:    strings.TrimSpace(md[loc[1]:end]),
		})
	}
	return sections
}

var (
	reChapter  = regexp.MustCompile(`(?i)^(?:prologue|epilogue|afterword|chapter\s+\d+(?:(?::|\s*[–—-])\s*.*)?)\s*$`)
	reTOCDigit = regexp.MustCompile(`^[\d\s.]+$`)
)

// IsChapterMarker reports a line such as "Prologue" or "Chapter 3: Title".
func IsChapterMarker(line string) bool {
	return reChapter.MatchString(strings.TrimSpace(line))
}

// isTOCStub reports bodies that belong to a table of contents entry rather
// than a chapter: empty, a page number, or a couple of tokens without
// letters.
func isTOCStub(body string) bool {
	s := strings.TrimSpace(body)
	if s == "" {
		return true
	}
	if utf8.RuneCountInString(s) <= 10 && reTOCDigit.MatchString(s) {
		return true
	}
	if len(strings.Fields(s)) <= 2 && strings.IndexFunc(s, isLatinLetter) < 0 {
		return true
	}
	return false
}

func isLatinLetter(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= 'À' && r <= 'ÿ')
}

// SplitChapters cuts raw text at chapter markers. Each chapter gets a
// "# marker" heading and text before the first marker becomes an untitled
// section. Table of contents stubs are skipped. found is false when no
// marker occurs, in which case the whole text is one section.
func SplitChapters(text string) (sections []Section, found bool) {
	lines := strings.Split(text, "\n")
	var marks []int
	for i, ln := range lines {
		if IsChapterMarker(ln) {
			marks = append(marks, i)
		}
	}
	if len(marks) == 0 {
		return []Section{{Body: strings.TrimSpace(text)}}, false
	}

	if pre := strings.TrimSpace(strings.Join(lines[:marks[0]], "\n")); pre != "" {
		sections = append(sections, Section{Body: pre})
	}
	for i, start := range marks {
		end := len(lines)
		if i+1 < len(marks) {
			end = marks[i+1]
		}
		body := strings.TrimSpace(strings.Join(lines[start+1:end], "\n"))
		if isTOCStub(body) {
			continue
		}
		sections = append(sections, Section{
			Heading: "# " + strings.TrimSpace(lines[start]),
			Body:    body,
		})
	}
	return sections, true
}
