package reflow

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/valpere/tradutor/internal/postprocess"
)

// Stats counts what the desquebrar normalizers changed.
type Stats struct {
	SceneSeparators int `json:"scene_separators"`
	HyphenLinewraps int `json:"hyphen_linewraps"`
	HardwrapJoins   int `json:"hardwrap_joins"`
	Stutters        int `json:"stutters"`
	HyphenDominance int `json:"hyphen_dominance"`
	StrayQuoteLines int `json:"stray_quote_lines"`
}

// Normalize applies every desquebrar output normalizer in a fixed order.
func Normalize(text string) (string, Stats) {
	var st Stats
	text = normalizeNewlines(text)
	text, st.SceneSeparators = NormalizeSceneSeparators(text)
	text, st.HyphenLinewraps = JoinHyphenLinewrap(text)
	text, st.HardwrapJoins = NormalizeHardwrapJoins(text)
	text, st.Stutters = FixStutter(text)
	text, st.HyphenDominance = NormalizeHyphenDominance(text)
	text, st.StrayQuoteLines = RemoveStrayQuoteLines(text)
	return strings.TrimSpace(text), st
}

var reSceneSeparator = regexp.MustCompile(`^[ \t]*(?:(?:\*[ \t]*){3,}|-{3,}|(?:#[ \t]*){3,})[ \t]*$`)

// IsSceneSeparator reports whether line is a scene break such as "***".
func IsSceneSeparator(line string) bool {
	return reSceneSeparator.MatchString(line)
}

// NormalizeSceneSeparators surrounds scene break lines with blank lines so
// they survive as standalone paragraphs. It returns the number of blank lines
// inserted.
func NormalizeSceneSeparators(text string) (string, int) {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines)+4)
	fixes := 0
	pendingBlank := false

	for _, ln := range lines {
		if IsSceneSeparator(ln) {
			if len(out) > 0 && strings.TrimSpace(out[len(out)-1]) != "" {
				out = append(out, "")
				fixes++
			}
			out = append(out, strings.TrimSpace(ln))
			pendingBlank = true
			continue
		}
		if pendingBlank {
			pendingBlank = false
			if strings.TrimSpace(ln) != "" {
				out = append(out, "")
				fixes++
			}
		}
		out = append(out, ln)
	}
	if fixes == 0 {
		return text, 0
	}
	return strings.Join(out, "\n"), fixes
}

var reHyphenLinewrap = regexp.MustCompile(`(\p{L})-\n(\p{Ll})`)

// JoinHyphenLinewrap rejoins a compound split after its hyphen, keeping the
// hyphen: "hang-\nups" becomes "hang-ups".
func JoinHyphenLinewrap(text string) (string, int) {
	n := len(reHyphenLinewrap.FindAllStringIndex(text, -1))
	if n == 0 {
		return text, 0
	}
	return reHyphenLinewrap.ReplaceAllString(text, "$1-$2"), n
}

const hardwrapTerminators = `.!?:;"'”’…)]*-`

// NormalizeHardwrapJoins replaces a single newline between an unfinished
// line and a lowercase continuation with a space.
func NormalizeHardwrapJoins(text string) (string, int) {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	joins := 0

	for _, ln := range lines {
		if len(out) > 0 && canHardwrapJoin(out[len(out)-1], ln) {
			out[len(out)-1] = strings.TrimRight(out[len(out)-1], " \t") + " " + strings.TrimLeft(ln, " \t")
			joins++
			continue
		}
		out = append(out, ln)
	}
	if joins == 0 {
		return text, 0
	}
	return strings.Join(out, "\n"), joins
}

func canHardwrapJoin(prev, next string) bool {
	p := strings.TrimSpace(prev)
	if p == "" || isBlank(next) {
		return false
	}
	if strings.HasPrefix(p, "#") || IsSceneSeparator(p) || IsSceneSeparator(next) {
		return false
	}
	if last, _ := utf8.DecodeLastRuneInString(p); strings.ContainsRune(hardwrapTerminators, last) {
		return false
	}
	return startsLowercase(next) && !isDialogueStart(next)
}

var reStutter = regexp.MustCompile(`(^|[^\p{L}])(\p{L})- (\p{L})`)

// FixStutter closes the gap in a stuttered word when both letters agree:
// "D- do." becomes "D-do.".
func FixStutter(text string) (string, int) {
	fixes := 0
	out := reStutter.ReplaceAllStringFunc(text, func(m string) string {
		sub := reStutter.FindStringSubmatch(m)
		if !strings.EqualFold(sub[2], sub[3]) {
			return m
		}
		fixes++
		return sub[1] + sub[2] + "-" + sub[3]
	})
	return out, fixes
}

var (
	reWordToken = regexp.MustCompile(`[\p{L}\p{N}]+(?:-[\p{L}\p{N}]+)*`)

	honorifics = map[string]bool{
		"sama": true, "san": true, "kun": true, "chan": true,
		"dono": true, "sensei": true, "senpai": true,
	}
)

// NormalizeHyphenDominance removes a spurious internal hyphen ("under-stand")
// when the joined spelling occurs at least twice in the same text and more
// often than the hyphenated one. Matching is case-sensitive and honorific
// suffixes are never joined.
func NormalizeHyphenDominance(text string) (string, int) {
	counts := make(map[string]int)
	for _, tok := range reWordToken.FindAllString(text, -1) {
		counts[tok]++
	}

	replace := make(map[string]string)
	for tok, n := range counts {
		parts := strings.Split(tok, "-")
		if len(parts) != 2 || honorifics[strings.ToLower(parts[1])] {
			continue
		}
		joined := parts[0] + parts[1]
		if counts[joined] >= 2 && counts[joined] > n {
			replace[tok] = joined
		}
	}
	if len(replace) == 0 {
		return text, 0
	}

	fixes := 0
	out := reWordToken.ReplaceAllStringFunc(text, func(tok string) string {
		if joined, ok := replace[tok]; ok {
			fixes++
			return joined
		}
		return tok
	})
	return out, fixes
}

// RemoveStrayQuoteLines drops lines that hold nothing but a quote mark.
func RemoveStrayQuoteLines(text string) (string, int) {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	removed := 0
	for _, ln := range lines {
		if postprocess.IsQuoteOnlyLine(ln) {
			removed++
			continue
		}
		out = append(out, ln)
	}
	if removed == 0 {
		return text, 0
	}
	return strings.Join(out, "\n"), removed
}
