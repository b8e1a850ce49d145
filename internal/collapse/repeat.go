package collapse

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/valpere/tradutor/internal/postprocess"
)

// stopwords never count towards token loops: "de de de" is a typo, not a
// generator stuck in a loop.
var stopwords = map[string]bool{
	"a": true, "o": true, "as": true, "os": true, "e": true, "é": true, "de": true, "da": true,
	"do": true, "das": true, "dos": true, "em": true, "no": true, "na": true, "nos": true,
	"nas": true, "um": true, "uma": true, "que": true, "se": true, "por": true, "para": true,
	"com": true, "não": true, "ao": true, "à": true, "ele": true, "ela": true, "eu": true,
	"the": true, "and": true, "of": true, "to": true, "in": true, "is": true, "it": true,
	"i": true, "you": true, "he": true, "she": true, "was": true,
}

const repeatedBlockRunes = 120

// Tokens splits text into lowercase words.
func Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

// repeatedLine finds a line of at least minRepeatedLineRunes runes that
// occurs repeatedLineCount times or more.
func repeatedLine(text string) (string, bool) {
	counts := make(map[string]int)
	for _, ln := range strings.Split(text, "\n") {
		s := strings.TrimSpace(ln)
		if utf8.RuneCountInString(s) < minRepeatedLineRunes {
			continue
		}
		counts[s]++
		if counts[s] >= repeatedLineCount {
			return s, true
		}
	}
	return "", false
}

func tokenLoop(tokens []string) (string, bool) {
	run := 1
	for i := 1; i < len(tokens); i++ {
		if tokens[i] != tokens[i-1] || stopwords[tokens[i]] {
			run = 1
			continue
		}
		run++
		if run >= tokenLoopRun {
			return tokens[i], true
		}
	}
	return "", false
}

// tokenBurst finds a non-stopword that occurs tokenBurstCount times inside
// a sliding window of tokenBurstWindow tokens.
func tokenBurst(tokens []string) (string, bool) {
	counted := func(tok string) bool {
		return !stopwords[tok] && utf8.RuneCountInString(tok) >= 2
	}
	counts := make(map[string]int)
	for i, tok := range tokens {
		if i >= tokenBurstWindow {
			if old := tokens[i-tokenBurstWindow]; counted(old) {
				counts[old]--
			}
		}
		if !counted(tok) {
			continue
		}
		counts[tok]++
		if counts[tok] >= tokenBurstCount {
			return tok, true
		}
	}
	return "", false
}

func repeatedSentence(text string) (string, bool) {
	counts := make(map[string]int)
	for _, s := range splitSentences(text) {
		if utf8.RuneCountInString(s) < minRepeatedLineRunes {
			continue
		}
		counts[s]++
		if counts[s] >= repeatedLineCount {
			return s, true
		}
	}
	return "", false
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' || r == '…' || r == '\n' {
			if s := strings.ToLower(strings.TrimSpace(text[start:i])); s != "" {
				out = append(out, s)
			}
			start = i + utf8.RuneLen(r)
		}
	}
	if s := strings.ToLower(strings.TrimSpace(text[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

// Repetition reports the first repetition signal in text. It is stricter
// than the collapse checks: a sentence said three times counts, and so does
// a long block repeated right after itself.
func Repetition(text string) (string, bool) {
	if _, ok := repeatedLine(text); ok {
		return SignalRepeatedLine, true
	}
	tokens := Tokens(text)
	if _, ok := tokenLoop(tokens); ok {
		return SignalTokenLoop, true
	}
	if _, ok := tokenBurst(tokens); ok {
		return SignalTokenBurst, true
	}
	if _, ok := repeatedSentence(text); ok {
		return SignalRepeatedSentence, true
	}
	if postprocess.HasRepeatedBlock(text, repeatedBlockRunes) {
		return SignalRepeatedBlock, true
	}
	return "", false
}
