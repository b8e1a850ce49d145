// Package postprocess removes generator artifacts from stage output and
// repairs dialogue structure.
//
// Clean is applied to every raw generator answer before validation. The
// Sanitize family strips meta commentary and pathological repetition,
// NormalizeStructure and FixUnbalancedQuotes fix quote layout, and
// CleanupBeforeRefine deduplicates a document before it is refined.
package postprocess

import (
	"regexp"
	"strings"
)

// Clean removes generator artifacts from raw in three phases and returns the
// trimmed result:
//  1. Thinking / reasoning block removal
//  2. Instruction echo removal (prompt leakage)
//  3. Quote wrapping removal, only when source itself was not wrapped
func Clean(raw, source string) string {
	text := removeThinkingBlocks(raw)
	text = removeInstructionEchoes(text)
	if !isQuoteWrapped(strings.TrimSpace(source)) {
		text = removeQuoteWrapping(text)
	}
	return strings.TrimSpace(text)
}

// --- Phase 1: thinking blocks ---

// thinkingBlockRe matches complete <think>…</think> style blocks. Each tag
// variant is listed explicitly because RE2 has no backreferences.
var thinkingBlockRe = regexp.MustCompile(
	`(?is)<thinking>.*?</thinking>|<think>.*?</think>|<reasoning>.*?</reasoning>|<analysis>.*?</analysis>`,
)

// truncatedThinkingRe matches an opened thinking tag whose closing tag is
// missing (the model was cut off mid-thought).
var truncatedThinkingRe = regexp.MustCompile(
	`(?is)(?:<thinking>|<think>|<reasoning>|<analysis>).*$`,
)

func removeThinkingBlocks(text string) string {
	text = thinkingBlockRe.ReplaceAllString(text, "")
	text = truncatedThinkingRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// --- Phase 2: instruction echoes ---

// echoPatterns match introductory phrases prepended despite the prompt. Each
// is anchored to the start and requires a colon to avoid eating content.
var echoPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^here(?:'s| is)(?: the)? (?:refined |corrected |translated )?(?:translation|text)\s*:`),
	regexp.MustCompile(`(?i)^(?:certainly|sure|of course)[,.]? here(?:'s| is)(?: the)? (?:refined |corrected |translated )?(?:translation|text)\s*:`),
	regexp.MustCompile(`(?i)^aqui est[aá] (?:a |o )?(?:tradu[cç][aã]o|texto(?: refinado| corrigido)?)\s*:`),
	regexp.MustCompile(`(?i)^(?:tradu[cç][aã]o|texto corrigido|texto)\s*:`),
}

func removeInstructionEchoes(text string) string {
	for _, re := range echoPatterns {
		if loc := re.FindStringIndex(text); loc != nil && loc[0] == 0 {
			text = strings.TrimSpace(text[loc[1]:])
		}
	}
	return text
}

// --- Phase 3: quote wrapping ---

var quotePairs = [][2]rune{
	{'"', '"'},
	{'\'', '\''},
	{'«', '»'},
	{'“', '”'}, // “ ”
	{'‘', '’'}, // ‘ ’
}

func isQuoteWrapped(text string) bool {
	runes := []rune(text)
	n := len(runes)
	if n < 2 {
		return false
	}
	for _, p := range quotePairs {
		if runes[0] == p[0] && runes[n-1] == p[1] {
			return true
		}
	}
	return false
}

// removeQuoteWrapping strips a matching pair of outer quotes when the entire
// text is wrapped in them and no other quote of the same kind occurs inside.
func removeQuoteWrapping(text string) string {
	if !isQuoteWrapped(text) {
		return text
	}
	runes := []rune(text)
	inner := string(runes[1 : len(runes)-1])
	if strings.ContainsRune(inner, runes[0]) || strings.ContainsRune(inner, runes[len(runes)-1]) {
		return text
	}
	return strings.TrimSpace(inner)
}
