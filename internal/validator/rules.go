package validator

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/valpere/tradutor/internal/collapse"
	"github.com/valpere/tradutor/internal/detector"
	"github.com/valpere/tradutor/internal/postprocess"
)

const (
	alnumRetentionMin    = 0.99
	sanitizationRatioMin = 0.95
)

var (
	reEllipsis      = regexp.MustCompile(`\.{3}|…`)
	reGluedEllipsis = regexp.MustCompile(`\p{L}(?:\.{3}|…)\p{L}`)

	metaMarkers = []string{"as an ai", "<think>", "</think>", "sou um modelo de linguagem", "analysis:"}
)

func runeLen(s string) int { return utf8.RuneCountInString(strings.TrimSpace(s)) }

func lengthRatio(in Input) float64 {
	return float64(runeLen(in.Output)) / float64(max(runeLen(in.Source), 1))
}

var emptyRule = Rule{
	Name:   "empty",
	Reason: ReasonEmptyOutput,
	Levels: allLevels,
	Check:  func(in Input) bool { return strings.TrimSpace(in.Output) == "" },
}

func ratioMinRule(minRatio float64) Rule {
	return Rule{
		Name:   "ratio_min",
		Reason: ReasonTruncatedOutput,
		Levels: guarded,
		Check:  func(in Input) bool { return lengthRatio(in) < minRatio },
	}
}

func ratioMaxRule(maxRatio float64) Rule {
	return Rule{
		Name:   "ratio_max",
		Reason: ReasonRunawayExpansion,
		Levels: strictOnly,
		Check:  func(in Input) bool { return maxRatio > 0 && lengthRatio(in) > maxRatio },
	}
}

// dialogueRule catches speeches dropped by the generator, counted both as
// quote marks and as lines opening with a quote.
var dialogueRule = Rule{
	Name:   "dialogue",
	Reason: ReasonDialogueOmission,
	Levels: guarded,
	Check: func(in Input) bool {
		iq, oq := postprocess.CountQuotes(in.Source), postprocess.CountQuotes(in.Output)
		if iq >= 4 && oq < iq-2 {
			return true
		}
		iql, oql := postprocess.CountQuoteLines(in.Source), postprocess.CountQuoteLines(in.Output)
		return iql >= 2 && oql < max(1, iql-1)
	},
}

var gluedEllipsisRule = Rule{
	Name:   "glued_ellipsis",
	Reason: ReasonTruncatedTokenEllipsis,
	Levels: guarded,
	Check: func(in Input) bool {
		return len(reGluedEllipsis.FindAllStringIndex(in.Output, -1)) > len(reGluedEllipsis.FindAllStringIndex(in.Source, -1))
	},
}

var strayQuoteRule = Rule{
	Name:   "stray_quote_lines",
	Reason: ReasonStrayQuoteLines,
	Levels: guarded,
	Check: func(in Input) bool {
		return postprocess.CountQuoteOnlyLines(in.Output) > postprocess.CountQuoteOnlyLines(in.Source)
	},
}

func countAlnum(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

var alnumRule = Rule{
	Name:   "alnum_retention",
	Reason: ReasonAlnumLoss,
	Levels: guarded,
	Check: func(in Input) bool {
		src := countAlnum(in.Source)
		if src == 0 {
			return false
		}
		return float64(countAlnum(in.Output))/float64(src) < alnumRetentionMin
	},
}

var ellipsisCountRule = Rule{
	Name:   "ellipsis_count",
	Reason: ReasonEllipsisChanged,
	Levels: guarded,
	Check: func(in Input) bool {
		return len(reEllipsis.FindAllStringIndex(in.Output, -1)) != len(reEllipsis.FindAllStringIndex(in.Source, -1))
	},
}

// repetitionRule ignores signals the source already carries.
var repetitionRule = Rule{
	Name:   "repetition",
	Reason: ReasonRepetition,
	Levels: strictOnly,
	Check: func(in Input) bool {
		if _, hit := collapse.Repetition(in.Output); !hit {
			return false
		}
		_, inSource := collapse.Repetition(in.Source)
		return !inSource
	},
}

var unpairedMarkersRule = Rule{
	Name:   "unpaired_markers",
	Reason: ReasonUnpairedMarkers,
	Levels: guarded,
	Check:  func(in Input) bool { return postprocess.UnpairedMarkers(in.raw()) },
}

var metaNoiseRule = Rule{
	Name:   "meta_noise",
	Reason: ReasonMetaNoise,
	Levels: guarded,
	Check: func(in Input) bool {
		lower := strings.ToLower(in.Output)
		for _, m := range metaMarkers {
			if strings.Contains(lower, m) {
				return true
			}
		}
		return false
	},
}

var placeholderRule = Rule{
	Name:   "placeholders",
	Reason: ReasonPlaceholderLoss,
	Levels: guarded,
	Check: func(in Input) bool {
		for _, tok := range in.Tokens {
			if !strings.Contains(in.Output, tok) {
				return true
			}
		}
		return false
	},
}

func languageRule(det *detector.Detector, target string) Rule {
	return Rule{
		Name:   "language",
		Reason: ReasonLanguageMismatch,
		Levels: strictOnly,
		Check: func(in Input) bool {
			match, decided := det.Matches(in.Output, target)
			return decided && !match
		},
	}
}

// aggressiveSanitizationRule rejects output whose meta commentary made up
// more than a small share of the answer.
var aggressiveSanitizationRule = Rule{
	Name:   "aggressive_sanitization",
	Reason: ReasonAggressiveSanitization,
	Levels: guarded,
	Check: func(in Input) bool {
		if !in.Contaminated {
			return false
		}
		return float64(runeLen(in.Output))/float64(max(runeLen(in.parsed()), 1)) < sanitizationRatioMin
	},
}
