// Package validator decides whether a generated chunk can be accepted.
//
// Each pipeline owns a Profile: an ordered table of rules. Validate runs the
// rules allowed by the guardrail level and reports the first violation as a
// Reason tag.
package validator

import (
	"fmt"
	"strings"

	"github.com/valpere/tradutor/internal/detector"
)

// Reason is a closed taxonomy of rejection causes.
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonEmptyOutput            Reason = "empty_output"
	ReasonTruncatedOutput        Reason = "truncated_output"
	ReasonRunawayExpansion       Reason = "runaway_expansion"
	ReasonDialogueOmission       Reason = "dialogue_omission"
	ReasonTruncatedTokenEllipsis Reason = "truncated_token_ellipsis"
	ReasonStrayQuoteLines        Reason = "qa_stray_quote_lines"
	ReasonAlnumLoss              Reason = "alnum_loss"
	ReasonEllipsisChanged        Reason = "ellipsis_changed"
	ReasonRepetition             Reason = "repetition"
	ReasonUnpairedMarkers        Reason = "unpaired_markers"
	ReasonMetaNoise              Reason = "meta_noise"
	ReasonPlaceholderLoss        Reason = "placeholder_loss"
	ReasonLanguageMismatch       Reason = "language_mismatch"
	ReasonCollapseDetected       Reason = "collapse_detected"
	ReasonAggressiveSanitization Reason = "aggressive_sanitization"
	ReasonGenerationFailed       Reason = "generation_failed"
)

// Level is the guardrail strictness.
type Level string

const (
	Strict  Level = "strict"
	Relaxed Level = "relaxed"
	Off     Level = "off"
)

// ParseLevel accepts strict, relaxed and off. An empty string means strict.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case Strict, Relaxed, Off:
		return l, nil
	case "":
		return Strict, nil
	default:
		return "", fmt.Errorf("unknown guardrail level %q", s)
	}
}

// Input is what the rules inspect.
type Input struct {
	// Source is the text sent to the generator.
	Source string
	// Output is the final text after parsing and sanitization.
	Output string
	// Raw is the generator answer before any cleanup. Empty means Output.
	Raw string
	// Parsed is the text handed to the sanitizer. Empty means Raw.
	Parsed string
	// Contaminated is set when the sanitizer removed meta commentary.
	Contaminated bool
	// Tokens are placeholder markers Output must still carry.
	Tokens []string
}

func (in Input) raw() string {
	if in.Raw == "" {
		return in.Output
	}
	return in.Raw
}

func (in Input) parsed() string {
	if in.Parsed == "" {
		return in.raw()
	}
	return in.Parsed
}

// Rule is one named predicate. Check returns true when the input violates
// the rule.
type Rule struct {
	Name   string
	Reason Reason
	// Levels lists the guardrail levels the rule runs under.
	Levels []Level
	Check  func(in Input) bool
}

func (r Rule) runsAt(l Level) bool {
	for _, x := range r.Levels {
		if x == l {
			return true
		}
	}
	return false
}

var (
	allLevels  = []Level{Strict, Relaxed, Off}
	guarded    = []Level{Strict, Relaxed}
	strictOnly = []Level{Strict}
)

// Result is the verdict of a profile.
type Result struct {
	Reason Reason `json:"reason,omitempty"`
	Rule   string `json:"rule,omitempty"`
}

// OK reports acceptance.
func (r Result) OK() bool { return r.Reason == ReasonNone }

func (r Result) Error() string {
	return fmt.Sprintf("rejected by %s (%s)", r.Rule, r.Reason)
}

// Profile is the rule table of one pipeline.
type Profile struct {
	Name  string
	Rules []Rule
	// RetryOnReject re-prompts the generator after a rejection while
	// attempts remain. Without it the first rejection goes to the fallback.
	RetryOnReject bool
}

// Validate runs the rules allowed at level in order and returns the first
// violation.
func (p Profile) Validate(in Input, level Level) Result {
	if level == "" {
		level = Strict
	}
	for _, r := range p.Rules {
		if !r.runsAt(level) {
			continue
		}
		if r.Check(in) {
			return Result{Reason: r.Reason, Rule: r.Name}
		}
	}
	return Result{}
}

// Translate is the translation profile. maxRatio bounds expansion; det, when
// non-nil, enables the target language rule under strict guardrails.
func Translate(maxRatio float64, det *detector.Detector, targetLang string) Profile {
	rules := []Rule{
		dialogueRule,
		emptyRule,
		ratioMinRule(0.6),
		ratioMaxRule(maxRatio),
		gluedEllipsisRule,
		strayQuoteRule,
		repetitionRule,
		unpairedMarkersRule,
		metaNoiseRule,
		placeholderRule,
	}
	if det != nil && targetLang != "" {
		rules = append(rules, languageRule(det, targetLang))
	}
	rules = append(rules, aggressiveSanitizationRule)
	return Profile{Name: "translate", Rules: rules, RetryOnReject: true}
}

// Refine is the refinement profile. Refinement is attempted once.
func Refine() Profile {
	return Profile{
		Name: "refine",
		Rules: []Rule{
			emptyRule,
			ratioMinRule(0.8),
			ratioMaxRule(2.0),
			repetitionRule,
			unpairedMarkersRule,
			metaNoiseRule,
			dialogueRule,
		},
	}
}

// Desquebrar is the line-unbreaking profile. The generator may only move
// line breaks, so content must be retained almost exactly.
func Desquebrar() Profile {
	return Profile{
		Name: "desquebrar",
		Rules: []Rule{
			emptyRule,
			strayQuoteRule,
			alnumRule,
			ellipsisCountRule,
			gluedEllipsisRule,
			ratioMinRule(0.6),
			ratioMaxRule(2.0),
		},
	}
}
