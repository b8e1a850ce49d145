// Package collapse detects degenerate generator output: loops, runaway
// repetition, script mixing and drift away from the source.
package collapse

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/valpere/tradutor/internal/detector"
	"github.com/valpere/tradutor/internal/postprocess"
)

// Mode selects the thresholds of a check.
type Mode string

const (
	ModeTranslate Mode = "translate"
	ModeRefine    Mode = "refine"
)

// Signal names reported in a Finding.
const (
	SignalEmpty            = "empty"
	SignalRepeatedLine     = "repeated_line"
	SignalTokenLoop        = "token_loop"
	SignalTokenBurst       = "token_burst"
	SignalRepeatedBlock    = "repeated_block"
	SignalRepeatedSentence = "repeated_sentence"
	SignalCJK              = "cjk_script"
	SignalForeignMarkers   = "foreign_markers"
	SignalForeignAccents   = "foreign_accents"
	SignalEnglish          = "english_density"
	SignalBannedMarker     = "banned_marker"
	SignalStrayHeading     = "stray_heading"
	SignalEntityDrift      = "entity_drift"
	SignalShort            = "length_short"
	SignalLong             = "length_long"
	SignalLanguageDrift    = "language_drift"
)

const (
	minRepeatedLineRunes = 10
	repeatedLineCount    = 3
	tokenLoopRun         = 6
	tokenBurstCount      = 10
	tokenBurstWindow     = 50
	cjkRunLimit          = 6
	cjkTotalLimit        = 10
	foreignAccentLimit   = 30
	englishDensityLimit  = 0.03
	entitySharedMin      = 0.6
	entityExtraMax       = 5
	maxLengthRatio       = 2.0
	languageCheckRunes   = 200
)

var minLengthRatio = map[Mode]float64{
	ModeTranslate: 0.7,
	ModeRefine:    0.8,
}

// Finding describes why output was classified as collapsed.
type Finding struct {
	Signal string `json:"signal"`
	Detail string `json:"detail,omitempty"`
}

// Detector runs the collapse checks. The zero value skips language
// identification.
type Detector struct {
	lang   *detector.Detector
	target string
}

// Option configures a Detector.
type Option func(*Detector)

// WithLanguage enables the language drift check against target, an ISO
// 639-1 code.
func WithLanguage(det *detector.Detector, target string) Option {
	return func(d *Detector) {
		d.lang = det
		d.target = target
	}
}

func New(opts ...Option) *Detector {
	d := &Detector{}
	for _, o := range opts {
		o(d)
	}
	return d
}

type check func(d *Detector, mode Mode, source, output string) (Finding, bool)

// checks run in order; the first hit wins.
var checks = []check{
	checkEmpty,
	checkRepetition,
	checkScript,
	checkMarkers,
	checkEnglish,
	checkEntities,
	checkLength,
	checkLanguage,
}

// Check reports the first collapse signal found in output. source is the
// text the generator was given and may be empty when unknown.
func (d *Detector) Check(mode Mode, source, output string) (Finding, bool) {
	for _, c := range checks {
		if f, hit := c(d, mode, source, output); hit {
			return f, true
		}
	}
	return Finding{}, false
}

func checkEmpty(_ *Detector, _ Mode, _, output string) (Finding, bool) {
	if strings.TrimSpace(output) == "" {
		return Finding{Signal: SignalEmpty}, true
	}
	return Finding{}, false
}

func checkRepetition(_ *Detector, _ Mode, _, output string) (Finding, bool) {
	if line, ok := repeatedLine(output); ok {
		return Finding{Signal: SignalRepeatedLine, Detail: line}, true
	}
	tokens := Tokens(output)
	if tok, ok := tokenLoop(tokens); ok {
		return Finding{Signal: SignalTokenLoop, Detail: tok}, true
	}
	if tok, ok := tokenBurst(tokens); ok {
		return Finding{Signal: SignalTokenBurst, Detail: tok}, true
	}
	return Finding{}, false
}

func checkScript(_ *Detector, _ Mode, _, output string) (Finding, bool) {
	run, longest, total := 0, 0, 0
	for _, r := range output {
		if unicode.Is(unicode.Han, r) {
			run++
			total++
			longest = max(longest, run)
			continue
		}
		run = 0
	}
	if longest >= cjkRunLimit || total > cjkTotalLimit {
		return Finding{Signal: SignalCJK}, true
	}
	return Finding{}, false
}

var (
	reForeignMarkers = regexp.MustCompile(`(?i)\b(?:bonjour|mon ami|ma ch[eè]re|tr[eè]s|oui|siempre|pero|usted|se[nñ]or)\b`)
	foreignAccents   = "èùñìòëïœæß¿¡"
	bannedMarkers    = []string{"$$$$", "<think>", "<analysis>", "as an ai", "assistant:", "user:"}
)

func checkMarkers(_ *Detector, _ Mode, source, output string) (Finding, bool) {
	if n := len(reForeignMarkers.FindAllStringIndex(output, -1)); n >= 2 && n > len(reForeignMarkers.FindAllStringIndex(source, -1)) {
		return Finding{Signal: SignalForeignMarkers}, true
	}
	accents := 0
	for _, r := range strings.ToLower(output) {
		if strings.ContainsRune(foreignAccents, r) {
			accents++
		}
	}
	if accents > foreignAccentLimit {
		return Finding{Signal: SignalForeignAccents}, true
	}
	lower := strings.ToLower(output)
	for _, m := range bannedMarkers {
		if strings.Contains(lower, m) {
			return Finding{Signal: SignalBannedMarker, Detail: m}, true
		}
	}
	if postprocess.HasStrayHeading(output) {
		return Finding{Signal: SignalStrayHeading}, true
	}
	return Finding{}, false
}

var (
	reLongWord    = regexp.MustCompile(`\b[a-zA-Z]{4,}\b`)
	commonEnglish = map[string]bool{"with": true, "from": true, "this": true, "that": true, "here": true, "there": true, "your": true, "their": true, "they": true, "would": true}
	reEntity      = regexp.MustCompile(`\b[A-ZÁÉÍÓÚÂÊÔÃÕÄÖÜ][\wÁÉÍÓÚÂÊÔÃÕÄÖÜáéíóúâêôãõç-]{2,}`)
)

// EnglishDensity is the share of common English words among the words of at
// least four ASCII letters.
func EnglishDensity(text string) float64 {
	words := reLongWord.FindAllString(text, -1)
	if len(words) == 0 {
		return 0
	}
	hits := 0
	for _, w := range words {
		if commonEnglish[strings.ToLower(w)] {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}

func checkEnglish(_ *Detector, mode Mode, _, output string) (Finding, bool) {
	if mode != ModeRefine {
		return Finding{}, false
	}
	if EnglishDensity(output) > englishDensityLimit {
		return Finding{Signal: SignalEnglish}, true
	}
	return Finding{}, false
}

// checkEntities compares capitalised names in refine mode, where source and
// output share a language.
func checkEntities(_ *Detector, mode Mode, source, output string) (Finding, bool) {
	if mode != ModeRefine || source == "" {
		return Finding{}, false
	}
	orig := reEntity.FindAllString(source, -1)
	if len(orig) == 0 {
		return Finding{}, false
	}
	got := reEntity.FindAllString(output, -1)
	have := make(map[string]bool, len(got))
	for _, e := range got {
		have[e] = true
	}
	uniq := make(map[string]bool, len(orig))
	shared := 0
	for _, e := range orig {
		if uniq[e] {
			continue
		}
		uniq[e] = true
		if have[e] {
			shared++
		}
	}
	if float64(shared)/float64(len(uniq)) < entitySharedMin || len(got) > len(orig)+entityExtraMax {
		return Finding{Signal: SignalEntityDrift}, true
	}
	return Finding{}, false
}

func checkLength(_ *Detector, mode Mode, source, output string) (Finding, bool) {
	if source == "" {
		return Finding{}, false
	}
	ratio := float64(utf8.RuneCountInString(output)) / float64(max(utf8.RuneCountInString(source), 1))
	if ratio < minLengthRatio[mode] {
		return Finding{Signal: SignalShort}, true
	}
	if ratio > maxLengthRatio {
		return Finding{Signal: SignalLong}, true
	}
	return Finding{}, false
}

func checkLanguage(d *Detector, _ Mode, _, output string) (Finding, bool) {
	if d.lang == nil || d.target == "" || utf8.RuneCountInString(output) < languageCheckRunes {
		return Finding{}, false
	}
	if match, decided := d.lang.Matches(output, d.target); decided && !match {
		got, _ := d.lang.DetectISO(output)
		return Finding{Signal: SignalLanguageDrift, Detail: got}, true
	}
	return Finding{}, false
}
