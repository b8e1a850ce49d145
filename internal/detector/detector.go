// Package detector wraps lingua-go language identification.
package detector

import (
	"strings"

	lingua "github.com/pemistahl/lingua-go"
)

// minDetectRunes is the shortest text worth identifying. Anything shorter
// is reported as undecided.
const minDetectRunes = 20

// DefaultLanguages covers the source and target languages seen in practice
// plus the usual drift targets of small local models.
var DefaultLanguages = []lingua.Language{
	lingua.English,
	lingua.Portuguese,
	lingua.Spanish,
	lingua.French,
	lingua.Italian,
	lingua.German,
	lingua.Japanese,
	lingua.Chinese,
	lingua.Korean,
}

// Detector is expensive to build; reuse the instance.
type Detector struct {
	detector lingua.LanguageDetector
}

// New builds a detector restricted to langs. With fewer than two languages it
// falls back to DefaultLanguages.
func New(langs ...lingua.Language) *Detector {
	if len(langs) < 2 {
		langs = DefaultLanguages
	}
	detector := lingua.NewLanguageDetectorBuilder().
		FromLanguages(langs...).
		Build()

	return &Detector{detector: detector}
}

func (d *Detector) Detect(text string) (lingua.Language, bool) {
	text = strings.TrimSpace(text)
	if len([]rune(text)) < minDetectRunes {
		return lingua.Unknown, false
	}
	return d.detector.DetectLanguageOf(text)
}

// DetectISO returns the lowercase ISO 639-1 code of text.
func (d *Detector) DetectISO(text string) (string, bool) {
	lang, ok := d.Detect(text)
	if !ok {
		return "", false
	}
	return strings.ToLower(lang.IsoCode639_1().String()), true
}

// Matches reports whether text is written in iso. decided is false when the
// text is too short or ambiguous to tell.
func (d *Detector) Matches(text, iso string) (match, decided bool) {
	got, ok := d.DetectISO(text)
	if !ok {
		return false, false
	}
	return strings.EqualFold(got, iso), true
}
