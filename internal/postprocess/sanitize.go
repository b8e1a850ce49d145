package postprocess

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrEmptyAfterSanitize is returned when nothing is left after sanitizing.
var ErrEmptyAfterSanitize = errors.New("empty text after sanitization")

// repeatedSequenceMin is the shortest block collapsed by the repeated
// sequence step.
const repeatedSequenceMin = 50

// metaPatterns match lines in which the generator talks about itself or its
// edits instead of producing text. Lines are lowercased before matching.
var metaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`parece que voc[eê] est[aá]`),
	regexp.MustCompile(`como um modelo de linguagem`),
	regexp.MustCompile(`n[aã]o posso`),
	regexp.MustCompile(`n[aã]o sou capaz`),
	regexp.MustCompile(`desculp`),
	regexp.MustCompile(`eu sou apenas`),
	regexp.MustCompile(`como um assistente`),
	regexp.MustCompile(`as an ai language model`),
	regexp.MustCompile(`i am an ai`),
	regexp.MustCompile(`i cannot provide`),
	regexp.MustCompile(`i'm just an ai`),
	regexp.MustCompile(`as a language model`),
	regexp.MustCompile(`^\s*mudan[cç]as e justificativas:?`),
	regexp.MustCompile(`^\s*altera[cç](?:ao|ão|oes|ões) realizadas:?`),
	regexp.MustCompile(`^\s*(?:nesta|nessa) revis[aã]o`),
	regexp.MustCompile(`^\s*(?:justificativa|racionalidade|rationale)`),
	regexp.MustCompile(`^\s*em resumo`),
	regexp.MustCompile(`^\s*resumo[: ]`),
}

var reThinkBlock = regexp.MustCompile(`(?is)<think>.*?</think>`)

// Options selects the sanitization steps. Think blocks and meta lines are
// always removed.
type Options struct {
	CollapseRepeatedLines      bool
	CollapseRepeatedParagraphs bool
	RemoveRepeatedSequences    bool
	StripEmptyLines            bool
	LeadingNoise               bool
}

// TranslateOptions keeps repeated lines, paragraphs and blank lines intact:
// only obvious noise at the top is removed.
func TranslateOptions() Options {
	return Options{LeadingNoise: true}
}

// RefineOptions collapses repetition but keeps paragraph breaks.
func RefineOptions() Options {
	return Options{
		CollapseRepeatedLines:      true,
		CollapseRepeatedParagraphs: true,
		RemoveRepeatedSequences:    true,
		LeadingNoise:               true,
	}
}

// Report describes what Sanitize removed.
type Report struct {
	ThinkBlocks          int  `json:"removed_think_blocks"`
	MetaLines            int  `json:"removed_meta_lines"`
	RepeatedLines        int  `json:"removed_repeated_lines"`
	RepeatedParagraphs   int  `json:"removed_repeated_paragraphs"`
	EmptyLines           int  `json:"removed_empty_lines"`
	Contamination        bool `json:"contamination_detected"`
	LeadingNoiseRemoved  bool `json:"leading_noise_removed"`
	CollapsedRepetitions int  `json:"collapsed_repetitions"`
}

// RemovedLines is the total number of lines dropped.
func (r Report) RemovedLines() int {
	return r.MetaLines + r.RepeatedLines + r.EmptyLines
}

// Sanitize strips generator noise from text according to opts.
func Sanitize(text string, opts Options) (string, Report, error) {
	var rep Report

	rep.ThinkBlocks = len(reThinkBlock.FindAllStringIndex(text, -1))
	text = reThinkBlock.ReplaceAllString(text, "")

	text, rep.MetaLines = removeMetaLines(text)
	rep.Contamination = rep.MetaLines > 0

	if opts.CollapseRepeatedLines {
		text, rep.RepeatedLines = collapseRepeatedLines(text)
	}
	var sequences, paragraphs int
	if opts.RemoveRepeatedSequences {
		text, sequences = RemoveRepeatedBlocks(text, repeatedSequenceMin)
	}
	if opts.CollapseRepeatedParagraphs {
		text, paragraphs = collapseRepeatedParagraphs(text)
	}
	rep.RepeatedParagraphs = sequences + paragraphs
	rep.CollapsedRepetitions = sequences + paragraphs

	if opts.StripEmptyLines {
		text, rep.EmptyLines = stripEmptyLines(text)
	}

	if opts.LeadingNoise {
		before := text
		text = RemoveLeadingNoise(text)
		rep.LeadingNoiseRemoved = text != before
	}
	text = strings.NewReplacer("<think>", "", "</think>", "").Replace(text)

	text = strings.TrimSpace(text)
	if text == "" {
		return "", rep, ErrEmptyAfterSanitize
	}
	return text, rep, nil
}

// removeMetaLines drops self-referential lines. Dialogue is exempt: a
// character may well say "Desculpe".
func removeMetaLines(text string) (string, int) {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	removed := 0
	for _, ln := range lines {
		if !IsDialogueLine(ln) && isMetaLine(ln) {
			removed++
			continue
		}
		kept = append(kept, ln)
	}
	return strings.Join(kept, "\n"), removed
}

func isMetaLine(line string) bool {
	lower := strings.ToLower(line)
	for _, re := range metaPatterns {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

func collapseRepeatedLines(text string) (string, int) {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	removed := 0
	prev, hasPrev := "", false
	for _, ln := range lines {
		s := strings.TrimSpace(ln)
		if hasPrev && s != "" && s == prev {
			removed++
			continue
		}
		kept = append(kept, ln)
		prev, hasPrev = s, true
	}
	return strings.Join(kept, "\n"), removed
}

func collapseRepeatedParagraphs(text string) (string, int) {
	var kept []string
	removed := 0
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if len(kept) > 0 && kept[len(kept)-1] == p {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, "\n\n"), removed
}

func stripEmptyLines(text string) (string, int) {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	removed := 0
	for _, ln := range lines {
		if strings.TrimSpace(ln) == "" {
			removed++
			continue
		}
		kept = append(kept, strings.TrimRightFunc(ln, unicode.IsSpace))
	}
	return strings.Join(kept, "\n"), removed
}

// RemoveLeadingNoise drops short junk lines (stray punctuation, broken OCR)
// before the first line that carries letters, digits or a sentence end.
func RemoveLeadingNoise(text string) string {
	lines := strings.Split(text, "\n")
	for i, ln := range lines {
		s := strings.TrimSpace(ln)
		if s == "" || isNoiseLine(s) {
			continue
		}
		return strings.Join(lines[i:], "\n")
	}
	return ""
}

func isNoiseLine(s string) bool {
	if utf8.RuneCountInString(s) > 12 {
		return false
	}
	if strings.IndexFunc(s, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) >= 0 {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(s)
	return !strings.ContainsRune(".!?…", last)
}

var (
	reTranslatedBlock = regexp.MustCompile(`(?is)### TEXTO_TRADUZIDO_INICIO.*?### TEXTO_TRADUZIDO_FIM`)
	reTranslatedTag   = regexp.MustCompile(`(?i)### TEXTO_TRADUZIDO_[A-Z_]*`)
	reGlossaryBlock   = regexp.MustCompile(`(?is)===GLOSSARIO_SUGERIDO_INICIO===.*?===GLOSSARIO_SUGERIDO_FIM===`)
)

const glossaryOpen = "===GLOSSARIO_SUGERIDO_INICIO==="

// SanitizeRefine is the light pass applied to refine output. It removes
// preambles such as "Texto refinado:", leftover translation delimiters and
// suggested glossary blocks, without touching paragraphs.
func SanitizeRefine(text string) string {
	text = strings.NewReplacer("<think>", "", "</think>", "").Replace(text)

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, ln := range lines {
		lower := strings.ToLower(strings.TrimSpace(ln))
		if strings.HasPrefix(lower, "texto refinado:") || strings.HasPrefix(lower, "refined text:") {
			continue
		}
		kept = append(kept, ln)
	}
	text = strings.Join(kept, "\n")

	text = reTranslatedBlock.ReplaceAllString(text, "")
	text = reTranslatedTag.ReplaceAllString(text, "")
	text = reGlossaryBlock.ReplaceAllString(text, "")

	// An unterminated glossary block runs to the end of the output.
	if i := strings.Index(text, glossaryOpen); i != -1 {
		text = strings.TrimSuffix(strings.TrimRightFunc(text[:i], unicode.IsSpace), `"""`)
	}
	return strings.TrimSpace(text)
}
