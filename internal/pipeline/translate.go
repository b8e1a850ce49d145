package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/valpere/tradutor/internal/chunker"
	"github.com/valpere/tradutor/internal/collapse"
	"github.com/valpere/tradutor/internal/markdown"
	"github.com/valpere/tradutor/internal/placeholder"
	"github.com/valpere/tradutor/internal/postprocess"
	"github.com/valpere/tradutor/internal/retry"
	"github.com/valpere/tradutor/internal/validator"
)

// sectionOverflow is how far past the chunk budget a chapter section may
// grow before chapter splitting is considered unreliable.
const sectionOverflow = 1.5

// RejectedMarker tags a chunk that is kept untranslated.
func RejectedMarker(n int) string {
	return fmt.Sprintf("[CHUNK_TRANSLATION_REJECTED_%d]", n)
}

// Translate translates text chunk by chunk. Markup is shielded behind
// placeholders, each chunk carries the last sentence of the previous one as
// context and the store glossary, when present, is added to every prompt.
func (e *Engine) Translate(ctx context.Context, input, text string) (Result, error) {
	text = strings.TrimSpace(normalizeNewlines(text))
	if text == "" {
		return Result{}, fmt.Errorf("translate: %w", ErrEmptyInput)
	}

	st := e.cfg.Translate
	gens, err := e.generators(StageTranslate, st)
	if err != nil {
		return Result{}, err
	}

	var chunks []string
	for _, sec := range e.translationSections(text, st.ChunkChars) {
		chunks = append(chunks, chunker.SplitForTranslation(chunker.Segment(sec), st.ChunkChars)...)
	}

	protected := make([]string, len(chunks))
	sets := make([]*placeholder.Set, len(chunks))
	contexts := make([]string, len(chunks))
	for i, c := range chunks {
		protected[i], sets[i] = placeholder.Protect(c)
		if i > 0 {
			contexts[i] = chunker.LastSentence(chunks[i-1])
		}
	}

	glossary := e.glossary(ctx)
	profile := validator.Translate(e.cfg.TranslateMaxRatio, e.detector, e.cfg.TargetLang)
	level := e.cfg.Level()

	records, err := e.execute(ctx, job{
		stage:  StageTranslate,
		input:  input,
		sig:    e.signature(st),
		policy: e.cfg.Policy(),
		gens:   gens,
		chunks: chunks,
		prompt: func(n int, _ string) string {
			return translatePrompt(protected[n-1], contexts[n-1], glossary, sets[n-1].Len() > 0)
		},
		check: func(n int, chunk string) retry.Check {
			return e.translateCheck(profile, level, chunk, protected[n-1], sets[n-1])
		},
		fallback: func(n int, chunk string, out retry.Outcome) (string, error) {
			return e.translateFallback(level, n, chunk, out)
		},
	})
	if err != nil {
		return Result{}, err
	}

	out := strings.TrimSpace(strings.Join(outputs(records), chunker.ParagraphSeparator))
	if src, got := len(chunker.Segment(text)), len(chunker.Segment(out)); got < src {
		e.logger.Warn("paragraphs missing after translation",
			zap.Int("source", src),
			zap.Int("translated", got))
	}
	out, fixes := postprocess.NormalizeStructure(out)
	if fixes.Total() > 0 {
		e.logger.Info("dialogue structure normalized",
			zap.Int("splits", fixes.DialogueSplits),
			zap.Int("triple_quotes", fixes.TripleQuotesRemoved),
			zap.Int("blank_collapses", fixes.InQuoteBlankCollapses))
	}

	stats := Fold(StageTranslate, records)
	e.finishStage(input, stats, out)
	return Result{Text: out, Stats: stats}, nil
}

// translationSections cuts text at chapter markers when enabled. The split
// is abandoned when a section outgrows the budget, which means markers were
// missed and a chunk would straddle chapters anyway.
func (e *Engine) translationSections(text string, budget int) []string {
	if !e.cfg.SplitBySections {
		return []string{text}
	}
	sections, found := markdown.SplitChapters(text)
	if !found {
		return []string{text}
	}
	limit := int(float64(budget) * sectionOverflow)
	out := make([]string, 0, len(sections))
	for _, sec := range sections {
		t := sec.Text()
		if n := runeLen(t); n > limit {
			e.logger.Warn("split_by_sections fallback: section exceeds budget",
				zap.String("heading", sec.Heading),
				zap.Int("chars", n),
				zap.Int("limit", limit))
			return []string{text}
		}
		out = append(out, t)
	}
	return out
}

func (e *Engine) glossary(ctx context.Context) string {
	if e.store == nil {
		return ""
	}
	entries, err := e.store.GetGlossaryTerms(ctx, e.cfg.SourceLang, e.cfg.TargetLang)
	if err != nil {
		e.logger.Warn("failed to load glossary", zap.Error(err))
		return ""
	}
	return FormatGlossary(entries)
}

// translateCheck parses, sanitizes and validates one answer. Validation
// runs on the protected text; placeholders are restored before the
// collapse pass, which compares against the original chunk.
func (e *Engine) translateCheck(profile validator.Profile, level validator.Level, chunk, protected string, set *placeholder.Set) retry.Check {
	return func(raw string) retry.Verdict {
		parsed := postprocess.StripMarkers(postprocess.ParseMarked(raw, postprocess.TranslateStart, postprocess.TranslateEnd))
		parsed = postprocess.Clean(parsed, protected)
		clean, rep, err := postprocess.Sanitize(parsed, postprocess.TranslateOptions())
		if err != nil {
			return retry.Verdict{Reason: string(validator.ReasonEmptyOutput)}
		}
		res := profile.Validate(validator.Input{
			Source:       protected,
			Output:       clean,
			Raw:          raw,
			Parsed:       parsed,
			Contaminated: rep.Contamination,
			Tokens:       set.Tokens(),
		}, level)
		if !res.OK() {
			if res.Reason == validator.ReasonPlaceholderLoss {
				e.logger.Warn("placeholders lost in translation", zap.Ints("missing", set.Missing(clean)))
			}
			return retry.Verdict{Text: clean, Reason: string(res.Reason)}
		}

		restored := set.Restore(clean)
		if f, hit := e.collapse.Check(collapse.ModeTranslate, chunk, restored); hit {
			e.logger.Warn("collapse detected in translation",
				zap.String("signal", f.Signal),
				zap.String("detail", f.Detail))
			return retry.Verdict{Text: restored, Reason: string(validator.ReasonCollapseDetected), Final: true}
		}
		return retry.Verdict{Text: restored}
	}
}

// translateFallback keeps the source of a chunk that could not be
// translated. Collapsed output reverts silently; other failures are marked
// so they stand out downstream, or abort the document under
// fail_on_chunk_error.
func (e *Engine) translateFallback(level validator.Level, n int, chunk string, out retry.Outcome) (string, error) {
	marked := RejectedMarker(n) + chunker.ParagraphSeparator + chunk
	switch {
	case out.Kind == retry.Fatal:
		if e.cfg.FailOnChunkError {
			return "", out.Err
		}
		return marked, nil
	case out.Reason == string(validator.ReasonCollapseDetected):
		return chunk, nil
	case e.cfg.FailOnChunkError:
		return "", errors.New("translation rejected: " + out.Reason)
	case level == validator.Strict:
		return marked, nil
	default:
		return chunk, nil
	}
}
