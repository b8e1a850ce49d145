package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/valpere/tradutor/internal/chunker"
	"github.com/valpere/tradutor/internal/collapse"
	"github.com/valpere/tradutor/internal/markdown"
	"github.com/valpere/tradutor/internal/postprocess"
	"github.com/valpere/tradutor/internal/retry"
	"github.com/valpere/tradutor/internal/validator"
)

// sectionSpan locates the chunks of one markdown section in a job.
type sectionSpan struct {
	heading string
	chunks  []chunker.Chunk
	first   int
}

// Refine polishes a translated markdown document section by section. Each
// chunk gets a single attempt; anything suspicious keeps the original
// chunk.
func (e *Engine) Refine(ctx context.Context, input, md string) (Result, error) {
	md = strings.TrimSpace(normalizeNewlines(md))
	if md == "" {
		return Result{Stats: Fold(StageRefine, nil)}, nil
	}

	st := e.cfg.Refine
	gens, err := e.generators(StageRefine, st)
	if err != nil {
		return Result{}, err
	}

	if e.cfg.CleanupBeforeRefine {
		var cst postprocess.CleanupStats
		md, cst = postprocess.CleanupBeforeRefine(md)
		if cst.Changed() {
			e.logger.Info("cleanup before refine",
				zap.Int("lines_removed", cst.LinesRemoved),
				zap.Int("blocks_removed", cst.BlocksRemoved),
				zap.Int("breaks_inserted", cst.BreaksInserted),
				zap.Int("prefix_lines_removed", cst.PrefixLinesRemoved),
				zap.Int("fragments_removed", cst.FragmentsRemoved))
		}
		if e.debug != nil {
			if _, err := e.debug.WriteStageText("cleanup", "cleaned.md", md); err != nil {
				e.logger.Warn("failed to write cleanup output", zap.Error(err))
			}
		}
	}

	var (
		spans  []sectionSpan
		chunks []string
	)
	for _, sec := range markdown.SplitSections(md) {
		res := chunker.Assemble(chunker.Segment(sec.Body), st.ChunkChars)
		spans = append(spans, sectionSpan{heading: sec.Heading, chunks: res.Chunks, first: len(chunks)})
		chunks = append(chunks, res.Texts()...)
	}

	policy := e.cfg.Policy()
	policy.MaxRetries = 1
	profile := validator.Refine()
	level := e.cfg.Level()

	records, err := e.execute(ctx, job{
		stage:  StageRefine,
		input:  input,
		sig:    e.signature(st),
		policy: policy,
		gens:   gens,
		chunks: chunks,
		prompt: func(_ int, chunk string) string { return refinePrompt(chunk) },
		check: func(_ int, chunk string) retry.Check {
			return e.refineCheck(profile, level, chunk)
		},
		fallback: func(_ int, chunk string, _ retry.Outcome) (string, error) {
			return chunk, nil
		},
	})
	if err != nil {
		return Result{}, err
	}

	texts := outputs(records)
	sections := make([]markdown.Section, 0, len(spans))
	for _, sp := range spans {
		body := joinOutputs(sp.chunks, texts[sp.first:sp.first+len(sp.chunks)])
		sections = append(sections, markdown.Section{Heading: sp.heading, Body: strings.TrimSpace(body)})
	}
	out, _ := postprocess.NormalizeStructure(markdown.Join(sections))
	if fixed, ok := postprocess.FixUnbalancedQuotes(out); ok {
		e.logger.Info("closing quote inserted after refine")
		out = fixed
	}

	stats := Fold(StageRefine, records)
	e.finishStage(input, stats, out)
	return Result{Text: out, Stats: stats}, nil
}

func (e *Engine) refineCheck(profile validator.Profile, level validator.Level, chunk string) retry.Check {
	return func(raw string) retry.Verdict {
		parsed := postprocess.ParseMarked(raw, postprocess.RefineStart, postprocess.RefineEnd)
		sanitized, rep, err := postprocess.Sanitize(postprocess.SanitizeRefine(parsed), postprocess.RefineOptions())
		if err != nil {
			return retry.Verdict{Reason: string(validator.ReasonEmptyOutput)}
		}
		if rep.RemovedLines()+rep.CollapsedRepetitions > 0 {
			e.logger.Debug("refined chunk sanitized",
				zap.Int("removed_lines", rep.RemovedLines()),
				zap.Int("collapsed_repetitions", rep.CollapsedRepetitions))
		}
		clean := postprocess.Clean(sanitized, chunk)
		res := profile.Validate(validator.Input{
			Source:       chunk,
			Output:       clean,
			Raw:          raw,
			Parsed:       parsed,
			Contaminated: rep.Contamination,
		}, level)
		if !res.OK() {
			return retry.Verdict{Text: clean, Reason: string(res.Reason)}
		}
		if f, hit := e.collapse.Check(collapse.ModeRefine, chunk, clean); hit {
			e.logger.Warn("collapse detected in refinement",
				zap.String("signal", f.Signal),
				zap.String("detail", f.Detail))
			return retry.Verdict{Text: clean, Reason: string(validator.ReasonCollapseDetected), Final: true}
		}
		return retry.Verdict{Text: clean}
	}
}
