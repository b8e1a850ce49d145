package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/valpere/tradutor/internal/chunker"
	"github.com/valpere/tradutor/internal/postprocess"
	"github.com/valpere/tradutor/internal/reflow"
	"github.com/valpere/tradutor/internal/retry"
	"github.com/valpere/tradutor/internal/validator"
)

// Desquebrar joins the lines that PDF extraction broke in the middle of a
// paragraph. A chunk the generator mangles, or cannot answer, is replaced by
// the deterministic reflow of the original, so the stage never fails on a
// chunk.
func (e *Engine) Desquebrar(ctx context.Context, input, text string) (Result, error) {
	text = strings.TrimSpace(normalizeNewlines(text))
	if text == "" {
		return Result{Stats: Fold(StageDesquebrar, nil)}, nil
	}

	st := e.cfg.Desquebrar
	gens, err := e.generators(StageDesquebrar, st)
	if err != nil {
		return Result{}, err
	}

	paragraphs := chunker.Segment(text)
	if len(paragraphs) <= 1 {
		paragraphs = chunker.Lines(text)
	}
	assembled := chunker.Assemble(paragraphs, st.ChunkChars)
	if assembled.Oversized > 0 {
		e.logger.Warn("paragraphs exceed the desquebrar budget and were hard-cut",
			zap.Int("paragraphs", assembled.Oversized),
			zap.Int("budget", st.ChunkChars))
	}

	policy := e.cfg.Policy()
	policy.RetryOnReject = false
	profile := validator.Desquebrar()
	level := e.cfg.Level()

	records, err := e.execute(ctx, job{
		stage:  StageDesquebrar,
		input:  input,
		sig:    e.signature(st),
		policy: policy,
		gens:   gens,
		chunks: assembled.Texts(),
		prompt: func(_ int, chunk string) string { return desquebrarPrompt(chunk) },
		check: func(_ int, chunk string) retry.Check {
			return func(raw string) retry.Verdict {
				cleaned := postprocess.Clean(raw, chunk)
				res := profile.Validate(validator.Input{Source: chunk, Output: cleaned, Raw: raw}, level)
				if !res.OK() {
					return retry.Verdict{Text: cleaned, Reason: string(res.Reason)}
				}
				normalized, _ := reflow.Normalize(cleaned)
				return retry.Verdict{Text: normalized}
			}
		},
		fallback: func(_ int, chunk string, _ retry.Outcome) (string, error) {
			return reflow.Unbreak(chunk), nil
		},
	})
	if err != nil {
		return Result{}, err
	}

	out := strings.TrimSpace(joinOutputs(assembled.Chunks, outputs(records)))
	stats := Fold(StageDesquebrar, records)
	e.finishStage(input, stats, out)
	return Result{Text: out, Stats: stats}, nil
}
