package pipeline

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/valpere/tradutor/internal/manifest"
)

// RunOptions selects the optional stages of Run.
type RunOptions struct {
	Desquebrar bool
	Refine     bool
}

// RunResult holds the output of every stage Run executed.
type RunResult struct {
	Desquebrado string
	Translated  string
	Refined     string
	Stages      []Stats
}

// Final is the output of the last stage that ran.
func (r RunResult) Final() string {
	if r.Refined != "" {
		return r.Refined
	}
	return r.Translated
}

// Total folds the counters of every stage.
func (r RunResult) Total() Stats {
	total := Stats{Stage: "run"}
	for _, st := range r.Stages {
		total = total.Merge(st)
	}
	return total
}

// Run chains desquebrar (optional), translate and refine (optional) over an
// extracted document and writes the run report when a debug run is set.
func (e *Engine) Run(ctx context.Context, input, text string, opts RunOptions) (RunResult, error) {
	var res RunResult
	text = strings.TrimSpace(normalizeNewlines(text))
	e.writeInput(input, text)

	if opts.Desquebrar {
		r, err := e.Desquebrar(ctx, input, text)
		if err != nil {
			return res, err
		}
		res.Desquebrado, text = r.Text, r.Text
		res.Stages = append(res.Stages, r.Stats)
	}

	r, err := e.Translate(ctx, input, text)
	if err != nil {
		return res, err
	}
	res.Translated = r.Text
	res.Stages = append(res.Stages, r.Stats)

	if opts.Refine {
		r, err := e.Refine(ctx, input, res.Translated)
		if err != nil {
			return res, err
		}
		res.Refined = r.Text
		res.Stages = append(res.Stages, r.Stats)
	}

	if e.debug != nil {
		report := res.Total().Report(input, e.cfg.PostprocessVersion, time.Now())
		if err := e.debug.WriteReport(report); err != nil {
			e.logger.Warn("failed to write run report", zap.Error(err))
		}
	}
	return res, nil
}

func (e *Engine) writeInput(input, text string) {
	if e.debug == nil {
		return
	}
	digest, err := e.debug.WriteText(manifest.DirInputs+"/"+manifest.Slug(input)+".txt", text)
	if err != nil {
		e.logger.Warn("failed to write run input", zap.Error(err))
		return
	}
	if _, err := e.debug.WriteStageText("preprocess", "preprocessed.txt", text); err != nil {
		e.logger.Warn("failed to write preprocessed text", zap.Error(err))
	}
	e.logger.Debug("run input recorded", zap.String("sha256", digest), zap.String("run", e.debug.ID()))
}
