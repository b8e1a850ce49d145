package pipeline

import (
	"context"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/valpere/tradutor/internal/store"
)

// checkpoint persists chunk outputs of a run so an interrupted document can
// be resumed. A nil checkpoint does nothing.
type checkpoint struct {
	store  *store.Store
	logger *zap.Logger
	runID  string
	saved  map[int]store.RunChunk
}

// checkpoint opens the run of j: the last unfinished run of the same
// document when resuming, a new one otherwise. Store errors disable
// checkpointing for the run instead of failing it.
func (e *Engine) checkpoint(ctx context.Context, j job) *checkpoint {
	if e.store == nil {
		return nil
	}
	fp := store.Fingerprint(strings.Join(j.chunks, "\n\n"))
	cp := &checkpoint{store: e.store, logger: e.logger}

	if e.resume {
		run, found, err := e.store.FindResumableRun(ctx, j.stage, fp, len(j.chunks))
		if err != nil {
			e.logger.Warn("failed to look up resumable run", zap.String("stage", j.stage), zap.Error(err))
		}
		if found {
			saved, err := e.store.RunChunks(ctx, run.ID)
			if err != nil {
				e.logger.Warn("failed to load run chunks", zap.String("run", run.ID), zap.Error(err))
			} else {
				cp.runID, cp.saved = run.ID, saved
				e.logger.Info("resuming run",
					zap.String("stage", j.stage),
					zap.String("run", run.ID),
					zap.Int("saved_chunks", len(saved)))
				return cp
			}
		}
	}

	id, err := e.store.StartRun(ctx, j.stage, j.input, fp, len(j.chunks))
	if err != nil {
		e.logger.Warn("failed to start run", zap.String("stage", j.stage), zap.Error(err))
		return nil
	}
	cp.runID = id
	return cp
}

func (cp *checkpoint) lookup(n int) (store.RunChunk, bool) {
	if cp == nil {
		return store.RunChunk{}, false
	}
	rc, ok := cp.saved[n]
	return rc, ok
}

func (cp *checkpoint) save(ctx context.Context, rec ChunkRecord) {
	if cp == nil || rec.Resumed {
		return
	}
	if err := cp.store.SaveRunChunk(ctx, cp.runID, rec.Index, rec.Output, rec.Fallback); err != nil {
		cp.logger.Warn("failed to save chunk checkpoint", zap.Int("chunk", rec.Index), zap.Error(err))
	}
}

func (cp *checkpoint) finish(ctx context.Context, runErr error, st Stats) {
	if cp == nil {
		return
	}
	status := store.StatusFinished
	if runErr != nil {
		status = store.StatusFailed
	}
	report, err := json.Marshal(st)
	if err != nil {
		cp.logger.Warn("failed to encode run report", zap.Error(err))
	}
	// The run context may already be cancelled; the status still has to
	// land so the run can be resumed.
	if err := cp.store.FinishRun(context.WithoutCancel(ctx), cp.runID, status, string(report)); err != nil {
		cp.logger.Warn("failed to finish run", zap.String("run", cp.runID), zap.Error(err))
	}
}
