// Package pipeline runs the desquebrar, translate and refine stages over a
// document.
//
// Every stage goes through the same per-chunk cycle: resume checkpoint,
// exact cache hit, near-duplicate reuse, then generation under the retry
// controller with a stage check. Accepted output is cached and indexed;
// rejected or failed chunks get the stage's deterministic fallback. Each
// chunk yields one ChunkRecord and Stats is their fold.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/valpere/tradutor/internal/cache"
	"github.com/valpere/tradutor/internal/chunker"
	"github.com/valpere/tradutor/internal/collapse"
	"github.com/valpere/tradutor/internal/config"
	"github.com/valpere/tradutor/internal/detector"
	"github.com/valpere/tradutor/internal/generator"
	"github.com/valpere/tradutor/internal/logging"
	"github.com/valpere/tradutor/internal/manifest"
	"github.com/valpere/tradutor/internal/metrics"
	"github.com/valpere/tradutor/internal/neardup"
	"github.com/valpere/tradutor/internal/retry"
	"github.com/valpere/tradutor/internal/store"
	"github.com/valpere/tradutor/internal/validator"
)

// Stage names, shared with the cache directories, the store and metrics.
const (
	StageDesquebrar = "desquebrar"
	StageTranslate  = "translate"
	StageRefine     = "refine"
)

var (
	// ErrChunkFailed is returned when a chunk could not be produced and the
	// fail_on_chunk_error policy asks to abort the document.
	ErrChunkFailed = errors.New("chunk failed")
	// ErrEmptyInput is returned when a stage is given no text.
	ErrEmptyInput = errors.New("empty input")
)

// Result is the output of a stage.
type Result struct {
	Text  string
	Stats Stats
}

// Engine runs stages with shared caches, near-duplicate indexes and
// generators. It is safe for concurrent use.
type Engine struct {
	cfg      config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	store    *store.Store
	debug    *manifest.Writer
	detector *detector.Detector
	collapse *collapse.Detector
	sleeper  retry.Sleeper
	resume   bool

	mu      sync.Mutex
	caches  map[string]*cache.Cache
	gens    map[string][]generator.Generator
	indexes map[string]*neardup.Index

	flight singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = logging.OrNop(l) } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithStore enables the chunk index, resume checkpoints and the glossary.
func WithStore(s *store.Store) Option { return func(e *Engine) { e.store = s } }

// WithDebugRun writes chunk files, manifests and the error log of every
// stage into w.
func WithDebugRun(w *manifest.Writer) Option { return func(e *Engine) { e.debug = w } }

// WithDetector enables the target language checks.
func WithDetector(d *detector.Detector) Option { return func(e *Engine) { e.detector = d } }

// WithSleeper replaces the backoff sleeper.
func WithSleeper(s retry.Sleeper) Option { return func(e *Engine) { e.sleeper = s } }

// WithResume reuses the chunk outputs of an unfinished run of the same
// document. It needs a store.
func WithResume(on bool) Option { return func(e *Engine) { e.resume = on } }

// WithCache registers the cache of the stage c was opened for.
func WithCache(c *cache.Cache) Option {
	return func(e *Engine) { e.caches[c.Stage()] = c }
}

// WithGenerators sets the model chain of a stage instead of building it
// from the configuration.
func WithGenerators(stage string, gens ...generator.Generator) Option {
	return func(e *Engine) { e.gens[stage] = gens }
}

func New(cfg config.Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		logger:  zap.NewNop(),
		caches:  make(map[string]*cache.Cache),
		gens:    make(map[string][]generator.Generator),
		indexes: make(map[string]*neardup.Index),
	}
	for _, o := range opts {
		o(e)
	}
	if e.detector != nil && cfg.TargetLang != "" {
		e.collapse = collapse.New(collapse.WithLanguage(e.detector, cfg.TargetLang))
	} else {
		e.collapse = collapse.New()
	}
	return e
}

// job is one stage run over a list of chunks.
type job struct {
	stage  string
	input  string
	sig    cache.Signature
	policy retry.Policy
	gens   []generator.Generator
	chunks []string
	// prompt and check receive the 1-based chunk index.
	prompt func(n int, chunk string) string
	check  func(n int, chunk string) retry.Check
	// fallback replaces a chunk whose outcome is not OK. An error aborts
	// the document.
	fallback func(n int, chunk string, out retry.Outcome) (string, error)
}

type generation struct {
	outcome retry.Outcome
	raw     string
}

func (e *Engine) signature(st config.Stage) cache.Signature {
	return cache.Signature{
		Backend:            st.Backend,
		Model:              st.Model,
		NumPredict:         st.NumPredict,
		Temperature:        st.Temperature,
		RepeatPenalty:      st.RepeatPenalty,
		ChunkChars:         st.ChunkChars,
		PostprocessVersion: e.cfg.PostprocessVersion,
	}
}

func (e *Engine) generators(stage string, st config.Stage) ([]generator.Generator, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gens, ok := e.gens[stage]; ok {
		return gens, nil
	}
	gens, err := e.cfg.Generators(st)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s generators: %w", stage, err)
	}
	e.gens[stage] = gens
	return gens, nil
}

func (e *Engine) cacheFor(stage string) *cache.Cache {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.caches[stage]
}

// index returns the near-duplicate index of stage under sig, seeded on first
// use from the chunks the store recorded with the same signature.
func (e *Engine) index(ctx context.Context, stage string, sig cache.Signature) *neardup.Index {
	key := stage + "/" + sig.Digest()
	e.mu.Lock()
	defer e.mu.Unlock()
	if ix, ok := e.indexes[key]; ok {
		return ix
	}
	ix := neardup.New()
	if e.store != nil {
		entries, err := e.store.SignedChunks(ctx, stage, sig.Digest())
		if err != nil {
			e.logger.Warn("failed to seed near-duplicate index", zap.String("stage", stage), zap.Error(err))
		}
		for _, en := range entries {
			ix.Add(en.SourceText, en.FinalText)
		}
	}
	e.indexes[key] = ix
	return ix
}

func (e *Engine) controller(p retry.Policy) *retry.Controller {
	opts := []retry.Option{
		retry.WithLogger(e.logger),
		retry.WithObserver(e.metrics.ObserveGeneration),
	}
	if e.sleeper != nil {
		opts = append(opts, retry.WithSleeper(e.sleeper))
	}
	return retry.New(p, opts...)
}

func (e *Engine) workers() int {
	return max(e.cfg.Workers, 1)
}

// execute runs every chunk of j and returns the records in document order.
func (e *Engine) execute(ctx context.Context, j job) ([]ChunkRecord, error) {
	records := make([]ChunkRecord, len(j.chunks))
	if len(j.chunks) == 0 {
		return records, nil
	}

	cp := e.checkpoint(ctx, j)
	ctrl := e.controller(j.policy)
	c := e.cacheFor(j.stage)
	ix := e.index(ctx, j.stage, j.sig)

	e.logger.Info("stage started",
		zap.String("stage", j.stage),
		zap.Int("chunks", len(j.chunks)),
		zap.Int("workers", e.workers()))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for i, chunk := range j.chunks {
		g.Go(func() error {
			rec, err := e.processChunk(gctx, j, ctrl, c, ix, cp, i+1, chunk)
			if err != nil {
				return err
			}
			records[i] = rec
			cp.save(gctx, rec)
			e.writeChunkFiles(j.stage, rec.Index, chunk, rec.Output)
			e.logger.Info("chunk done",
				zap.String("stage", j.stage),
				zap.Int("chunk", rec.Index),
				zap.Int("total", len(j.chunks)),
				zap.Bool("from_cache", rec.FromCache),
				zap.Bool("fallback", rec.Fallback),
				zap.Duration("latency", rec.Latency))
			return nil
		})
	}
	err := g.Wait()
	report := Fold(j.stage, completed(records))
	report.TotalChunks = len(j.chunks)
	cp.finish(ctx, err, report)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// completed drops the slots of chunks that never finished.
func completed(records []ChunkRecord) []ChunkRecord {
	out := make([]ChunkRecord, 0, len(records))
	for _, r := range records {
		if r.Index > 0 {
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) processChunk(
	ctx context.Context,
	j job,
	ctrl *retry.Controller,
	c *cache.Cache,
	ix *neardup.Index,
	cp *checkpoint,
	n int,
	chunk string,
) (ChunkRecord, error) {
	if err := ctx.Err(); err != nil {
		return ChunkRecord{}, err
	}
	rec := ChunkRecord{Index: n, CharsIn: runeLen(chunk)}
	done := func(text string) ChunkRecord {
		rec.Output = text
		rec.CharsOut = runeLen(text)
		e.metrics.Chunk(j.stage)
		return rec
	}

	if saved, ok := cp.lookup(n); ok {
		rec.Resumed, rec.Fallback = true, saved.Fallback
		return done(saved.Output), nil
	}

	hash := cache.Hash(chunk)
	if c != nil {
		if entry, ok := c.Get(hash, j.sig); ok {
			rec.FromCache = true
			e.metrics.CacheHit(j.stage)
			e.touch(ctx, j, hash)
			return done(entry.FinalOutput), nil
		}
	}
	if text, ok := ix.Lookup(chunk); ok {
		rec.Duplicate = true
		e.logger.Info("near-duplicate chunk reused", zap.String("stage", j.stage), zap.Int("chunk", n))
		return done(text), nil
	}

	gen := e.generate(ctx, j, ctrl, hash, n, chunk)
	out := gen.outcome
	rec.Attempts, rec.Latency, rec.Model = out.Attempts, out.Latency, out.Model

	if out.Kind == retry.OK {
		if c != nil {
			c.Put(hash, gen.raw, out.Text, j.sig)
		}
		ix.Add(chunk, out.Text)
		e.record(ctx, j, hash, chunk, out)
		return done(out.Text), nil
	}

	reason := out.Reason
	if out.Kind == retry.Fatal {
		reason = string(validator.ReasonGenerationFailed)
	}
	e.writeError(j.stage, n, reason, out.Err)
	if err := ctx.Err(); err != nil {
		return ChunkRecord{}, err
	}

	text, err := j.fallback(n, chunk, out)
	if err != nil {
		e.logger.Error("chunk failed",
			zap.String("stage", j.stage),
			zap.Int("chunk", n),
			zap.String("reason", reason),
			zap.Error(err))
		return ChunkRecord{}, fmt.Errorf("%w: %s chunk %d: %w", ErrChunkFailed, j.stage, n, err)
	}

	rec.Fallback, rec.Reason = true, reason
	rec.Collapse = reason == string(validator.ReasonCollapseDetected)
	e.metrics.Fallback(j.stage, reason)
	e.logger.Warn("chunk replaced by fallback",
		zap.String("stage", j.stage),
		zap.Int("chunk", n),
		zap.String("reason", reason),
		zap.Int("attempts", out.Attempts),
		zap.Error(out.Err))
	return done(text), nil
}

// generate runs the model chain once per distinct prompt in flight. The
// prompt carries the chunk and any context around it, so equal chunks with
// different neighbours are generated apart.
func (e *Engine) generate(ctx context.Context, j job, ctrl *retry.Controller, hash string, n int, chunk string) generation {
	prompt := j.prompt(n, chunk)
	key := j.stage + "/" + j.sig.Digest() + "/" + hash + "/" + cache.Hash(prompt)
	v, _, _ := e.flight.Do(key, func() (any, error) {
		var raw string
		check := j.check(n, chunk)
		out := ctrl.RunChain(ctx, j.gens, prompt, func(r string) retry.Verdict {
			raw = r
			return check(r)
		})
		return generation{outcome: out, raw: raw}, nil
	})
	return v.(generation)
}

func (e *Engine) touch(ctx context.Context, j job, hash string) {
	if e.store == nil {
		return
	}
	if err := e.store.TouchChunk(ctx, j.stage, hash, j.sig.Digest()); err != nil {
		e.logger.Warn("failed to update chunk index", zap.String("stage", j.stage), zap.Error(err))
	}
}

func (e *Engine) record(ctx context.Context, j job, hash, chunk string, out retry.Outcome) {
	if e.store == nil {
		return
	}
	err := e.store.RecordChunk(ctx, store.ChunkEntry{
		Stage:      j.stage,
		Hash:       hash,
		Signature:  j.sig.Digest(),
		SourceText: chunk,
		FinalText:  out.Text,
		Backend:    out.Backend,
		Model:      out.Model,
	})
	if err != nil {
		e.logger.Warn("failed to record chunk", zap.String("stage", j.stage), zap.Error(err))
	}
}

type chunkError struct {
	Stage  string `json:"stage"`
	Chunk  int    `json:"chunk_index"`
	Reason string `json:"reason"`
	Error  string `json:"error,omitempty"`
}

func (e *Engine) writeError(stage string, n int, reason string, err error) {
	if e.debug == nil {
		return
	}
	entry := chunkError{Stage: stage, Chunk: n, Reason: reason}
	if err != nil {
		entry.Error = err.Error()
	}
	if werr := e.debug.WriteError(entry); werr != nil {
		e.logger.Warn("failed to write error log", zap.Error(werr))
	}
}

func (e *Engine) writeChunkFiles(stage string, n int, in, out string) {
	if e.debug == nil || !e.debug.ShouldWriteChunk(n) {
		return
	}
	for name, text := range map[string]string{
		fmt.Sprintf("chunk_%03d_in.txt", n):  in,
		fmt.Sprintf("chunk_%03d_out.txt", n): out,
	} {
		if _, err := e.debug.WriteStageText(stage, name, text); err != nil {
			e.logger.Warn("failed to write chunk file", zap.String("file", name), zap.Error(err))
		}
	}
}

// finishStage writes the stage manifest and output of a debug run.
func (e *Engine) finishStage(input string, st Stats, text string) {
	if e.debug == nil {
		return
	}
	if err := e.debug.WriteManifest(st.Stage, st.Manifest(input)); err != nil {
		e.logger.Warn("failed to write manifest", zap.String("stage", st.Stage), zap.Error(err))
	}
	if _, err := e.debug.WriteStageText(st.Stage, "output.md", text); err != nil {
		e.logger.Warn("failed to write stage output", zap.String("stage", st.Stage), zap.Error(err))
	}
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// joinOutputs reassembles stage outputs along the chunk layout, so hard-cut
// slices are glued back without a paragraph break.
func joinOutputs(chunks []chunker.Chunk, outputs []string) string {
	joined := make([]chunker.Chunk, len(chunks))
	for i, c := range chunks {
		c.Text = outputs[i]
		joined[i] = c
	}
	return chunker.Join(joined)
}

func outputs(records []ChunkRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Output
	}
	return out
}
