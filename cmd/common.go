/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/valpere/tradutor/internal/cache"
	"github.com/valpere/tradutor/internal/config"
	"github.com/valpere/tradutor/internal/detector"
	"github.com/valpere/tradutor/internal/generator"
	"github.com/valpere/tradutor/internal/logging"
	"github.com/valpere/tradutor/internal/manifest"
	"github.com/valpere/tradutor/internal/metrics"
	"github.com/valpere/tradutor/internal/pipeline"
	"github.com/valpere/tradutor/internal/store"
)

// app holds everything a stage command needs for one document.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	store   *store.Store
	metrics *metrics.Metrics
	debug   *manifest.Writer
	engine  *pipeline.Engine
}

type appOptions struct {
	// input names the document in logs, the store and the debug run.
	input  string
	stages []string
	resume bool
	// detect loads the language detector for the target language checks.
	detect bool
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{
		Level: logging.Level(cfg.Log.Level),
		Style: logging.Style(cfg.Log.Style),
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}
	engineOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithResume(opts.resume),
	}

	if cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		a.store, err = store.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		engineOpts = append(engineOpts, pipeline.WithStore(a.store))
	} else if opts.resume {
		logger.Warn("resume needs a database, starting from scratch")
	}

	for _, stage := range opts.stages {
		c, err := cache.New(cfg.CacheDir, stage, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		gens, err := a.generators(ctx, stage)
		if err != nil {
			a.close()
			return nil, err
		}
		engineOpts = append(engineOpts, pipeline.WithCache(c), pipeline.WithGenerators(stage, gens...))
	}

	if opts.detect && cfg.TargetLang != "" {
		engineOpts = append(engineOpts, pipeline.WithDetector(detector.New()))
	}

	if cfg.DebugRun {
		a.debug, err = manifest.New(manifest.Config{
			OutputDir:       cfg.OutputDir,
			Slug:            opts.input,
			MaxChunks:       cfg.DebugMaxChunks,
			MaxCharsPerFile: cfg.DebugMaxCharsPerFile,
			Now:             time.Now(),
		})
		if err != nil {
			a.close()
			return nil, err
		}
		engineOpts = append(engineOpts, pipeline.WithDebugRun(a.debug))
		logger.Info("debug run enabled", zap.String("dir", a.debug.Dir()))
	}

	a.engine = pipeline.New(cfg, engineOpts...)
	return a, nil
}

const availabilityTimeout = 5 * time.Second

// generators builds the model chain of stage and checks that at least one
// of its backends answers before any chunk is sent.
func (a *app) generators(ctx context.Context, stage string) ([]generator.Generator, error) {
	st, ok := a.cfg.Stage(stage)
	if !ok {
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
	gens, err := a.cfg.Generators(st)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s generators: %w", stage, err)
	}

	ctx, cancel := context.WithTimeout(ctx, availabilityTimeout)
	defer cancel()
	var errs []error
	for _, g := range gens {
		err := generator.CheckAvailable(ctx, g)
		if err == nil {
			return gens, nil
		}
		a.logger.Warn("backend not available",
			zap.String("stage", stage),
			zap.String("backend", g.Name()),
			zap.String("model", g.Model()),
			zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", g.Model(), err))
	}
	return nil, fmt.Errorf("no %s backend available: %w", stage, errors.Join(errs...))
}

// close flushes metrics and releases the store.
func (a *app) close() {
	if a.cfg.MetricsFile != "" {
		if err := a.metrics.WriteToTextfile(a.cfg.MetricsFile); err != nil {
			a.logger.Warn("failed to write metrics", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close database", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// outputPath is explicit when set, else <output_dir>/<input stem>_<suffix>.
func (a *app) outputPath(explicit, input, suffix string) string {
	if explicit != "" {
		return explicit
	}
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(a.cfg.OutputDir, stem+"_"+suffix)
}

func writeOutput(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(text+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

func readInput(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read input file: %w", err)
	}
	return string(data), nil
}

func printStats(st pipeline.Stats) {
	fmt.Fprintf(os.Stderr, "%s: %d chunks, %d from cache, %d resumed, %d reused, %d fallbacks (%d collapse), %s\n",
		st.Stage, st.TotalChunks, st.CacheHits, st.Resumed, st.DuplicatesReused,
		st.Fallbacks, st.CollapseDetected, st.Latency.Round(time.Millisecond))
}
