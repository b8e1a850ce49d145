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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/valpere/tradutor/internal/config"
)

var version = "0.3.0"

var (
	cfgFile string
	v       = config.NewViper()
)

var rootCmd = &cobra.Command{
	Use:   "tradutor",
	Short: "Chunked LLM pipeline for book-length documents",
	Long: `A CLI application that prepares, translates and polishes long documents with
local or hosted language models, one chunk at a time.

Every chunk is validated; rejected output is retried, then replaced by a
deterministic fallback so a bad answer never reaches the document.

Stages:
  desquebrar  rejoin lines broken by PDF extraction
  translate   translate plain text into the target language
  refine      polish a translated markdown document
  run         extract a .pdf/.docx/.txt file and chain the stages

Use "tradutor <command> --help" for stage options.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional and only supplies API keys.
		_ = godotenv.Load()
		if cfgFile == "" {
			return nil
		}
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", cfgFile, err)
		}
		return nil
	},
}

func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// mustBindPFlag ties a viper key to a flag so the flag overrides file and
// environment values when set.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q: %v", flag.Name, err))
	}
}

// loadConfig returns the configuration merged from defaults, file,
// environment and flags.
func loadConfig() (config.Config, error) {
	return config.Load(v)
}

func init() {
	def := config.Default()
	pf := rootCmd.PersistentFlags()

	pf.StringVar(&cfgFile, "config", "", "YAML config file")
	pf.String("log-level", def.Log.Level, "Log level (debug, info, warn, error)")
	pf.String("log-style", def.Log.Style, "Log style (terminal, json)")
	pf.String("cache-dir", def.CacheDir, "Directory of the per-stage chunk caches")
	pf.String("db", def.DBPath, "SQLite database for the chunk index, runs and glossary")
	pf.String("output-dir", def.OutputDir, "Directory for stage outputs and debug runs")
	pf.Int("workers", def.Workers, "Chunks processed concurrently")
	pf.String("guardrails", def.Guardrails, "Validation strictness (strict, relaxed, off)")
	pf.String("metrics-file", "", "Write Prometheus metrics to this file at exit")
	pf.Bool("debug-run", false, "Keep chunk files, manifests and reports under <output-dir>/debug_runs")
	pf.Bool("fail-on-chunk-error", def.FailOnChunkError, "Abort the document when a chunk cannot be translated")

	mustBindPFlag("log.level", pf.Lookup("log-level"))
	mustBindPFlag("log.style", pf.Lookup("log-style"))
	mustBindPFlag("cache_dir", pf.Lookup("cache-dir"))
	mustBindPFlag("db_path", pf.Lookup("db"))
	mustBindPFlag("output_dir", pf.Lookup("output-dir"))
	mustBindPFlag("workers", pf.Lookup("workers"))
	mustBindPFlag("guardrails", pf.Lookup("guardrails"))
	mustBindPFlag("metrics_file", pf.Lookup("metrics-file"))
	mustBindPFlag("debug_run", pf.Lookup("debug-run"))
	mustBindPFlag("fail_on_chunk_error", pf.Lookup("fail-on-chunk-error"))
}
