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
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valpere/tradutor/internal/cache"
	"github.com/valpere/tradutor/internal/config"
	"github.com/valpere/tradutor/internal/pipeline"
	"github.com/valpere/tradutor/internal/store"
)

var allStages = []string{pipeline.StageDesquebrar, pipeline.StageTranslate, pipeline.StageRefine}

var cacheStage string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the chunk caches and the chunk index",
	Long: `List, inspect, and clear the per-stage chunk caches under --cache-dir and the
chunk index in the SQLite database used for near-duplicate reuse.`,
}

// cacheStages is the --stage selection, or every stage.
func cacheStages() ([]string, error) {
	if cacheStage == "" {
		return allStages, nil
	}
	for _, s := range allStages {
		if s == cacheStage {
			return []string{s}, nil
		}
	}
	return nil, fmt.Errorf("unknown stage %q", cacheStage)
}

func openStore() (config.Config, *store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return config.Config{}, nil, err
	}
	db, err := store.New(cfg.DBPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return cfg, db, nil
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the chunk index",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		stages, err := cacheStages()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STAGE\tHASH\tMODEL\tSIGNATURE\tUSED\tLAST USED\tTEXT")
		count := 0
		for _, stage := range stages {
			entries, err := db.ListChunks(context.Background(), stage)
			if err != nil {
				return fmt.Errorf("failed to list entries: %w", err)
			}
			for _, e := range entries {
				snippet := []rune(e.SourceText)
				if len(snippet) > 40 {
					snippet = append(snippet[:37], []rune("...")...)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					e.Stage, e.Hash, e.Model, e.Signature, e.UsageCount,
					e.LastUsed.Format("2006-01-02 15:04"), string(snippet))
				count++
			}
		}
		if count == 0 {
			fmt.Println("No entries in the chunk index.")
			return nil
		}
		return w.Flush()
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache and chunk index statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.Stats(context.Background())
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STAGE\tCACHE FILES\tINDEXED\tUSAGE")
		for _, stage := range allStages {
			files := 0
			if c, err := cache.New(cfg.CacheDir, stage, nil); err == nil {
				files, _ = c.Len()
			}
			indexed, usage := 0, 0
			for _, s := range stats.Stages {
				if s.Stage == stage {
					indexed, usage = s.TotalEntries, s.TotalUsage
				}
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", stage, files, indexed, usage)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("Indexed chunks:  %d\n", stats.TotalEntries)
		fmt.Printf("Total usage:     %d\n", stats.TotalUsage)
		fmt.Printf("Runs:            %d (%d finished)\n", stats.Runs, stats.FinishedRuns)
		return nil
	},
}

var cacheDeleteCmd = &cobra.Command{
	Use:   "delete <stage> <hash>",
	Short: "Delete one chunk from the cache and the index",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		stage, hash := args[0], args[1]
		c, err := cache.New(cfg.CacheDir, stage, nil)
		if err != nil {
			return err
		}
		if err := c.Delete(hash); err != nil {
			return fmt.Errorf("failed to delete cache entry: %w", err)
		}
		if err := db.DeleteChunk(context.Background(), stage, hash); err != nil {
			return fmt.Errorf("failed to delete index entry: %w", err)
		}
		fmt.Printf("Deleted entry: %s/%s\n", stage, hash)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached chunk",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		stages, err := cacheStages()
		if err != nil {
			return err
		}
		for _, stage := range stages {
			c, err := cache.New(cfg.CacheDir, stage, nil)
			if err != nil {
				return err
			}
			files, err := c.Clear()
			if err != nil {
				return fmt.Errorf("failed to clear %s cache: %w", stage, err)
			}
			rows, err := db.ClearChunks(context.Background(), stage)
			if err != nil {
				return fmt.Errorf("failed to clear %s index: %w", stage, err)
			}
			fmt.Printf("Cleared %s: %d cache files, %d index entries.\n", stage, files, rows)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)

	cacheCmd.PersistentFlags().StringVar(&cacheStage, "stage", "", "Limit to one stage (desquebrar, translate, refine)")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheDeleteCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
