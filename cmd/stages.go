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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valpere/tradutor/internal/pipeline"
)

// stageFlags are the per-command input, output and model overrides.
type stageFlags struct {
	input  string
	output string
	resume bool
}

// addStageFlags registers the common flags of a single-stage command and
// binds its model overrides to the <stage>.* keys.
func addStageFlags(cmd *cobra.Command, stage string, f *stageFlags) {
	fs := cmd.Flags()
	fs.StringVarP(&f.input, "input", "i", "", "Input file (required)")
	fs.StringVarP(&f.output, "output", "o", "", "Output file (default <output-dir>/<input>_"+stage+".md)")
	fs.String("backend", "", "Generation backend (ollama, openai, openrouter, gemini)")
	fs.String("model", "", "Model name")
	fs.StringSlice("fallback-models", nil, "Models tried in order when the primary one fails")
	fs.Int("chunk-chars", 0, "Chunk budget in characters")

	mustBindPFlag(stage+".backend", fs.Lookup("backend"))
	mustBindPFlag(stage+".model", fs.Lookup("model"))
	mustBindPFlag(stage+".fallback_models", fs.Lookup("fallback-models"))
	mustBindPFlag(stage+".chunk_chars", fs.Lookup("chunk-chars"))
	_ = cmd.MarkFlagRequired("input")
}

var (
	desquebrarFlags stageFlags
	translateFlags  stageFlags
	refineFlags     stageFlags
)

var desquebrarCmd = &cobra.Command{
	Use:   "desquebrar",
	Short: "Rejoin lines broken by PDF extraction",
	Long: `Rejoin paragraphs whose lines were hard-wrapped by PDF extraction.

The model may only move line breaks. Output that drops text, adds lone
quote lines or changes ellipses is replaced by a deterministic reflow.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStage(cmd, pipeline.StageDesquebrar, desquebrarFlags, false)
	},
}

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate a plain text document",
	Long: `Translate a document chunk by chunk into the target language.

Each chunk is sent with the last sentence of the previous chunk as context
and the glossary of the language pair. Links, code and markup are shielded
behind [PHn] placeholders. A chunk that keeps failing validation is kept in
the source language, tagged [CHUNK_TRANSLATION_REJECTED_n] under strict
guardrails, or aborts the document with --fail-on-chunk-error.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if translateFlags.input == translateFlags.output {
			return fmt.Errorf("input file and output file cannot be the same")
		}
		return runStage(cmd, pipeline.StageTranslate, translateFlags, true)
	},
}

var refineCmd = &cobra.Command{
	Use:   "refine",
	Short: "Polish a translated markdown document",
	Long: `Polish a translated markdown document section by section.

Refinement gets one attempt per chunk; anything suspicious keeps the
translated text unchanged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStage(cmd, pipeline.StageRefine, refineFlags, true)
	},
}

func runStage(cmd *cobra.Command, stage string, f stageFlags, detect bool) error {
	text, err := readInput(f.input)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), appOptions{input: f.input, stages: []string{stage}, resume: f.resume, detect: detect})
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	var res pipeline.Result
	switch stage {
	case pipeline.StageDesquebrar:
		res, err = a.engine.Desquebrar(ctx, f.input, text)
	case pipeline.StageTranslate:
		res, err = a.engine.Translate(ctx, f.input, text)
	default:
		res, err = a.engine.Refine(ctx, f.input, text)
	}
	if err != nil {
		return fmt.Errorf("%s failed: %w", stage, err)
	}

	out := a.outputPath(f.output, f.input, stage+".md")
	if err := writeOutput(out, res.Text); err != nil {
		return err
	}
	printStats(res.Stats)
	fmt.Printf("Wrote %s\n", out)
	return nil
}

func init() {
	rootCmd.AddCommand(desquebrarCmd, translateCmd, refineCmd)

	addStageFlags(desquebrarCmd, pipeline.StageDesquebrar, &desquebrarFlags)
	addStageFlags(translateCmd, pipeline.StageTranslate, &translateFlags)
	addStageFlags(refineCmd, pipeline.StageRefine, &refineFlags)

	for _, c := range []struct {
		cmd *cobra.Command
		f   *stageFlags
	}{{desquebrarCmd, &desquebrarFlags}, {translateCmd, &translateFlags}, {refineCmd, &refineFlags}} {
		c.cmd.Flags().BoolVar(&c.f.resume, "resume", false, "Reuse chunks of an unfinished run of the same document")
	}

	translateCmd.Flags().StringP("source", "s", "", "Source language code")
	translateCmd.Flags().StringP("target", "t", "", "Target language code")
	translateCmd.Flags().Float64("max-ratio", 0, "Reject translations longer than this multiple of the source")
	translateCmd.Flags().Bool("split-by-sections", true, "Cut the document at chapter markers before chunking")
	mustBindPFlag("source_lang", translateCmd.Flags().Lookup("source"))
	mustBindPFlag("target_lang", translateCmd.Flags().Lookup("target"))
	mustBindPFlag("translate_max_ratio", translateCmd.Flags().Lookup("max-ratio"))
	mustBindPFlag("split_by_sections", translateCmd.Flags().Lookup("split-by-sections"))

	refineCmd.Flags().Bool("cleanup", true, "Remove model debris from the document before refining")
	mustBindPFlag("cleanup_before_refine", refineCmd.Flags().Lookup("cleanup"))
}
