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
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valpere/tradutor/internal/extract"
	"github.com/valpere/tradutor/internal/markdown"
	"github.com/valpere/tradutor/internal/pipeline"
)

var (
	runInput      string
	runOutput     string
	runDesquebrar string
	runRefine     bool
	runResume     bool
	runHTML       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract a document and run every stage",
	Long: `Extract the text of a .pdf, .docx, .txt or .md file, then chain
desquebrar, translate and refine.

--desquebrar=auto unbreaks lines only for PDF input, where extraction
hard-wraps paragraphs. Intermediate outputs are written next to the final
one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := extract.File(runInput)
		if err != nil {
			return err
		}

		unbreak := false
		switch strings.ToLower(runDesquebrar) {
		case "auto":
			unbreak = extract.Kind(runInput) == "pdf"
		case "on", "true", "yes":
			unbreak = true
		case "off", "false", "no":
		default:
			return fmt.Errorf("invalid --desquebrar value %q (auto, on, off)", runDesquebrar)
		}

		stages := []string{pipeline.StageTranslate}
		if unbreak {
			stages = append(stages, pipeline.StageDesquebrar)
		}
		if runRefine {
			stages = append(stages, pipeline.StageRefine)
		}
		a, err := newApp(cmd.Context(), appOptions{input: runInput, stages: stages, resume: runResume, detect: true})
		if err != nil {
			return err
		}
		defer a.close()

		res, err := a.engine.Run(cmd.Context(), runInput, text, pipeline.RunOptions{
			Desquebrar: unbreak,
			Refine:     runRefine,
		})
		if err != nil {
			return fmt.Errorf("run failed: %w", err)
		}

		outputs := []struct {
			suffix string
			text   string
		}{
			{"desquebrado.txt", res.Desquebrado},
			{"translated.md", res.Translated},
			{"refined.md", res.Refined},
		}
		for _, o := range outputs {
			if o.text == "" {
				continue
			}
			if err := writeOutput(a.outputPath("", runInput, o.suffix), o.text); err != nil {
				return err
			}
		}

		final := a.outputPath(runOutput, runInput, "final.md")
		if err := writeOutput(final, res.Final()); err != nil {
			return err
		}
		if runHTML {
			html := markdown.Document([]byte(res.Final()), strings.TrimSuffix(filepath.Base(final), ".md"))
			if err := writeOutput(strings.TrimSuffix(final, ".md")+".html", html); err != nil {
				return err
			}
		}

		for _, st := range res.Stages {
			printStats(st)
		}
		fmt.Printf("Wrote %s\n", final)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runInput, "input", "i", "", "Input document: .pdf, .docx, .txt or .md (required)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Final output file (default <output-dir>/<input>_final.md)")
	runCmd.Flags().StringVar(&runDesquebrar, "desquebrar", "auto", "Unbreak lines before translating (auto, on, off)")
	runCmd.Flags().BoolVar(&runRefine, "refine", true, "Polish the translation")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "Reuse chunks of unfinished runs of the same document")
	runCmd.Flags().BoolVar(&runHTML, "html", false, "Also render the final document as HTML")

	_ = runCmd.MarkFlagRequired("input")
}
