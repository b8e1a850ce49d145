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

	"github.com/valpere/tradutor/internal/markdown"
)

var (
	renderInput    string
	renderOutput   string
	renderFragment bool
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a markdown document as HTML",
	RunE: func(cmd *cobra.Command, args []string) error {
		md, err := readInput(renderInput)
		if err != nil {
			return err
		}
		out := renderOutput
		if out == "" {
			out = strings.TrimSuffix(renderInput, filepath.Ext(renderInput)) + ".html"
		}
		if out == renderInput {
			return fmt.Errorf("input file and output file cannot be the same")
		}

		var html string
		if renderFragment {
			html = markdown.ToHTML([]byte(md))
		} else {
			title := strings.TrimSuffix(filepath.Base(renderInput), filepath.Ext(renderInput))
			html = markdown.Document([]byte(md), title)
		}
		if err := writeOutput(out, html); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().StringVarP(&renderInput, "input", "i", "", "Markdown file (required)")
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "", "HTML file (default: input with .html)")
	renderCmd.Flags().BoolVar(&renderFragment, "fragment", false, "Write only the body, without the page wrapper")
	_ = renderCmd.MarkFlagRequired("input")
}
