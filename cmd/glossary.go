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
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/valpere/tradutor/internal/config"
	"github.com/valpere/tradutor/internal/pipeline"
	"github.com/valpere/tradutor/internal/store"
)

const maxGlossaryTermRunes = 120

var glossaryCmd = &cobra.Command{
	Use:   "glossary",
	Short: "Manage the terminology glossary",
	Long: `Add, list, and delete terminology glossary entries.

Every translate prompt carries the glossary of the configured language pair
(source_lang -> target_lang), so names and recurring terms come out the same
way in every chunk.`,
}

// glossaryPair is the --from/--to selection, defaulting to the language
// pair the translate stage uses.
type glossaryPair struct {
	from string
	to   string
}

func (p glossaryPair) resolve(cfg config.Config) (string, string) {
	from, to := p.from, p.to
	if from == "" {
		from = cfg.SourceLang
	}
	if to == "" {
		to = cfg.TargetLang
	}
	return strings.ToLower(from), strings.ToLower(to)
}

var (
	glossaryListPair   glossaryPair
	glossaryListAll    bool
	glossaryListPrompt bool
	glossaryAddPair    glossaryPair
)

var glossaryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the glossary of a language pair",
	Long: `List the glossary of the configured language pair, or of the pair given
with --from/--to. --all lists every pair; --prompt prints the block exactly
as the translate prompt receives it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		from, to := glossaryListPair.resolve(cfg)
		if glossaryListAll {
			from, to = "", ""
		}
		entries, err := db.ListGlossaryTerms(cmd.Context(), from, to)
		if err != nil {
			return fmt.Errorf("failed to list glossary: %w", err)
		}

		if glossaryListPrompt {
			block := pipeline.FormatGlossary(entries)
			if block == "" {
				fmt.Println("No glossary would be sent.")
				return nil
			}
			fmt.Println(block)
			return nil
		}
		return printGlossary(os.Stdout, entries)
	},
}

// printGlossary writes entries grouped by language pair. The store returns
// them ordered by pair.
func printGlossary(out io.Writer, entries []store.GlossaryEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "Glossary is empty.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	pair := ""
	for _, e := range entries {
		if p := e.SourceLang + " -> " + e.TargetLang; p != pair {
			if pair != "" {
				fmt.Fprintln(w)
			}
			pair = p
			fmt.Fprintf(w, "[%s]\n", pair)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", e.ID, e.SourceTerm, e.TargetTerm)
	}
	fmt.Fprintf(w, "\n%d entries\n", len(entries))
	return w.Flush()
}

// checkGlossaryTerm rejects terms that would break the one-line-per-entry
// glossary block of the prompt.
func checkGlossaryTerm(kind, term string) error {
	term = strings.TrimSpace(term)
	switch {
	case term == "":
		return fmt.Errorf("%s term is empty", kind)
	case strings.ContainsAny(term, "\r\n"):
		return fmt.Errorf("%s term %q spans several lines", kind, term)
	case strings.Contains(term, "->"):
		return fmt.Errorf("%s term %q contains \"->\"", kind, term)
	case utf8.RuneCountInString(term) > maxGlossaryTermRunes:
		return fmt.Errorf("%s term is longer than %d characters", kind, maxGlossaryTermRunes)
	}
	return nil
}

var glossaryAddCmd = &cobra.Command{
	Use:   "add <source-term> <target-term>",
	Short: "Add or update a glossary entry",
	Long: `Map a source-language term to the target-language term every translate
prompt must use. The pair defaults to source_lang -> target_lang from the
configuration. Adding a known source term replaces its translation.

Example:
  tradutor glossary add "Shadow Guild" "Guilda das Sombras"
  tradutor glossary add "Shadow Guild" "Gremio de las Sombras" --to es`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkGlossaryTerm("source", args[0]); err != nil {
			return err
		}
		if err := checkGlossaryTerm("target", args[1]); err != nil {
			return err
		}

		cfg, db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		from, to := glossaryAddPair.resolve(cfg)
		if from == "" || to == "" {
			return errors.New("language pair is unknown: set source_lang/target_lang or pass --from/--to")
		}
		if from == to {
			return fmt.Errorf("source and target language are both %q", from)
		}

		id, err := db.AddGlossaryTerm(cmd.Context(), from, to, args[0], args[1])
		if err != nil {
			return fmt.Errorf("failed to add glossary entry: %w", err)
		}
		fmt.Printf("%s  [%s -> %s]  %s -> %s\n", id, from, to, strings.TrimSpace(args[0]), strings.TrimSpace(args[1]))
		return nil
	},
}

var glossaryDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete glossary entries by ID",
	Long: `Delete one or more glossary entries by the IDs shown in "tradutor glossary list".

Example:
  tradutor glossary delete gl_0b6f6c1e gl_9a1d44f0`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		return deleteGlossaryEntries(cmd.Context(), db, args, os.Stdout)
	},
}

// deleteGlossaryEntries removes every id it can and reports the ones that
// were not found together.
func deleteGlossaryEntries(ctx context.Context, db *store.Store, ids []string, out io.Writer) error {
	var missing []string
	for _, id := range ids {
		err := db.DeleteGlossaryTerm(ctx, id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			missing = append(missing, id)
		case err != nil:
			return fmt.Errorf("failed to delete glossary entry %s: %w", id, err)
		default:
			fmt.Fprintf(out, "Deleted %s\n", id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("no glossary entry with id %s", strings.Join(missing, ", "))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(glossaryCmd)

	lf := glossaryListCmd.Flags()
	lf.StringVar(&glossaryListPair.from, "from", "", "Source language code (default source_lang)")
	lf.StringVar(&glossaryListPair.to, "to", "", "Target language code (default target_lang)")
	lf.BoolVar(&glossaryListAll, "all", false, "List every language pair")
	lf.BoolVar(&glossaryListPrompt, "prompt", false, "Print the glossary block sent with translate prompts")

	af := glossaryAddCmd.Flags()
	af.StringVar(&glossaryAddPair.from, "from", "", "Source language code (default source_lang)")
	af.StringVar(&glossaryAddPair.to, "to", "", "Target language code (default target_lang)")

	glossaryCmd.AddCommand(glossaryListCmd, glossaryAddCmd, glossaryDeleteCmd)
}
