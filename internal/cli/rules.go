package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mcptrust/execgate/internal/rulebook"
	"github.com/spf13/cobra"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and test the execution rulebook",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the active rules and allowlist",
	Args:  cobra.NoArgs,
	RunE:  runRulesList,
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check [file|-]",
	Short: "Evaluate code against the rulebook only",
	Long: `Evaluates code against the configured rules for one execution context.
Unlike scan, no threat matrix or intent classification is involved.

Example:
  execgate rules check --context microapp job.js`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRulesCheck,
}

var rulesPresetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List built-in rule presets",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range rulebook.PresetNames() {
			p, err := rulebook.GetPreset(name)
			if err != nil {
				continue
			}
			fmt.Printf("%-10s %s (%d rules)\n", name, p.Name, len(p.Rules))
		}
	},
}

var (
	rulesPresetFlag  string
	rulesContextFlag string
	rulesFormatFlag  string
)

func init() {
	rulesCmd.PersistentFlags().StringVar(&rulesPresetFlag, "preset", "", "Rule preset (overrides rulebook.preset)")
	rulesCmd.PersistentFlags().StringVar(&rulesFormatFlag, "format", formatText, "Output format: text or json")
	rulesCheckCmd.Flags().StringVar(&rulesContextFlag, "context", "sandbox", "Execution context")
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesCheckCmd)
	rulesCmd.AddCommand(rulesPresetsCmd)
}

func GetRulesCmd() *cobra.Command {
	return rulesCmd
}

// loadBook builds the rulebook alone; the rest of the kernel is not needed.
func loadBook(cmd *cobra.Command) (*rulebook.Book, error) {
	cfg := configFrom(cmd.Context())
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	preset := cfg.Rulebook.Preset
	if rulesPresetFlag != "" {
		preset = rulesPresetFlag
	}
	return rulebook.FromPreset(preset, cfg.Rulebook.Rules, cfg.Rulebook.Allowlist)
}

func runRulesList(cmd *cobra.Command, args []string) error {
	if err := checkFormat(rulesFormatFlag); err != nil {
		return err
	}
	book, err := loadBook(cmd)
	if err != nil {
		return err
	}
	if rulesFormatFlag == formatJSON {
		return writeJSON(os.Stdout, map[string]any{
			"rules":     book.Rules(),
			"allowlist": book.Allowlist(),
		})
	}
	writeRulesText(os.Stdout, book)
	return nil
}

func runRulesCheck(cmd *cobra.Command, args []string) (err error) {
	if err := checkFormat(rulesFormatFlag); err != nil {
		return err
	}
	_, end := startCommand(cmd.Context(), "rules.check")
	defer func() { end(err) }()

	path := ""
	if len(args) == 1 {
		path = args[0]
	}
	code, err := readSource(path)
	if err != nil {
		return err
	}
	book, err := loadBook(cmd)
	if err != nil {
		return err
	}
	res := book.Evaluate(code, rulesContextFlag)

	if rulesFormatFlag == formatJSON {
		if err := writeJSON(os.Stdout, res); err != nil {
			return err
		}
	} else if res.Violates {
		fmt.Printf("%s %s: %s\n", paint(colorRed, "VIOLATION"), res.Rule.ID, res.Rule.Message)
		if res.MatchedText != "" {
			fmt.Printf("    matched: %s\n", res.MatchedText)
		}
	} else {
		fmt.Println(paint(colorGreen, "no violations"))
	}
	if rulesFormatFlag == formatText {
		for _, m := range res.Warnings {
			fmt.Printf("%s %s: %s\n", paint(colorYellow, "warning"), m.RuleID, m.Message)
		}
	}
	if res.Violates {
		return fmt.Errorf("rule %s violated in context %s", res.Rule.ID, rulesContextFlag)
	}
	return nil
}

func writeRulesText(w io.Writer, book *rulebook.Book) {
	for _, r := range book.Rules() {
		contexts := "all"
		if len(r.Contexts) > 0 {
			contexts = strings.Join(r.Contexts, ",")
		}
		match := r.Pattern
		if r.Expr != "" {
			match = "expr: " + r.Expr
		}
		fmt.Fprintf(w, "%s %-5s [%s] %s\n", paint(colorBold, r.ID), r.Action, contexts, r.Name)
		fmt.Fprintf(w, "    %s\n", match)
	}
	if allow := book.Allowlist(); len(allow) > 0 {
		fmt.Fprintf(w, "\nAllowlist: %s\n", strings.Join(allow, ", "))
	}
}
