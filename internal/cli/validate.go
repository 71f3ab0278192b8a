package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Lukavyi/openclaw-inspector/internal/rules"
)

var validateCmd = &cobra.Command{
	Use:   "validate [rules-file]",
	Short: "Validate a danger-rules file",
	Long: `Validate a danger-rules file and summarize its rules.

With no argument the effective rule set is validated: the file named in
config, else the user override, else the bundled default.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	var (
		set *rules.Set
		err error
	)
	if len(args) > 0 {
		set, err = rules.LoadFile(args[0])
	} else {
		cfg, cfgErr := loadConfig()
		if cfgErr != nil {
			return cfgErr
		}
		set, err = rules.Load(cfg.Store.RulesFile)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Rules OK: %s (%d rules)\n", set.Source, len(set.Rules))
	for i := range set.Rules {
		r := &set.Rules[i]
		switch r.Kind {
		case rules.KindTool:
			fmt.Printf("  %-24s %-8s tool    (%d tool rules)\n", r.Category, r.Severity, len(r.ToolRules))
		default:
			fmt.Printf("  %-24s %-8s pattern (%d patterns)\n", r.Category, r.Severity, len(r.Patterns))
		}
	}
	return nil
}
