package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"rircore/internal/core"
	"rircore/pkg/domain"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check stored data against the domain rules",
	Long: `Validate evaluates every registered rule against the committed store
contents: design coherence, weight coherence, lonely-PSU policy, and
hs-CRP range checks. It exits non-zero if any blocking violation exists.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		engine := core.NewDefaultRulesEngine()
		var result domain.Result
		err = svc.Store().View(cmd.Context(), func(view domain.TransactionView) error {
			res, err := engine.Evaluate(cmd.Context(), view, nil)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
		if err != nil {
			return err
		}
		if len(result.Violations) == 0 {
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s no violations\n", green("✓"))
			return nil
		}
		printViolations(result.Violations)
		if result.HasBlocking() {
			return fmt.Errorf("%d violation(s), blocking present", len(result.Violations))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// printViolations writes rule violations to stdout, colored by severity.
func printViolations(violations []domain.Violation) {
	if len(violations) == 0 {
		return
	}
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	for _, v := range violations {
		tag := yellow("warn")
		if v.Severity == domain.SeverityBlock {
			tag = red("block")
		}
		target := ""
		if v.EntityID != "" {
			target = fmt.Sprintf(" [%s %s]", v.Entity, v.EntityID)
		}
		fmt.Printf("  %s %s: %s%s\n", tag, v.Rule, v.Message, target)
	}
}
