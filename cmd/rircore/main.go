// rircore is the command line entry point for the residual inflammatory
// risk analysis pipeline: cohort construction, survey design binding,
// analysis templates, and artifact rendering.
package main

import (
	"fmt"
	"os"

	"github.com/apex/log"
	clihandler "github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"

	"rircore/internal/analysis"
	"rircore/internal/config"
	"rircore/internal/core"
)

var (
	planPath string
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "rircore",
	Short: "Survey-weighted residual inflammatory risk analysis",
	Long: `rircore builds analytic cohorts from harmonized survey participant
records, binds complex survey designs, and runs design-based prevalence,
regression, and trend analyses with manuscript-ready outputs.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetHandler(clihandler.Default)
		if verbose {
			log.SetLevel(log.DebugLevel)
		} else {
			log.SetLevel(log.InfoLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&planPath, "plan", "", "path to a YAML study plan")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// openService loads the study plan and wires the persistent store, rules
// engine, and built-in analysis templates.
func openService() (*core.Service, error) {
	plan, err := config.Load(planPath)
	if err != nil {
		return nil, err
	}
	return openServiceWith(plan)
}

// openServiceWith wires a service for an already loaded plan.
func openServiceWith(plan config.Plan) (*core.Service, error) {
	if plan.Storage != "" {
		os.Setenv("RIRCORE_STORAGE_DRIVER", plan.Storage)
	}
	store, err := core.OpenPersistentStore(core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	svc := core.NewService(store,
		core.WithLogger(log.Log),
		core.WithThresholds(plan.CohortThresholds()),
	)
	if err := svc.RegisterTemplates(analysis.Suite, analysis.Templates()); err != nil {
		return nil, fmt.Errorf("register templates: %w", err)
	}
	return svc, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
