package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/montanaflynn/stats"
	"github.com/spf13/cobra"

	"rircore/internal/cohort"
	"rircore/pkg/domain"
)

var cohortCmd = &cobra.Command{
	Use:   "cohort",
	Short: "Build and inspect analytic cohorts",
}

var cohortBuildCmd = &cobra.Command{
	Use:   "build <definition>",
	Short: "Build a cohort through its exclusion cascade",
	Long: `Build applies a named cohort definition to all stored participants,
derives analysis variables, and persists the resulting membership together
with its exclusion cascade. Known definitions:

  eligible_adults  fasting adults with measured hs-CRP and derivable LDL-C
  statin_users     eligible adults reporting statin use
  primary          statin users with LDL-C < 70 mg/dL
  primary_ldl55    statin users with LDL-C < 55 mg/dL`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		built, res, err := svc.BuildCohort(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printViolations(res.Violations)

		bold := color.New(color.Bold).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Printf("%s (%s)\n", bold(built.Name), built.ID)
		fmt.Printf("  source population: %d\n", built.SourceN)
		for _, step := range built.Exclusions {
			fmt.Printf("  %s %-34s excluded %5d, remaining %6d\n",
				cyan("→"), step.Criterion, step.Excluded, step.Remaining)
		}
		fmt.Printf("  members: %s\n", bold(fmt.Sprintf("%d", len(built.MemberSEQNs))))

		members, err := svc.CohortParticipants(built)
		if err != nil {
			return err
		}
		printMemberSummary(members)
		return nil
	},
}

// printMemberSummary prints unweighted descriptive statistics of the cohort
// members. Weighted estimates come from the analysis templates; this is a
// quick sanity check of the freshly built membership.
func printMemberSummary(members []domain.Participant) {
	if len(members) == 0 {
		return
	}
	ages := make([]float64, 0, len(members))
	ldls := make([]float64, 0, len(members))
	crps := make([]float64, 0, len(members))
	for _, p := range members {
		ages = append(ages, float64(p.AgeYears))
		if p.Derived != nil && p.Derived.LDL != nil {
			ldls = append(ldls, *p.Derived.LDL)
		}
		if p.HSCRP != nil {
			crps = append(crps, *p.HSCRP)
		}
	}
	printMedianIQR("age, years", ages)
	printMedianIQR("LDL-C, mg/dL", ldls)
	printMedianIQR("hs-CRP, mg/L", crps)
}

func printMedianIQR(label string, values []float64) {
	if len(values) == 0 {
		return
	}
	median, err := stats.Median(values)
	if err != nil {
		return
	}
	q, err := stats.Quartile(values)
	if err != nil {
		return
	}
	fmt.Printf("  %-14s median %.1f (IQR %.1f-%.1f)\n", label, median, q.Q1, q.Q3)
}

var cohortListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored cohorts and available definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		bold := color.New(color.Bold).SprintFunc()
		stored := svc.Store().ListCohorts()
		if len(stored) > 0 {
			fmt.Println(bold("Stored cohorts:"))
			for _, c := range stored {
				fmt.Printf("  %-16s %6d member(s)  %s\n", c.Name, len(c.MemberSEQNs), c.ID)
			}
			fmt.Println()
		}
		fmt.Println(bold("Definitions:"))
		for _, def := range cohort.Definitions() {
			fmt.Printf("  %-16s %s\n", def.Name, def.Description)
		}
		return nil
	},
}

func init() {
	cohortCmd.AddCommand(cohortBuildCmd)
	cohortCmd.AddCommand(cohortListCmd)
	rootCmd.AddCommand(cohortCmd)
}
