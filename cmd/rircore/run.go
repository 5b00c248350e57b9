package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"rircore/internal/config"
	"rircore/internal/infra/blob"
	"rircore/internal/report"
	"rircore/pkg/analysisapi"
	"rircore/pkg/domain"
)

var (
	runArtifactsDir string
	runSkipExport   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the study plan end to end",
	Long: `Run builds the plan's cohort, binds a survey design with the configured
weight and lonely-PSU policy, executes every analysis in the plan, and
exports the resulting tables and figures as artifacts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		plan, err := config.Load(planPath)
		if err != nil {
			return err
		}
		svc, err := openServiceWith(plan)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		built, res, err := svc.BuildCohort(ctx, plan.Cohort)
		if err != nil {
			return err
		}
		printViolations(res.Violations)
		log.Infof("cohort %s: %d member(s)", built.Name, len(built.MemberSEQNs))

		designName := fmt.Sprintf("%s-%s", built.Name, plan.Weight)
		design, res, err := svc.BindDesign(ctx, designName, built.ID,
			domain.WeightVariable(plan.Weight), domain.LonelyPSUPolicy(plan.LonelyPSUPolicy))
		if err != nil {
			return err
		}
		printViolations(res.Violations)
		log.Infof("design %s: %d strata, %d PSUs, %d df",
			design.Name, design.TotalStrata, design.TotalPSUs, design.DegreesOfFreedom)

		var worker *report.Worker
		if !runSkipExport {
			if runArtifactsDir != "" {
				os.Setenv("RIRCORE_BLOB_DRIVER", string(blob.DriverFilesystem))
				os.Setenv("RIRCORE_BLOB_FS_ROOT", runArtifactsDir)
			}
			store, err := blob.Open(ctx)
			if err != nil {
				return fmt.Errorf("open artifact store: %w", err)
			}
			worker = report.NewWorker(svc.Store(), store, &report.MemoryAuditLog{})
			worker.Start()
			defer worker.Stop(context.Background())
		}

		scope := analysisapi.Scope{Requestor: "rircore-cli"}
		bold := color.New(color.Bold).SprintFunc()
		for _, spec := range plan.Analyses {
			params := map[string]any{
				"design_id": design.ID,
				"ci_level":  plan.CILevel,
			}
			for k, v := range spec.Parameters {
				params[k] = v
			}
			run, paramErrs, err := svc.RunTemplate(ctx, spec.Template, params, scope)
			if err != nil {
				return fmt.Errorf("run %s: %w", spec.Template, err)
			}
			if len(paramErrs) > 0 {
				for _, pe := range paramErrs {
					log.Errorf("%s: parameter %s: %s", spec.Template, pe.Name, pe.Message)
				}
				return fmt.Errorf("run %s: invalid parameters", spec.Template)
			}
			fmt.Printf("%s %s: %d row(s), %d estimate(s)\n",
				bold("✓"), run.TemplateSlug, len(run.Rows), len(run.Estimates))

			if worker == nil {
				continue
			}
			record, err := worker.Enqueue(ctx, report.ExportInput{
				RunID:       run.ID,
				Formats:     plan.FormatsFor(spec),
				RequestedBy: scope.Requestor,
				Reason:      "study plan run",
			})
			if err != nil {
				return fmt.Errorf("export %s: %w", run.TemplateSlug, err)
			}
			final, err := awaitExport(ctx, worker, record.ID)
			if err != nil {
				return fmt.Errorf("export %s: %w", run.TemplateSlug, err)
			}
			for _, artifact := range final.Artifacts {
				fmt.Printf("    %-9s %s\n", artifact.Format, artifact.Key)
			}
		}
		return nil
	},
}

// awaitExport polls the worker until the export reaches a terminal status.
func awaitExport(ctx context.Context, worker *report.Worker, id string) (report.ExportRecord, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		record, ok := worker.Get(id)
		if !ok {
			return report.ExportRecord{}, fmt.Errorf("export %s not found", id)
		}
		switch record.Status {
		case report.ExportStatusSucceeded:
			return record, nil
		case report.ExportStatusFailed:
			return record, fmt.Errorf("export failed: %s", record.Error)
		}
		select {
		case <-ctx.Done():
			return report.ExportRecord{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func init() {
	runCmd.Flags().StringVar(&runArtifactsDir, "artifacts", "", "directory for rendered artifacts (filesystem driver)")
	runCmd.Flags().BoolVar(&runSkipExport, "skip-export", false, "run analyses without rendering artifacts")
	rootCmd.AddCommand(runCmd)
}
