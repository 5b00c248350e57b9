package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"rircore/internal/report"
	"rircore/pkg/analysisapi"
)

var (
	renderFormats []string
	renderOutDir  string
)

var renderCmd = &cobra.Command{
	Use:   "render <run-id>",
	Short: "Render a stored analysis run to files",
	Long: `Render writes a stored analysis run to the output directory in each of
the requested formats (json, csv, markdown, html, png). Without a run ID
argument it renders the most recent run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}

		var runID string
		if len(args) == 1 {
			runID = args[0]
		} else {
			runs := svc.SortedAnalysisRuns()
			if len(runs) == 0 {
				return fmt.Errorf("no analysis runs stored")
			}
			runID = runs[0].ID
		}
		run, ok := svc.Store().GetAnalysisRun(runID)
		if !ok {
			return fmt.Errorf("analysis run %s not found", runID)
		}

		if err := os.MkdirAll(renderOutDir, 0o750); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		base := strings.ReplaceAll(run.TemplateSlug, "/", "_")
		base = strings.ReplaceAll(base, "@", "_")
		for _, name := range renderFormats {
			format := analysisapi.Format(name)
			payload, _, err := report.Render(run, format)
			if err != nil {
				return fmt.Errorf("render %s: %w", name, err)
			}
			path := filepath.Join(renderOutDir, base+"."+report.Extension(format))
			if err := os.WriteFile(path, payload, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Println(path)
		}
		return nil
	},
}

func init() {
	renderCmd.Flags().StringSliceVar(&renderFormats, "format", []string{"markdown"}, "output formats")
	renderCmd.Flags().StringVar(&renderOutDir, "out", ".", "output directory")
	rootCmd.AddCommand(renderCmd)
}
