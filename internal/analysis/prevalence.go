package analysis

import (
	"context"

	"rircore/internal/survey"
	"rircore/pkg/analysisapi"
	"rircore/pkg/domain"
)

// prevalenceTemplate estimates the weighted prevalence of residual
// inflammatory risk overall and within each survey cycle.
func prevalenceTemplate() analysisapi.Template {
	return analysisapi.Template{
		Key:         "rir_prevalence",
		Version:     "v1",
		Title:       "Residual inflammatory risk prevalence",
		Description: "Survey-weighted prevalence of residual inflammatory risk, overall and by cycle, with logit-transformed confidence intervals.",
		Parameters: []analysisapi.Parameter{
			designIDParameter(),
			outcomeParameter(),
			ciLevelParameter(),
		},
		Columns:       prevalenceColumns(),
		Metadata:      analysisapi.Metadata{Tags: []string{"prevalence", "primary"}},
		OutputFormats: allFormats,
		Binder: func(env analysisapi.Environment) (analysisapi.Runner, error) {
			return func(ctx context.Context, req analysisapi.RunRequest) (analysisapi.RunResult, error) {
				design, record, members, err := resolveDesign(env, req.Parameters)
				if err != nil {
					return analysisapi.RunResult{}, err
				}
				variant := outcomeVariant(req.Parameters)
				indicator, err := outcomeIndicator(members, variant)
				if err != nil {
					return analysisapi.RunResult{}, err
				}
				opts := survey.Options{CILevel: ciLevel(req.Parameters)}

				overall, err := design.Proportion(indicator, opts)
				if err != nil {
					return analysisapi.RunResult{}, err
				}
				overall.DesignID = record.ID
				overall.Outcome = variant
				overall.Domain = "overall"

				byCycle, err := design.ProportionByGroup(indicator, cycleLabels(members), opts)
				if err != nil {
					return analysisapi.RunResult{}, err
				}

				rows := []map[string]any{estimateRow("overall", overall)}
				estimates := []domain.Estimate{overall}
				for _, cycle := range sortedKeys(byCycle) {
					est := byCycle[cycle]
					est.DesignID = record.ID
					est.Outcome = variant
					rows = append(rows, estimateRow(cycle, est))
					estimates = append(estimates, est)
				}

				return analysisapi.RunResult{
					Schema:    prevalenceColumns(),
					Rows:      rows,
					Estimates: estimates,
					Metadata: map[string]any{
						"outcome":            variant,
						"design":             record.Name,
						"degrees_of_freedom": record.DegreesOfFreedom,
					},
					GeneratedAt: env.Now(),
				}, nil
			}, nil
		},
	}
}
