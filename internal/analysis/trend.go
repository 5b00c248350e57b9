package analysis

import (
	"context"
	"sort"

	"rircore/internal/glm"
	"rircore/internal/survey"
	"rircore/pkg/analysisapi"
	"rircore/pkg/domain"
)

// trendTemplate estimates residual-risk prevalence per survey cycle and
// tests for linear trend with an ordinal cycle term in a survey-weighted
// logistic model.
func trendTemplate() analysisapi.Template {
	columns := append([]analysisapi.Column{
		{Name: "cycle_index", Type: "integer", Description: "Ordinal position of the cycle"},
	}, prevalenceColumns()...)

	return analysisapi.Template{
		Key:         "trend",
		Version:     "v1",
		Title:       "Residual inflammatory risk trend across cycles",
		Description: "Per-cycle survey-weighted prevalence with a logistic linear-trend test over the ordinal cycle index.",
		Parameters: []analysisapi.Parameter{
			designIDParameter(),
			outcomeParameter(),
			ciLevelParameter(),
		},
		Columns:       columns,
		Metadata:      analysisapi.Metadata{Tags: []string{"prevalence", "trend"}},
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

				cycles := cycleLabels(members)
				byCycle, err := design.ProportionByGroup(indicator, cycles, opts)
				if err != nil {
					return analysisapi.RunResult{}, err
				}
				ordered := sortedKeys(byCycle)

				index := make(map[string]int, len(ordered))
				for i, cycle := range ordered {
					index[cycle] = i
				}
				cycleTerm := make([]float64, len(members))
				for i, cycle := range cycles {
					cycleTerm[i] = float64(index[cycle])
				}

				rows := make([]map[string]any, 0, len(ordered))
				estimates := make([]domain.Estimate, 0, len(ordered))
				for _, cycle := range ordered {
					est := byCycle[cycle]
					est.DesignID = record.ID
					est.Outcome = variant
					row := estimateRow(cycle, est)
					row["cycle_index"] = index[cycle]
					rows = append(rows, row)
					estimates = append(estimates, est)
				}

				metadata := map[string]any{
					"outcome": variant,
					"design":  record.Name,
					"cycles":  ordered,
				}
				if len(ordered) > 1 {
					outcome, err := outcomeValues(members, variant)
					if err != nil {
						return analysisapi.RunResult{}, err
					}
					fit, err := glm.Logistic(design, outcome, []glm.Covariate{
						{Name: "cycle_index", Values: cycleTerm},
					}, glm.Config{CILevel: ciLevel(req.Parameters)})
					if err != nil {
						return analysisapi.RunResult{}, err
					}
					if slope, ok := fit.Coefficient("cycle_index"); ok {
						metadata["p_trend"] = slope.PValue
						metadata["trend_or_per_cycle"] = slope.OR
					}
				}

				sort.Slice(rows, func(i, j int) bool {
					return rows[i]["cycle_index"].(int) < rows[j]["cycle_index"].(int)
				})

				return analysisapi.RunResult{
					Schema:      columns,
					Rows:        rows,
					Estimates:   estimates,
					Metadata:    metadata,
					GeneratedAt: env.Now(),
				}, nil
			}, nil
		},
	}
}
