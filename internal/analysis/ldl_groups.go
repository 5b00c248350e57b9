package analysis

import (
	"context"

	"rircore/internal/survey"
	"rircore/pkg/analysisapi"
	"rircore/pkg/domain"
)

// ldlStatinGroupLabels describes the six-group LDL x statin stratification
// by group number.
var ldlStatinGroupLabels = map[string]string{
	"1": "LDL <=70, statin",
	"2": "LDL <=70, no statin",
	"3": "LDL 70-130, statin",
	"4": "LDL 70-130, no statin",
	"5": "LDL >130, statin",
	"6": "LDL >130, no statin",
}

// ldlStatinGroupsTemplate estimates the weighted population distribution of
// the six-group LDL x statin stratification.
func ldlStatinGroupsTemplate() analysisapi.Template {
	columns := []analysisapi.Column{
		{Name: "group", Type: "string", Description: "Group number 1-6"},
		{Name: "label", Type: "string"},
		{Name: "proportion", Type: "number", Unit: "proportion"},
		{Name: "se", Type: "number"},
		{Name: "ci_lower", Type: "number"},
		{Name: "ci_upper", Type: "number"},
		{Name: "n", Type: "integer"},
		{Name: "weighted_n", Type: "number"},
	}

	return analysisapi.Template{
		Key:         "ldl_statin_groups",
		Version:     "v1",
		Title:       "LDL-C by statin use stratification",
		Description: "Survey-weighted distribution of the six-group LDL-C category by statin status stratification.",
		Parameters: []analysisapi.Parameter{
			designIDParameter(),
			ciLevelParameter(),
		},
		Columns:       columns,
		Metadata:      analysisapi.Metadata{Tags: []string{"descriptive", "stratification"}},
		OutputFormats: allFormats,
		Binder: func(env analysisapi.Environment) (analysisapi.Runner, error) {
			return func(ctx context.Context, req analysisapi.RunRequest) (analysisapi.RunResult, error) {
				design, record, members, err := resolveDesign(env, req.Parameters)
				if err != nil {
					return analysisapi.RunResult{}, err
				}
				opts := survey.Options{CILevel: ciLevel(req.Parameters)}

				labels := make([]string, len(members))
				for i, p := range members {
					if p.Derived != nil {
						labels[i] = groupNumber(p.Derived.LDLStatinGroup)
					}
				}

				var rows []map[string]any
				var estimates []domain.Estimate
				for _, group := range []string{"1", "2", "3", "4", "5", "6"} {
					indicator := make([]bool, len(labels))
					present := false
					for i, l := range labels {
						indicator[i] = l == group
						if indicator[i] {
							present = true
						}
					}
					if !present {
						continue
					}
					est, err := design.Proportion(indicator, opts)
					if err != nil {
						return analysisapi.RunResult{}, err
					}
					est.DesignID = record.ID
					est.Outcome = "ldl_statin_group"
					est.Domain = group
					rows = append(rows, map[string]any{
						"group":      group,
						"label":      ldlStatinGroupLabels[group],
						"proportion": est.Value,
						"se":         est.SE,
						"ci_lower":   est.CILower,
						"ci_upper":   est.CIUpper,
						"n":          est.N,
						"weighted_n": est.WeightedN,
					})
					estimates = append(estimates, est)
				}

				return analysisapi.RunResult{
					Schema:    columns,
					Rows:      rows,
					Estimates: estimates,
					Metadata: map[string]any{
						"design": record.Name,
					},
					GeneratedAt: env.Now(),
				}, nil
			}, nil
		},
	}
}
