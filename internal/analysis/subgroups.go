package analysis

import (
	"context"

	"rircore/internal/survey"
	"rircore/pkg/analysisapi"
	"rircore/pkg/domain"
)

// subgroupVariables enumerates the participant characteristics the subgroup
// template stratifies on, with a label extractor each. Empty labels drop the
// participant from that stratification.
var subgroupVariables = []struct {
	Name  string
	Label func(p domain.Participant) string
}{
	{Name: "sex", Label: func(p domain.Participant) string { return sexLabel(p.Sex) }},
	{Name: "age_group", Label: func(p domain.Participant) string { return ageGroupLabel(p.AgeYears) }},
	{Name: "race_ethnicity", Label: func(p domain.Participant) string { return raceLabel(p.RaceEthnicity) }},
	{Name: "diabetes", Label: func(p domain.Participant) string {
		if p.Derived == nil {
			return ""
		}
		return boolLabel(p.Derived.Diabetes, "diabetes", "no_diabetes")
	}},
	{Name: "cvd_history", Label: func(p domain.Participant) string {
		if p.Derived == nil {
			return ""
		}
		return boolLabel(p.Derived.CVDHistory, "cvd", "no_cvd")
	}},
	{Name: "smoking_status", Label: func(p domain.Participant) string {
		if p.Derived == nil || p.Derived.SmokingStatus == nil {
			return ""
		}
		return string(*p.Derived.SmokingStatus)
	}},
}

// subgroupPrevalenceTemplate estimates residual-risk prevalence across
// demographic and clinical subgroups using full-design domain estimation.
func subgroupPrevalenceTemplate() analysisapi.Template {
	columns := append([]analysisapi.Column{
		{Name: "variable", Type: "string", Description: "Stratification variable"},
	}, prevalenceColumns()...)

	return analysisapi.Template{
		Key:         "subgroup_prevalence",
		Version:     "v1",
		Title:       "Residual inflammatory risk prevalence by subgroup",
		Description: "Survey-weighted residual-risk prevalence across sex, age group, race/ethnicity, diabetes, CVD history, and smoking status.",
		Parameters: []analysisapi.Parameter{
			designIDParameter(),
			outcomeParameter(),
			ciLevelParameter(),
		},
		Columns:       columns,
		Metadata:      analysisapi.Metadata{Tags: []string{"prevalence", "subgroups"}},
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

				var rows []map[string]any
				var estimates []domain.Estimate
				for _, variable := range subgroupVariables {
					labels := make([]string, len(members))
					for i, p := range members {
						labels[i] = variable.Label(p)
					}
					byLevel, err := design.ProportionByGroup(indicator, labels, opts)
					if err != nil {
						return analysisapi.RunResult{}, err
					}
					for _, level := range sortedKeys(byLevel) {
						est := byLevel[level]
						est.DesignID = record.ID
						est.Outcome = variant
						row := estimateRow(level, est)
						row["variable"] = variable.Name
						rows = append(rows, row)
						estimates = append(estimates, est)
					}
				}

				return analysisapi.RunResult{
					Schema:    columns,
					Rows:      rows,
					Estimates: estimates,
					Metadata: map[string]any{
						"outcome": variant,
						"design":  record.Name,
					},
					GeneratedAt: env.Now(),
				}, nil
			}, nil
		},
	}
}
