package analysis

import (
	"context"
	"math"

	"rircore/internal/survey"
	"rircore/pkg/analysisapi"
	"rircore/pkg/domain"
)

// table1Template builds the weighted descriptive characteristics table for a
// cohort, overall and split by residual inflammatory risk status.
func table1Template() analysisapi.Template {
	columns := []analysisapi.Column{
		{Name: "characteristic", Type: "string"},
		{Name: "statistic", Type: "string", Description: "mean, proportion, median, q1, or q3"},
		{Name: "unit", Type: "string"},
		{Name: "overall", Type: "number"},
		{Name: "rir", Type: "number", Description: "Participants with residual inflammatory risk"},
		{Name: "no_rir", Type: "number", Description: "Participants without residual inflammatory risk"},
	}

	return analysisapi.Template{
		Key:         "table1",
		Version:     "v1",
		Title:       "Cohort characteristics by residual inflammatory risk",
		Description: "Survey-weighted descriptive characteristics, overall and by residual-risk status.",
		Parameters: []analysisapi.Parameter{
			designIDParameter(),
			ciLevelParameter(),
		},
		Columns:       columns,
		Metadata:      analysisapi.Metadata{Tags: []string{"descriptive"}},
		OutputFormats: allFormats,
		Binder: func(env analysisapi.Environment) (analysisapi.Runner, error) {
			return func(ctx context.Context, req analysisapi.RunRequest) (analysisapi.RunResult, error) {
				design, record, members, err := resolveDesign(env, req.Parameters)
				if err != nil {
					return analysisapi.RunResult{}, err
				}
				rir, err := outcomeIndicator(members, outcomeRIR)
				if err != nil {
					return analysisapi.RunResult{}, err
				}
				noRIR := make([]bool, len(rir))
				for i, v := range rir {
					noRIR[i] = !v
				}
				opts := survey.Options{CILevel: ciLevel(req.Parameters)}
				domains := []struct {
					name      string
					indicator []bool
				}{
					{"overall", nil},
					{"rir", rir},
					{"no_rir", noRIR},
				}

				var rows []map[string]any
				var estimates []domain.Estimate

				addMean := func(name, unit string, values []float64) error {
					row := map[string]any{"characteristic": name, "statistic": "mean", "unit": unit}
					for _, dom := range domains {
						est, err := design.Mean(values, survey.Options{Domain: dom.indicator, CILevel: opts.CILevel})
						if err != nil {
							return err
						}
						est.DesignID = record.ID
						est.Outcome = name
						est.Domain = dom.name
						row[dom.name] = est.Value
						estimates = append(estimates, est)
					}
					rows = append(rows, row)
					return nil
				}
				addProportion := func(name string, indicator []bool) error {
					row := map[string]any{"characteristic": name, "statistic": "proportion", "unit": "proportion"}
					for _, dom := range domains {
						est, err := design.Proportion(indicator, survey.Options{Domain: dom.indicator, CILevel: opts.CILevel})
						if err != nil {
							return err
						}
						est.DesignID = record.ID
						est.Outcome = name
						est.Domain = dom.name
						row[dom.name] = est.Value
						estimates = append(estimates, est)
					}
					rows = append(rows, row)
					return nil
				}
				addMedianIQR := func(name, unit string, values []float64) error {
					medianRow := map[string]any{"characteristic": name, "statistic": "median", "unit": unit}
					q1Row := map[string]any{"characteristic": name, "statistic": "q1", "unit": unit}
					q3Row := map[string]any{"characteristic": name, "statistic": "q3", "unit": unit}
					for _, dom := range domains {
						med, err := design.Median(values, survey.Options{Domain: dom.indicator})
						if err != nil {
							return err
						}
						q1, q3, err := design.IQR(values, survey.Options{Domain: dom.indicator})
						if err != nil {
							return err
						}
						medianRow[dom.name] = med
						q1Row[dom.name] = q1
						q3Row[dom.name] = q3
					}
					rows = append(rows, medianRow, q1Row, q3Row)
					return nil
				}

				age := make([]float64, len(members))
				female := make([]bool, len(members))
				bmi := make([]float64, len(members))
				ldl := make([]float64, len(members))
				crp := make([]float64, len(members))
				for i, p := range members {
					age[i] = float64(p.AgeYears)
					female[i] = p.Sex == domain.SexFemale
					bmi[i] = optionalValue(p.BMI)
					crp[i] = optionalValue(p.HSCRP)
					if p.Derived != nil {
						ldl[i] = optionalValue(p.Derived.LDL)
					} else {
						ldl[i] = math.NaN()
					}
				}

				if err := addMean("age", "years", age); err != nil {
					return analysisapi.RunResult{}, err
				}
				if err := addProportion("female", female); err != nil {
					return analysisapi.RunResult{}, err
				}
				for _, race := range []domain.RaceEthnicity{
					domain.RaceMexicanAmerican,
					domain.RaceOtherHispanic,
					domain.RaceNonHispanicWhite,
					domain.RaceNonHispanicBlack,
					domain.RaceOtherMultiracial,
				} {
					indicator := make([]bool, len(members))
					for i, p := range members {
						indicator[i] = p.RaceEthnicity == race
					}
					if err := addProportion("race_"+raceLabel(race), indicator); err != nil {
						return analysisapi.RunResult{}, err
					}
				}
				if err := addMean("bmi", "kg/m2", bmi); err != nil {
					return analysisapi.RunResult{}, err
				}
				if err := addMean("ldl", "mg/dL", ldl); err != nil {
					return analysisapi.RunResult{}, err
				}
				if err := addMedianIQR("hscrp", "mg/L", crp); err != nil {
					return analysisapi.RunResult{}, err
				}
				for _, flag := range []struct {
					name    string
					extract func(d *domain.DerivedVariables) *bool
				}{
					{"diabetes", func(d *domain.DerivedVariables) *bool { return d.Diabetes }},
					{"hypertension", func(d *domain.DerivedVariables) *bool { return d.Hypertension }},
					{"current_smoker", func(d *domain.DerivedVariables) *bool { return d.CurrentSmoker }},
					{"cvd_history", func(d *domain.DerivedVariables) *bool { return d.CVDHistory }},
					{"obese", func(d *domain.DerivedVariables) *bool { return d.Obese }},
				} {
					indicator := make([]bool, len(members))
					for i, p := range members {
						if p.Derived == nil {
							continue
						}
						f := flag.extract(p.Derived)
						indicator[i] = f != nil && *f
					}
					if err := addProportion(flag.name, indicator); err != nil {
						return analysisapi.RunResult{}, err
					}
				}

				return analysisapi.RunResult{
					Schema:    columns,
					Rows:      rows,
					Estimates: estimates,
					Metadata: map[string]any{
						"design": record.Name,
						"n":      len(members),
					},
					GeneratedAt: env.Now(),
				}, nil
			}, nil
		},
	}
}

func optionalValue(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
