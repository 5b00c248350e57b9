package analysis

import (
	"context"
	"math"

	"rircore/internal/glm"
	"rircore/pkg/analysisapi"
	"rircore/pkg/domain"
)

// regressionTemplate fits the adjusted survey-weighted logistic model for
// residual inflammatory risk and reports odds ratios per predictor.
func regressionTemplate() analysisapi.Template {
	columns := []analysisapi.Column{
		{Name: "term", Type: "string"},
		{Name: "or", Type: "number", Description: "Adjusted odds ratio"},
		{Name: "ci_lower", Type: "number"},
		{Name: "ci_upper", Type: "number"},
		{Name: "beta", Type: "number"},
		{Name: "se", Type: "number"},
		{Name: "t_value", Type: "number"},
		{Name: "p_value", Type: "number"},
	}

	return analysisapi.Template{
		Key:         "rir_regression",
		Version:     "v1",
		Title:       "Adjusted predictors of residual inflammatory risk",
		Description: "Survey-weighted logistic regression of residual-risk status on demographic and clinical predictors with design-based standard errors.",
		Parameters: []analysisapi.Parameter{
			designIDParameter(),
			outcomeParameter(),
			ciLevelParameter(),
		},
		Columns:       columns,
		Metadata:      analysisapi.Metadata{Tags: []string{"regression", "odds-ratios"}},
		OutputFormats: allFormats,
		Binder: func(env analysisapi.Environment) (analysisapi.Runner, error) {
			return func(ctx context.Context, req analysisapi.RunRequest) (analysisapi.RunResult, error) {
				design, record, members, err := resolveDesign(env, req.Parameters)
				if err != nil {
					return analysisapi.RunResult{}, err
				}
				variant := outcomeVariant(req.Parameters)
				outcome, err := outcomeValues(members, variant)
				if err != nil {
					return analysisapi.RunResult{}, err
				}

				covariates, raceTerms := regressionCovariates(members)
				fit, err := glm.Logistic(design, outcome, covariates, glm.Config{
					CILevel: ciLevel(req.Parameters),
				})
				if err != nil {
					return analysisapi.RunResult{}, err
				}

				rows := make([]map[string]any, 0, len(fit.Coefficients))
				estimates := make([]domain.Estimate, 0, len(fit.Coefficients))
				for _, c := range fit.Coefficients {
					rows = append(rows, map[string]any{
						"term":     c.Name,
						"or":       c.OR,
						"ci_lower": c.ORLower,
						"ci_upper": c.ORUpper,
						"beta":     c.Beta,
						"se":       c.SE,
						"t_value":  c.TValue,
						"p_value":  c.PValue,
					})
					if c.Name == "(Intercept)" {
						continue
					}
					pval := c.PValue
					estimates = append(estimates, domain.Estimate{
						DesignID:  record.ID,
						Method:    "odds_ratio",
						Outcome:   variant,
						Domain:    c.Name,
						Value:     c.OR,
						SE:        c.SE,
						CILower:   c.ORLower,
						CIUpper:   c.ORUpper,
						CILevel:   fit.CILevel,
						DF:        fit.DF,
						N:         fit.N,
						WeightedN: fit.WeightedN,
						PValue:    &pval,
					})
				}

				metadata := map[string]any{
					"outcome":    variant,
					"design":     record.Name,
					"n":          fit.N,
					"weighted_n": fit.WeightedN,
					"converged":  fit.Converged,
					"iterations": fit.Iterations,
				}
				if len(raceTerms) > 0 {
					stat, pval, err := fit.WaldTest(raceTerms...)
					if err == nil {
						metadata["race_wald_chisq"] = stat
						metadata["race_wald_p"] = pval
					}
				}

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

// outcomeValues maps the chosen residual-risk flag to a 0/1 response with
// NaN for participants missing the flag.
func outcomeValues(members []domain.Participant, variant string) ([]float64, error) {
	indicator, err := outcomeIndicator(members, variant)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(members))
	for i, p := range members {
		if p.Derived == nil || p.Derived.RIR == nil {
			out[i] = math.NaN()
			continue
		}
		if indicator[i] {
			out[i] = 1
		}
	}
	return out, nil
}

// regressionCovariates assembles the adjusted model terms: age, sex,
// race/ethnicity (non-Hispanic white reference), and clinical comorbidity
// flags. It returns the covariates and the names of the race dummy terms for
// the joint Wald test.
func regressionCovariates(members []domain.Participant) ([]glm.Covariate, []string) {
	n := len(members)
	age := make([]*float64, n)
	female := make([]*bool, n)
	races := make([]string, n)
	diabetes := make([]*bool, n)
	hypertension := make([]*bool, n)
	smoker := make([]*bool, n)
	obese := make([]*bool, n)
	cvd := make([]*bool, n)

	for i := range members {
		p := &members[i]
		a := float64(p.AgeYears)
		age[i] = &a
		f := p.Sex == domain.SexFemale
		female[i] = &f
		races[i] = raceLabel(p.RaceEthnicity)
		if p.Derived != nil {
			diabetes[i] = p.Derived.Diabetes
			hypertension[i] = p.Derived.Hypertension
			smoker[i] = p.Derived.CurrentSmoker
			obese[i] = p.Derived.Obese
			cvd[i] = p.Derived.CVDHistory
		}
	}

	covariates := []glm.Covariate{
		glm.Continuous("age", age),
		glm.Indicator("female", female),
	}
	raceCovs := glm.Categorical("race", races, raceLabel(domain.RaceNonHispanicWhite))
	covariates = append(covariates, raceCovs...)
	covariates = append(covariates,
		glm.Indicator("diabetes", diabetes),
		glm.Indicator("hypertension", hypertension),
		glm.Indicator("current_smoker", smoker),
		glm.Indicator("obese", obese),
		glm.Indicator("cvd_history", cvd),
	)
	return covariates, glm.TermNames(raceCovs)
}
