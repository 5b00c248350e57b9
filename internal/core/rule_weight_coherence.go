package core

import (
	"context"
	"fmt"
	"math"

	"rircore/pkg/domain"
)

// NewWeightCoherenceRule returns the rule verifying that a design's recorded
// stratum summaries agree with its own totals and that recorded weight sums
// are positive and finite.
func NewWeightCoherenceRule() domain.Rule {
	return weightCoherenceRule{}
}

type weightCoherenceRule struct{}

func (weightCoherenceRule) Name() string { return "weight_coherence" }

func (weightCoherenceRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, design := range view.ListSurveyDesigns() {
		psus := 0
		for _, stratum := range design.Strata {
			psus += stratum.PSUCount
			if stratum.WeightSum <= 0 || math.IsNaN(stratum.WeightSum) || math.IsInf(stratum.WeightSum, 0) {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "weight_coherence",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("design %s stratum %s has invalid weight sum %v", design.Name, stratum.Stratum, stratum.WeightSum),
					Entity:   domain.EntitySurveyDesign,
					EntityID: design.ID,
				})
			}
		}
		if len(design.Strata) != design.TotalStrata {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "weight_coherence",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("design %s records %d strata but summarises %d", design.Name, design.TotalStrata, len(design.Strata)),
				Entity:   domain.EntitySurveyDesign,
				EntityID: design.ID,
			})
		}
		if psus != design.TotalPSUs {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "weight_coherence",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("design %s records %d PSUs but summarises %d", design.Name, design.TotalPSUs, psus),
				Entity:   domain.EntitySurveyDesign,
				EntityID: design.ID,
			})
		}
		if df := design.TotalPSUs - design.TotalStrata; df != design.DegreesOfFreedom {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "weight_coherence",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("design %s degrees of freedom %d do not match PSUs-strata (%d)", design.Name, design.DegreesOfFreedom, df),
				Entity:   domain.EntitySurveyDesign,
				EntityID: design.ID,
			})
		}
	}
	return res, nil
}
