package core

import (
	"context"
	"fmt"

	"rircore/pkg/domain"
)

// NewLonelyPSURule returns the rule that inspects each survey design for
// strata containing a single PSU. Designs under the fail policy are blocked;
// the adjust and certainty policies surface a warning so the condition is
// visible in audit output.
func NewLonelyPSURule() domain.Rule {
	return lonelyPSURule{}
}

type lonelyPSURule struct{}

func (lonelyPSURule) Name() string { return "lonely_psu" }

func (lonelyPSURule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, design := range view.ListSurveyDesigns() {
		for _, stratum := range design.Strata {
			if stratum.PSUCount > 1 {
				continue
			}
			severity := domain.SeverityWarn
			if design.LonelyPSUPolicy == domain.LonelyPSUFail {
				severity = domain.SeverityBlock
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "lonely_psu",
				Severity: severity,
				Message:  fmt.Sprintf("design %s stratum %s contains a single PSU (policy %s)", design.Name, stratum.Stratum, design.LonelyPSUPolicy),
				Entity:   domain.EntitySurveyDesign,
				EntityID: design.ID,
			})
		}
	}
	return res, nil
}
