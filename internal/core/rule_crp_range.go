package core

import (
	"context"
	"fmt"

	"rircore/pkg/domain"
)

// Acute-phase threshold in mg/L. hs-CRP above this level indicates acute
// inflammation rather than chronic residual risk and is excluded from
// eligible cohorts.
const acuteCRPThreshold = 10.0

// NewCRPRangeRule returns the rule validating hs-CRP values. Negative
// concentrations are impossible and block the transaction, as does an
// analytic cohort containing a member above the acute-phase threshold:
// acute inflammation invalidates the residual-risk classification.
func NewCRPRangeRule() domain.Rule {
	return crpRangeRule{}
}

type crpRangeRule struct{}

func (crpRangeRule) Name() string { return "crp_range" }

func (crpRangeRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	inCohort := make(map[int64]string)
	for _, c := range view.ListCohorts() {
		for _, seqn := range c.MemberSEQNs {
			inCohort[seqn] = c.Name
		}
	}
	for _, p := range view.ListParticipants() {
		if p.HSCRP == nil {
			continue
		}
		if *p.HSCRP < 0 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "crp_range",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("participant %d has negative hs-CRP %.2f mg/L", p.SEQN, *p.HSCRP),
				Entity:   domain.EntityParticipant,
				EntityID: p.ID,
			})
			continue
		}
		if cohortName, ok := inCohort[p.SEQN]; ok && *p.HSCRP > acuteCRPThreshold {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "crp_range",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("cohort %s member %d has hs-CRP %.2f mg/L above the acute-phase threshold", cohortName, p.SEQN, *p.HSCRP),
				Entity:   domain.EntityParticipant,
				EntityID: p.ID,
			})
		}
	}
	return res, nil
}
