package cohort

import (
	"fmt"

	"rircore/pkg/domain"
)

const minimumAgeYears = 20

// Criterion is one eligibility filter. Keep reports whether a participant
// survives the filter; participants failing it are counted in the
// exclusion cascade under Name.
type Criterion struct {
	Name string
	Keep func(p *domain.Participant) bool
}

// EligibilityCriteria returns the eligibility cascade for the analytic
// population under the default thresholds, in application order. The
// criteria assume derived variables have already been populated.
func EligibilityCriteria() []Criterion {
	return EligibilityCriteriaWith(DefaultThresholds())
}

// EligibilityCriteriaWith is EligibilityCriteria with explicit cut points.
func EligibilityCriteriaWith(th Thresholds) []Criterion {
	return []Criterion{
		{
			Name: "age >= 20 years",
			Keep: func(p *domain.Participant) bool { return p.AgeYears >= minimumAgeYears },
		},
		{
			Name: "fasting subsample weight present",
			Keep: func(p *domain.Participant) bool {
				return p.FastingWeight != nil && *p.FastingWeight > 0
			},
		},
		{
			Name: "hs-CRP measured",
			Keep: func(p *domain.Participant) bool { return p.HSCRP != nil },
		},
		{
			Name: "LDL-C derivable",
			Keep: func(p *domain.Participant) bool {
				return p.Derived != nil && p.Derived.LDL != nil
			},
		},
		{
			Name: fmt.Sprintf("hs-CRP <= %g mg/L", th.CRPAcute),
			Keep: func(p *domain.Participant) bool {
				return p.HSCRP != nil && *p.HSCRP <= th.CRPAcute
			},
		},
	}
}

// StatinUserCriterion keeps statin users.
func StatinUserCriterion() Criterion {
	return Criterion{
		Name: "statin user",
		Keep: func(p *domain.Participant) bool {
			return p.Derived != nil && p.Derived.StatinUse
		},
	}
}

// LDLBelowCriterion keeps participants whose derived LDL-C falls below the
// given cut point in mg/dL.
func LDLBelowCriterion(cut float64) Criterion {
	return Criterion{
		Name: ldlBelowName(cut),
		Keep: func(p *domain.Participant) bool {
			return p.Derived != nil && p.Derived.LDL != nil && *p.Derived.LDL < cut
		},
	}
}

func ldlBelowName(cut float64) string {
	return fmt.Sprintf("LDL-C < %g mg/dL", cut)
}

// Apply runs criteria in order over participants, returning the survivors
// and the per-step attrition counts.
func Apply(participants []*domain.Participant, criteria []Criterion) ([]*domain.Participant, []domain.ExclusionStep) {
	kept := participants
	steps := make([]domain.ExclusionStep, 0, len(criteria))
	for _, c := range criteria {
		next := kept[:0:0]
		for _, p := range kept {
			if c.Keep(p) {
				next = append(next, p)
			}
		}
		steps = append(steps, domain.ExclusionStep{
			Criterion: c.Name,
			Excluded:  len(kept) - len(next),
			Remaining: len(next),
		})
		kept = next
	}
	return kept, steps
}
