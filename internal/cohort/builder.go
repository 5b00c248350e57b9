package cohort

import (
	"fmt"
	"sort"

	"rircore/pkg/domain"
)

// Canonical cohort names registered by Definitions.
const (
	CohortEligibleAdults = "eligible_adults"
	CohortStatinUsers    = "statin_users"
	CohortPrimary        = "primary"
	CohortPrimaryLDL55   = "primary_ldl55"
)

// Definition names a cohort and the ordered criteria that produce it.
type Definition struct {
	Name        string
	Description string
	Criteria    []Criterion
}

// Definitions returns the built-in cohort definitions under the default
// thresholds: the eligible adult population, statin users within it, the
// primary analytic cohort (statin users with LDL-C < 70 mg/dL), and the
// LDL-C < 55 sensitivity cohort.
func Definitions() []Definition {
	return DefinitionsWith(DefaultThresholds())
}

// DefinitionsWith is Definitions with explicit cut points.
func DefinitionsWith(th Thresholds) []Definition {
	eligibility := EligibilityCriteriaWith(th)
	return []Definition{
		{
			Name:        CohortEligibleAdults,
			Description: "Adults with fasting weight, hs-CRP, and derivable LDL-C",
			Criteria:    eligibility,
		},
		{
			Name:        CohortStatinUsers,
			Description: "Eligible adults reporting statin use",
			Criteria:    append(append([]Criterion{}, eligibility...), StatinUserCriterion()),
		},
		{
			Name:        CohortPrimary,
			Description: fmt.Sprintf("Statin users with LDL-C < %g mg/dL", th.LDLPrimary),
			Criteria: append(append([]Criterion{}, eligibility...),
				StatinUserCriterion(), LDLBelowCriterion(th.LDLPrimary)),
		},
		{
			Name:        CohortPrimaryLDL55,
			Description: fmt.Sprintf("Statin users with LDL-C < %g mg/dL (sensitivity)", th.LDLSensitivity),
			Criteria: append(append([]Criterion{}, eligibility...),
				StatinUserCriterion(), LDLBelowCriterion(th.LDLSensitivity)),
		},
	}
}

// DefinitionByName returns the built-in definition with the given name
// under the default thresholds.
func DefinitionByName(name string) (Definition, bool) {
	return DefinitionByNameWith(name, DefaultThresholds())
}

// DefinitionByNameWith is DefinitionByName with explicit cut points.
func DefinitionByNameWith(name string, th Thresholds) (Definition, bool) {
	for _, def := range DefinitionsWith(th) {
		if def.Name == name {
			return def, true
		}
	}
	return Definition{}, false
}

// Build applies a definition's criteria to the source population and
// assembles the resulting cohort record under the default thresholds.
func Build(def Definition, participants []*domain.Participant) domain.Cohort {
	return BuildWith(def, participants, DefaultThresholds())
}

// BuildWith is Build with explicit cut points. Derived variables are
// recomputed for every participant before filtering so a threshold change
// never filters against stale derivations.
func BuildWith(def Definition, participants []*domain.Participant, th Thresholds) domain.Cohort {
	for _, p := range participants {
		p.Derived = DeriveWith(p, th)
	}

	members, steps := Apply(participants, def.Criteria)

	seqns := make([]int64, 0, len(members))
	for _, p := range members {
		seqns = append(seqns, p.SEQN)
	}
	sort.Slice(seqns, func(i, j int) bool { return seqns[i] < seqns[j] })

	names := make([]string, 0, len(def.Criteria))
	for _, c := range def.Criteria {
		names = append(names, c.Name)
	}

	return domain.Cohort{
		Name:        def.Name,
		Description: def.Description,
		Criteria:    names,
		MemberSEQNs: seqns,
		Exclusions:  steps,
		SourceN:     len(participants),
	}
}
