package analysis

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"rircore/internal/survey"
	"rircore/pkg/analysisapi"
	"rircore/pkg/domain"
)

// Outcome variants accepted by the prevalence and trend templates.
const (
	outcomeRIR       = "rir"
	outcomeRIRStrict = "rir_strict"
	outcomeRIRLDL55  = "rir_ldl55"
)

func designIDParameter() analysisapi.Parameter {
	return analysisapi.Parameter{
		Name:        "design_id",
		Type:        "string",
		Required:    true,
		Description: "Identifier of the bound survey design to estimate against",
	}
}

func ciLevelParameter() analysisapi.Parameter {
	return analysisapi.Parameter{
		Name:        "ci_level",
		Type:        "number",
		Description: "Confidence level for intervals",
		Default:     json.RawMessage(`0.95`),
	}
}

func outcomeParameter() analysisapi.Parameter {
	return analysisapi.Parameter{
		Name:        "outcome",
		Type:        "string",
		Description: "Residual inflammatory risk outcome variant",
		Enum:        []string{outcomeRIR, outcomeRIRStrict, outcomeRIRLDL55},
		Default:     json.RawMessage(`"rir"`),
	}
}

// resolveDesign loads a stored survey design and reconstructs the estimation
// design over its cohort members.
func resolveDesign(env analysisapi.Environment, params map[string]any) (*survey.Design, domain.SurveyDesign, []domain.Participant, error) {
	id, _ := params["design_id"].(string)
	record, ok := env.Store.GetSurveyDesign(id)
	if !ok {
		return nil, domain.SurveyDesign{}, nil, fmt.Errorf("analysis: survey design %s not found", id)
	}
	cohortRecord, ok := env.Store.GetCohort(record.CohortID)
	if !ok {
		return nil, domain.SurveyDesign{}, nil, fmt.Errorf("analysis: cohort %s not found", record.CohortID)
	}
	bySEQN := make(map[int64]domain.Participant)
	for _, p := range env.Store.ListParticipants() {
		bySEQN[p.SEQN] = p
	}
	members := make([]domain.Participant, 0, len(cohortRecord.MemberSEQNs))
	for _, seqn := range cohortRecord.MemberSEQNs {
		p, ok := bySEQN[seqn]
		if !ok {
			return nil, domain.SurveyDesign{}, nil, fmt.Errorf("analysis: cohort %s references unknown participant SEQN %d", cohortRecord.Name, seqn)
		}
		members = append(members, p)
	}
	design, err := survey.FromParticipants(members, record.Weight, record.LonelyPSUPolicy)
	if err != nil {
		return nil, domain.SurveyDesign{}, nil, err
	}
	return design, record, members, nil
}

func ciLevel(params map[string]any) float64 {
	if v, ok := params["ci_level"].(float64); ok && v > 0 && v < 1 {
		return v
	}
	return 0.95
}

func outcomeVariant(params map[string]any) string {
	if v, ok := params["outcome"].(string); ok && v != "" {
		return v
	}
	return outcomeRIR
}

// outcomeIndicator extracts the chosen residual-risk flag per member. A nil
// derived flag counts as false; cohort eligibility guarantees the inputs are
// present for analytic cohorts.
func outcomeIndicator(members []domain.Participant, variant string) ([]bool, error) {
	out := make([]bool, len(members))
	for i, p := range members {
		if p.Derived == nil {
			continue
		}
		var flag *bool
		switch variant {
		case outcomeRIR:
			flag = p.Derived.RIR
		case outcomeRIRStrict:
			flag = p.Derived.RIRStrict
		case outcomeRIRLDL55:
			flag = p.Derived.RIRLDL55
		default:
			return nil, fmt.Errorf("analysis: unknown outcome variant %q", variant)
		}
		out[i] = flag != nil && *flag
	}
	return out, nil
}

func cycleLabels(members []domain.Participant) []string {
	out := make([]string, len(members))
	for i, p := range members {
		out[i] = p.Cycle
	}
	return out
}

func sortedKeys(m map[string]domain.Estimate) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sexLabel(s domain.Sex) string {
	switch s {
	case domain.SexMale:
		return "male"
	case domain.SexFemale:
		return "female"
	default:
		return ""
	}
}

func raceLabel(r domain.RaceEthnicity) string {
	switch r {
	case domain.RaceMexicanAmerican:
		return "mexican_american"
	case domain.RaceOtherHispanic:
		return "other_hispanic"
	case domain.RaceNonHispanicWhite:
		return "non_hispanic_white"
	case domain.RaceNonHispanicBlack:
		return "non_hispanic_black"
	case domain.RaceOtherMultiracial:
		return "other_multiracial"
	default:
		return ""
	}
}

func ageGroupLabel(age int) string {
	switch {
	case age < 20:
		return ""
	case age < 40:
		return "20-39"
	case age < 60:
		return "40-59"
	default:
		return "60+"
	}
}

func boolLabel(flag *bool, yes, no string) string {
	if flag == nil {
		return ""
	}
	if *flag {
		return yes
	}
	return no
}

// estimateRow flattens a prevalence estimate into a result row.
func estimateRow(scope string, est domain.Estimate) map[string]any {
	return map[string]any{
		"scope":      scope,
		"prevalence": est.Value,
		"se":         est.SE,
		"ci_lower":   est.CILower,
		"ci_upper":   est.CIUpper,
		"n":          est.N,
		"weighted_n": est.WeightedN,
	}
}

func prevalenceColumns() []analysisapi.Column {
	return []analysisapi.Column{
		{Name: "scope", Type: "string", Description: "Estimation domain"},
		{Name: "prevalence", Type: "number", Unit: "proportion"},
		{Name: "se", Type: "number", Description: "Linearized standard error"},
		{Name: "ci_lower", Type: "number"},
		{Name: "ci_upper", Type: "number"},
		{Name: "n", Type: "integer", Description: "Unweighted domain size"},
		{Name: "weighted_n", Type: "number", Description: "Weighted domain size"},
	}
}

func groupNumber(g *int) string {
	if g == nil {
		return ""
	}
	return strconv.Itoa(*g)
}
