package core

import (
	"context"
	"fmt"

	"rircore/pkg/domain"
)

// NewDesignCoherenceRule returns the in-transaction rule enforcing that every
// survey design references an existing cohort and that every cohort member
// carries the design's sampling weight.
func NewDesignCoherenceRule() domain.Rule {
	return designCoherenceRule{}
}

type designCoherenceRule struct{}

func (designCoherenceRule) Name() string { return "design_coherence" }

func (designCoherenceRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	bySEQN := make(map[int64]domain.Participant)
	for _, p := range view.ListParticipants() {
		bySEQN[p.SEQN] = p
	}
	cohorts := make(map[string]domain.Cohort)
	for _, c := range view.ListCohorts() {
		cohorts[c.ID] = c
	}

	res := domain.Result{}
	for _, design := range view.ListSurveyDesigns() {
		cohort, ok := cohorts[design.CohortID]
		if !ok {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "design_coherence",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("design %s references missing cohort %s", design.Name, design.CohortID),
				Entity:   domain.EntitySurveyDesign,
				EntityID: design.ID,
			})
			continue
		}
		for _, seqn := range cohort.MemberSEQNs {
			p, ok := bySEQN[seqn]
			if !ok {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "design_coherence",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("cohort %s member %d has no participant record", cohort.Name, seqn),
					Entity:   domain.EntitySurveyDesign,
					EntityID: design.ID,
				})
				continue
			}
			if p.Stratum == "" || p.PSU == "" {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "design_coherence",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("participant %d is missing stratum or PSU assignment", seqn),
					Entity:   domain.EntityParticipant,
					EntityID: p.ID,
				})
			}
			w := weightFor(p, design.Weight)
			if w == nil || *w <= 0 {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "design_coherence",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("participant %d lacks a positive %s weight", seqn, design.Weight),
					Entity:   domain.EntityParticipant,
					EntityID: p.ID,
				})
			}
		}
	}
	return res, nil
}

func weightFor(p domain.Participant, w domain.WeightVariable) *float64 {
	switch w {
	case domain.WeightInterview:
		return p.InterviewWeight
	case domain.WeightExam:
		return p.ExamWeight
	case domain.WeightFasting:
		return p.FastingWeight
	default:
		return nil
	}
}
