package core

import (
	"context"
	"fmt"

	"rircore/internal/cohort"
	"rircore/internal/survey"
	"rircore/pkg/domain"
)

// BuildCohort derives analysis variables for every stored participant,
// applies the named built-in cohort definition, and upserts the resulting
// cohort record. Derived variables are written back to the participant
// records in the same transaction so later analyses see them.
func (s *Service) BuildCohort(ctx context.Context, definitionName string) (Cohort, Result, error) {
	def, ok := cohort.DefinitionByNameWith(definitionName, s.thresholds)
	if !ok {
		return Cohort{}, Result{}, fmt.Errorf("cohort definition %q not known", definitionName)
	}

	var built Cohort
	var res Result
	err := s.instrument(ctx, "build_cohort", func(ctx context.Context) error {
		stored := s.store.ListParticipants()
		participants := make([]*Participant, len(stored))
		for i := range stored {
			p := stored[i]
			participants[i] = &p
		}

		record := cohort.BuildWith(def, participants, s.thresholds)

		existingID := ""
		for _, c := range s.store.ListCohorts() {
			if c.Name == record.Name {
				existingID = c.ID
				break
			}
		}

		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			for _, p := range participants {
				derived := p.Derived
				if _, err := tx.UpdateParticipant(p.ID, func(target *Participant) error {
					target.Derived = derived
					return nil
				}); err != nil {
					return err
				}
			}
			if existingID != "" {
				built, err = tx.UpdateCohort(existingID, func(target *Cohort) error {
					created := target.CreatedAt
					id := target.ID
					*target = record
					target.ID = id
					target.CreatedAt = created
					return nil
				})
				return err
			}
			built, err = tx.CreateCohort(record)
			return err
		})
		return err
	})
	if err != nil {
		return Cohort{}, res, err
	}
	s.logger.Infof("built cohort %s: %d of %d participants retained", built.Name, len(built.MemberSEQNs), built.SourceN)
	return built, res, nil
}

// BindDesign binds a sampling weight and the stratum/PSU structure of a
// cohort's members into a persisted survey design. The design record carries
// the stratum summaries and degrees of freedom used by every estimate
// produced against it.
func (s *Service) BindDesign(ctx context.Context, name, cohortID string, weight domain.WeightVariable, policy domain.LonelyPSUPolicy) (SurveyDesign, Result, error) {
	var bound SurveyDesign
	var res Result
	err := s.instrument(ctx, "bind_design", func(ctx context.Context) error {
		c, ok := s.store.GetCohort(cohortID)
		if !ok {
			return ErrNotFound{Entity: EntityCohort, ID: cohortID}
		}

		members, err := s.CohortParticipants(c)
		if err != nil {
			return err
		}
		design, err := survey.FromParticipants(members, weight, policy)
		if err != nil {
			return fmt.Errorf("bind design %s: %w", name, err)
		}

		record := SurveyDesign{
			Name:             name,
			CohortID:         c.ID,
			Weight:           weight,
			LonelyPSUPolicy:  policy,
			Strata:           design.Summaries(),
			TotalStrata:      design.TotalStrata(),
			TotalPSUs:        design.TotalPSUs(),
			DegreesOfFreedom: design.DegreesOfFreedom(),
		}

		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			bound, err = tx.CreateSurveyDesign(record)
			return err
		})
		return err
	})
	if err != nil {
		return SurveyDesign{}, res, err
	}
	s.logger.Infof("bound design %s: %d strata, %d PSUs, %d df", bound.Name, bound.TotalStrata, bound.TotalPSUs, bound.DegreesOfFreedom)
	return bound, res, nil
}

// CohortParticipants resolves a cohort's member SEQNs to stored participant
// records, preserving membership order.
func (s *Service) CohortParticipants(c Cohort) ([]Participant, error) {
	bySEQN := make(map[int64]Participant)
	for _, p := range s.store.ListParticipants() {
		bySEQN[p.SEQN] = p
	}
	members := make([]Participant, 0, len(c.MemberSEQNs))
	for _, seqn := range c.MemberSEQNs {
		p, ok := bySEQN[seqn]
		if !ok {
			return nil, fmt.Errorf("cohort %s references unknown participant SEQN %d", c.Name, seqn)
		}
		members = append(members, p)
	}
	return members, nil
}

// DesignFor reconstructs the in-memory estimation design for a stored
// survey design record.
func (s *Service) DesignFor(designID string) (*survey.Design, SurveyDesign, []Participant, error) {
	record, ok := s.store.GetSurveyDesign(designID)
	if !ok {
		return nil, SurveyDesign{}, nil, ErrNotFound{Entity: EntitySurveyDesign, ID: designID}
	}
	c, ok := s.store.GetCohort(record.CohortID)
	if !ok {
		return nil, SurveyDesign{}, nil, ErrNotFound{Entity: EntityCohort, ID: record.CohortID}
	}
	members, err := s.CohortParticipants(c)
	if err != nil {
		return nil, SurveyDesign{}, nil, err
	}
	design, err := survey.FromParticipants(members, record.Weight, record.LonelyPSUPolicy)
	if err != nil {
		return nil, SurveyDesign{}, nil, err
	}
	return design, record, members, nil
}
