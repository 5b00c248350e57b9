package domain

import "context"

// RuleView provides read access to committed and staged state during
// rule evaluation.
type RuleView interface {
	ListParticipants() []Participant
	ListCohorts() []Cohort
	ListSurveyDesigns() []SurveyDesign
	ListAnalysisRuns() []AnalysisRun

	FindParticipant(id string) (Participant, bool)
	FindCohort(id string) (Cohort, bool)
	FindSurveyDesign(id string) (SurveyDesign, bool)
	FindAnalysisRun(id string) (AnalysisRun, bool)
}

// Rule evaluates domain invariants against a proposed change set.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine evaluates registered rules against change sets.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine creates an engine with the provided rules.
func NewRulesEngine(rules ...Rule) *RulesEngine {
	return &RulesEngine{rules: append([]Rule(nil), rules...)}
}

// Register adds a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	if rule == nil {
		return
	}
	e.rules = append(e.rules, rule)
}

// Evaluate runs all rules sequentially and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var aggregate Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, err
		}
		aggregate.Merge(res)
	}
	return aggregate, nil
}
