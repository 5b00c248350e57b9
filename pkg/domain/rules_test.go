package domain

import (
	"context"
	"errors"
	"testing"
)

type staticRule struct {
	name   string
	result Result
	err    error
}

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return r.result, r.err
}

func TestResultMergeAndHasBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{})
	if len(result.Violations) != 0 {
		t.Fatalf("violations = %d after empty merge", len(result.Violations))
	}

	result.Merge(Result{Violations: []Violation{{Rule: "a", Severity: SeverityWarn}}})
	if result.HasBlocking() {
		t.Fatal("warn-only result reported blocking")
	}

	result.Merge(Result{Violations: []Violation{{Rule: "b", Severity: SeverityBlock}}})
	if !result.HasBlocking() {
		t.Fatal("blocking violation not reported")
	}
	if len(result.Violations) != 2 {
		t.Fatalf("violations = %d, want 2", len(result.Violations))
	}
}

func TestRulesEngineAggregates(t *testing.T) {
	engine := NewRulesEngine(
		staticRule{name: "warned", result: Result{Violations: []Violation{{Rule: "warned", Severity: SeverityWarn}}}},
	)
	engine.Register(staticRule{name: "blocked", result: Result{Violations: []Violation{{Rule: "blocked", Severity: SeverityBlock}}}})
	engine.Register(nil)

	result, err := engine.Evaluate(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(result.Violations) != 2 {
		t.Fatalf("violations = %d, want 2", len(result.Violations))
	}
	if !result.HasBlocking() {
		t.Fatal("expected blocking violation")
	}
}

func TestRulesEngineStopsOnError(t *testing.T) {
	sentinel := errors.New("rule exploded")
	engine := NewRulesEngine(
		staticRule{name: "ok"},
		staticRule{name: "broken", err: sentinel},
	)
	_, err := engine.Evaluate(context.Background(), nil, nil)
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
}
