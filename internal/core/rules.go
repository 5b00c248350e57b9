package core

import "rircore/pkg/domain"

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewDesignCoherenceRule())
	engine.Register(NewLonelyPSURule())
	engine.Register(NewWeightCoherenceRule())
	engine.Register(NewCRPRangeRule())
	return engine
}
