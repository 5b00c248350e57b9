package core

import "rircore/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Base               = domain.Base
	Participant        = domain.Participant
	Cohort             = domain.Cohort
	SurveyDesign       = domain.SurveyDesign
	AnalysisRun        = domain.AnalysisRun
	Estimate           = domain.Estimate
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
	RuleViolationError = domain.RuleViolationError
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
)

const (
	EntityParticipant  = domain.EntityParticipant
	EntityCohort       = domain.EntityCohort
	EntitySurveyDesign = domain.EntitySurveyDesign
	EntityAnalysisRun  = domain.EntityAnalysisRun
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)
