package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateParticipant(Participant) (Participant, error)
	UpdateParticipant(id string, mutator func(*Participant) error) (Participant, error)
	DeleteParticipant(id string) error
	CreateCohort(Cohort) (Cohort, error)
	UpdateCohort(id string, mutator func(*Cohort) error) (Cohort, error)
	DeleteCohort(id string) error
	CreateSurveyDesign(SurveyDesign) (SurveyDesign, error)
	UpdateSurveyDesign(id string, mutator func(*SurveyDesign) error) (SurveyDesign, error)
	DeleteSurveyDesign(id string) error
	CreateAnalysisRun(AnalysisRun) (AnalysisRun, error)
	UpdateAnalysisRun(id string, mutator func(*AnalysisRun) error) (AnalysisRun, error)
	DeleteAnalysisRun(id string) error
	FindParticipant(id string) (Participant, bool)
	FindCohort(id string) (Cohort, bool)
	FindSurveyDesign(id string) (SurveyDesign, bool)
	FindAnalysisRun(id string) (AnalysisRun, bool)
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	ListParticipants() []Participant
	ListCohorts() []Cohort
	ListSurveyDesigns() []SurveyDesign
	ListAnalysisRuns() []AnalysisRun
	FindParticipant(id string) (Participant, bool)
	FindCohort(id string) (Cohort, bool)
	FindSurveyDesign(id string) (SurveyDesign, bool)
	FindAnalysisRun(id string) (AnalysisRun, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetParticipant(id string) (Participant, bool)
	GetCohort(id string) (Cohort, bool)
	GetSurveyDesign(id string) (SurveyDesign, bool)
	GetAnalysisRun(id string) (AnalysisRun, bool)
	ListParticipants() []Participant
	ListCohorts() []Cohort
	ListSurveyDesigns() []SurveyDesign
	ListAnalysisRuns() []AnalysisRun
}
