package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"rircore/internal/cohort"
	"rircore/pkg/analysisapi"
	"rircore/pkg/domain"
)

// Service exposes higher-level transactional operations for the core schema
// together with the analysis template registry.
type Service struct {
	store      PersistentStore
	logger     Logger
	metrics    MetricsRecorder
	tracer     Tracer
	thresholds cohort.Thresholds
	nowFn      func() time.Time
	templates  map[string]*analysisapi.HostTemplate
}

// Option customises service construction.
type Option func(*Service)

// WithLogger attaches a structured logger to the service.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRecorder attaches a metrics recorder to the service.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer attaches a tracer to the service.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithThresholds overrides the clinical cut points used when deriving
// variables and building cohorts.
func WithThresholds(th cohort.Thresholds) Option {
	return func(s *Service) {
		s.thresholds = th
	}
}

// WithClock overrides the service clock, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:      store,
		logger:     noopLogger{},
		metrics:    noopMetrics{},
		tracer:     noopTracer{},
		thresholds: cohort.DefaultThresholds(),
		nowFn:      func() time.Time { return time.Now().UTC() },
		templates:  make(map[string]*analysisapi.HostTemplate),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// instrument wraps an operation with tracing, metrics, and logging.
func (s *Service) instrument(ctx context.Context, operation string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, operation)
	started := s.nowFn()
	err := fn(ctx)
	duration := s.nowFn().Sub(started)
	span.End(err)
	s.metrics.Observe(ctx, operation, err == nil, duration)
	if err != nil {
		var ruleErr RuleViolationError
		if errors.As(err, &ruleErr) {
			s.logger.Warnf("%s blocked by rules: %d violation(s)", operation, len(ruleErr.Result.Violations))
		} else {
			s.logger.Errorf("%s failed: %v", operation, err)
		}
		return err
	}
	s.logger.Debugf("%s completed in %s", operation, duration)
	return nil
}

// ImportParticipants upserts a batch of participant records keyed by SEQN
// within a single transaction.
func (s *Service) ImportParticipants(ctx context.Context, participants []Participant) (int, Result, error) {
	var imported int
	var res Result
	err := s.instrument(ctx, "import_participants", func(ctx context.Context) error {
		existing := make(map[int64]string)
		for _, p := range s.store.ListParticipants() {
			existing[p.SEQN] = p.ID
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			for _, p := range participants {
				if id, ok := existing[p.SEQN]; ok {
					record := p
					if _, err := tx.UpdateParticipant(id, func(target *Participant) error {
						created := target.CreatedAt
						*target = record
						target.ID = id
						target.CreatedAt = created
						return nil
					}); err != nil {
						return err
					}
				} else {
					if _, err := tx.CreateParticipant(p); err != nil {
						return err
					}
				}
				imported++
			}
			return nil
		})
		return err
	})
	if err != nil {
		return 0, res, err
	}
	return imported, res, nil
}

// CreateParticipant persists a new participant.
func (s *Service) CreateParticipant(ctx context.Context, participant Participant) (Participant, Result, error) {
	var created Participant
	var res Result
	err := s.instrument(ctx, "create_participant", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			created, err = tx.CreateParticipant(participant)
			return err
		})
		return err
	})
	return created, res, err
}

// UpdateParticipant mutates a participant using the provided mutator.
func (s *Service) UpdateParticipant(ctx context.Context, id string, mutator func(*Participant) error) (Participant, Result, error) {
	var updated Participant
	var res Result
	err := s.instrument(ctx, "update_participant", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			updated, err = tx.UpdateParticipant(id, mutator)
			return err
		})
		return err
	})
	return updated, res, err
}

// DeleteParticipant removes a participant record.
func (s *Service) DeleteParticipant(ctx context.Context, id string) (Result, error) {
	var res Result
	err := s.instrument(ctx, "delete_participant", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			return tx.DeleteParticipant(id)
		})
		return err
	})
	return res, err
}

// CreateCohort persists a new cohort.
func (s *Service) CreateCohort(ctx context.Context, cohort Cohort) (Cohort, Result, error) {
	var created Cohort
	var res Result
	err := s.instrument(ctx, "create_cohort", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			created, err = tx.CreateCohort(cohort)
			return err
		})
		return err
	})
	return created, res, err
}

// UpdateCohort mutates an existing cohort.
func (s *Service) UpdateCohort(ctx context.Context, id string, mutator func(*Cohort) error) (Cohort, Result, error) {
	var updated Cohort
	var res Result
	err := s.instrument(ctx, "update_cohort", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			updated, err = tx.UpdateCohort(id, mutator)
			return err
		})
		return err
	})
	return updated, res, err
}

// DeleteCohort removes a cohort record.
func (s *Service) DeleteCohort(ctx context.Context, id string) (Result, error) {
	var res Result
	err := s.instrument(ctx, "delete_cohort", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			return tx.DeleteCohort(id)
		})
		return err
	})
	return res, err
}

// CreateSurveyDesign persists a new survey design after validating the cohort
// reference within the same transactional scope.
func (s *Service) CreateSurveyDesign(ctx context.Context, design SurveyDesign) (SurveyDesign, Result, error) {
	var created SurveyDesign
	var res Result
	err := s.instrument(ctx, "create_survey_design", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if _, ok := tx.FindCohort(design.CohortID); !ok {
				return ErrNotFound{Entity: EntityCohort, ID: design.CohortID}
			}
			created, err = tx.CreateSurveyDesign(design)
			return err
		})
		return err
	})
	return created, res, err
}

// UpdateSurveyDesign mutates an existing survey design.
func (s *Service) UpdateSurveyDesign(ctx context.Context, id string, mutator func(*SurveyDesign) error) (SurveyDesign, Result, error) {
	var updated SurveyDesign
	var res Result
	err := s.instrument(ctx, "update_survey_design", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			updated, err = tx.UpdateSurveyDesign(id, mutator)
			return err
		})
		return err
	})
	return updated, res, err
}

// DeleteSurveyDesign removes a survey design record.
func (s *Service) DeleteSurveyDesign(ctx context.Context, id string) (Result, error) {
	var res Result
	err := s.instrument(ctx, "delete_survey_design", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			return tx.DeleteSurveyDesign(id)
		})
		return err
	})
	return res, err
}

// DeleteAnalysisRun removes a stored analysis run.
func (s *Service) DeleteAnalysisRun(ctx context.Context, id string) (Result, error) {
	var res Result
	err := s.instrument(ctx, "delete_analysis_run", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			return tx.DeleteAnalysisRun(id)
		})
		return err
	})
	return res, err
}

// ErrNotFound is returned when reference validation fails within transactional helpers.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// RegisterTemplates validates, binds, and registers a suite of analysis
// templates. Registration fails if any slug collides with an existing one.
func (s *Service) RegisterTemplates(suite string, templates []analysisapi.Template) error {
	env := analysisapi.Environment{Store: s.store, Now: s.nowFn}
	staged := make(map[string]*analysisapi.HostTemplate, len(templates))
	for _, tpl := range templates {
		host, err := analysisapi.NewHostTemplate(suite, tpl)
		if err != nil {
			return err
		}
		slug := host.Slug()
		if _, ok := s.templates[slug]; ok {
			return fmt.Errorf("analysis template %s already registered", slug)
		}
		if _, ok := staged[slug]; ok {
			return fmt.Errorf("analysis template %s duplicated within suite", slug)
		}
		if err := host.Bind(env); err != nil {
			return fmt.Errorf("bind %s: %w", slug, err)
		}
		staged[slug] = &host
	}
	for slug, host := range staged {
		s.templates[slug] = host
		s.logger.Infof("registered analysis template %s", slug)
	}
	return nil
}

// Templates returns descriptors for all registered analysis templates in
// deterministic order.
func (s *Service) Templates() []analysisapi.TemplateDescriptor {
	out := make([]analysisapi.TemplateDescriptor, 0, len(s.templates))
	for _, host := range s.templates {
		out = append(out, host.Descriptor())
	}
	analysisapi.SortTemplateDescriptors(out)
	return out
}

// Template retrieves a registered template by slug.
func (s *Service) Template(slug string) (*analysisapi.HostTemplate, bool) {
	host, ok := s.templates[slug]
	return host, ok
}

// RunTemplate executes a registered analysis template and persists the
// resulting table as an AnalysisRun.
func (s *Service) RunTemplate(ctx context.Context, slug string, params map[string]any, scope analysisapi.Scope) (AnalysisRun, []analysisapi.ParameterError, error) {
	host, ok := s.templates[slug]
	if !ok {
		return AnalysisRun{}, nil, fmt.Errorf("analysis template %s not registered", slug)
	}
	var run AnalysisRun
	var paramErrs []analysisapi.ParameterError
	err := s.instrument(ctx, "run_template", func(ctx context.Context) error {
		result, errs, err := host.Run(ctx, params, scope, analysisapi.FormatJSON)
		if err != nil {
			return err
		}
		if len(errs) > 0 {
			paramErrs = errs
			return fmt.Errorf("analysis template %s rejected parameters", slug)
		}
		run = analysisRunFromResult(slug, params, result)
		_, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			created, err := tx.CreateAnalysisRun(run)
			if err != nil {
				return err
			}
			run = created
			return nil
		})
		return err
	})
	if err != nil && len(paramErrs) > 0 {
		return AnalysisRun{}, paramErrs, nil
	}
	if err != nil {
		return AnalysisRun{}, nil, err
	}
	return run, nil, nil
}

func analysisRunFromResult(slug string, params map[string]any, result analysisapi.RunResult) AnalysisRun {
	designID, _ := params["design_id"].(string)
	rows := make([]domain.Row, len(result.Rows))
	for i, r := range result.Rows {
		rows[i] = domain.Row(r)
	}
	schema := make([]domain.Column, len(result.Schema))
	for i, c := range result.Schema {
		schema[i] = domain.Column{Name: c.Name, Type: c.Type, Unit: c.Unit, Description: c.Description}
	}
	return AnalysisRun{
		TemplateSlug: slug,
		Parameters:   params,
		DesignID:     designID,
		Schema:       schema,
		Rows:         rows,
		Estimates:    append([]Estimate(nil), result.Estimates...),
		GeneratedAt:  result.GeneratedAt,
	}
}

// SortedAnalysisRuns lists stored analysis runs ordered by generation time
// then slug, newest first.
func (s *Service) SortedAnalysisRuns() []AnalysisRun {
	runs := s.store.ListAnalysisRuns()
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].GeneratedAt.Equal(runs[j].GeneratedAt) {
			return runs[i].TemplateSlug < runs[j].TemplateSlug
		}
		return runs[i].GeneratedAt.After(runs[j].GeneratedAt)
	})
	return runs
}
