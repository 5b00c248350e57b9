// Package memory provides the in-memory transactional store that durable
// backends build upon. It lives under infra to keep domain dependencies
// one-way (domain -> nothing).
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"rircore/pkg/domain"
)

// Exported aliases keep method signatures concise while still exposing
// domain types from this infra package.
type (
	// Participant is an alias of domain.Participant.
	Participant = domain.Participant
	// Cohort is an alias of domain.Cohort.
	Cohort = domain.Cohort
	// SurveyDesign is an alias of domain.SurveyDesign.
	SurveyDesign = domain.SurveyDesign
	// AnalysisRun is an alias of domain.AnalysisRun.
	AnalysisRun = domain.AnalysisRun
	// Change is an alias of domain.Change.
	Change = domain.Change
	// Result is an alias of domain.Result.
	Result = domain.Result
	// RulesEngine is an alias of domain.RulesEngine.
	RulesEngine = domain.RulesEngine
	// Transaction is an alias of domain.Transaction.
	Transaction = domain.Transaction
	// TransactionView is an alias of domain.TransactionView.
	TransactionView = domain.TransactionView
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

type memoryState struct {
	participants map[string]Participant
	cohorts      map[string]Cohort
	designs      map[string]SurveyDesign
	analyses     map[string]AnalysisRun
}

// Snapshot is the serialisable representation of the in-memory state.
type Snapshot struct {
	Participants map[string]Participant  `json:"participants"`
	Cohorts      map[string]Cohort       `json:"cohorts"`
	Designs      map[string]SurveyDesign `json:"designs"`
	Analyses     map[string]AnalysisRun  `json:"analyses"`
}

func newMemoryState() memoryState {
	return memoryState{
		participants: map[string]Participant{},
		cohorts:      map[string]Cohort{},
		designs:      map[string]SurveyDesign{},
		analyses:     map[string]AnalysisRun{},
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.participants {
		cloned.participants[k] = cloneParticipant(v)
	}
	for k, v := range s.cohorts {
		cloned.cohorts[k] = cloneCohort(v)
	}
	for k, v := range s.designs {
		cloned.designs[k] = cloneDesign(v)
	}
	for k, v := range s.analyses {
		cloned.analyses[k] = cloneAnalysis(v)
	}
	return cloned
}

func cloneParticipant(p Participant) Participant {
	cp := p
	cp.Medications = append([]string(nil), p.Medications...)
	if p.Derived != nil {
		derived := *p.Derived
		cp.Derived = &derived
	}
	return cp
}

func cloneCohort(c Cohort) Cohort {
	cp := c
	cp.Criteria = append([]string(nil), c.Criteria...)
	cp.MemberSEQNs = append([]int64(nil), c.MemberSEQNs...)
	cp.Exclusions = append([]domain.ExclusionStep(nil), c.Exclusions...)
	return cp
}

func cloneDesign(d SurveyDesign) SurveyDesign {
	cp := d
	cp.Strata = append([]domain.StratumSummary(nil), d.Strata...)
	return cp
}

func cloneAnalysis(a AnalysisRun) AnalysisRun {
	cp := a
	if a.Parameters != nil {
		cp.Parameters = make(map[string]any, len(a.Parameters))
		for k, v := range a.Parameters {
			cp.Parameters[k] = v
		}
	}
	cp.Schema = append([]domain.Column(nil), a.Schema...)
	if a.Rows != nil {
		cp.Rows = make([]domain.Row, len(a.Rows))
		for i, row := range a.Rows {
			dup := make(domain.Row, len(row))
			for k, v := range row {
				dup[k] = v
			}
			cp.Rows[i] = dup
		}
	}
	cp.Estimates = append([]domain.Estimate(nil), a.Estimates...)
	return cp
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ExportState returns a deep copy of committed state for snapshotting.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := s.state.clone()
	return Snapshot{
		Participants: state.participants,
		Cohorts:      state.cohorts,
		Designs:      state.designs,
		Analyses:     state.analyses,
	}
}

// ImportState replaces committed state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := newMemoryState()
	for k, v := range snapshot.Participants {
		state.participants[k] = cloneParticipant(v)
	}
	for k, v := range snapshot.Cohorts {
		state.cohorts[k] = cloneCohort(v)
	}
	for k, v := range snapshot.Designs {
		state.designs[k] = cloneDesign(v)
	}
	for k, v := range snapshot.Analyses {
		state.analyses[k] = cloneAnalysis(v)
	}
	s.state = state
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) transactionView {
	return transactionView{state: state}
}

// ListParticipants returns all participants within the transaction snapshot.
func (v transactionView) ListParticipants() []Participant {
	out := make([]Participant, 0, len(v.state.participants))
	for _, p := range v.state.participants {
		out = append(out, cloneParticipant(p))
	}
	return out
}

// ListCohorts returns all cohorts within the snapshot.
func (v transactionView) ListCohorts() []Cohort {
	out := make([]Cohort, 0, len(v.state.cohorts))
	for _, c := range v.state.cohorts {
		out = append(out, cloneCohort(c))
	}
	return out
}

// ListSurveyDesigns returns all survey designs within the snapshot.
func (v transactionView) ListSurveyDesigns() []SurveyDesign {
	out := make([]SurveyDesign, 0, len(v.state.designs))
	for _, d := range v.state.designs {
		out = append(out, cloneDesign(d))
	}
	return out
}

// ListAnalysisRuns returns all analysis runs within the snapshot.
func (v transactionView) ListAnalysisRuns() []AnalysisRun {
	out := make([]AnalysisRun, 0, len(v.state.analyses))
	for _, a := range v.state.analyses {
		out = append(out, cloneAnalysis(a))
	}
	return out
}

// FindParticipant retrieves a participant by ID from the snapshot.
func (v transactionView) FindParticipant(id string) (Participant, bool) {
	p, ok := v.state.participants[id]
	if !ok {
		return Participant{}, false
	}
	return cloneParticipant(p), true
}

// FindCohort retrieves a cohort by ID from the snapshot.
func (v transactionView) FindCohort(id string) (Cohort, bool) {
	c, ok := v.state.cohorts[id]
	if !ok {
		return Cohort{}, false
	}
	return cloneCohort(c), true
}

// FindSurveyDesign retrieves a survey design by ID from the snapshot.
func (v transactionView) FindSurveyDesign(id string) (SurveyDesign, bool) {
	d, ok := v.state.designs[id]
	if !ok {
		return SurveyDesign{}, false
	}
	return cloneDesign(d), true
}

// FindAnalysisRun retrieves an analysis run by ID from the snapshot.
func (v transactionView) FindAnalysisRun(id string) (AnalysisRun, bool) {
	a, ok := v.state.analyses[id]
	if !ok {
		return AnalysisRun{}, false
	}
	return cloneAnalysis(a), true
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(ctx context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

// Snapshot exposes the staged state as a read-only view for rule helpers.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// CreateParticipant stores a new participant within the transaction.
func (tx *transaction) CreateParticipant(p Participant) (Participant, error) {
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if _, exists := tx.state.participants[p.ID]; exists {
		return Participant{}, fmt.Errorf("participant %q already exists", p.ID)
	}
	if p.SEQN <= 0 {
		return Participant{}, fmt.Errorf("participant %q requires a positive SEQN", p.ID)
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.participants[p.ID] = cloneParticipant(p)
	tx.recordChange(Change{Entity: domain.EntityParticipant, Action: domain.ActionCreate, After: cloneParticipant(p)})
	return cloneParticipant(p), nil
}

// UpdateParticipant mutates a participant using the provided mutator function.
func (tx *transaction) UpdateParticipant(id string, mutator func(*Participant) error) (Participant, error) {
	current, ok := tx.state.participants[id]
	if !ok {
		return Participant{}, fmt.Errorf("participant %q not found", id)
	}
	before := cloneParticipant(current)
	if err := mutator(&current); err != nil {
		return Participant{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.participants[id] = cloneParticipant(current)
	tx.recordChange(Change{Entity: domain.EntityParticipant, Action: domain.ActionUpdate, Before: before, After: cloneParticipant(current)})
	return cloneParticipant(current), nil
}

// DeleteParticipant removes a participant from the transaction state.
func (tx *transaction) DeleteParticipant(id string) error {
	current, ok := tx.state.participants[id]
	if !ok {
		return fmt.Errorf("participant %q not found", id)
	}
	delete(tx.state.participants, id)
	tx.recordChange(Change{Entity: domain.EntityParticipant, Action: domain.ActionDelete, Before: cloneParticipant(current)})
	return nil
}

// CreateCohort stores a new cohort.
func (tx *transaction) CreateCohort(c Cohort) (Cohort, error) {
	if c.ID == "" {
		c.ID = tx.store.newID()
	}
	if _, exists := tx.state.cohorts[c.ID]; exists {
		return Cohort{}, fmt.Errorf("cohort %q already exists", c.ID)
	}
	if c.Name == "" {
		return Cohort{}, fmt.Errorf("cohort %q requires a name", c.ID)
	}
	c.CreatedAt = tx.now
	c.UpdatedAt = tx.now
	tx.state.cohorts[c.ID] = cloneCohort(c)
	tx.recordChange(Change{Entity: domain.EntityCohort, Action: domain.ActionCreate, After: cloneCohort(c)})
	return cloneCohort(c), nil
}

// UpdateCohort mutates an existing cohort.
func (tx *transaction) UpdateCohort(id string, mutator func(*Cohort) error) (Cohort, error) {
	current, ok := tx.state.cohorts[id]
	if !ok {
		return Cohort{}, fmt.Errorf("cohort %q not found", id)
	}
	before := cloneCohort(current)
	if err := mutator(&current); err != nil {
		return Cohort{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.cohorts[id] = cloneCohort(current)
	tx.recordChange(Change{Entity: domain.EntityCohort, Action: domain.ActionUpdate, Before: before, After: cloneCohort(current)})
	return cloneCohort(current), nil
}

// DeleteCohort removes a cohort from state.
func (tx *transaction) DeleteCohort(id string) error {
	current, ok := tx.state.cohorts[id]
	if !ok {
		return fmt.Errorf("cohort %q not found", id)
	}
	delete(tx.state.cohorts, id)
	tx.recordChange(Change{Entity: domain.EntityCohort, Action: domain.ActionDelete, Before: cloneCohort(current)})
	return nil
}

// CreateSurveyDesign stores a new survey design.
func (tx *transaction) CreateSurveyDesign(d SurveyDesign) (SurveyDesign, error) {
	if d.ID == "" {
		d.ID = tx.store.newID()
	}
	if _, exists := tx.state.designs[d.ID]; exists {
		return SurveyDesign{}, fmt.Errorf("survey design %q already exists", d.ID)
	}
	if d.CohortID == "" {
		return SurveyDesign{}, fmt.Errorf("survey design %q requires a cohort reference", d.ID)
	}
	d.CreatedAt = tx.now
	d.UpdatedAt = tx.now
	tx.state.designs[d.ID] = cloneDesign(d)
	tx.recordChange(Change{Entity: domain.EntitySurveyDesign, Action: domain.ActionCreate, After: cloneDesign(d)})
	return cloneDesign(d), nil
}

// UpdateSurveyDesign mutates an existing survey design.
func (tx *transaction) UpdateSurveyDesign(id string, mutator func(*SurveyDesign) error) (SurveyDesign, error) {
	current, ok := tx.state.designs[id]
	if !ok {
		return SurveyDesign{}, fmt.Errorf("survey design %q not found", id)
	}
	before := cloneDesign(current)
	if err := mutator(&current); err != nil {
		return SurveyDesign{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.designs[id] = cloneDesign(current)
	tx.recordChange(Change{Entity: domain.EntitySurveyDesign, Action: domain.ActionUpdate, Before: before, After: cloneDesign(current)})
	return cloneDesign(current), nil
}

// DeleteSurveyDesign removes a survey design from state.
func (tx *transaction) DeleteSurveyDesign(id string) error {
	current, ok := tx.state.designs[id]
	if !ok {
		return fmt.Errorf("survey design %q not found", id)
	}
	delete(tx.state.designs, id)
	tx.recordChange(Change{Entity: domain.EntitySurveyDesign, Action: domain.ActionDelete, Before: cloneDesign(current)})
	return nil
}

// CreateAnalysisRun stores a new analysis run.
func (tx *transaction) CreateAnalysisRun(a AnalysisRun) (AnalysisRun, error) {
	if a.ID == "" {
		a.ID = tx.store.newID()
	}
	if _, exists := tx.state.analyses[a.ID]; exists {
		return AnalysisRun{}, fmt.Errorf("analysis run %q already exists", a.ID)
	}
	if a.TemplateSlug == "" {
		return AnalysisRun{}, fmt.Errorf("analysis run %q requires a template slug", a.ID)
	}
	a.CreatedAt = tx.now
	a.UpdatedAt = tx.now
	tx.state.analyses[a.ID] = cloneAnalysis(a)
	tx.recordChange(Change{Entity: domain.EntityAnalysisRun, Action: domain.ActionCreate, After: cloneAnalysis(a)})
	return cloneAnalysis(a), nil
}

// UpdateAnalysisRun mutates an existing analysis run.
func (tx *transaction) UpdateAnalysisRun(id string, mutator func(*AnalysisRun) error) (AnalysisRun, error) {
	current, ok := tx.state.analyses[id]
	if !ok {
		return AnalysisRun{}, fmt.Errorf("analysis run %q not found", id)
	}
	before := cloneAnalysis(current)
	if err := mutator(&current); err != nil {
		return AnalysisRun{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.analyses[id] = cloneAnalysis(current)
	tx.recordChange(Change{Entity: domain.EntityAnalysisRun, Action: domain.ActionUpdate, Before: before, After: cloneAnalysis(current)})
	return cloneAnalysis(current), nil
}

// DeleteAnalysisRun removes an analysis run from state.
func (tx *transaction) DeleteAnalysisRun(id string) error {
	current, ok := tx.state.analyses[id]
	if !ok {
		return fmt.Errorf("analysis run %q not found", id)
	}
	delete(tx.state.analyses, id)
	tx.recordChange(Change{Entity: domain.EntityAnalysisRun, Action: domain.ActionDelete, Before: cloneAnalysis(current)})
	return nil
}

// FindParticipant retrieves a participant by ID from the staged state.
func (tx *transaction) FindParticipant(id string) (Participant, bool) {
	p, ok := tx.state.participants[id]
	if !ok {
		return Participant{}, false
	}
	return cloneParticipant(p), true
}

// FindCohort retrieves a cohort by ID from the staged state.
func (tx *transaction) FindCohort(id string) (Cohort, bool) {
	c, ok := tx.state.cohorts[id]
	if !ok {
		return Cohort{}, false
	}
	return cloneCohort(c), true
}

// FindSurveyDesign retrieves a survey design by ID from the staged state.
func (tx *transaction) FindSurveyDesign(id string) (SurveyDesign, bool) {
	d, ok := tx.state.designs[id]
	if !ok {
		return SurveyDesign{}, false
	}
	return cloneDesign(d), true
}

// FindAnalysisRun retrieves an analysis run by ID from the staged state.
func (tx *transaction) FindAnalysisRun(id string) (AnalysisRun, bool) {
	a, ok := tx.state.analyses[id]
	if !ok {
		return AnalysisRun{}, false
	}
	return cloneAnalysis(a), true
}

// Read helpers ---------------------------------------------------------------

// GetParticipant retrieves a participant by ID from committed state.
func (s *Store) GetParticipant(id string) (Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.participants[id]
	if !ok {
		return Participant{}, false
	}
	return cloneParticipant(p), true
}

// GetCohort retrieves a cohort by ID from committed state.
func (s *Store) GetCohort(id string) (Cohort, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.state.cohorts[id]
	if !ok {
		return Cohort{}, false
	}
	return cloneCohort(c), true
}

// GetSurveyDesign retrieves a survey design by ID from committed state.
func (s *Store) GetSurveyDesign(id string) (SurveyDesign, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.state.designs[id]
	if !ok {
		return SurveyDesign{}, false
	}
	return cloneDesign(d), true
}

// GetAnalysisRun retrieves an analysis run by ID from committed state.
func (s *Store) GetAnalysisRun(id string) (AnalysisRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.state.analyses[id]
	if !ok {
		return AnalysisRun{}, false
	}
	return cloneAnalysis(a), true
}

// ListParticipants returns all participants from committed state.
func (s *Store) ListParticipants() []Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Participant, 0, len(s.state.participants))
	for _, p := range s.state.participants {
		out = append(out, cloneParticipant(p))
	}
	return out
}

// ListCohorts returns all cohorts from committed state.
func (s *Store) ListCohorts() []Cohort {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Cohort, 0, len(s.state.cohorts))
	for _, c := range s.state.cohorts {
		out = append(out, cloneCohort(c))
	}
	return out
}

// ListSurveyDesigns returns all survey designs from committed state.
func (s *Store) ListSurveyDesigns() []SurveyDesign {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SurveyDesign, 0, len(s.state.designs))
	for _, d := range s.state.designs {
		out = append(out, cloneDesign(d))
	}
	return out
}

// ListAnalysisRuns returns all analysis runs from committed state.
func (s *Store) ListAnalysisRuns() []AnalysisRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AnalysisRun, 0, len(s.state.analyses))
	for _, a := range s.state.analyses {
		out = append(out, cloneAnalysis(a))
	}
	return out
}
