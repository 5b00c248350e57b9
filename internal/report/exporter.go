package report

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"rircore/internal/infra/blob"
	"rircore/pkg/analysisapi"
	"rircore/pkg/domain"
)

// ExportStatus describes the lifecycle stage of an export request.
type ExportStatus string

const (
	ExportStatusQueued    ExportStatus = "queued"
	ExportStatusRunning   ExportStatus = "running"
	ExportStatusSucceeded ExportStatus = "succeeded"
	ExportStatusFailed    ExportStatus = "failed"
)

// ExportArtifact captures one rendered artifact placed in the blob store.
type ExportArtifact struct {
	ID          string             `json:"id"`
	Key         string             `json:"key"`
	Format      analysisapi.Format `json:"format"`
	ContentType string             `json:"content_type"`
	SizeBytes   int64              `json:"size_bytes"`
	URL         string             `json:"url,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// ExportRecord tracks an export request and its resulting artifacts.
type ExportRecord struct {
	ID           string               `json:"id"`
	RunID        string               `json:"run_id"`
	TemplateSlug string               `json:"template_slug"`
	Formats      []analysisapi.Format `json:"formats"`
	Status       ExportStatus         `json:"status"`
	Error        string               `json:"error,omitempty"`
	Artifacts    []ExportArtifact     `json:"artifacts,omitempty"`
	RequestedBy  string               `json:"requested_by"`
	Reason       string               `json:"reason,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
	CompletedAt  *time.Time           `json:"completed_at,omitempty"`
}

// ExportInput is an enqueue request for the export worker.
type ExportInput struct {
	RunID       string
	Formats     []analysisapi.Format
	RequestedBy string
	Reason      string
}

// RunSource resolves stored analysis runs for export.
type RunSource interface {
	GetAnalysisRun(id string) (domain.AnalysisRun, bool)
}

// AuditLogger records export audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry captures the audit trail of one export state change.
type AuditEntry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	Actor      string         `json:"actor"`
	RunID      string         `json:"run_id"`
	Status     ExportStatus   `json:"status"`
	Reason     string         `json:"reason,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

const exportAction = "analysis_export"

// Worker renders stored analysis runs to artifacts asynchronously.
type Worker struct {
	source RunSource
	store  blob.Store
	audit  AuditLogger

	queue chan exportTask
	mu    sync.RWMutex
	jobs  map[string]*ExportRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type exportTask struct {
	id    string
	input ExportInput
}

// NewWorker constructs an export worker over the given run source and
// artifact store.
func NewWorker(source RunSource, store blob.Store, audit AuditLogger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		source: source,
		store:  store,
		audit:  audit,
		queue:  make(chan exportTask, 32),
		jobs:   make(map[string]*ExportRecord),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing export requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for in-flight work.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case task := <-w.queue:
			w.process(task)
		}
	}
}

// Enqueue schedules an export job and returns the queued record.
func (w *Worker) Enqueue(ctx context.Context, input ExportInput) (ExportRecord, error) {
	if w.source == nil {
		return ExportRecord{}, fmt.Errorf("report: export run source not configured")
	}
	if strings.TrimSpace(input.RunID) == "" {
		return ExportRecord{}, fmt.Errorf("report: run id required")
	}
	run, ok := w.source.GetAnalysisRun(input.RunID)
	if !ok {
		return ExportRecord{}, fmt.Errorf("report: analysis run %s not found", input.RunID)
	}

	formats := input.Formats
	if len(formats) == 0 {
		formats = []analysisapi.Format{analysisapi.FormatJSON, analysisapi.FormatCSV}
	}
	unique := make([]analysisapi.Format, 0, len(formats))
	seen := make(map[analysisapi.Format]struct{})
	for _, format := range formats {
		if _, dup := seen[format]; dup {
			continue
		}
		seen[format] = struct{}{}
		unique = append(unique, format)
	}

	id := newExportID()
	now := time.Now().UTC()
	record := ExportRecord{
		ID:           id,
		RunID:        input.RunID,
		TemplateSlug: run.TemplateSlug,
		Formats:      unique,
		Status:       ExportStatusQueued,
		RequestedBy:  input.RequestedBy,
		Reason:       input.Reason,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	w.mu.Lock()
	w.jobs[id] = &record
	snapshot := record.copy()
	w.mu.Unlock()

	w.record(ctx, AuditEntry{
		ID:         newExportID(),
		Action:     exportAction,
		Actor:      input.RequestedBy,
		RunID:      input.RunID,
		Status:     ExportStatusQueued,
		Reason:     input.Reason,
		OccurredAt: now,
	})

	select {
	case w.queue <- exportTask{id: id, input: input}:
	default:
		return ExportRecord{}, fmt.Errorf("report: export queue full")
	}
	return snapshot, nil
}

// Get returns a snapshot of the export record.
func (w *Worker) Get(id string) (ExportRecord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return ExportRecord{}, false
	}
	return record.copy(), true
}

func (w *Worker) process(task exportTask) {
	run, ok := w.source.GetAnalysisRun(task.input.RunID)
	if !ok {
		w.fail(task.id, fmt.Sprintf("analysis run %s missing", task.input.RunID))
		return
	}
	w.updateStatus(task.id, ExportStatusRunning)

	w.mu.RLock()
	formats := append([]analysisapi.Format(nil), w.jobs[task.id].Formats...)
	w.mu.RUnlock()

	artifacts := make([]ExportArtifact, 0, len(formats))
	for _, format := range formats {
		payload, contentType, err := Render(run, format)
		if err != nil {
			w.fail(task.id, err.Error())
			return
		}
		artifact := ExportArtifact{
			ID:          newExportID(),
			Format:      format,
			ContentType: contentType,
			SizeBytes:   int64(len(payload)),
			CreatedAt:   time.Now().UTC(),
		}
		artifact.Key = fmt.Sprintf("exports/%s/%s.%s", run.ID, artifact.ID, Extension(format))
		if w.store != nil {
			info, err := w.store.Put(w.ctx, artifact.Key, bytes.NewReader(payload), blob.PutOptions{
				ContentType: contentType,
				Metadata: map[string]string{
					"run_id":   run.ID,
					"template": run.TemplateSlug,
				},
			})
			if err != nil {
				w.fail(task.id, fmt.Sprintf("store artifact: %v", err))
				return
			}
			artifact.URL = info.URL
			if info.Size > 0 {
				artifact.SizeBytes = info.Size
			}
		}
		artifacts = append(artifacts, artifact)
	}
	w.complete(task.id, artifacts)
}

func (w *Worker) updateStatus(id string, status ExportStatus) {
	now := time.Now().UTC()
	w.mu.Lock()
	record, ok := w.jobs[id]
	if ok {
		record.Status = status
		record.Error = ""
		record.UpdatedAt = now
	}
	w.mu.Unlock()
	if ok {
		w.record(w.ctx, AuditEntry{
			ID:         newExportID(),
			Action:     exportAction,
			Actor:      w.fieldFor(id, func(r *ExportRecord) string { return r.RequestedBy }),
			RunID:      w.fieldFor(id, func(r *ExportRecord) string { return r.RunID }),
			Status:     status,
			OccurredAt: now,
		})
	}
}

func (w *Worker) complete(id string, artifacts []ExportArtifact) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = ExportStatusSucceeded
		record.Error = ""
		record.Artifacts = artifacts
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	w.record(w.ctx, AuditEntry{
		ID:         newExportID(),
		Action:     exportAction,
		Actor:      w.fieldFor(id, func(r *ExportRecord) string { return r.RequestedBy }),
		RunID:      w.fieldFor(id, func(r *ExportRecord) string { return r.RunID }),
		Status:     ExportStatusSucceeded,
		Metadata:   map[string]any{"artifacts": len(artifacts)},
		OccurredAt: now,
	})
}

func (w *Worker) fail(id, reason string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = ExportStatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	w.record(w.ctx, AuditEntry{
		ID:         newExportID(),
		Action:     exportAction,
		Actor:      w.fieldFor(id, func(r *ExportRecord) string { return r.RequestedBy }),
		RunID:      w.fieldFor(id, func(r *ExportRecord) string { return r.RunID }),
		Status:     ExportStatusFailed,
		Metadata:   map[string]any{"error": reason},
		OccurredAt: now,
	})
}

func (w *Worker) fieldFor(id string, extract func(*ExportRecord) string) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if record, ok := w.jobs[id]; ok {
		return extract(record)
	}
	return ""
}

func (w *Worker) record(ctx context.Context, entry AuditEntry) {
	if w.audit != nil {
		w.audit.Record(ctx, entry)
	}
}

func (r ExportRecord) copy() ExportRecord {
	dup := r
	dup.Formats = append([]analysisapi.Format(nil), r.Formats...)
	if len(r.Artifacts) > 0 {
		dup.Artifacts = append([]ExportArtifact(nil), r.Artifacts...)
	}
	return dup
}

func newExportID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return fmt.Sprintf("%x", b[:])
}

// MemoryAuditLog captures audit entries in memory for assertions.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Record stores an audit entry.
func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a copy of recorded audit entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
