package report

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rircore/internal/infra/blob"
	"rircore/pkg/analysisapi"
	"rircore/pkg/domain"
)

type staticRunSource map[string]domain.AnalysisRun

func (s staticRunSource) GetAnalysisRun(id string) (domain.AnalysisRun, bool) {
	run, ok := s[id]
	return run, ok
}

func awaitRecord(t *testing.T, worker *Worker, id string) ExportRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		record, ok := worker.Get(id)
		require.True(t, ok)
		if record.Status == ExportStatusSucceeded || record.Status == ExportStatusFailed {
			return record
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("export %s did not finish", id)
	return ExportRecord{}
}

func TestWorkerExportsArtifacts(t *testing.T) {
	run := sampleRun()
	source := staticRunSource{run.ID: run}
	store := blob.NewMemory()
	audit := &MemoryAuditLog{}

	worker := NewWorker(source, store, audit)
	worker.Start()
	defer func() { _ = worker.Stop(context.Background()) }()

	record, err := worker.Enqueue(context.Background(), ExportInput{
		RunID:       run.ID,
		Formats:     []analysisapi.Format{analysisapi.FormatJSON, analysisapi.FormatCSV, analysisapi.FormatCSV},
		RequestedBy: "analyst",
		Reason:      "manuscript tables",
	})
	require.NoError(t, err)
	assert.Equal(t, ExportStatusQueued, record.Status)
	assert.Equal(t, run.TemplateSlug, record.TemplateSlug)
	assert.Equal(t, []analysisapi.Format{analysisapi.FormatJSON, analysisapi.FormatCSV}, record.Formats)

	final := awaitRecord(t, worker, record.ID)
	require.Equal(t, ExportStatusSucceeded, final.Status)
	require.Len(t, final.Artifacts, 2)
	require.NotNil(t, final.CompletedAt)

	for _, artifact := range final.Artifacts {
		assert.True(t, strings.HasPrefix(artifact.Key, "exports/"+run.ID+"/"), artifact.Key)
		info, reader, err := store.Get(context.Background(), artifact.Key)
		require.NoError(t, err)
		payload, err := io.ReadAll(reader)
		require.NoError(t, err)
		require.NoError(t, reader.Close())
		assert.Equal(t, artifact.SizeBytes, int64(len(payload)))
		assert.Equal(t, artifact.ContentType, info.ContentType)
		assert.Equal(t, run.ID, info.Metadata["run_id"])
	}

	// Stop waits for in-flight work, so the audit trail is complete after it.
	require.NoError(t, worker.Stop(context.Background()))

	statuses := make([]ExportStatus, 0, 3)
	for _, entry := range audit.Entries() {
		assert.Equal(t, "analysis_export", entry.Action)
		assert.Equal(t, run.ID, entry.RunID)
		statuses = append(statuses, entry.Status)
	}
	assert.Equal(t, []ExportStatus{ExportStatusQueued, ExportStatusRunning, ExportStatusSucceeded}, statuses)
}

func TestWorkerDefaultsFormats(t *testing.T) {
	run := sampleRun()
	worker := NewWorker(staticRunSource{run.ID: run}, blob.NewMemory(), nil)
	worker.Start()
	defer func() { _ = worker.Stop(context.Background()) }()

	record, err := worker.Enqueue(context.Background(), ExportInput{RunID: run.ID, RequestedBy: "analyst"})
	require.NoError(t, err)
	assert.Equal(t, []analysisapi.Format{analysisapi.FormatJSON, analysisapi.FormatCSV}, record.Formats)

	final := awaitRecord(t, worker, record.ID)
	assert.Equal(t, ExportStatusSucceeded, final.Status)
}

func TestWorkerEnqueueRejectsUnknownRun(t *testing.T) {
	worker := NewWorker(staticRunSource{}, blob.NewMemory(), nil)
	_, err := worker.Enqueue(context.Background(), ExportInput{RunID: "missing"})
	assert.ErrorContains(t, err, "not found")

	_, err = worker.Enqueue(context.Background(), ExportInput{RunID: "  "})
	assert.ErrorContains(t, err, "run id required")
}

func TestWorkerRecordsRenderFailure(t *testing.T) {
	run := sampleRun()
	worker := NewWorker(staticRunSource{run.ID: run}, blob.NewMemory(), nil)
	worker.Start()
	defer func() { _ = worker.Stop(context.Background()) }()

	record, err := worker.Enqueue(context.Background(), ExportInput{
		RunID:   run.ID,
		Formats: []analysisapi.Format{analysisapi.Format("docx")},
	})
	require.NoError(t, err)

	final := awaitRecord(t, worker, record.ID)
	assert.Equal(t, ExportStatusFailed, final.Status)
	assert.Contains(t, final.Error, "unsupported format")
	assert.Empty(t, final.Artifacts)
}

func TestWorkerGetUnknownID(t *testing.T) {
	worker := NewWorker(staticRunSource{}, nil, nil)
	_, ok := worker.Get("nope")
	assert.False(t, ok)
}

func TestWorkerStopWaitsForLoop(t *testing.T) {
	worker := NewWorker(staticRunSource{}, nil, nil)
	worker.Start()
	require.NoError(t, worker.Stop(context.Background()))
}
