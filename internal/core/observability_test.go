package core_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"rircore/internal/core"
	"rircore/internal/infra/persistence/memory"
)

func TestExpvarMetricsAndJSONTracer(t *testing.T) {
	store := memory.NewStore(core.NewDefaultRulesEngine())
	metrics := core.NewExpvarMetricsRecorder("")
	var traceBuf bytes.Buffer
	tracer := core.NewJSONTracer(&traceBuf)
	svc := core.NewService(store, core.WithMetricsRecorder(metrics), core.WithTracer(tracer))
	ctx := context.Background()

	if _, _, err := svc.ImportParticipants(ctx, seedParticipants()); err != nil {
		t.Fatalf("ImportParticipants: %v", err)
	}
	if _, err := svc.DeleteParticipant(ctx, "missing"); err == nil {
		t.Fatal("expected error for unknown participant")
	}

	snap := metrics.Snapshot()
	if snap.Results["import_participants"]["success"] != 1 {
		t.Fatalf("import results = %v", snap.Results["import_participants"])
	}
	if snap.Results["delete_participant"]["error"] != 1 {
		t.Fatalf("delete results = %v", snap.Results["delete_participant"])
	}
	if _, ok := snap.DurationsMS["import_participants"]; !ok {
		t.Fatal("missing import duration total")
	}
	if metrics.Name() == "" {
		t.Fatal("generated expvar name must not be empty")
	}

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("trace entries = %d, want 2", len(entries))
	}
	if entries[0].Operation != "import_participants" || entries[0].Status != "success" {
		t.Fatalf("first span = %+v", entries[0])
	}
	if entries[1].Operation != "delete_participant" || entries[1].Status != "error" || entries[1].Error == "" {
		t.Fatalf("second span = %+v", entries[1])
	}
	if entries[1].EndedAt.Before(entries[1].StartedAt) {
		t.Fatalf("span ended before it started: %+v", entries[1])
	}

	// The tracer also writes each span as a JSON line.
	dec := json.NewDecoder(&traceBuf)
	for i := range entries {
		var line core.JSONTraceEntry
		if err := dec.Decode(&line); err != nil {
			t.Fatalf("decode span %d: %v", i, err)
		}
		if line.Operation != entries[i].Operation {
			t.Fatalf("line %d operation = %s, want %s", i, line.Operation, entries[i].Operation)
		}
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder, err := core.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("NewPrometheusMetricsRecorder: %v", err)
	}
	svc := core.NewService(memory.NewStore(core.NewDefaultRulesEngine()), core.WithMetricsRecorder(recorder))
	ctx := context.Background()

	if _, _, err := svc.ImportParticipants(ctx, seedParticipants()); err != nil {
		t.Fatalf("ImportParticipants: %v", err)
	}
	if _, err := svc.DeleteParticipant(ctx, "missing"); err == nil {
		t.Fatal("expected error for unknown participant")
	}

	results := map[string]float64{}
	var histogramSamples uint64
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		switch mf.GetName() {
		case "rircore_service_operation_results_total":
			for _, m := range mf.GetMetric() {
				key := ""
				for _, label := range m.GetLabel() {
					key += label.GetValue() + "/"
				}
				results[key] = m.GetCounter().GetValue()
			}
		case "rircore_service_operation_duration_seconds":
			for _, m := range mf.GetMetric() {
				histogramSamples += m.GetHistogram().GetSampleCount()
			}
		}
	}
	if results["import_participants/success/"] != 1 {
		t.Fatalf("results = %v", results)
	}
	if results["delete_participant/error/"] != 1 {
		t.Fatalf("results = %v", results)
	}
	if histogramSamples != 2 {
		t.Fatalf("histogram samples = %d, want 2", histogramSamples)
	}

	// Registering the same collectors twice on one registry must fail.
	if _, err := core.NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}
