package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"rircore/internal/cohort"
	"rircore/internal/core"
	"rircore/internal/infra/persistence/memory"
	"rircore/pkg/analysisapi"
	"rircore/pkg/domain"
)

func f(v float64) *float64 { return &v }

// seedParticipants returns eight eligible statin users with LDL-C below the
// primary cut, spread over two strata with two PSUs each.
func seedParticipants() []core.Participant {
	strata := []string{"A", "A", "A", "A", "B", "B", "B", "B"}
	psus := []string{"1", "1", "2", "2", "1", "1", "2", "2"}
	out := make([]core.Participant, 8)
	for i := range out {
		crp := 1.5
		if i%2 == 0 {
			crp = 2.5
		}
		out[i] = core.Participant{
			SEQN:             int64(100 + i),
			Cycle:            "2017-2018",
			AgeYears:         50 + i,
			Sex:              domain.SexMale,
			RaceEthnicity:    domain.RaceNonHispanicWhite,
			HSCRP:            f(crp),
			TotalCholesterol: f(120),
			HDL:              f(50),
			Triglycerides:    f(50),
			FastingWeight:    f(10000),
			Stratum:          strata[i],
			PSU:              psus[i],
			Medications:      []string{"SIMVASTATIN"},
		}
	}
	return out
}

func newTestService(t *testing.T) *core.Service {
	t.Helper()
	store := memory.NewStore(core.NewDefaultRulesEngine())
	return core.NewService(store)
}

func TestImportParticipantsUpserts(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	n, _, err := svc.ImportParticipants(ctx, seedParticipants())
	if err != nil {
		t.Fatalf("ImportParticipants: %v", err)
	}
	if n != 8 {
		t.Fatalf("imported = %d, want 8", n)
	}

	// Re-importing the same SEQNs replaces rather than duplicates.
	n, _, err = svc.ImportParticipants(ctx, seedParticipants())
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if n != 8 {
		t.Fatalf("re-imported = %d, want 8", n)
	}
	if got := len(svc.Store().ListParticipants()); got != 8 {
		t.Fatalf("stored participants = %d, want 8", got)
	}
}

func TestBuildCohortAndBindDesign(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, _, err := svc.ImportParticipants(ctx, seedParticipants()); err != nil {
		t.Fatalf("ImportParticipants: %v", err)
	}

	built, _, err := svc.BuildCohort(ctx, cohort.CohortPrimary)
	if err != nil {
		t.Fatalf("BuildCohort: %v", err)
	}
	// LDL = 120 - 50 - 10 = 60, so every statin user qualifies.
	if len(built.MemberSEQNs) != 8 {
		t.Fatalf("members = %d, want 8", len(built.MemberSEQNs))
	}
	if built.SourceN != 8 {
		t.Fatalf("sourceN = %d, want 8", built.SourceN)
	}

	// Derived variables are persisted back onto the participants.
	for _, p := range svc.Store().ListParticipants() {
		if p.Derived == nil || p.Derived.RIR == nil {
			t.Fatalf("participant %d missing derived variables", p.SEQN)
		}
	}

	// Rebuilding updates the stored cohort in place.
	rebuilt, _, err := svc.BuildCohort(ctx, cohort.CohortPrimary)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if rebuilt.ID != built.ID {
		t.Fatalf("rebuild created a new cohort %s, want %s", rebuilt.ID, built.ID)
	}
	if got := len(svc.Store().ListCohorts()); got != 1 {
		t.Fatalf("stored cohorts = %d, want 1", got)
	}

	design, _, err := svc.BindDesign(ctx, "primary-fasting", built.ID, domain.WeightFasting, domain.LonelyPSUAdjust)
	if err != nil {
		t.Fatalf("BindDesign: %v", err)
	}
	if design.TotalStrata != 2 || design.TotalPSUs != 4 || design.DegreesOfFreedom != 2 {
		t.Fatalf("design structure = %d/%d/%d", design.TotalStrata, design.TotalPSUs, design.DegreesOfFreedom)
	}
	if design.CohortID != built.ID || design.Weight != domain.WeightFasting {
		t.Fatalf("design linkage = %s/%s", design.CohortID, design.Weight)
	}

	sd, record, members, err := svc.DesignFor(design.ID)
	if err != nil {
		t.Fatalf("DesignFor: %v", err)
	}
	if sd.Len() != 8 || record.ID != design.ID || len(members) != 8 {
		t.Fatalf("DesignFor = %d obs, %d members", sd.Len(), len(members))
	}
}

func TestBuildCohortHonorsThresholds(t *testing.T) {
	store := memory.NewStore(core.NewDefaultRulesEngine())
	th := cohort.DefaultThresholds()
	th.LDLPrimary = 50 // every seed participant carries LDL 60
	svc := core.NewService(store, core.WithThresholds(th))
	ctx := context.Background()

	if _, _, err := svc.ImportParticipants(ctx, seedParticipants()); err != nil {
		t.Fatalf("ImportParticipants: %v", err)
	}
	built, _, err := svc.BuildCohort(ctx, cohort.CohortPrimary)
	if err != nil {
		t.Fatalf("BuildCohort: %v", err)
	}
	if len(built.MemberSEQNs) != 0 {
		t.Fatalf("members = %d, want 0 under the tightened cut", len(built.MemberSEQNs))
	}
	for _, p := range svc.Store().ListParticipants() {
		if p.Derived == nil || p.Derived.LDLBelow70 == nil || *p.Derived.LDLBelow70 {
			t.Fatalf("participant %d derived against the wrong cut", p.SEQN)
		}
	}
}

func TestAcuteCRPBlocksCohortMembership(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	seed := seedParticipants()
	seed[0].HSCRP = f(12)
	if _, _, err := svc.ImportParticipants(ctx, seed); err != nil {
		t.Fatalf("ImportParticipants: %v", err)
	}

	// Eligibility filtering drops the acute-phase participant up front.
	built, _, err := svc.BuildCohort(ctx, cohort.CohortPrimary)
	if err != nil {
		t.Fatalf("BuildCohort: %v", err)
	}
	if len(built.MemberSEQNs) != 7 {
		t.Fatalf("members = %d, want 7", len(built.MemberSEQNs))
	}

	// Forcing the participant back into the cohort is rejected at commit.
	_, err = svc.Store().RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateCohort(built.ID, func(c *domain.Cohort) error {
			c.MemberSEQNs = append(c.MemberSEQNs, seed[0].SEQN)
			return nil
		})
		return err
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("err = %v, want rule violation", err)
	}
	if !violation.Result.HasBlocking() {
		t.Fatal("expected a blocking crp_range violation")
	}
	stored, ok := svc.Store().GetCohort(built.ID)
	if !ok || len(stored.MemberSEQNs) != 7 {
		t.Fatalf("cohort should be unchanged, members = %d", len(stored.MemberSEQNs))
	}
}

func TestBuildCohortUnknownDefinition(t *testing.T) {
	svc := newTestService(t)
	if _, _, err := svc.BuildCohort(context.Background(), "bogus"); err == nil {
		t.Fatal("expected error for unknown cohort definition")
	}
}

func TestBindDesignMissingCohort(t *testing.T) {
	svc := newTestService(t)
	if _, _, err := svc.BindDesign(context.Background(), "d", "missing", domain.WeightFasting, domain.LonelyPSUAdjust); err == nil {
		t.Fatal("expected error for missing cohort")
	}
}

func TestRunTemplatePersistsRun(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tpl := analysisapi.Template{
		Key:     "echo",
		Version: "v1",
		Title:   "Echo",
		Parameters: []analysisapi.Parameter{
			{Name: "design_id", Type: "string", Required: true},
		},
		Columns:       []analysisapi.Column{{Name: "value", Type: "number"}},
		OutputFormats: []analysisapi.Format{analysisapi.FormatJSON},
		Binder: func(env analysisapi.Environment) (analysisapi.Runner, error) {
			return func(_ context.Context, req analysisapi.RunRequest) (analysisapi.RunResult, error) {
				return analysisapi.RunResult{
					Schema:      req.Template.Columns,
					Rows:        []map[string]any{{"value": 1.0}},
					GeneratedAt: env.Now(),
				}, nil
			}, nil
		},
	}
	if err := svc.RegisterTemplates("test", []analysisapi.Template{tpl}); err != nil {
		t.Fatalf("RegisterTemplates: %v", err)
	}
	if got := len(svc.Templates()); got != 1 {
		t.Fatalf("templates = %d, want 1", got)
	}

	run, paramErrs, err := svc.RunTemplate(ctx, "test/echo@v1", map[string]any{"design_id": "d-1"}, analysisapi.Scope{Requestor: "tester"})
	if err != nil {
		t.Fatalf("RunTemplate: %v", err)
	}
	if len(paramErrs) > 0 {
		t.Fatalf("unexpected parameter errors: %v", paramErrs)
	}
	if run.ID == "" || run.DesignID != "d-1" || len(run.Rows) != 1 {
		t.Fatalf("run = %+v", run)
	}

	stored, ok := svc.Store().GetAnalysisRun(run.ID)
	if !ok || stored.TemplateSlug != "test/echo@v1" {
		t.Fatalf("stored run missing or wrong slug: %+v", stored)
	}

	// A missing required parameter surfaces as a parameter error.
	_, paramErrs, err = svc.RunTemplate(ctx, "test/echo@v1", nil, analysisapi.Scope{})
	if err != nil {
		t.Fatalf("RunTemplate with bad params: %v", err)
	}
	if len(paramErrs) == 0 {
		t.Fatal("expected parameter errors for missing design_id")
	}

	if _, _, err := svc.RunTemplate(ctx, "test/missing@v1", nil, analysisapi.Scope{}); err == nil {
		t.Fatal("expected error for unregistered template")
	}

	runs := svc.SortedAnalysisRuns()
	if len(runs) != 1 || runs[0].ID != run.ID {
		t.Fatalf("sorted runs = %d", len(runs))
	}
	if time.Since(runs[0].GeneratedAt) > time.Minute {
		t.Fatalf("generatedAt = %v", runs[0].GeneratedAt)
	}
}
