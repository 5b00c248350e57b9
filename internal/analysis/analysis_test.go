package analysis_test

import (
	"context"
	"math"
	"testing"

	"rircore/internal/analysis"
	"rircore/internal/cohort"
	"rircore/internal/core"
	"rircore/internal/infra/persistence/memory"
	"rircore/pkg/analysisapi"
	"rircore/pkg/domain"
)

func f(v float64) *float64 { return &v }
func b(v bool) *bool       { return &v }

// studyPopulation builds 32 statin users with LDL-C 60 mg/dL spread over two
// strata, two PSUs each, and two survey cycles. Covariates follow the bit
// pattern of the index so the regression design matrix stays well
// conditioned; residual risk holds for every third participant via the
// hs-CRP value.
func studyPopulation() []core.Participant {
	out := make([]core.Participant, 32)
	for i := range out {
		bit := func(k uint) bool { return (i>>k)&1 == 1 }

		crp := 1.0
		if i%3 == 0 {
			crp = 2.5
		}
		sex := domain.SexMale
		if bit(0) {
			sex = domain.SexFemale
		}
		race := domain.RaceNonHispanicWhite
		if bit(1) {
			race = domain.RaceNonHispanicBlack
		}
		hba1c := 5.0
		if bit(2) {
			hba1c = 7.0
		}
		sbp := 110.0
		if bit(3) {
			sbp = 140.0
		}
		smokes := bit(4)
		bmi := 25.0
		if bit(0) != bit(1) {
			bmi = 32.0
		}
		cvd := bit(2) != bit(3)

		stratum, psu, cycle := "A", "1", "2015-2016"
		if i >= 16 {
			stratum, cycle = "B", "2017-2018"
		}
		if i%16 >= 8 {
			psu = "2"
		}

		out[i] = core.Participant{
			SEQN:             int64(1000 + i),
			Cycle:            cycle,
			AgeYears:         40 + i,
			Sex:              sex,
			RaceEthnicity:    race,
			HSCRP:            f(crp),
			TotalCholesterol: f(120),
			HDL:              f(50),
			Triglycerides:    f(50),
			HbA1c:            f(hba1c),
			BMI:              f(bmi),
			SystolicBP:       f(sbp),
			DiastolicBP:      f(70),
			Smoked100:        b(smokes),
			SmokesNow:        b(smokes),
			ToldCHD:          b(cvd),
			FastingWeight:    f(10000),
			Stratum:          stratum,
			PSU:              psu,
			Medications:      []string{"ATORVASTATIN CALCIUM"},
		}
	}
	return out
}

// pipeline imports the study population, builds the primary cohort, binds a
// fasting design, and registers the analysis suite.
func pipeline(t *testing.T) (*core.Service, string) {
	t.Helper()
	ctx := context.Background()
	svc := core.NewService(memory.NewStore(core.NewDefaultRulesEngine()))
	if _, _, err := svc.ImportParticipants(ctx, studyPopulation()); err != nil {
		t.Fatalf("ImportParticipants: %v", err)
	}
	built, _, err := svc.BuildCohort(ctx, cohort.CohortPrimary)
	if err != nil {
		t.Fatalf("BuildCohort: %v", err)
	}
	if len(built.MemberSEQNs) != 32 {
		t.Fatalf("members = %d, want 32", len(built.MemberSEQNs))
	}
	design, _, err := svc.BindDesign(ctx, "primary-fasting", built.ID, domain.WeightFasting, domain.LonelyPSUAdjust)
	if err != nil {
		t.Fatalf("BindDesign: %v", err)
	}
	if err := svc.RegisterTemplates(analysis.Suite, analysis.Templates()); err != nil {
		t.Fatalf("RegisterTemplates: %v", err)
	}
	return svc, design.ID
}

func runTemplate(t *testing.T, svc *core.Service, slug, designID string) domain.AnalysisRun {
	t.Helper()
	run, paramErrs, err := svc.RunTemplate(context.Background(), slug,
		map[string]any{"design_id": designID}, analysisapi.Scope{Requestor: "test"})
	if err != nil {
		t.Fatalf("RunTemplate %s: %v", slug, err)
	}
	if len(paramErrs) > 0 {
		t.Fatalf("RunTemplate %s parameter errors: %v", slug, paramErrs)
	}
	return run
}

func TestPrevalenceTemplate(t *testing.T) {
	svc, designID := pipeline(t)
	run := runTemplate(t, svc, "rir/rir_prevalence@v1", designID)

	// Overall plus one row per cycle.
	if len(run.Rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(run.Rows))
	}
	overall := run.Rows[0]
	if overall["scope"] != "overall" {
		t.Fatalf("first row scope = %v", overall["scope"])
	}
	// Eleven of 32 equally weighted members carry residual risk.
	p, ok := overall["prevalence"].(float64)
	if !ok || math.Abs(p-11.0/32.0) > 1e-12 {
		t.Fatalf("overall prevalence = %v, want %v", overall["prevalence"], 11.0/32.0)
	}
	if len(run.Estimates) != 3 {
		t.Fatalf("estimates = %d, want 3", len(run.Estimates))
	}
	for _, est := range run.Estimates {
		if est.DesignID != designID || est.Outcome != "rir" {
			t.Fatalf("estimate provenance = %s/%s", est.DesignID, est.Outcome)
		}
	}
}

func TestPrevalenceOutcomeVariants(t *testing.T) {
	svc, designID := pipeline(t)
	run, paramErrs, err := svc.RunTemplate(context.Background(), "rir/rir_prevalence@v1",
		map[string]any{"design_id": designID, "outcome": "rir_strict"}, analysisapi.Scope{})
	if err != nil || len(paramErrs) > 0 {
		t.Fatalf("RunTemplate: %v %v", err, paramErrs)
	}
	// hs-CRP 2.5 mg/L never reaches the strict 3 mg/L cut.
	overall := run.Rows[0]
	if p := overall["prevalence"].(float64); p != 0 {
		t.Fatalf("strict prevalence = %v, want 0", p)
	}

	_, paramErrs, err = svc.RunTemplate(context.Background(), "rir/rir_prevalence@v1",
		map[string]any{"design_id": designID, "outcome": "bogus"}, analysisapi.Scope{})
	if err != nil {
		t.Fatalf("RunTemplate: %v", err)
	}
	if len(paramErrs) == 0 {
		t.Fatal("expected enum validation error for bogus outcome")
	}
}

func TestSubgroupTemplate(t *testing.T) {
	svc, designID := pipeline(t)
	run := runTemplate(t, svc, "rir/subgroup_prevalence@v1", designID)
	if len(run.Rows) == 0 {
		t.Fatal("expected subgroup rows")
	}
	variables := make(map[string]bool)
	for _, row := range run.Rows {
		v, _ := row["variable"].(string)
		variables[v] = true
	}
	for _, want := range []string{"sex", "age_group", "race_ethnicity", "diabetes"} {
		if !variables[want] {
			t.Errorf("missing subgroup variable %s", want)
		}
	}
}

func TestTable1Template(t *testing.T) {
	svc, designID := pipeline(t)
	run := runTemplate(t, svc, "rir/table1@v1", designID)
	if len(run.Rows) == 0 {
		t.Fatal("expected table 1 rows")
	}
	characteristics := make(map[string]bool)
	hscrpStats := make(map[string]bool)
	for _, row := range run.Rows {
		c, _ := row["characteristic"].(string)
		characteristics[c] = true
		if c == "hscrp" {
			s, _ := row["statistic"].(string)
			hscrpStats[s] = true
		}
	}
	for _, want := range []string{"age", "female", "bmi", "ldl", "hscrp"} {
		if !characteristics[want] {
			t.Errorf("missing characteristic %s", want)
		}
	}
	// hs-CRP is skewed, so the table carries its median with quartiles.
	for _, want := range []string{"median", "q1", "q3"} {
		if !hscrpStats[want] {
			t.Errorf("missing hscrp statistic %s", want)
		}
	}
}

func TestRegressionTemplate(t *testing.T) {
	svc, designID := pipeline(t)
	run := runTemplate(t, svc, "rir/rir_regression@v1", designID)

	terms := make(map[string]bool)
	for _, row := range run.Rows {
		name, _ := row["term"].(string)
		terms[name] = true
	}
	for _, want := range []string{"(Intercept)", "age", "female", "race=non_hispanic_black", "diabetes", "hypertension", "current_smoker", "obese", "cvd_history"} {
		if !terms[want] {
			t.Errorf("missing regression term %s", want)
		}
	}
	for _, est := range run.Estimates {
		if est.Method != "odds_ratio" {
			t.Fatalf("estimate method = %s", est.Method)
		}
		if est.Domain == "(Intercept)" {
			t.Fatal("intercept should not be exported as an estimate")
		}
		if est.PValue == nil {
			t.Fatal("estimate missing p-value")
		}
	}
}

func TestTrendTemplate(t *testing.T) {
	svc, designID := pipeline(t)
	run := runTemplate(t, svc, "rir/trend@v1", designID)
	if len(run.Rows) != 2 {
		t.Fatalf("rows = %d, want one per cycle", len(run.Rows))
	}
	if run.Rows[0]["cycle_index"].(int) != 0 || run.Rows[1]["cycle_index"].(int) != 1 {
		t.Fatalf("cycle indexes = %v, %v", run.Rows[0]["cycle_index"], run.Rows[1]["cycle_index"])
	}
	if run.Rows[0]["scope"] != "2015-2016" {
		t.Fatalf("first cycle = %v", run.Rows[0]["scope"])
	}
	// Six positives in the first cycle, five in the second.
	if p := run.Rows[0]["prevalence"].(float64); math.Abs(p-6.0/16.0) > 1e-12 {
		t.Fatalf("2015-2016 prevalence = %v, want %v", p, 6.0/16.0)
	}
}

func TestLDLStatinGroupsTemplate(t *testing.T) {
	svc, designID := pipeline(t)
	run := runTemplate(t, svc, "rir/ldl_statin_groups@v1", designID)
	// Every member is a statin user with LDL-C 60 mg/dL: group 1 only.
	if len(run.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(run.Rows))
	}
	if run.Estimates[0].Domain != "1" {
		t.Fatalf("group = %s, want 1", run.Estimates[0].Domain)
	}
	if p := run.Estimates[0].Value; p != 1 {
		t.Fatalf("group 1 share = %v, want 1", p)
	}
}

func TestMissingDesignFails(t *testing.T) {
	svc, _ := pipeline(t)
	_, paramErrs, err := svc.RunTemplate(context.Background(), "rir/rir_prevalence@v1",
		map[string]any{"design_id": "missing"}, analysisapi.Scope{})
	if err == nil && len(paramErrs) == 0 {
		t.Fatal("expected failure for unknown design id")
	}
}
