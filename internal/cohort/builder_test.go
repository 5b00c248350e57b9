package cohort

import (
	"testing"

	"rircore/pkg/domain"
)

// samplePopulation builds six participants exercising every eligibility
// step: one child, one missing fasting weight, one missing hs-CRP, one with
// acute inflammation, and two fully eligible statin users (one below the
// primary LDL cut).
func samplePopulation() []*domain.Participant {
	base := func(seqn int64) *domain.Participant {
		return &domain.Participant{
			SEQN:             seqn,
			AgeYears:         55,
			FastingWeight:    f(12000),
			HSCRP:            f(2.4),
			TotalCholesterol: f(160),
			HDL:              f(50),
			Triglycerides:    f(100),
			Medications:      []string{"ATORVASTATIN CALCIUM"},
		}
	}

	child := base(1)
	child.AgeYears = 12

	noWeight := base(2)
	noWeight.FastingWeight = nil

	noCRP := base(3)
	noCRP.HSCRP = nil

	acute := base(4)
	acute.HSCRP = f(15)

	// LDL = 160 - 50 - 20 = 90, above the primary cut.
	high := base(5)

	// LDL = 120 - 50 - 20 = 50, below both cuts.
	low := base(6)
	low.TotalCholesterol = f(120)

	return []*domain.Participant{child, noWeight, noCRP, acute, high, low}
}

func TestApplyTracksExclusionCascade(t *testing.T) {
	participants := samplePopulation()
	for _, p := range participants {
		p.Derived = Derive(p)
	}
	kept, steps := Apply(participants, EligibilityCriteria())
	if len(kept) != 2 {
		t.Fatalf("kept = %d, want 2", len(kept))
	}
	if len(steps) != 5 {
		t.Fatalf("steps = %d, want 5", len(steps))
	}
	wantNames := []string{
		"age >= 20 years",
		"fasting subsample weight present",
		"hs-CRP measured",
		"LDL-C derivable",
		"hs-CRP <= 10 mg/L",
	}
	wantExcluded := []int{1, 1, 1, 0, 1}
	wantRemaining := []int{5, 4, 3, 3, 2}
	for i, step := range steps {
		if step.Criterion != wantNames[i] {
			t.Errorf("step %d name = %q, want %q", i, step.Criterion, wantNames[i])
		}
		if step.Excluded != wantExcluded[i] || step.Remaining != wantRemaining[i] {
			t.Errorf("step %d = %d excluded / %d remaining, want %d/%d",
				i, step.Excluded, step.Remaining, wantExcluded[i], wantRemaining[i])
		}
	}
}

func TestBuildPrimaryCohort(t *testing.T) {
	def, ok := DefinitionByName(CohortPrimary)
	if !ok {
		t.Fatal("primary definition missing")
	}
	c := Build(def, samplePopulation())
	if c.Name != CohortPrimary {
		t.Fatalf("name = %s", c.Name)
	}
	if c.SourceN != 6 {
		t.Fatalf("sourceN = %d, want 6", c.SourceN)
	}
	if len(c.MemberSEQNs) != 1 || c.MemberSEQNs[0] != 6 {
		t.Fatalf("members = %v, want [6]", c.MemberSEQNs)
	}
	if len(c.Exclusions) != 7 {
		t.Fatalf("exclusion steps = %d, want 7", len(c.Exclusions))
	}
	last := c.Exclusions[len(c.Exclusions)-1]
	if last.Criterion != "LDL-C < 70 mg/dL" || last.Remaining != 1 {
		t.Fatalf("last step = %+v", last)
	}
}

func TestBuildStatinUsersCohort(t *testing.T) {
	participants := samplePopulation()
	// Drop statins from the high-LDL participant so the statin filter bites.
	participants[4].Medications = nil

	def, _ := DefinitionByName(CohortStatinUsers)
	c := Build(def, participants)
	if len(c.MemberSEQNs) != 1 || c.MemberSEQNs[0] != 6 {
		t.Fatalf("members = %v, want [6]", c.MemberSEQNs)
	}
}

func TestThresholdOverridesChangeMembership(t *testing.T) {
	th := DefaultThresholds()
	th.LDLPrimary = 95

	def, ok := DefinitionByNameWith(CohortPrimary, th)
	if !ok {
		t.Fatal("primary definition missing")
	}
	// The relaxed cut admits the LDL 90 participant alongside the LDL 50 one.
	c := BuildWith(def, samplePopulation(), th)
	if len(c.MemberSEQNs) != 2 || c.MemberSEQNs[0] != 5 || c.MemberSEQNs[1] != 6 {
		t.Fatalf("members = %v, want [5 6]", c.MemberSEQNs)
	}
	last := c.Exclusions[len(c.Exclusions)-1]
	if last.Criterion != "LDL-C < 95 mg/dL" {
		t.Fatalf("last step = %+v", last)
	}
}

func TestDeriveWithCustomCRPCut(t *testing.T) {
	th := DefaultThresholds()
	th.CRPElevated = 3

	p := &domain.Participant{HSCRP: f(2.4)}
	d := DeriveWith(p, th)
	if d.CRPElevated == nil || *d.CRPElevated {
		t.Fatalf("CRPElevated = %v, want false under the 3 mg/L cut", d.CRPElevated)
	}
	d = Derive(p)
	if d.CRPElevated == nil || !*d.CRPElevated {
		t.Fatalf("CRPElevated = %v, want true under the default cut", d.CRPElevated)
	}
}

func TestDefinitionByNameUnknown(t *testing.T) {
	if _, ok := DefinitionByName("bogus"); ok {
		t.Fatal("unknown definition should not resolve")
	}
}

func TestDefinitionsAreIndependent(t *testing.T) {
	defs := Definitions()
	if len(defs) != 4 {
		t.Fatalf("definitions = %d, want 4", len(defs))
	}
	// The shared eligibility slice must not leak appends across definitions.
	if len(defs[0].Criteria) != 5 || len(defs[1].Criteria) != 6 || len(defs[2].Criteria) != 7 {
		t.Fatalf("criteria lengths = %d/%d/%d", len(defs[0].Criteria), len(defs[1].Criteria), len(defs[2].Criteria))
	}
}
