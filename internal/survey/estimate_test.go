package survey

import (
	"errors"
	"math"
	"testing"

	"rircore/pkg/domain"
)

func twoStrataDesign(t *testing.T) *Design {
	t.Helper()
	obs := []Observation{
		{SEQN: 1, Stratum: "A", PSU: "1", Weight: 1},
		{SEQN: 2, Stratum: "A", PSU: "2", Weight: 1},
		{SEQN: 3, Stratum: "B", PSU: "1", Weight: 1},
		{SEQN: 4, Stratum: "B", PSU: "2", Weight: 1},
	}
	d, err := New(obs, domain.LonelyPSUAdjust)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestDesignStructure(t *testing.T) {
	d := twoStrataDesign(t)
	if d.Len() != 4 {
		t.Fatalf("Len = %d, want 4", d.Len())
	}
	if d.TotalStrata() != 2 || d.TotalPSUs() != 4 {
		t.Fatalf("strata/PSUs = %d/%d, want 2/4", d.TotalStrata(), d.TotalPSUs())
	}
	if d.DegreesOfFreedom() != 2 {
		t.Fatalf("df = %d, want 2", d.DegreesOfFreedom())
	}
	summaries := d.Summaries()
	if len(summaries) != 2 {
		t.Fatalf("summaries = %d, want 2", len(summaries))
	}
	if summaries[0].Stratum != "A" || summaries[0].PSUCount != 2 || summaries[0].N != 2 || summaries[0].WeightSum != 2 {
		t.Fatalf("unexpected stratum A summary %+v", summaries[0])
	}
}

func TestNewRejectsInvalidObservations(t *testing.T) {
	if _, err := New(nil, domain.LonelyPSUAdjust); err == nil {
		t.Fatal("expected error for empty design")
	}
	if _, err := New([]Observation{{Stratum: "A", PSU: "1", Weight: 0}}, domain.LonelyPSUAdjust); err == nil {
		t.Fatal("expected error for zero weight")
	}
	if _, err := New([]Observation{{Stratum: "", PSU: "1", Weight: 1}}, domain.LonelyPSUAdjust); err == nil {
		t.Fatal("expected error for missing stratum")
	}
	if _, err := New([]Observation{{Stratum: "A", PSU: "1", Weight: 1}}, "bogus"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestMeanLinearizedVariance(t *testing.T) {
	d := twoStrataDesign(t)
	// One observation per PSU makes the variance hand-checkable:
	// scores (y-4)/4 give PSU totals -3/4, -1/4, 1/4, 3/4 and a
	// between-PSU variance of 0.25 per stratum.
	est, err := d.Mean([]float64{1, 3, 5, 7}, Options{})
	if err != nil {
		t.Fatalf("Mean: %v", err)
	}
	if est.Value != 4 {
		t.Fatalf("mean = %v, want 4", est.Value)
	}
	if !almostEqual(est.SE, math.Sqrt(0.5), 1e-12) {
		t.Fatalf("se = %v, want sqrt(0.5)", est.SE)
	}
	if est.DF != 2 || est.N != 4 || est.WeightedN != 4 {
		t.Fatalf("df/n/weightedN = %d/%d/%v", est.DF, est.N, est.WeightedN)
	}
	// t(0.975, 2) = 4.302653.
	halfWidth := 4.302653 * est.SE
	if !almostEqual(est.CILower, 4-halfWidth, 1e-4) || !almostEqual(est.CIUpper, 4+halfWidth, 1e-4) {
		t.Fatalf("CI = [%v, %v]", est.CILower, est.CIUpper)
	}
}

func TestMeanSkipsNaNValues(t *testing.T) {
	d := twoStrataDesign(t)
	est, err := d.Mean([]float64{math.NaN(), 3, 5, 7}, Options{})
	if err != nil {
		t.Fatalf("Mean: %v", err)
	}
	if est.Value != 5 || est.N != 3 {
		t.Fatalf("mean/n = %v/%d, want 5/3", est.Value, est.N)
	}
}

func TestProportionWald(t *testing.T) {
	d := twoStrataDesign(t)
	est, err := d.Proportion([]bool{true, false, true, false}, Options{CIMethod: CIWald})
	if err != nil {
		t.Fatalf("Proportion: %v", err)
	}
	if est.Value != 0.5 {
		t.Fatalf("proportion = %v, want 0.5", est.Value)
	}
	if !almostEqual(est.SE, math.Sqrt(0.125), 1e-12) {
		t.Fatalf("se = %v, want sqrt(0.125)", est.SE)
	}
	if est.Method != "proportion" {
		t.Fatalf("method = %s", est.Method)
	}
}

func TestProportionLogitBounds(t *testing.T) {
	d := twoStrataDesign(t)
	est, err := d.Proportion([]bool{true, false, true, false}, Options{})
	if err != nil {
		t.Fatalf("Proportion: %v", err)
	}
	if est.CILower <= 0 || est.CIUpper >= 1 {
		t.Fatalf("logit CI must stay inside (0,1): [%v, %v]", est.CILower, est.CIUpper)
	}
	if est.CILower >= est.Value || est.CIUpper <= est.Value {
		t.Fatalf("CI [%v, %v] does not bracket %v", est.CILower, est.CIUpper, est.Value)
	}
}

func TestDomainEstimationKeepsDesignStructure(t *testing.T) {
	d := twoStrataDesign(t)
	dom := []bool{false, false, true, true}
	est, err := d.Mean([]float64{1, 3, 5, 7}, Options{Domain: dom})
	if err != nil {
		t.Fatalf("Mean: %v", err)
	}
	if est.Value != 6 || est.N != 2 {
		t.Fatalf("domain mean/n = %v/%d, want 6/2", est.Value, est.N)
	}
	// The df come from the full design, not the domain subset.
	if est.DF != 2 {
		t.Fatalf("df = %d, want 2", est.DF)
	}
}

func TestByGroupEstimates(t *testing.T) {
	d := twoStrataDesign(t)
	groups := []string{"m", "f", "m", "f"}
	out, err := d.MeanByGroup([]float64{1, 3, 5, 7}, groups, Options{})
	if err != nil {
		t.Fatalf("MeanByGroup: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("groups = %d, want 2", len(out))
	}
	if out["m"].Value != 3 || out["f"].Value != 5 {
		t.Fatalf("group means = %v/%v, want 3/5", out["m"].Value, out["f"].Value)
	}
	if out["m"].Domain != "m" {
		t.Fatalf("domain label = %q", out["m"].Domain)
	}
}

func TestLonelyPSUPolicies(t *testing.T) {
	obs := []Observation{
		{SEQN: 1, Stratum: "A", PSU: "1", Weight: 1},
		{SEQN: 2, Stratum: "A", PSU: "2", Weight: 1},
		{SEQN: 3, Stratum: "B", PSU: "1", Weight: 1},
	}

	if _, err := New(obs, domain.LonelyPSUFail); !errors.Is(err, ErrLonelyPSU) {
		t.Fatalf("fail policy: err = %v, want ErrLonelyPSU", err)
	}

	adjust, err := New(obs, domain.LonelyPSUAdjust)
	if err != nil {
		t.Fatalf("adjust New: %v", err)
	}
	certainty, err := New(obs, domain.LonelyPSUCertainty)
	if err != nil {
		t.Fatalf("certainty New: %v", err)
	}

	values := []float64{1, 3, 8}
	estAdjust, err := adjust.Mean(values, Options{})
	if err != nil {
		t.Fatalf("adjust Mean: %v", err)
	}
	estCertainty, err := certainty.Mean(values, Options{})
	if err != nil {
		t.Fatalf("certainty Mean: %v", err)
	}
	// The lonely stratum contributes variance under adjust but not under
	// certainty, so the adjust SE must be strictly larger.
	if estAdjust.SE <= estCertainty.SE {
		t.Fatalf("adjust SE %v should exceed certainty SE %v", estAdjust.SE, estCertainty.SE)
	}
}

func TestSingletonStrataFloorDegreesOfFreedom(t *testing.T) {
	// Every stratum holds a single PSU, so PSUs - strata would be zero.
	obs := []Observation{
		{SEQN: 1, Stratum: "A", PSU: "1", Weight: 1},
		{SEQN: 2, Stratum: "B", PSU: "1", Weight: 1},
		{SEQN: 3, Stratum: "C", PSU: "1", Weight: 1},
	}
	d, err := New(obs, domain.LonelyPSUAdjust)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.DegreesOfFreedom() != 1 {
		t.Fatalf("df = %d, want 1", d.DegreesOfFreedom())
	}
	est, err := d.Mean([]float64{1, 2, 3}, Options{})
	if err != nil {
		t.Fatalf("Mean: %v", err)
	}
	if est.DF != 1 {
		t.Fatalf("estimate df = %d, want 1", est.DF)
	}
	if math.IsNaN(est.CILower) || math.IsNaN(est.CIUpper) {
		t.Fatalf("CI = [%v, %v], want finite bounds", est.CILower, est.CIUpper)
	}
	if est.CILower >= est.Value || est.CIUpper <= est.Value {
		t.Fatalf("CI [%v, %v] does not bracket %v", est.CILower, est.CIUpper, est.Value)
	}
}

func TestTotalAndPopulationSize(t *testing.T) {
	obs := []Observation{
		{SEQN: 1, Stratum: "A", PSU: "1", Weight: 2},
		{SEQN: 2, Stratum: "A", PSU: "2", Weight: 3},
		{SEQN: 3, Stratum: "B", PSU: "1", Weight: 4},
		{SEQN: 4, Stratum: "B", PSU: "2", Weight: 1},
	}
	d, err := New(obs, domain.LonelyPSUAdjust)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	total, err := d.Total([]float64{1, 1, 1, 1}, Options{})
	if err != nil {
		t.Fatalf("Total: %v", err)
	}
	if total.Value != 10 {
		t.Fatalf("total = %v, want 10", total.Value)
	}
	pop, err := d.PopulationSize(Options{})
	if err != nil {
		t.Fatalf("PopulationSize: %v", err)
	}
	if pop.Value != 10 || pop.Method != "population_size" {
		t.Fatalf("population = %v (%s)", pop.Value, pop.Method)
	}
}

func TestQuantileAndMedian(t *testing.T) {
	d := twoStrataDesign(t)
	values := []float64{1, 2, 3, 4}

	median, err := d.Median(values, Options{})
	if err != nil {
		t.Fatalf("Median: %v", err)
	}
	// Cumulative weight reaches exactly half the total at value 2, so the
	// median interpolates between the adjacent values.
	if median != 2.5 {
		t.Fatalf("median = %v, want 2.5", median)
	}

	q, err := d.Quantile(values, 1, Options{})
	if err != nil {
		t.Fatalf("Quantile: %v", err)
	}
	if q != 4 {
		t.Fatalf("max quantile = %v, want 4", q)
	}

	if _, err := d.Quantile(values, 1.5, Options{}); err == nil {
		t.Fatal("expected error for probability out of range")
	}

	q1, q3, err := d.IQR(values, Options{})
	if err != nil {
		t.Fatalf("IQR: %v", err)
	}
	// Quartile boundaries land on cumulative weights of 1 and 3, splitting
	// the difference with the adjacent values.
	if q1 != 1.5 || q3 != 3.5 {
		t.Fatalf("IQR = [%v, %v], want [1.5, 3.5]", q1, q3)
	}
}

func TestFromParticipants(t *testing.T) {
	w := 2.0
	participants := []domain.Participant{
		{SEQN: 10, Stratum: "A", PSU: "1", FastingWeight: &w},
		{SEQN: 11, Stratum: "A", PSU: "2", FastingWeight: &w},
	}
	d, err := FromParticipants(participants, domain.WeightFasting, domain.LonelyPSUAdjust)
	if err != nil {
		t.Fatalf("FromParticipants: %v", err)
	}
	if d.Len() != 2 {
		t.Fatalf("Len = %d, want 2", d.Len())
	}

	participants[1].FastingWeight = nil
	if _, err := FromParticipants(participants, domain.WeightFasting, domain.LonelyPSUAdjust); err == nil {
		t.Fatal("expected error for missing weight")
	}
	if _, err := FromParticipants(participants, "bogus", domain.LonelyPSUAdjust); err == nil {
		t.Fatal("expected error for unknown weight variable")
	}
}

func TestScoreCovarianceMatchesScalarVariance(t *testing.T) {
	d := twoStrataDesign(t)
	scores := []float64{-0.75, -0.25, 0.25, 0.75}
	scalar, err := d.varianceOfScores(scores)
	if err != nil {
		t.Fatalf("varianceOfScores: %v", err)
	}
	vector := make([][]float64, len(scores))
	for i, s := range scores {
		vector[i] = []float64{s}
	}
	cov, err := d.ScoreCovariance(vector)
	if err != nil {
		t.Fatalf("ScoreCovariance: %v", err)
	}
	if !almostEqual(cov[0][0], scalar, 1e-12) {
		t.Fatalf("cov[0][0] = %v, want %v", cov[0][0], scalar)
	}
}
