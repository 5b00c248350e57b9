// Package survey implements design-based estimation for complex samples:
// stratified, clustered, weighted data with Taylor-series linearized
// variances. Point estimates use the full sampling weights; variances follow
// the with-replacement approximation, aggregating linearized scores to PSU
// totals within strata.
package survey

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"rircore/pkg/domain"
)

// Observation is a single design row: one participant's stratum, PSU, and
// analysis weight.
type Observation struct {
	SEQN    int64
	Stratum string
	PSU     string
	Weight  float64
}

// Design binds observations to their sampling structure. A Design is
// immutable once constructed; estimation methods accept response vectors
// aligned with the observation order.
type Design struct {
	obs    []Observation
	policy domain.LonelyPSUPolicy

	strata    []string
	psusByStr map[string][]string
	totalPSUs int
	df        int
}

// ErrLonelyPSU is returned when a singleton stratum is encountered under the
// fail policy.
var ErrLonelyPSU = errors.New("survey: stratum with a single PSU")

// New constructs a design from observations. Weights must be positive and
// stratum/PSU identifiers non-empty. Under the fail policy construction
// rejects singleton strata outright.
func New(obs []Observation, policy domain.LonelyPSUPolicy) (*Design, error) {
	if len(obs) == 0 {
		return nil, errors.New("survey: design requires at least one observation")
	}
	if policy == "" {
		policy = domain.LonelyPSUAdjust
	}
	switch policy {
	case domain.LonelyPSUAdjust, domain.LonelyPSUCertainty, domain.LonelyPSUFail:
	default:
		return nil, fmt.Errorf("survey: unknown lonely PSU policy %q", policy)
	}

	psuSet := make(map[string]map[string]struct{})
	for i, o := range obs {
		if o.Stratum == "" || o.PSU == "" {
			return nil, fmt.Errorf("survey: observation %d is missing stratum or PSU", i)
		}
		if o.Weight <= 0 || math.IsNaN(o.Weight) || math.IsInf(o.Weight, 0) {
			return nil, fmt.Errorf("survey: observation %d has invalid weight %v", i, o.Weight)
		}
		if psuSet[o.Stratum] == nil {
			psuSet[o.Stratum] = make(map[string]struct{})
		}
		psuSet[o.Stratum][o.PSU] = struct{}{}
	}

	strata := make([]string, 0, len(psuSet))
	for stratum := range psuSet {
		strata = append(strata, stratum)
	}
	sort.Strings(strata)

	psusByStr := make(map[string][]string, len(strata))
	totalPSUs := 0
	for _, stratum := range strata {
		psus := make([]string, 0, len(psuSet[stratum]))
		for psu := range psuSet[stratum] {
			psus = append(psus, psu)
		}
		sort.Strings(psus)
		if len(psus) == 1 && policy == domain.LonelyPSUFail {
			return nil, fmt.Errorf("%w: stratum %s", ErrLonelyPSU, stratum)
		}
		psusByStr[stratum] = psus
		totalPSUs += len(psus)
	}

	// Design degrees of freedom never drop below 1, even when every
	// stratum is a singleton; t quantiles are undefined at df = 0.
	df := totalPSUs - len(strata)
	if df < 1 {
		df = 1
	}

	d := &Design{
		obs:       append([]Observation(nil), obs...),
		policy:    policy,
		strata:    strata,
		psusByStr: psusByStr,
		totalPSUs: totalPSUs,
		df:        df,
	}
	return d, nil
}

// FromParticipants builds a design from participant records using the given
// weight variable.
func FromParticipants(participants []domain.Participant, weight domain.WeightVariable, policy domain.LonelyPSUPolicy) (*Design, error) {
	obs := make([]Observation, 0, len(participants))
	for _, p := range participants {
		var w *float64
		switch weight {
		case domain.WeightInterview:
			w = p.InterviewWeight
		case domain.WeightExam:
			w = p.ExamWeight
		case domain.WeightFasting:
			w = p.FastingWeight
		default:
			return nil, fmt.Errorf("survey: unknown weight variable %q", weight)
		}
		if w == nil {
			return nil, fmt.Errorf("survey: participant %d lacks %s weight", p.SEQN, weight)
		}
		obs = append(obs, Observation{SEQN: p.SEQN, Stratum: p.Stratum, PSU: p.PSU, Weight: *w})
	}
	return New(obs, policy)
}

// Len returns the number of observations in the design.
func (d *Design) Len() int { return len(d.obs) }

// DegreesOfFreedom returns the design degrees of freedom (PSUs minus strata).
func (d *Design) DegreesOfFreedom() int { return d.df }

// TotalPSUs returns the number of distinct PSUs across strata.
func (d *Design) TotalPSUs() int { return d.totalPSUs }

// TotalStrata returns the number of distinct strata.
func (d *Design) TotalStrata() int { return len(d.strata) }

// Policy returns the lonely PSU policy in force.
func (d *Design) Policy() domain.LonelyPSUPolicy { return d.policy }

// Observations returns a copy of the design rows.
func (d *Design) Observations() []Observation {
	return append([]Observation(nil), d.obs...)
}

// Weights returns the analysis weights aligned with the observation order.
func (d *Design) Weights() []float64 {
	out := make([]float64, len(d.obs))
	for i, o := range d.obs {
		out[i] = o.Weight
	}
	return out
}

// Summaries returns per-stratum PSU counts, sample sizes, and weight sums in
// stratum order, suitable for persisting on a domain.SurveyDesign record.
func (d *Design) Summaries() []domain.StratumSummary {
	n := make(map[string]int, len(d.strata))
	weightSum := make(map[string]float64, len(d.strata))
	for _, o := range d.obs {
		n[o.Stratum]++
		weightSum[o.Stratum] += o.Weight
	}
	out := make([]domain.StratumSummary, 0, len(d.strata))
	for _, stratum := range d.strata {
		out = append(out, domain.StratumSummary{
			Stratum:   stratum,
			PSUCount:  len(d.psusByStr[stratum]),
			N:         n[stratum],
			WeightSum: weightSum[stratum],
		})
	}
	return out
}

// ScoreCovariance generalizes the stratified between-PSU variance to vector
// scores: scores[i] is the p-dimensional linearized score of observation i,
// and the result is the p-by-p covariance of the estimated totals. Singleton
// strata follow the design's lonely PSU policy.
func (d *Design) ScoreCovariance(scores [][]float64) ([][]float64, error) {
	if len(scores) != len(d.obs) {
		return nil, fmt.Errorf("survey: score matrix length %d does not match design length %d", len(scores), len(d.obs))
	}
	if len(scores) == 0 {
		return nil, errors.New("survey: empty score matrix")
	}
	p := len(scores[0])

	psuTotals := make(map[string]map[string][]float64, len(d.strata))
	for i, o := range d.obs {
		if len(scores[i]) != p {
			return nil, fmt.Errorf("survey: ragged score matrix at row %d", i)
		}
		if psuTotals[o.Stratum] == nil {
			psuTotals[o.Stratum] = make(map[string][]float64)
		}
		total := psuTotals[o.Stratum][o.PSU]
		if total == nil {
			total = make([]float64, p)
			psuTotals[o.Stratum][o.PSU] = total
		}
		for k := 0; k < p; k++ {
			total[k] += scores[i][k]
		}
	}

	grandMean := make([]float64, p)
	grandCount := 0
	for _, totals := range psuTotals {
		for _, t := range totals {
			for k := 0; k < p; k++ {
				grandMean[k] += t[k]
			}
			grandCount++
		}
	}
	if grandCount > 0 {
		for k := 0; k < p; k++ {
			grandMean[k] /= float64(grandCount)
		}
	}

	cov := make([][]float64, p)
	for k := range cov {
		cov[k] = make([]float64, p)
	}
	accumulate := func(dev []float64, factor float64) {
		for r := 0; r < p; r++ {
			for c := 0; c < p; c++ {
				cov[r][c] += factor * dev[r] * dev[c]
			}
		}
	}

	for _, stratum := range d.strata {
		psus := d.psusByStr[stratum]
		totals := psuTotals[stratum]
		nh := len(psus)
		if nh == 1 {
			switch d.policy {
			case domain.LonelyPSUCertainty:
				continue
			case domain.LonelyPSUFail:
				return nil, fmt.Errorf("%w: stratum %s", ErrLonelyPSU, stratum)
			default:
				dev := make([]float64, p)
				total := totals[psus[0]]
				for k := 0; k < p; k++ {
					dev[k] = total[k] - grandMean[k]
				}
				accumulate(dev, 1)
			}
			continue
		}
		mean := make([]float64, p)
		for _, psu := range psus {
			for k := 0; k < p; k++ {
				mean[k] += totals[psu][k]
			}
		}
		for k := 0; k < p; k++ {
			mean[k] /= float64(nh)
		}
		factor := float64(nh) / float64(nh-1)
		for _, psu := range psus {
			dev := make([]float64, p)
			for k := 0; k < p; k++ {
				dev[k] = totals[psu][k] - mean[k]
			}
			accumulate(dev, factor)
		}
	}
	return cov, nil
}

// varianceOfScores aggregates per-observation linearized scores to PSU totals
// and accumulates the stratified between-PSU variance. Singleton strata are
// handled per the design's lonely PSU policy: adjust centers the lone PSU
// total at the grand mean of all PSU totals, certainty contributes zero.
func (d *Design) varianceOfScores(scores []float64) (float64, error) {
	if len(scores) != len(d.obs) {
		return 0, fmt.Errorf("survey: score vector length %d does not match design length %d", len(scores), len(d.obs))
	}

	psuTotals := make(map[string]map[string]float64, len(d.strata))
	for i, o := range d.obs {
		if psuTotals[o.Stratum] == nil {
			psuTotals[o.Stratum] = make(map[string]float64)
		}
		psuTotals[o.Stratum][o.PSU] += scores[i]
	}

	var grandSum float64
	var grandCount int
	for _, totals := range psuTotals {
		for _, t := range totals {
			grandSum += t
			grandCount++
		}
	}
	grandMean := 0.0
	if grandCount > 0 {
		grandMean = grandSum / float64(grandCount)
	}

	variance := 0.0
	for _, stratum := range d.strata {
		psus := d.psusByStr[stratum]
		totals := psuTotals[stratum]
		nh := len(psus)
		if nh == 1 {
			switch d.policy {
			case domain.LonelyPSUCertainty:
				continue
			case domain.LonelyPSUFail:
				return 0, fmt.Errorf("%w: stratum %s", ErrLonelyPSU, stratum)
			default:
				dev := totals[psus[0]] - grandMean
				variance += dev * dev
			}
			continue
		}
		mean := 0.0
		for _, psu := range psus {
			mean += totals[psu]
		}
		mean /= float64(nh)
		ss := 0.0
		for _, psu := range psus {
			dev := totals[psu] - mean
			ss += dev * dev
		}
		variance += float64(nh) / float64(nh-1) * ss
	}
	return variance, nil
}
