package survey

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"rircore/pkg/domain"
)

// CIMethod selects the confidence interval transform for proportions.
type CIMethod string

const (
	// CIWald computes a symmetric interval on the probability scale.
	CIWald CIMethod = "wald"
	// CILogit computes the interval on the log-odds scale and back-transforms,
	// keeping bounds inside (0, 1).
	CILogit CIMethod = "logit"
)

// Options tunes estimation behaviour.
type Options struct {
	// Domain restricts estimation to observations where the indicator is
	// true. All PSUs stay in the variance computation with zero scores
	// outside the domain. Nil means the full sample.
	Domain []bool
	// CILevel is the confidence level; defaults to 0.95.
	CILevel float64
	// CIMethod applies to Proportion only; defaults to CILogit.
	CIMethod CIMethod
}

func (o Options) level() float64 {
	if o.CILevel <= 0 || o.CILevel >= 1 {
		return 0.95
	}
	return o.CILevel
}

// tQuantile returns the two-sided critical value for the given level and
// degrees of freedom.
func tQuantile(level float64, df int) float64 {
	if df <= 0 {
		return math.NaN()
	}
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}
	return dist.Quantile(1 - (1-level)/2)
}

// Mean computes the survey-weighted mean of values with a Taylor-linearized
// standard error. NaN values are treated as missing and excluded from the
// estimation domain; their PSUs still anchor the variance structure.
func (d *Design) Mean(values []float64, opts Options) (domain.Estimate, error) {
	if len(values) != len(d.obs) {
		return domain.Estimate{}, fmt.Errorf("survey: value vector length %d does not match design length %d", len(values), len(d.obs))
	}
	include, err := d.inclusion(values, opts.Domain)
	if err != nil {
		return domain.Estimate{}, err
	}

	var sumW, sumWY float64
	n := 0
	for i, o := range d.obs {
		if !include[i] {
			continue
		}
		sumW += o.Weight
		sumWY += o.Weight * values[i]
		n++
	}
	if n == 0 || sumW == 0 {
		return domain.Estimate{}, errors.New("survey: empty estimation domain")
	}
	mean := sumWY / sumW

	scores := make([]float64, len(d.obs))
	for i, o := range d.obs {
		if !include[i] {
			continue
		}
		scores[i] = o.Weight * (values[i] - mean) / sumW
	}
	variance, err := d.varianceOfScores(scores)
	if err != nil {
		return domain.Estimate{}, err
	}
	se := math.Sqrt(variance)

	level := opts.level()
	tcrit := tQuantile(level, d.df)
	est := domain.Estimate{
		Method:    "mean",
		Value:     mean,
		SE:        se,
		CILower:   mean - tcrit*se,
		CIUpper:   mean + tcrit*se,
		CILevel:   level,
		DF:        d.df,
		N:         n,
		WeightedN: sumW,
	}
	return est, nil
}

// Proportion computes the survey-weighted prevalence of a binary indicator.
// The default interval uses the logit transform, matching the conventional
// approach for survey prevalences near 0 or 1.
func (d *Design) Proportion(indicator []bool, opts Options) (domain.Estimate, error) {
	if len(indicator) != len(d.obs) {
		return domain.Estimate{}, fmt.Errorf("survey: indicator length %d does not match design length %d", len(indicator), len(d.obs))
	}
	values := make([]float64, len(indicator))
	for i, v := range indicator {
		if v {
			values[i] = 1
		}
	}
	est, err := d.Mean(values, Options{Domain: opts.Domain, CILevel: opts.CILevel})
	if err != nil {
		return domain.Estimate{}, err
	}
	est.Method = "proportion"

	method := opts.CIMethod
	if method == "" {
		method = CILogit
	}
	if method == CIWald {
		return est, nil
	}

	p := est.Value
	level := opts.level()
	switch {
	case p <= 0:
		est.CILower, est.CIUpper = 0, 0
	case p >= 1:
		est.CILower, est.CIUpper = 1, 1
	default:
		logit := math.Log(p / (1 - p))
		seLogit := est.SE / (p * (1 - p))
		tcrit := tQuantile(level, d.df)
		lo := logit - tcrit*seLogit
		hi := logit + tcrit*seLogit
		est.CILower = 1 / (1 + math.Exp(-lo))
		est.CIUpper = 1 / (1 + math.Exp(-hi))
	}
	return est, nil
}

// Total computes the survey-weighted population total of values.
func (d *Design) Total(values []float64, opts Options) (domain.Estimate, error) {
	if len(values) != len(d.obs) {
		return domain.Estimate{}, fmt.Errorf("survey: value vector length %d does not match design length %d", len(values), len(d.obs))
	}
	include, err := d.inclusion(values, opts.Domain)
	if err != nil {
		return domain.Estimate{}, err
	}

	var total, sumW float64
	n := 0
	scores := make([]float64, len(d.obs))
	for i, o := range d.obs {
		if !include[i] {
			continue
		}
		total += o.Weight * values[i]
		sumW += o.Weight
		scores[i] = o.Weight * values[i]
		n++
	}
	if n == 0 {
		return domain.Estimate{}, errors.New("survey: empty estimation domain")
	}
	variance, err := d.varianceOfScores(scores)
	if err != nil {
		return domain.Estimate{}, err
	}
	se := math.Sqrt(variance)

	level := opts.level()
	tcrit := tQuantile(level, d.df)
	return domain.Estimate{
		Method:    "total",
		Value:     total,
		SE:        se,
		CILower:   total - tcrit*se,
		CIUpper:   total + tcrit*se,
		CILevel:   level,
		DF:        d.df,
		N:         n,
		WeightedN: sumW,
	}, nil
}

// PopulationSize estimates the weighted population count of the domain.
func (d *Design) PopulationSize(opts Options) (domain.Estimate, error) {
	values := make([]float64, len(d.obs))
	for i := range values {
		values[i] = 1
	}
	est, err := d.Total(values, opts)
	if err != nil {
		return domain.Estimate{}, err
	}
	est.Method = "population_size"
	return est, nil
}

// MeanByGroup computes domain means for each distinct group label. Empty
// labels are skipped.
func (d *Design) MeanByGroup(values []float64, groups []string, opts Options) (map[string]domain.Estimate, error) {
	return d.byGroup(groups, opts, func(groupOpts Options) (domain.Estimate, error) {
		return d.Mean(values, groupOpts)
	})
}

// ProportionByGroup computes domain prevalences for each distinct group label.
func (d *Design) ProportionByGroup(indicator []bool, groups []string, opts Options) (map[string]domain.Estimate, error) {
	return d.byGroup(groups, opts, func(groupOpts Options) (domain.Estimate, error) {
		return d.Proportion(indicator, groupOpts)
	})
}

func (d *Design) byGroup(groups []string, opts Options, estimate func(Options) (domain.Estimate, error)) (map[string]domain.Estimate, error) {
	if len(groups) != len(d.obs) {
		return nil, fmt.Errorf("survey: group vector length %d does not match design length %d", len(groups), len(d.obs))
	}
	labels := make(map[string]struct{})
	for _, g := range groups {
		if g != "" {
			labels[g] = struct{}{}
		}
	}
	out := make(map[string]domain.Estimate, len(labels))
	for label := range labels {
		groupDomain := make([]bool, len(groups))
		for i, g := range groups {
			inBase := opts.Domain == nil || opts.Domain[i]
			groupDomain[i] = inBase && g == label
		}
		est, err := estimate(Options{Domain: groupDomain, CILevel: opts.CILevel, CIMethod: opts.CIMethod})
		if err != nil {
			return nil, fmt.Errorf("survey: group %s: %w", label, err)
		}
		est.Domain = label
		out[label] = est
	}
	return out, nil
}

// inclusion combines the domain indicator with missingness: an observation
// participates when it is inside the domain and its value is not NaN.
func (d *Design) inclusion(values []float64, dom []bool) ([]bool, error) {
	if dom != nil && len(dom) != len(d.obs) {
		return nil, fmt.Errorf("survey: domain length %d does not match design length %d", len(dom), len(d.obs))
	}
	include := make([]bool, len(d.obs))
	for i := range d.obs {
		inDomain := dom == nil || dom[i]
		include[i] = inDomain && !math.IsNaN(values[i])
	}
	return include, nil
}
