// Package glm fits survey-weighted logistic regression models. Coefficients
// maximize the weighted pseudo-likelihood via iteratively reweighted least
// squares; standard errors use a design-based sandwich estimator with
// stratified between-PSU score covariance.
package glm

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"rircore/internal/survey"
)

// Covariate is one named model column aligned with the design observations.
// NaN values mark missingness; rows with any missing covariate or response
// drop out of the fit (complete-case analysis).
type Covariate struct {
	Name   string
	Values []float64
}

// Coefficient reports one fitted model term.
type Coefficient struct {
	Name    string  `json:"name"`
	Beta    float64 `json:"beta"`
	SE      float64 `json:"se"`
	TValue  float64 `json:"t_value"`
	PValue  float64 `json:"p_value"`
	OR      float64 `json:"or"`
	ORLower float64 `json:"or_lower"`
	ORUpper float64 `json:"or_upper"`
}

// Fit is a fitted survey-weighted logistic model.
type Fit struct {
	Coefficients []Coefficient `json:"coefficients"`
	N            int           `json:"n"`
	WeightedN    float64       `json:"weighted_n"`
	DF           int           `json:"df"`
	Iterations   int           `json:"iterations"`
	Converged    bool          `json:"converged"`
	CILevel      float64       `json:"ci_level"`

	cov *mat.Dense
}

// Coefficient returns the named term, if present.
func (f *Fit) Coefficient(name string) (Coefficient, bool) {
	for _, c := range f.Coefficients {
		if c.Name == name {
			return c, true
		}
	}
	return Coefficient{}, false
}

const (
	maxIterations = 25
	tolerance     = 1e-8

	// divergenceBound flags separation: a log odds ratio this large has no
	// clinical interpretation and keeps growing with further iterations.
	divergenceBound = 15.0
)

// ErrNoConvergence is returned when IRLS fails to converge within the
// iteration budget.
var ErrNoConvergence = errors.New("glm: no convergence")

// ErrSeparation is returned when a coefficient diverges, indicating the
// outcome is perfectly separated by a covariate.
var ErrSeparation = errors.New("glm: separated outcome")

// Config tunes the fit.
type Config struct {
	// CILevel is the confidence level for odds ratio intervals; defaults to 0.95.
	CILevel float64
	// Domain optionally restricts the fit to a subpopulation while keeping
	// the full design structure for variance estimation.
	Domain []bool
}

// Logistic fits outcome ~ intercept + covariates on the given design.
func Logistic(design *survey.Design, outcome []float64, covariates []Covariate, cfg Config) (*Fit, error) {
	n := design.Len()
	if len(outcome) != n {
		return nil, fmt.Errorf("glm: outcome length %d does not match design length %d", len(outcome), n)
	}
	if cfg.Domain != nil && len(cfg.Domain) != n {
		return nil, fmt.Errorf("glm: domain length %d does not match design length %d", len(cfg.Domain), n)
	}
	p := len(covariates) + 1

	// Complete-case inclusion: in-domain rows with observed outcome and covariates.
	include := make([]bool, n)
	used := 0
	for i := 0; i < n; i++ {
		ok := (cfg.Domain == nil || cfg.Domain[i]) && !math.IsNaN(outcome[i])
		if ok {
			for _, cov := range covariates {
				if len(cov.Values) != n {
					return nil, fmt.Errorf("glm: covariate %s length %d does not match design length %d", cov.Name, len(cov.Values), n)
				}
				if math.IsNaN(cov.Values[i]) {
					ok = false
					break
				}
			}
		}
		include[i] = ok
		if ok {
			used++
		}
	}
	if used < p {
		return nil, fmt.Errorf("glm: %d usable observations for %d parameters", used, p)
	}

	weights := design.Weights()
	var weightedN float64
	for i := 0; i < n; i++ {
		if include[i] {
			weightedN += weights[i]
		}
	}

	for i := 0; i < n; i++ {
		if include[i] && outcome[i] != 0 && outcome[i] != 1 {
			return nil, fmt.Errorf("glm: outcome must be binary, found %v", outcome[i])
		}
	}

	// Model matrix with intercept first.
	x := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, 1)
		for j, cov := range covariates {
			v := cov.Values[i]
			if !include[i] {
				v = 0
			}
			x.Set(i, j+1, v)
		}
	}

	names := make([]string, p)
	names[0] = "(Intercept)"
	for j, c := range covariates {
		names[j+1] = c.Name
	}

	beta := make([]float64, p)
	mu := make([]float64, n)
	eta := make([]float64, n)
	converged := false
	iterations := 0

	xtwx := mat.NewDense(p, p, nil)
	xtwz := mat.NewVecDense(p, nil)

	for iter := 0; iter < maxIterations; iter++ {
		iterations = iter + 1

		for i := 0; i < n; i++ {
			if !include[i] {
				continue
			}
			e := 0.0
			for j := 0; j < p; j++ {
				e += x.At(i, j) * beta[j]
			}
			eta[i] = e
			mu[i] = 1 / (1 + math.Exp(-e))
			// Clamp fitted probabilities away from the boundary to keep the
			// working weights finite under separation.
			if mu[i] < 1e-10 {
				mu[i] = 1e-10
			}
			if mu[i] > 1-1e-10 {
				mu[i] = 1 - 1e-10
			}
		}

		xtwx.Zero()
		xtwz.Zero()
		for i := 0; i < n; i++ {
			if !include[i] {
				continue
			}
			v := mu[i] * (1 - mu[i])
			wi := weights[i] * v
			z := eta[i] + (outcome[i]-mu[i])/v
			for r := 0; r < p; r++ {
				xir := x.At(i, r)
				xtwz.SetVec(r, xtwz.AtVec(r)+wi*xir*z)
				for c := r; c < p; c++ {
					xtwx.Set(r, c, xtwx.At(r, c)+wi*xir*x.At(i, c))
				}
			}
		}
		for r := 0; r < p; r++ {
			for c := 0; c < r; c++ {
				xtwx.Set(r, c, xtwx.At(c, r))
			}
		}

		next := mat.NewVecDense(p, nil)
		if err := next.SolveVec(xtwx, xtwz); err != nil {
			return nil, fmt.Errorf("glm: singular information matrix: %w", err)
		}

		maxDelta := 0.0
		for j := 0; j < p; j++ {
			delta := math.Abs(next.AtVec(j) - beta[j])
			if delta > maxDelta {
				maxDelta = delta
			}
			beta[j] = next.AtVec(j)
		}
		if maxDelta < tolerance {
			converged = true
			break
		}
	}

	for j, b := range beta {
		if math.Abs(b) > divergenceBound {
			return nil, fmt.Errorf("%w: coefficient %s diverged (|beta| = %.1f)", ErrSeparation, names[j], math.Abs(b))
		}
	}
	if !converged {
		return nil, fmt.Errorf("%w after %d iterations", ErrNoConvergence, iterations)
	}

	// Recompute fitted values at the final coefficients.
	for i := 0; i < n; i++ {
		if !include[i] {
			continue
		}
		e := 0.0
		for j := 0; j < p; j++ {
			e += x.At(i, j) * beta[j]
		}
		mu[i] = 1 / (1 + math.Exp(-e))
	}

	cov, err := sandwich(design, x, outcome, mu, weights, include, p)
	if err != nil {
		return nil, err
	}

	level := cfg.CILevel
	if level <= 0 || level >= 1 {
		level = 0.95
	}
	df := design.DegreesOfFreedom()
	if df <= 0 {
		return nil, errors.New("glm: nonpositive design degrees of freedom")
	}
	tdist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}
	tcrit := tdist.Quantile(1 - (1-level)/2)

	coeffs := make([]Coefficient, p)
	for j := 0; j < p; j++ {
		se := math.Sqrt(cov.At(j, j))
		t := beta[j] / se
		pval := 2 * tdist.Survival(math.Abs(t))
		coeffs[j] = Coefficient{
			Name:    names[j],
			Beta:    beta[j],
			SE:      se,
			TValue:  t,
			PValue:  pval,
			OR:      math.Exp(beta[j]),
			ORLower: math.Exp(beta[j] - tcrit*se),
			ORUpper: math.Exp(beta[j] + tcrit*se),
		}
	}

	return &Fit{
		Coefficients: coeffs,
		N:            used,
		WeightedN:    weightedN,
		DF:           df,
		Iterations:   iterations,
		Converged:    converged,
		CILevel:      level,
		cov:          cov,
	}, nil
}

// WaldTest computes a joint Wald chi-squared test that the named
// coefficients are simultaneously zero, used for multi-level categorical
// terms. It returns the chi-squared statistic and its p-value on
// len(names) degrees of freedom.
func (f *Fit) WaldTest(names ...string) (stat, pvalue float64, err error) {
	if f.cov == nil {
		return 0, 0, errors.New("glm: fit carries no covariance matrix")
	}
	idx := make([]int, 0, len(names))
	for _, name := range names {
		found := -1
		for j, c := range f.Coefficients {
			if c.Name == name {
				found = j
				break
			}
		}
		if found < 0 {
			return 0, 0, fmt.Errorf("glm: coefficient %s not in model", name)
		}
		idx = append(idx, found)
	}
	if len(idx) == 0 {
		return 0, 0, errors.New("glm: no coefficients named for Wald test")
	}

	k := len(idx)
	sub := mat.NewDense(k, k, nil)
	b := mat.NewVecDense(k, nil)
	for r, ir := range idx {
		b.SetVec(r, f.Coefficients[ir].Beta)
		for c, ic := range idx {
			sub.Set(r, c, f.cov.At(ir, ic))
		}
	}
	var inv mat.Dense
	if err := inv.Inverse(sub); err != nil {
		return 0, 0, fmt.Errorf("glm: covariance submatrix not invertible: %w", err)
	}
	var tmp mat.VecDense
	tmp.MulVec(&inv, b)
	stat = mat.Dot(b, &tmp)
	chi := distuv.ChiSquared{K: float64(k)}
	return stat, chi.Survival(stat), nil
}

// sandwich computes A^{-1} B A^{-1} where A is the weighted information
// matrix and B the stratified between-PSU covariance of the score vectors
// s_i = w_i x_i (y_i - mu_i).
func sandwich(design *survey.Design, x *mat.Dense, y, mu, weights []float64, include []bool, p int) (*mat.Dense, error) {
	n := len(y)

	a := mat.NewDense(p, p, nil)
	for i := 0; i < n; i++ {
		if !include[i] {
			continue
		}
		wi := weights[i] * mu[i] * (1 - mu[i])
		for r := 0; r < p; r++ {
			for c := r; c < p; c++ {
				a.Set(r, c, a.At(r, c)+wi*x.At(i, r)*x.At(i, c))
			}
		}
	}
	for r := 0; r < p; r++ {
		for c := 0; c < r; c++ {
			a.Set(r, c, a.At(c, r))
		}
	}

	scores := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, p)
		if include[i] {
			resid := weights[i] * (y[i] - mu[i])
			for j := 0; j < p; j++ {
				row[j] = resid * x.At(i, j)
			}
		}
		scores[i] = row
	}
	b, err := design.ScoreCovariance(scores)
	if err != nil {
		return nil, err
	}
	bm := mat.NewDense(p, p, nil)
	for r := 0; r < p; r++ {
		for c := 0; c < p; c++ {
			bm.Set(r, c, b[r][c])
		}
	}

	var ainv mat.Dense
	if err := ainv.Inverse(a); err != nil {
		return nil, fmt.Errorf("glm: information matrix not invertible: %w", err)
	}
	var tmp, out mat.Dense
	tmp.Mul(&ainv, bm)
	out.Mul(&tmp, &ainv)
	return &out, nil
}
