package survey

import (
	"errors"
	"fmt"
	"sort"
)

// Quantile computes a weighted quantile of values at probability p using
// cumulative-weight interpolation. NaN values are treated as missing.
func (d *Design) Quantile(values []float64, p float64, opts Options) (float64, error) {
	if len(values) != len(d.obs) {
		return 0, fmt.Errorf("survey: value vector length %d does not match design length %d", len(values), len(d.obs))
	}
	if p < 0 || p > 1 {
		return 0, fmt.Errorf("survey: quantile probability %v out of [0,1]", p)
	}
	include, err := d.inclusion(values, opts.Domain)
	if err != nil {
		return 0, err
	}

	type wv struct {
		value  float64
		weight float64
	}
	var rows []wv
	var totalW float64
	for i, o := range d.obs {
		if !include[i] {
			continue
		}
		rows = append(rows, wv{value: values[i], weight: o.Weight})
		totalW += o.Weight
	}
	if len(rows) == 0 || totalW == 0 {
		return 0, errors.New("survey: empty estimation domain")
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].value < rows[j].value })

	target := p * totalW
	cum := 0.0
	for i, row := range rows {
		cum += row.weight
		if cum < target {
			continue
		}
		if cum == target && i+1 < len(rows) {
			// The boundary falls exactly between adjacent values.
			return (row.value + rows[i+1].value) / 2, nil
		}
		return row.value, nil
	}
	return rows[len(rows)-1].value, nil
}

// Median is the weighted 50th percentile.
func (d *Design) Median(values []float64, opts Options) (float64, error) {
	return d.Quantile(values, 0.5, opts)
}

// IQR returns the weighted 25th and 75th percentiles.
func (d *Design) IQR(values []float64, opts Options) (q1, q3 float64, err error) {
	q1, err = d.Quantile(values, 0.25, opts)
	if err != nil {
		return 0, 0, err
	}
	q3, err = d.Quantile(values, 0.75, opts)
	if err != nil {
		return 0, 0, err
	}
	return q1, q3, nil
}
