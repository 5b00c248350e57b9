// Package report renders stored analysis runs into manuscript artifacts:
// JSON, CSV, Markdown and HTML tables, and PNG figures.
package report

import (
	"fmt"
	"math"
	"strconv"

	"rircore/pkg/domain"
)

// pValueFloor is the smallest p-value printed exactly; anything below is
// reported as "<0.001".
const pValueFloor = 0.001

// FormatPValue renders a p-value in manuscript style.
func FormatPValue(p float64) string {
	if math.IsNaN(p) {
		return ""
	}
	if p < pValueFloor {
		return "<0.001"
	}
	if p < 0.01 {
		return fmt.Sprintf("%.3f", p)
	}
	return fmt.Sprintf("%.2f", p)
}

// FormatPercent renders a proportion as a percentage with one decimal.
func FormatPercent(p float64) string {
	if math.IsNaN(p) {
		return ""
	}
	return fmt.Sprintf("%.1f", p*100)
}

// FormatEstimate renders a point estimate with its confidence interval, for
// example "12.3 (10.1, 14.5)".
func FormatEstimate(value, lower, upper float64, decimals int) string {
	if math.IsNaN(value) {
		return ""
	}
	return fmt.Sprintf("%.*f (%.*f, %.*f)", decimals, value, decimals, lower, decimals, upper)
}

// FormatPrevalence renders a proportion estimate as a percent with its
// interval.
func FormatPrevalence(est domain.Estimate) string {
	return FormatEstimate(est.Value*100, est.CILower*100, est.CIUpper*100, 1)
}

// FormatOddsRatio renders an odds ratio estimate with two decimals.
func FormatOddsRatio(est domain.Estimate) string {
	return FormatEstimate(est.Value, est.CILower, est.CIUpper, 2)
}

// formatCell renders one table cell for the text renderers.
func formatCell(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case bool:
		return strconv.FormatBool(value)
	case int:
		return strconv.Itoa(value)
	case int64:
		return strconv.FormatInt(value, 10)
	case float64:
		if math.IsNaN(value) {
			return ""
		}
		return strconv.FormatFloat(value, 'g', 6, 64)
	case float32:
		return strconv.FormatFloat(float64(value), 'g', 6, 32)
	case fmt.Stringer:
		return value.String()
	default:
		return fmt.Sprintf("%v", value)
	}
}
