package report

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"rircore/pkg/domain"
)

func TestFormatPValue(t *testing.T) {
	assert.Equal(t, "", FormatPValue(math.NaN()))
	assert.Equal(t, "<0.001", FormatPValue(0.0004))
	assert.Equal(t, "0.004", FormatPValue(0.004))
	assert.Equal(t, "0.05", FormatPValue(0.049))
	assert.Equal(t, "0.23", FormatPValue(0.234))
	assert.Equal(t, "1.00", FormatPValue(1))
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "12.3", FormatPercent(0.1234))
	assert.Equal(t, "0.0", FormatPercent(0))
	assert.Equal(t, "", FormatPercent(math.NaN()))
}

func TestFormatEstimate(t *testing.T) {
	assert.Equal(t, "12.3 (10.1, 14.5)", FormatEstimate(12.34, 10.12, 14.5, 1))
	assert.Equal(t, "1.25 (0.98, 1.60)", FormatEstimate(1.253, 0.981, 1.6, 2))
	assert.Equal(t, "", FormatEstimate(math.NaN(), 0, 1, 1))
}

func TestFormatPrevalence(t *testing.T) {
	est := domain.Estimate{Value: 0.253, CILower: 0.221, CIUpper: 0.287}
	assert.Equal(t, "25.3 (22.1, 28.7)", FormatPrevalence(est))
}

func TestFormatOddsRatio(t *testing.T) {
	est := domain.Estimate{Value: 1.47, CILower: 1.02, CIUpper: 2.11}
	assert.Equal(t, "1.47 (1.02, 2.11)", FormatOddsRatio(est))
}

func TestFormatCell(t *testing.T) {
	assert.Equal(t, "", formatCell(nil))
	assert.Equal(t, "overall", formatCell("overall"))
	assert.Equal(t, "true", formatCell(true))
	assert.Equal(t, "42", formatCell(42))
	assert.Equal(t, "42", formatCell(int64(42)))
	assert.Equal(t, "0.253", formatCell(0.253))
	assert.Equal(t, "", formatCell(math.NaN()))
}
