package report

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/montanaflynn/stats"

	"rircore/pkg/domain"
)

// Figure geometry.
const (
	figureWidth   = 640
	figureHeight  = 320
	figureMargin  = 24
	barGapPixels  = 4
	baselineInset = 16
)

var barColor = color.RGBA{R: 0, G: 102, B: 204, A: 255}

// ForestPoint is one entry of a forest-plot data series.
type ForestPoint struct {
	Label   string  `json:"label"`
	Value   float64 `json:"value"`
	CILower float64 `json:"ci_lower"`
	CIUpper float64 `json:"ci_upper"`
}

// ForestSeries extracts forest-plot points from a run's odds-ratio
// estimates, in stored order.
func ForestSeries(run domain.AnalysisRun) []ForestPoint {
	var points []ForestPoint
	for _, est := range run.Estimates {
		if est.Method != "odds_ratio" {
			continue
		}
		points = append(points, ForestPoint{
			Label:   est.Domain,
			Value:   est.Value,
			CILower: est.CILower,
			CIUpper: est.CIUpper,
		})
	}
	return points
}

// figureValues picks the plotted series: estimate point values when the run
// carries estimates, otherwise the first numeric column of the rows.
func figureValues(run domain.AnalysisRun) []float64 {
	if len(run.Estimates) > 0 {
		values := make([]float64, 0, len(run.Estimates))
		for _, est := range run.Estimates {
			values = append(values, est.Value)
		}
		return values
	}
	for _, column := range run.Schema {
		if column.Type != "number" {
			continue
		}
		var values []float64
		for _, row := range run.Rows {
			if v, ok := row[column.Name].(float64); ok {
				values = append(values, v)
			}
		}
		if len(values) > 0 {
			return values
		}
	}
	return nil
}

// renderFigure draws a bar chart of the run's point estimates.
func renderFigure(run domain.AnalysisRun) ([]byte, error) {
	values := figureValues(run)
	if len(values) == 0 {
		return nil, errors.New("report: run has no numeric series to plot")
	}
	maxValue, err := stats.Max(values)
	if err != nil {
		return nil, err
	}
	if maxValue <= 0 {
		maxValue = 1
	}

	img := image.NewRGBA(image.Rect(0, 0, figureWidth, figureHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	plotWidth := figureWidth - 2*figureMargin
	plotHeight := figureHeight - figureMargin - baselineInset
	barWidth := plotWidth / len(values)
	if barWidth < 1 {
		barWidth = 1
	}

	for i, v := range values {
		if v < 0 {
			v = 0
		}
		barHeight := int(float64(plotHeight) * v / maxValue)
		x0 := figureMargin + i*barWidth
		x1 := x0 + barWidth - barGapPixels
		if x1 <= x0 {
			x1 = x0 + 1
		}
		y1 := figureHeight - baselineInset
		y0 := y1 - barHeight
		draw.Draw(img, image.Rect(x0, y0, x1, y1), &image.Uniform{C: barColor}, image.Point{}, draw.Src)
	}

	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
