package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rircore/pkg/analysisapi"
	"rircore/pkg/domain"
)

func sampleRun() domain.AnalysisRun {
	return domain.AnalysisRun{
		Base:         domain.Base{ID: "run-1"},
		TemplateSlug: "rir/rir_prevalence@v1",
		DesignID:     "design-1",
		Schema: []domain.Column{
			{Name: "scope", Type: "string"},
			{Name: "prevalence", Type: "number"},
			{Name: "n", Type: "integer"},
		},
		Rows: []domain.Row{
			{"scope": "overall", "prevalence": 0.253, "n": 1204},
			{"scope": "2017-2018", "prevalence": 0.281, "n": 402},
		},
		Estimates: []domain.Estimate{
			{Method: "proportion", Outcome: "rir", Domain: "overall", Value: 0.253},
			{Method: "proportion", Outcome: "rir", Domain: "2017-2018", Value: 0.281},
		},
		GeneratedAt: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
}

func TestRenderJSON(t *testing.T) {
	payload, contentType, err := Render(sampleRun(), analysisapi.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)

	var decoded domain.AnalysisRun
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "rir/rir_prevalence@v1", decoded.TemplateSlug)
	assert.Len(t, decoded.Rows, 2)
}

func TestRenderCSV(t *testing.T) {
	payload, contentType, err := Render(sampleRun(), analysisapi.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)

	records, err := csv.NewReader(bytes.NewReader(payload)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"scope", "prevalence", "n"}, records[0])
	assert.Equal(t, []string{"overall", "0.253", "1204"}, records[1])
	assert.Equal(t, []string{"2017-2018", "0.281", "402"}, records[2])
}

func TestRenderMarkdown(t *testing.T) {
	payload, contentType, err := Render(sampleRun(), analysisapi.FormatMarkdown)
	require.NoError(t, err)
	assert.Equal(t, "text/markdown", contentType)

	text := string(payload)
	assert.Contains(t, text, "## rir/rir_prevalence@v1")
	assert.Contains(t, text, "| scope | prevalence | n |")
	assert.Contains(t, text, "| --- | --- | --- |")
	assert.Contains(t, text, "| overall | 0.253 | 1204 |")
	assert.Contains(t, text, "Generated 2026-03-14")
}

func TestRenderMarkdownEscapesPipes(t *testing.T) {
	run := sampleRun()
	run.Rows[0]["scope"] = "a|b"
	payload, _, err := Render(run, analysisapi.FormatMarkdown)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `a\|b`)
}

func TestRenderHTML(t *testing.T) {
	run := sampleRun()
	run.Rows[0]["scope"] = "<overall>"
	payload, contentType, err := Render(run, analysisapi.FormatHTML)
	require.NoError(t, err)
	assert.Equal(t, "text/html", contentType)

	text := string(payload)
	assert.Contains(t, text, "<th>prevalence</th>")
	assert.Contains(t, text, "&lt;overall&gt;")
	assert.NotContains(t, text, "<overall>")
}

func TestRenderPNG(t *testing.T) {
	payload, contentType, err := Render(sampleRun(), analysisapi.FormatPNG)
	require.NoError(t, err)
	assert.Equal(t, "image/png", contentType)

	img, err := png.Decode(bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, figureWidth, img.Bounds().Dx())
	assert.Equal(t, figureHeight, img.Bounds().Dy())
}

func TestRenderPNGRequiresNumericSeries(t *testing.T) {
	run := domain.AnalysisRun{
		TemplateSlug: "rir/table1@v1",
		Schema:       []domain.Column{{Name: "characteristic", Type: "string"}},
		Rows:         []domain.Row{{"characteristic": "age"}},
	}
	_, _, err := Render(run, analysisapi.FormatPNG)
	assert.Error(t, err)
}

func TestRenderUnsupportedFormat(t *testing.T) {
	_, _, err := Render(sampleRun(), analysisapi.Format("docx"))
	assert.ErrorContains(t, err, "unsupported format")
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "md", Extension(analysisapi.FormatMarkdown))
	assert.Equal(t, "json", Extension(analysisapi.FormatJSON))
	assert.Equal(t, "csv", Extension(analysisapi.FormatCSV))
	assert.Equal(t, "html", Extension(analysisapi.FormatHTML))
	assert.Equal(t, "png", Extension(analysisapi.FormatPNG))
}

func TestForestSeries(t *testing.T) {
	run := sampleRun()
	run.Estimates = append(run.Estimates, domain.Estimate{
		Method:  "odds_ratio",
		Domain:  "diabetes",
		Value:   1.6,
		CILower: 1.1,
		CIUpper: 2.3,
	})
	points := ForestSeries(run)
	require.Len(t, points, 1)
	assert.Equal(t, "diabetes", points[0].Label)
	assert.InDelta(t, 1.6, points[0].Value, 1e-12)
}
