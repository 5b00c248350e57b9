package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"rircore/pkg/analysisapi"
	"rircore/pkg/domain"
)

// Render materializes a stored analysis run in the requested format and
// returns the payload with its content type.
func Render(run domain.AnalysisRun, format analysisapi.Format) ([]byte, string, error) {
	switch format {
	case analysisapi.FormatJSON:
		payload, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("report: marshal json: %w", err)
		}
		return payload, "application/json", nil
	case analysisapi.FormatCSV:
		payload, err := renderCSV(run)
		if err != nil {
			return nil, "", err
		}
		return payload, "text/csv", nil
	case analysisapi.FormatMarkdown:
		return renderMarkdown(run), "text/markdown", nil
	case analysisapi.FormatHTML:
		return renderHTML(run), "text/html", nil
	case analysisapi.FormatPNG:
		payload, err := renderFigure(run)
		if err != nil {
			return nil, "", err
		}
		return payload, "image/png", nil
	default:
		return nil, "", fmt.Errorf("report: unsupported format %s", format)
	}
}

// Extension returns the artifact filename extension for a format.
func Extension(format analysisapi.Format) string {
	switch format {
	case analysisapi.FormatMarkdown:
		return "md"
	default:
		return string(format)
	}
}

func renderCSV(run domain.AnalysisRun) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	headers := make([]string, len(run.Schema))
	for i, column := range run.Schema {
		headers[i] = column.Name
	}
	if err := writer.Write(headers); err != nil {
		return nil, err
	}
	for _, row := range run.Rows {
		record := make([]string, len(run.Schema))
		for i, column := range run.Schema {
			record[i] = formatCell(row[column.Name])
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderMarkdown(run domain.AnalysisRun) []byte {
	buf := &strings.Builder{}
	fmt.Fprintf(buf, "## %s\n\n", run.TemplateSlug)

	buf.WriteString("|")
	for _, column := range run.Schema {
		buf.WriteString(" ")
		buf.WriteString(column.Name)
		buf.WriteString(" |")
	}
	buf.WriteString("\n|")
	for range run.Schema {
		buf.WriteString(" --- |")
	}
	buf.WriteString("\n")
	for _, row := range run.Rows {
		buf.WriteString("|")
		for _, column := range run.Schema {
			buf.WriteString(" ")
			buf.WriteString(strings.ReplaceAll(formatCell(row[column.Name]), "|", "\\|"))
			buf.WriteString(" |")
		}
		buf.WriteString("\n")
	}
	fmt.Fprintf(buf, "\nGenerated %s\n", run.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	return []byte(buf.String())
}

func renderHTML(run domain.AnalysisRun) []byte {
	buf := &strings.Builder{}
	buf.WriteString("<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>")
	buf.WriteString(html.EscapeString(run.TemplateSlug))
	buf.WriteString("</title></head><body><table>")
	buf.WriteString("<thead><tr>")
	for _, column := range run.Schema {
		buf.WriteString("<th>")
		buf.WriteString(html.EscapeString(column.Name))
		buf.WriteString("</th>")
	}
	buf.WriteString("</tr></thead><tbody>")
	for _, row := range run.Rows {
		buf.WriteString("<tr>")
		for _, column := range run.Schema {
			buf.WriteString("<td>")
			buf.WriteString(html.EscapeString(formatCell(row[column.Name])))
			buf.WriteString("</td>")
		}
		buf.WriteString("</tr>")
	}
	buf.WriteString("</tbody></table></body></html>")
	return []byte(buf.String())
}
