// Package analysisapi defines the contract between analysis template authors
// and the host runtime that binds, validates, and executes them.
package analysisapi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rircore/pkg/domain"
)

// Format identifies an artifact encoding for rendered results.
type Format string

// Output formats supported by the report renderers.
const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatPNG      Format = "png"
)

// Scope carries requestor identity for audit trails.
type Scope struct {
	Requestor string   `json:"requestor"`
	Roles     []string `json:"roles,omitempty"`
}

// Parameter declares one tunable input of an analysis template. Type is
// one of string, integer, or number.
type Parameter struct {
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Required    bool            `json:"required"`
	Description string          `json:"description,omitempty"`
	Unit        string          `json:"unit,omitempty"`
	Enum        []string        `json:"enum,omitempty"`
	Example     json.RawMessage `json:"example,omitempty"`
	Default     json.RawMessage `json:"default,omitempty"`
}

// Column describes one column of the result table.
type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Unit        string `json:"unit,omitempty"`
	Description string `json:"description,omitempty"`
	Format      string `json:"format,omitempty"`
}

// Metadata carries descriptive annotations attached to a template.
type Metadata struct {
	Source        string            `json:"source,omitempty"`
	Documentation string            `json:"documentation,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	Annotations   map[string]string `json:"annotations,omitempty"`
}

// Environment provides the runtime dependencies a template binder receives.
type Environment struct {
	Store domain.PersistentStore
	Now   func() time.Time
}

// Template is the author-facing analysis definition.
type Template struct {
	Key           string
	Version       string
	Title         string
	Description   string
	Parameters    []Parameter
	Columns       []Column
	Metadata      Metadata
	OutputFormats []Format
	Binder        Binder
}

// TemplateDescriptor is a serialisable snapshot of a registered template.
type TemplateDescriptor struct {
	Suite         string      `json:"suite"`
	Key           string      `json:"key"`
	Version       string      `json:"version"`
	Title         string      `json:"title"`
	Description   string      `json:"description"`
	Parameters    []Parameter `json:"parameters"`
	Columns       []Column    `json:"columns"`
	Metadata      Metadata    `json:"metadata"`
	OutputFormats []Format    `json:"output_formats"`
	Slug          string      `json:"slug"`
}

// RunRequest carries the validated inputs for a template execution.
type RunRequest struct {
	Template   TemplateDescriptor
	Parameters map[string]any
	Scope      Scope
}

// RunResult is the tabular output of a template execution.
type RunResult struct {
	Schema      []Column          `json:"schema"`
	Rows        []map[string]any  `json:"rows"`
	Estimates   []domain.Estimate `json:"estimates,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	GeneratedAt time.Time         `json:"generated_at"`
	Format      Format            `json:"format"`
}

// Runner executes a bound template.
type Runner func(context.Context, RunRequest) (RunResult, error)

// Binder wires a template to its runtime environment.
type Binder func(Environment) (Runner, error)

// ParameterError reports a single parameter validation failure.
type ParameterError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (e ParameterError) Error() string {
	return fmt.Sprintf("parameter %s: %s", e.Name, e.Message)
}

// TemplateRuntime is the host-side view of a bound template.
type TemplateRuntime interface {
	Slug() string
	Descriptor() TemplateDescriptor
	SupportsFormat(Format) bool
	Run(ctx context.Context, params map[string]any, scope Scope, format Format) (RunResult, []ParameterError, error)
}
