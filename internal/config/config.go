// Package config loads the YAML study plan that drives the analysis
// pipeline, with environment overrides for deployment-specific settings.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"rircore/internal/cohort"
	"rircore/pkg/analysisapi"
	"rircore/pkg/domain"
)

// AnalysisSpec names one template run in the study plan.
type AnalysisSpec struct {
	Template   string         `yaml:"template"`
	Parameters map[string]any `yaml:"parameters,omitempty"`
	Formats    []string       `yaml:"formats,omitempty"`
}

// Thresholds carries the clinical cut points driving variable derivation
// and cohort eligibility.
type Thresholds struct {
	LDLPrimary      float64 `yaml:"ldl_primary"`
	LDLSensitivity  float64 `yaml:"ldl_sensitivity"`
	CRPElevated     float64 `yaml:"crp_elevated"`
	CRPVeryElevated float64 `yaml:"crp_very_elevated"`
	CRPAcute        float64 `yaml:"crp_acute"`
}

// Plan is the study configuration: cohort and design settings plus the
// analyses to run and the artifact formats to render.
type Plan struct {
	Cohort          string         `yaml:"cohort"`
	Weight          string         `yaml:"weight"`
	LonelyPSUPolicy string         `yaml:"lonely_psu_policy"`
	CILevel         float64        `yaml:"ci_level"`
	Storage         string         `yaml:"storage,omitempty"`
	Thresholds      Thresholds     `yaml:"thresholds"`
	Analyses        []AnalysisSpec `yaml:"analyses"`
	OutputFormats   []string       `yaml:"output_formats"`
}

// Default returns the study plan used when no file is supplied: the primary
// cohort on fasting weights with every built-in analysis.
func Default() Plan {
	return Plan{
		Cohort:          "primary",
		Weight:          string(domain.WeightFasting),
		LonelyPSUPolicy: string(domain.LonelyPSUAdjust),
		CILevel:         0.95,
		Thresholds: Thresholds{
			LDLPrimary:      70,
			LDLSensitivity:  55,
			CRPElevated:     2,
			CRPVeryElevated: 3,
			CRPAcute:        10,
		},
		Analyses: []AnalysisSpec{
			{Template: "rir/rir_prevalence@v1"},
			{Template: "rir/subgroup_prevalence@v1"},
			{Template: "rir/table1@v1"},
			{Template: "rir/rir_regression@v1"},
			{Template: "rir/trend@v1"},
			{Template: "rir/ldl_statin_groups@v1"},
		},
		OutputFormats: []string{"json", "csv", "markdown"},
	}
}

// Load reads a study plan from path, fills unset fields from the defaults,
// applies environment overrides, and validates the result. An empty path
// returns the default plan with overrides applied.
func Load(path string) (Plan, error) {
	plan := Default()
	if path != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			return Plan{}, fmt.Errorf("config: read plan: %w", err)
		}
		if err := yaml.Unmarshal(payload, &plan); err != nil {
			return Plan{}, fmt.Errorf("config: parse plan: %w", err)
		}
	}
	plan.applyEnv()
	if err := plan.Validate(); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

// Environment overrides:
//
//	RIRCORE_COHORT            cohort definition name
//	RIRCORE_WEIGHT            interview|exam|fasting
//	RIRCORE_LONELY_PSU_POLICY adjust|certainty|fail
//	RIRCORE_CI_LEVEL          confidence level in (0, 1)
func (p *Plan) applyEnv() {
	if v := os.Getenv("RIRCORE_COHORT"); v != "" {
		p.Cohort = v
	}
	if v := os.Getenv("RIRCORE_WEIGHT"); v != "" {
		p.Weight = v
	}
	if v := os.Getenv("RIRCORE_LONELY_PSU_POLICY"); v != "" {
		p.LonelyPSUPolicy = v
	}
	if v := os.Getenv("RIRCORE_CI_LEVEL"); v != "" {
		if level, err := strconv.ParseFloat(v, 64); err == nil {
			p.CILevel = level
		}
	}
}

// Validate checks enumerated fields and numeric ranges.
func (p Plan) Validate() error {
	switch domain.WeightVariable(p.Weight) {
	case domain.WeightInterview, domain.WeightExam, domain.WeightFasting:
	default:
		return fmt.Errorf("config: unknown weight variable %q", p.Weight)
	}
	switch domain.LonelyPSUPolicy(p.LonelyPSUPolicy) {
	case domain.LonelyPSUAdjust, domain.LonelyPSUCertainty, domain.LonelyPSUFail:
	default:
		return fmt.Errorf("config: unknown lonely PSU policy %q", p.LonelyPSUPolicy)
	}
	if p.CILevel <= 0 || p.CILevel >= 1 {
		return fmt.Errorf("config: ci_level %v outside (0, 1)", p.CILevel)
	}
	switch p.Storage {
	case "", "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage driver %q", p.Storage)
	}
	if err := p.Thresholds.validate(); err != nil {
		return err
	}
	if p.Cohort == "" {
		return fmt.Errorf("config: cohort required")
	}
	if len(p.Analyses) == 0 {
		return fmt.Errorf("config: at least one analysis required")
	}
	for _, a := range p.Analyses {
		if a.Template == "" {
			return fmt.Errorf("config: analysis with empty template slug")
		}
		for _, f := range a.Formats {
			if !validFormat(f) {
				return fmt.Errorf("config: analysis %s: unknown format %q", a.Template, f)
			}
		}
	}
	for _, f := range p.OutputFormats {
		if !validFormat(f) {
			return fmt.Errorf("config: unknown output format %q", f)
		}
	}
	return nil
}

func (t Thresholds) validate() error {
	for name, v := range map[string]float64{
		"ldl_primary":       t.LDLPrimary,
		"ldl_sensitivity":   t.LDLSensitivity,
		"crp_elevated":      t.CRPElevated,
		"crp_very_elevated": t.CRPVeryElevated,
		"crp_acute":         t.CRPAcute,
	} {
		if v <= 0 {
			return fmt.Errorf("config: threshold %s must be positive, got %v", name, v)
		}
	}
	if t.LDLSensitivity > t.LDLPrimary {
		return fmt.Errorf("config: ldl_sensitivity %v exceeds ldl_primary %v", t.LDLSensitivity, t.LDLPrimary)
	}
	if t.CRPElevated > t.CRPVeryElevated || t.CRPVeryElevated > t.CRPAcute {
		return fmt.Errorf("config: crp thresholds must be ordered elevated <= very_elevated <= acute")
	}
	return nil
}

// CohortThresholds converts the plan thresholds into the cut points the
// cohort package derives with.
func (p Plan) CohortThresholds() cohort.Thresholds {
	return cohort.Thresholds{
		LDLPrimary:      p.Thresholds.LDLPrimary,
		LDLSensitivity:  p.Thresholds.LDLSensitivity,
		CRPElevated:     p.Thresholds.CRPElevated,
		CRPVeryElevated: p.Thresholds.CRPVeryElevated,
		CRPAcute:        p.Thresholds.CRPAcute,
	}
}

// FormatsFor returns the render formats for one analysis, falling back to
// the plan-wide output formats.
func (p Plan) FormatsFor(a AnalysisSpec) []analysisapi.Format {
	names := a.Formats
	if len(names) == 0 {
		names = p.OutputFormats
	}
	out := make([]analysisapi.Format, 0, len(names))
	for _, name := range names {
		out = append(out, analysisapi.Format(name))
	}
	return out
}

func validFormat(name string) bool {
	switch analysisapi.Format(name) {
	case analysisapi.FormatJSON, analysisapi.FormatCSV, analysisapi.FormatMarkdown,
		analysisapi.FormatHTML, analysisapi.FormatPNG:
		return true
	default:
		return false
	}
}
