// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by rircore.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityParticipant identifies a survey participant record.
	EntityParticipant EntityType = "participant"
	// EntityCohort identifies an analytic cohort record.
	EntityCohort EntityType = "cohort"
	// EntitySurveyDesign identifies a survey design record.
	EntitySurveyDesign EntityType = "survey_design"
	// EntityAnalysisRun identifies an executed analysis record.
	EntityAnalysisRun EntityType = "analysis_run"
)

// Sex encodes the interview sex variable (RIAGENDR).
type Sex int

// NHANES sex codes.
const (
	SexMale   Sex = 1
	SexFemale Sex = 2
)

// RaceEthnicity encodes the harmonized race/ethnicity variable (RIDRETH1).
type RaceEthnicity int

// NHANES race/ethnicity codes shared across cycles.
const (
	RaceMexicanAmerican  RaceEthnicity = 1
	RaceOtherHispanic    RaceEthnicity = 2
	RaceNonHispanicWhite RaceEthnicity = 3
	RaceNonHispanicBlack RaceEthnicity = 4
	RaceOtherMultiracial RaceEthnicity = 5
)

// SmokingStatus classifies lifetime and current cigarette use.
type SmokingStatus string

// Canonical smoking statuses derived from SMQ020/SMQ040.
const (
	SmokingNever   SmokingStatus = "never"
	SmokingFormer  SmokingStatus = "former"
	SmokingCurrent SmokingStatus = "current"
)

// GlycemicStatus classifies participants by diabetes workup.
type GlycemicStatus string

// Canonical glycemic statuses.
const (
	GlycemicNormal      GlycemicStatus = "normal"
	GlycemicPrediabetes GlycemicStatus = "prediabetes"
	GlycemicDiabetes    GlycemicStatus = "diabetes"
)

// LDLCategory buckets calculated LDL-C for the stratified analyses.
type LDLCategory string

// LDL-C categories requested for the LDL x statin stratification.
const (
	LDLUnder70  LDLCategory = "le70"   // <=70 mg/dL
	LDL70To130  LDLCategory = "70_130" // >70 and <=130 mg/dL
	LDLOver130  LDLCategory = "gt130"  // >130 mg/dL
)

// WeightVariable selects which sampling weight a design binds to.
type WeightVariable string

// Sampling weight variables carried on participant records.
const (
	// WeightInterview is the full-sample interview weight (WTINT2YR).
	WeightInterview WeightVariable = "interview"
	// WeightExam is the MEC examination weight (WTMEC2YR).
	WeightExam WeightVariable = "exam"
	// WeightFasting is the fasting subsample weight (WTSAF2YR).
	WeightFasting WeightVariable = "fasting"
)

// LonelyPSUPolicy controls variance estimation for strata containing a
// single sampled PSU.
type LonelyPSUPolicy string

// Lonely PSU policies mirrored from the conventional survey-analysis options.
const (
	// LonelyPSUAdjust centers the singleton PSU at the grand mean.
	LonelyPSUAdjust LonelyPSUPolicy = "adjust"
	// LonelyPSUCertainty treats the singleton PSU as sampled with certainty
	// (zero variance contribution).
	LonelyPSUCertainty LonelyPSUPolicy = "certainty"
	// LonelyPSUFail rejects designs containing singleton strata.
	LonelyPSUFail LonelyPSUPolicy = "fail"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Participant holds one survey participant's harmonized interview, exam,
// laboratory, and design attributes. Optional measurements use pointers so
// that missingness survives serialization round trips.
type Participant struct {
	Base
	SEQN  int64  `json:"seqn"`
	Cycle string `json:"cycle"`

	// Demographics.
	AgeYears           int           `json:"age_years"`
	Sex                Sex           `json:"sex"`
	RaceEthnicity      RaceEthnicity `json:"race_ethnicity"`
	EducationLevel     *int          `json:"education_level,omitempty"`
	PovertyIncomeRatio *float64      `json:"poverty_income_ratio,omitempty"`

	// Laboratory values. HSCRP is harmonized to mg/L across cycles.
	HSCRP            *float64 `json:"hscrp,omitempty"`
	TotalCholesterol *float64 `json:"total_cholesterol,omitempty"`
	HDL              *float64 `json:"hdl,omitempty"`
	Triglycerides    *float64 `json:"triglycerides,omitempty"`
	DirectLDL        *float64 `json:"direct_ldl,omitempty"`
	HbA1c            *float64 `json:"hba1c,omitempty"`
	FastingGlucose   *float64 `json:"fasting_glucose,omitempty"`

	// Examination values. Blood pressures are means over available readings.
	BMI         *float64 `json:"bmi,omitempty"`
	SystolicBP  *float64 `json:"systolic_bp,omitempty"`
	DiastolicBP *float64 `json:"diastolic_bp,omitempty"`

	// Questionnaire responses.
	OnBPMedication  *bool `json:"on_bp_medication,omitempty"`
	ToldDiabetes    *bool `json:"told_diabetes,omitempty"`
	OnInsulin       *bool `json:"on_insulin,omitempty"`
	OnDiabetesMeds  *bool `json:"on_diabetes_meds,omitempty"`
	Smoked100       *bool `json:"smoked_100,omitempty"`
	SmokesNow       *bool `json:"smokes_now,omitempty"`
	ToldCHF         *bool `json:"told_chf,omitempty"`
	ToldCHD         *bool `json:"told_chd,omitempty"`
	ToldAngina      *bool `json:"told_angina,omitempty"`
	ToldHeartAttack *bool `json:"told_heart_attack,omitempty"`
	ToldStroke      *bool `json:"told_stroke,omitempty"`

	// Prescription medication names reported in the 30-day recall.
	Medications []string `json:"medications,omitempty"`

	// Survey design attributes.
	InterviewWeight *float64 `json:"interview_weight,omitempty"`
	ExamWeight      *float64 `json:"exam_weight,omitempty"`
	FastingWeight   *float64 `json:"fasting_weight,omitempty"`
	Stratum         string   `json:"stratum"`
	PSU             string   `json:"psu"`

	// Derived analysis variables, populated by cohort construction.
	Derived *DerivedVariables `json:"derived,omitempty"`
}

// DerivedVariables carries the analysis variables computed during cohort
// construction. Pointer fields are nil when the inputs needed to derive them
// are missing.
type DerivedVariables struct {
	StatinUse bool `json:"statin_use"`

	// LDL-C in mg/dL and the formula that produced it.
	LDL       *float64 `json:"ldl,omitempty"`
	LDLSource string   `json:"ldl_source,omitempty"`

	LDLBelow70     *bool        `json:"ldl_below_70,omitempty"`
	LDLBelow55     *bool        `json:"ldl_below_55,omitempty"`
	LDLCategory    *LDLCategory `json:"ldl_category,omitempty"`
	LDLStatinGroup *int         `json:"ldl_statin_group,omitempty"`

	Hypertension   *bool           `json:"hypertension,omitempty"`
	Diabetes       *bool           `json:"diabetes,omitempty"`
	Prediabetes    *bool           `json:"prediabetes,omitempty"`
	GlycemicStatus *GlycemicStatus `json:"glycemic_status,omitempty"`
	SmokingStatus  *SmokingStatus  `json:"smoking_status,omitempty"`
	CurrentSmoker  *bool           `json:"current_smoker,omitempty"`
	Obese          *bool           `json:"obese,omitempty"`
	CVDHistory     *bool           `json:"cvd_history,omitempty"`

	CRPElevated     *bool `json:"crp_elevated,omitempty"`      // hs-CRP >= 2 mg/L
	CRPVeryElevated *bool `json:"crp_very_elevated,omitempty"` // hs-CRP >= 3 mg/L

	RIR       *bool `json:"rir,omitempty"`
	RIRStrict *bool `json:"rir_strict,omitempty"`
	RIRLDL55  *bool `json:"rir_ldl55,omitempty"`
}

// ExclusionStep records one eligibility filter applied during cohort
// construction together with its attrition counts.
type ExclusionStep struct {
	Criterion string `json:"criterion"`
	Excluded  int    `json:"excluded"`
	Remaining int    `json:"remaining"`
}

// Cohort represents a filtered analytic subset of participants. The
// exclusion cascade preserves traceability from the source population to the
// final membership.
type Cohort struct {
	Base
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Criteria    []string        `json:"criteria"`
	MemberSEQNs []int64         `json:"member_seqns"`
	Exclusions  []ExclusionStep `json:"exclusions,omitempty"`
	SourceN     int             `json:"source_n"`
}

// StratumSummary describes one sampling stratum within a bound design.
type StratumSummary struct {
	Stratum   string  `json:"stratum"`
	PSUCount  int     `json:"psu_count"`
	N         int     `json:"n"`
	WeightSum float64 `json:"weight_sum"`
}

// SurveyDesign binds sampling weights, strata, and PSU metadata to a cohort
// so that design-based variance estimation is possible. Every estimate must
// be traceable to exactly one design record.
type SurveyDesign struct {
	Base
	Name             string           `json:"name"`
	CohortID         string           `json:"cohort_id"`
	Weight           WeightVariable   `json:"weight"`
	LonelyPSUPolicy  LonelyPSUPolicy  `json:"lonely_psu_policy"`
	Strata           []StratumSummary `json:"strata"`
	TotalStrata      int              `json:"total_strata"`
	TotalPSUs        int              `json:"total_psus"`
	DegreesOfFreedom int              `json:"degrees_of_freedom"`
}

// Estimate is a single design-based statistic: a point value with its
// linearized standard error, confidence interval, and provenance.
type Estimate struct {
	DesignID  string   `json:"design_id"`
	Method    string   `json:"method"`
	Outcome   string   `json:"outcome"`
	Domain    string   `json:"domain,omitempty"`
	Value     float64  `json:"value"`
	SE        float64  `json:"se"`
	CILower   float64  `json:"ci_lower"`
	CIUpper   float64  `json:"ci_upper"`
	CILevel   float64  `json:"ci_level"`
	DF        int      `json:"df"`
	N         int      `json:"n"`
	WeightedN float64  `json:"weighted_n"`
	PValue    *float64 `json:"p_value,omitempty"`
}

// Column describes one column of an analysis result table.
type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Unit        string `json:"unit,omitempty"`
	Description string `json:"description,omitempty"`
}

// Row is a single analysis result row keyed by column name.
type Row map[string]any

// AnalysisRun captures an executed analysis template together with its
// parameters and the resulting table.
type AnalysisRun struct {
	Base
	TemplateSlug string         `json:"template_slug"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	DesignID     string         `json:"design_id"`
	Schema       []Column       `json:"schema"`
	Rows         []Row          `json:"rows"`
	Estimates    []Estimate     `json:"estimates,omitempty"`
	GeneratedAt  time.Time      `json:"generated_at"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
