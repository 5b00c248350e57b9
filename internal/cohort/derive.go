// Package cohort derives analysis variables from harmonized participant
// records and assembles analytic cohorts through a documented exclusion
// cascade.
package cohort

import "rircore/pkg/domain"

// Fixed clinical thresholds used by the derived variables. Glucose is in
// mg/dL, HbA1c in percent, blood pressure in mmHg.
const (
	friedewaldTGLimit     = 400.0
	ldlUpperCut           = 130.0
	hba1cDiabetesCut      = 6.5
	hba1cPrediabetesCut   = 5.7
	glucoseDiabetesCut    = 126.0
	glucosePrediabetesCut = 100.0
	sbpHypertensionCut    = 130.0
	dbpHypertensionCut    = 80.0
	bmiObesityCut         = 30.0
)

// Thresholds carries the tunable cut points that define residual
// inflammatory risk and cohort eligibility. LDL-C in mg/dL, hs-CRP in
// mg/L. Study plans may override them for sensitivity analyses.
type Thresholds struct {
	LDLPrimary      float64
	LDLSensitivity  float64
	CRPElevated     float64
	CRPVeryElevated float64
	CRPAcute        float64
}

// DefaultThresholds returns the published primary-analysis cut points.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LDLPrimary:      70,
		LDLSensitivity:  55,
		CRPElevated:     2,
		CRPVeryElevated: 3,
		CRPAcute:        10,
	}
}

// LDL sources recorded alongside the derived LDL-C value.
const (
	LDLSourceFriedewald = "friedewald"
	LDLSourceDirect     = "direct"
)

// Derive computes every derived analysis variable for one participant
// using the default thresholds. Inputs that are missing leave the
// corresponding derived field nil.
func Derive(p *domain.Participant) *domain.DerivedVariables {
	return DeriveWith(p, DefaultThresholds())
}

// DeriveWith is Derive with explicit cut points.
func DeriveWith(p *domain.Participant, th Thresholds) *domain.DerivedVariables {
	d := &domain.DerivedVariables{}

	d.StatinUse = UsesStatin(p.Medications)

	d.LDL, d.LDLSource = deriveLDL(p)
	if d.LDL != nil {
		d.LDLBelow70 = boolPtr(*d.LDL < th.LDLPrimary)
		d.LDLBelow55 = boolPtr(*d.LDL < th.LDLSensitivity)
		cat := ldlCategory(*d.LDL, th)
		d.LDLCategory = &cat
		group := ldlStatinGroup(cat, d.StatinUse)
		d.LDLStatinGroup = &group
	}

	d.Hypertension = deriveHypertension(p)
	d.Diabetes = deriveDiabetes(p)
	d.Prediabetes = derivePrediabetes(p, d.Diabetes)
	d.GlycemicStatus = deriveGlycemicStatus(d.Diabetes, d.Prediabetes)
	d.SmokingStatus, d.CurrentSmoker = deriveSmoking(p)
	if p.BMI != nil {
		d.Obese = boolPtr(*p.BMI >= bmiObesityCut)
	}
	d.CVDHistory = deriveCVDHistory(p)

	if p.HSCRP != nil {
		d.CRPElevated = boolPtr(*p.HSCRP >= th.CRPElevated)
		d.CRPVeryElevated = boolPtr(*p.HSCRP >= th.CRPVeryElevated)
	}

	// Residual inflammatory risk flags require both an LDL value and an
	// hs-CRP value.
	if d.LDLBelow70 != nil && d.CRPElevated != nil {
		d.RIR = boolPtr(d.StatinUse && *d.LDLBelow70 && *d.CRPElevated)
		d.RIRStrict = boolPtr(d.StatinUse && *d.LDLBelow70 && *d.CRPVeryElevated)
		d.RIRLDL55 = boolPtr(d.StatinUse && *d.LDLBelow55 && *d.CRPElevated)
	}

	return d
}

// deriveLDL computes Friedewald LDL-C (TC - HDL - TG/5) when triglycerides
// are below 400 mg/dL and the result is non-negative, falling back to a
// directly measured LDL-C when the formula is invalid or its inputs are
// missing.
func deriveLDL(p *domain.Participant) (*float64, string) {
	if p.TotalCholesterol != nil && p.HDL != nil && p.Triglycerides != nil &&
		*p.Triglycerides < friedewaldTGLimit {
		ldl := *p.TotalCholesterol - *p.HDL - *p.Triglycerides/5
		if ldl >= 0 {
			return &ldl, LDLSourceFriedewald
		}
	}
	if p.DirectLDL != nil {
		v := *p.DirectLDL
		return &v, LDLSourceDirect
	}
	return nil, ""
}

func ldlCategory(ldl float64, th Thresholds) domain.LDLCategory {
	switch {
	case ldl <= th.LDLPrimary:
		return domain.LDLUnder70
	case ldl <= ldlUpperCut:
		return domain.LDL70To130
	default:
		return domain.LDLOver130
	}
}

// ldlStatinGroup maps the LDL category crossed with statin status onto the
// six-group stratification: 1/2 = LDL<=70 with/without statin, 3/4 =
// 70-130, 5/6 = >130.
func ldlStatinGroup(cat domain.LDLCategory, statin bool) int {
	base := 0
	switch cat {
	case domain.LDLUnder70:
		base = 1
	case domain.LDL70To130:
		base = 3
	case domain.LDLOver130:
		base = 5
	}
	if !statin {
		base++
	}
	return base
}

func deriveHypertension(p *domain.Participant) *bool {
	if p.SystolicBP == nil && p.DiastolicBP == nil && p.OnBPMedication == nil {
		return nil
	}
	ht := (p.SystolicBP != nil && *p.SystolicBP >= sbpHypertensionCut) ||
		(p.DiastolicBP != nil && *p.DiastolicBP >= dbpHypertensionCut) ||
		(p.OnBPMedication != nil && *p.OnBPMedication)
	return &ht
}

func deriveDiabetes(p *domain.Participant) *bool {
	if p.HbA1c == nil && p.FastingGlucose == nil && p.ToldDiabetes == nil &&
		p.OnInsulin == nil && p.OnDiabetesMeds == nil {
		return nil
	}
	dm := (p.HbA1c != nil && *p.HbA1c >= hba1cDiabetesCut) ||
		(p.FastingGlucose != nil && *p.FastingGlucose >= glucoseDiabetesCut) ||
		(p.ToldDiabetes != nil && *p.ToldDiabetes) ||
		(p.OnInsulin != nil && *p.OnInsulin) ||
		(p.OnDiabetesMeds != nil && *p.OnDiabetesMeds)
	return &dm
}

// derivePrediabetes flags HbA1c 5.7-6.4% or fasting glucose 100-125 mg/dL,
// excluding anyone who already meets the diabetes definition.
func derivePrediabetes(p *domain.Participant, diabetes *bool) *bool {
	if p.HbA1c == nil && p.FastingGlucose == nil {
		return nil
	}
	if diabetes != nil && *diabetes {
		return boolPtr(false)
	}
	pre := (p.HbA1c != nil && *p.HbA1c >= hba1cPrediabetesCut && *p.HbA1c < hba1cDiabetesCut) ||
		(p.FastingGlucose != nil && *p.FastingGlucose >= glucosePrediabetesCut && *p.FastingGlucose < glucoseDiabetesCut)
	return &pre
}

func deriveGlycemicStatus(diabetes, prediabetes *bool) *domain.GlycemicStatus {
	if diabetes == nil && prediabetes == nil {
		return nil
	}
	status := domain.GlycemicNormal
	switch {
	case diabetes != nil && *diabetes:
		status = domain.GlycemicDiabetes
	case prediabetes != nil && *prediabetes:
		status = domain.GlycemicPrediabetes
	}
	return &status
}

func deriveSmoking(p *domain.Participant) (*domain.SmokingStatus, *bool) {
	if p.Smoked100 == nil {
		return nil, nil
	}
	status := domain.SmokingNever
	if *p.Smoked100 {
		if p.SmokesNow != nil && *p.SmokesNow {
			status = domain.SmokingCurrent
		} else {
			status = domain.SmokingFormer
		}
	}
	current := status == domain.SmokingCurrent
	return &status, &current
}

func deriveCVDHistory(p *domain.Participant) *bool {
	flags := []*bool{p.ToldCHF, p.ToldCHD, p.ToldAngina, p.ToldHeartAttack, p.ToldStroke}
	seen := false
	for _, f := range flags {
		if f == nil {
			continue
		}
		seen = true
		if *f {
			return boolPtr(true)
		}
	}
	if !seen {
		return nil
	}
	return boolPtr(false)
}

func boolPtr(v bool) *bool { return &v }
