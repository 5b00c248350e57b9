package cohort

import "strings"

// statinPatterns are the generic and fixed-dose-combination names matched
// against the 30-day prescription medication recall. Matching is a
// case-insensitive substring test so that salt forms and strength suffixes
// ("ATORVASTATIN CALCIUM 20MG") still hit.
var statinPatterns = []string{
	"atorvastatin",
	"fluvastatin",
	"lovastatin",
	"pitavastatin",
	"pravastatin",
	"rosuvastatin",
	"simvastatin",
	// Fixed-dose combinations containing a statin component.
	"vytorin",   // ezetimibe/simvastatin
	"advicor",   // niacin/lovastatin
	"caduet",    // amlodipine/atorvastatin
	"liptruzet", // ezetimibe/atorvastatin
}

// statinClassCodes are Multum therapeutic classification codes for HMG-CoA
// reductase inhibitors. Some imports carry the class code instead of a drug
// name, so an exact code match also counts.
var statinClassCodes = map[string]struct{}{
	"358": {},
}

// IsStatin reports whether a single medication entry refers to a statin or a
// statin-containing combination product.
func IsStatin(medication string) bool {
	if _, ok := statinClassCodes[strings.TrimSpace(medication)]; ok {
		return true
	}
	name := strings.ToLower(medication)
	for _, pattern := range statinPatterns {
		if strings.Contains(name, pattern) {
			return true
		}
	}
	return false
}

// UsesStatin reports whether any reported medication is a statin.
func UsesStatin(medications []string) bool {
	for _, med := range medications {
		if IsStatin(med) {
			return true
		}
	}
	return false
}
