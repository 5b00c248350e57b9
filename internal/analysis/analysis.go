// Package analysis ships the built-in analysis templates: survey-weighted
// prevalence, descriptive tables, regression, and trend analyses over bound
// survey designs.
package analysis

import "rircore/pkg/analysisapi"

// Suite is the registration namespace for the built-in templates.
const Suite = "rir"

// Templates returns the built-in analysis templates in registration order.
func Templates() []analysisapi.Template {
	return []analysisapi.Template{
		prevalenceTemplate(),
		subgroupPrevalenceTemplate(),
		table1Template(),
		regressionTemplate(),
		trendTemplate(),
		ldlStatinGroupsTemplate(),
	}
}

var allFormats = []analysisapi.Format{
	analysisapi.FormatJSON,
	analysisapi.FormatCSV,
	analysisapi.FormatMarkdown,
	analysisapi.FormatHTML,
	analysisapi.FormatPNG,
}
