package glm

import (
	"fmt"
	"math"
	"sort"
)

// Continuous builds a model term from optional measurements, mapping nil to
// missing.
func Continuous(name string, values []*float64) Covariate {
	out := make([]float64, len(values))
	for i, v := range values {
		if v == nil {
			out[i] = math.NaN()
		} else {
			out[i] = *v
		}
	}
	return Covariate{Name: name, Values: out}
}

// Indicator builds a 0/1 model term from optional flags, mapping nil to
// missing.
func Indicator(name string, values []*bool) Covariate {
	out := make([]float64, len(values))
	for i, v := range values {
		switch {
		case v == nil:
			out[i] = math.NaN()
		case *v:
			out[i] = 1
		default:
			out[i] = 0
		}
	}
	return Covariate{Name: name, Values: out}
}

// Categorical dummy-encodes the labels against the reference level,
// producing one 0/1 term per remaining level in sorted order. Empty labels
// are missing. Terms are named name=level.
func Categorical(name string, labels []string, reference string) []Covariate {
	levels := make(map[string]struct{})
	for _, l := range labels {
		if l != "" && l != reference {
			levels[l] = struct{}{}
		}
	}
	ordered := make([]string, 0, len(levels))
	for l := range levels {
		ordered = append(ordered, l)
	}
	sort.Strings(ordered)

	terms := make([]Covariate, 0, len(ordered))
	for _, level := range ordered {
		values := make([]float64, len(labels))
		for i, l := range labels {
			switch {
			case l == "":
				values[i] = math.NaN()
			case l == level:
				values[i] = 1
			default:
				values[i] = 0
			}
		}
		terms = append(terms, Covariate{
			Name:   fmt.Sprintf("%s=%s", name, level),
			Values: values,
		})
	}
	return terms
}

// TermNames returns the names of the given terms, for joint Wald tests over
// a categorical expansion.
func TermNames(terms []Covariate) []string {
	names := make([]string, len(terms))
	for i, t := range terms {
		names[i] = t.Name
	}
	return names
}
