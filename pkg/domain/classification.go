package domain

import "strings"

// Classification is the label assigned to a task by the classifier collaborator.
// The run trusts it as authoritative once set.
type Classification string

const (
	ClassResearch Classification = "research"
	ClassPlanning Classification = "planning"
	ClassShort    Classification = "short"
	ClassLearning Classification = "learning"
	ClassAbstract Classification = "abstract"

	// ClassUnknown marks labels the classifier produced outside the known set.
	// Routing treats it like the default (next-action) bucket.
	ClassUnknown Classification = "unknown"
)

// Classifications lists the labels the classifier is allowed to produce,
// in the order they are presented in prompts.
func Classifications() []Classification {
	return []Classification{ClassResearch, ClassPlanning, ClassShort, ClassLearning, ClassAbstract}
}

// ParseClassification normalizes an external label. Unrecognized input maps
// to ClassUnknown rather than failing; the caller decides the fallback.
func ParseClassification(s string) Classification {
	switch Classification(strings.ToLower(strings.TrimSpace(s))) {
	case ClassResearch:
		return ClassResearch
	case ClassPlanning:
		return ClassPlanning
	case ClassShort:
		return ClassShort
	case ClassLearning:
		return ClassLearning
	case ClassAbstract:
		return ClassAbstract
	default:
		return ClassUnknown
	}
}
