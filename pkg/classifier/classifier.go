// Package classifier is the Test-Type Classifier: a pure,
// deterministic, keyword-based router from normalized document text to
// one of {grounding, megger, thermography, unknown}. No dependency
// beyond stdlib; a small deterministic helper living beside the domain
// types it classifies.
package classifier

import "strings"

// TestType mirrors domain.TestType's string values without importing
// pkg/domain, keeping this package dependency-free.
type TestType string

const (
	Grounding    TestType = "grounding"
	Megger       TestType = "megger"
	Thermography TestType = "thermography"
	Unknown      TestType = "unknown"
)

// lexicon is evaluated in order; the first matching entry wins ties
// ("Ties are broken by the first lexicon in that order").
var lexicon = []struct {
	testType TestType
	keywords []string
}{
	{Grounding, []string{"ground resistance", "earth resistance", "aterramento", "ground rod", "grounding electrode"}},
	{Megger, []string{"insulation resistance", "ir test", "polarization index", "megger", "megohmmeter"}},
	{Thermography, []string{"thermal", "infrared", "hotspot", "temperature", "thermography", "ir camera"}},
}

// Classify returns the test type of the first lexicon entry with a
// keyword found in the normalized text, checked in lexicon order.
// imageCount does not affect the result. Returns Unknown when nothing matches; the orchestrator then fails
// the task with a typed classification error.
func Classify(text string, imageCount int) TestType {
	normalized := normalize(text)
	for _, entry := range lexicon {
		for _, kw := range entry.keywords {
			if strings.Contains(normalized, kw) {
				return entry.testType
			}
		}
	}
	// A document with images but no matching text keyword and a
	// non-trivial page count (a purely image-based thermal report) is
	// still classified Unknown per the literal lexicon rule; imageCount
	// is accepted as a classifier input but carries no
	// keyword-independent deciding power of its own, so it is read
	// here only to keep the function's contract explicit.
	_ = imageCount
	return Unknown
}

// normalize lowercases the input for substring matching; whitespace is
// not collapsed, and
// diacritics are left as-is since the lexicon carries its own accented
// variants (e.g. "aterramento").
func normalize(text string) string {
	return strings.ToLower(text)
}
