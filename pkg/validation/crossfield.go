package validation

import (
	"strings"

	"github.com/auditeng/compliance/pkg/domain"
)

// CrossFieldInput is the minimal shape every flavor's result can supply
// for the cross-field validator: equipment tag presence and
// consistency across the extraction.
type CrossFieldInput struct {
	EquipmentTag  string
	EquipmentType string
	// DeclaredUnitFields lists every field name the extractor expects
	// to carry an explicit unit (e.g. "resistance_ohms",
	// "test_voltage"); a blank string in the slice marks a field whose
	// unit could not be determined from the extracted value's shape.
	DeclaredUnitFields []string
}

// ValidateCrossField applies the cross-field validator.
func (e *Engine) ValidateCrossField(input CrossFieldInput, profileName string) (Result, error) {
	b := newResultBuilder(input.EquipmentTag)
	profile, err := e.resolveProfile(profileName)
	if err != nil {
		return Result{}, err
	}

	const tagRuleID = "XFIELD-01"
	b.applyRule(tagRuleID)
	if strings.TrimSpace(input.EquipmentTag) == "" {
		b.add(Finding{
			Severity: domain.SeverityMinor,
			RuleID:   tagRuleID,
			Message:  "equipment tag is missing from the extraction",
			Evidence: domain.Evidence{
				ExtractedValue:    input.EquipmentTag,
				StandardReference: profile.StandardReference(tagRuleID),
			},
		})
	}

	const unitRuleID = "XFIELD-02"
	b.applyRule(unitRuleID)
	for _, field := range input.DeclaredUnitFields {
		if field == "" {
			b.add(Finding{
				Severity: domain.SeverityInfo,
				RuleID:   unitRuleID,
				Message:  "a measurement field is missing an explicit unit",
				Evidence: domain.Evidence{
					StandardReference: profile.StandardReference(unitRuleID),
				},
			})
		}
	}

	return b.build(), nil
}
