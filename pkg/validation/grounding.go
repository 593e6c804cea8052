package validation

import (
	"context"
	"fmt"

	"github.com/auditeng/compliance/pkg/domain"
	"github.com/auditeng/compliance/pkg/extractors"
)

// ValidateGrounding applies the Grounding test-type validator: a
// per-equipment-type ceiling from the active profile, unit presence
// (the extraction schema always attaches ohms, so this degrades to a
// non-empty test-point check). Negative values are not checked here;
// GroundingResult.Validate rejects them at extraction time.
func (e *Engine) ValidateGrounding(ctx context.Context, r *extractors.GroundingResult, profileName string) (Result, error) {
	b := newResultBuilder(r.Equipment.Tag.Value)
	profile, err := e.resolveProfile(profileName)
	if err != nil {
		return Result{}, err
	}

	ceiling, err := profile.GroundingCeiling(r.Equipment.Type.Value)
	if err != nil {
		// Unknown equipment type: apply the profile's "other" ceiling
		// rather than failing the whole analysis outright; the
		// equipment-type table lists "other" as a catch-all row.
		ceiling, err = profile.GroundingCeiling("other")
		if err != nil {
			return Result{}, err
		}
	}

	for i, m := range r.Measurements {
		ruleID := "GND-01"
		b.applyRule(ruleID)

		if m.TestPoint.Value == "" {
			b.add(Finding{
				Severity: domain.SeverityMinor,
				RuleID:   "GND-02",
				Message:  fmt.Sprintf("measurement %d is missing a test point label", i),
				Evidence: domain.Evidence{
					ExtractedValue:    m.TestPoint.Value,
					StandardReference: profile.StandardReference("GND-02"),
				},
			})
			continue
		}

		violation, err := e.threshold.CeilingViolation(ctx, m.Resistance.Value, ceiling)
		if err != nil {
			return Result{}, err
		}
		if violation {
			b.add(Finding{
				Severity: domain.SeverityMajor,
				RuleID:   ruleID,
				Message:  fmt.Sprintf("ground resistance at %s (%.2f ohms) exceeds the %.2f ohm ceiling for %s", m.TestPoint.Value, m.Resistance.Value, ceiling, r.Equipment.Type.Value),
				Evidence: domain.Evidence{
					ExtractedValue:    m.Resistance.Value,
					Threshold:         ceiling,
					StandardReference: profile.StandardReference(ruleID),
				},
			})
		}
	}

	return b.build(), nil
}
