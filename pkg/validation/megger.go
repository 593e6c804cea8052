package validation

import (
	"context"
	"fmt"

	"github.com/auditeng/compliance/pkg/domain"
	"github.com/auditeng/compliance/pkg/extractors"
)

// voltageClassFor buckets a test voltage into one of the profile's
// configured Megger voltage classes (minimum insulation resistance
// from IEEE 43 per voltage class).
func voltageClassFor(voltage float64) string {
	switch {
	case voltage <= 600:
		return "0-600V"
	case voltage <= 5000:
		return "601-5000V"
	case voltage <= 15000:
		return "5001-15000V"
	default:
		return "15001-35000V"
	}
}

// ValidateMegger applies the Megger validator: IEEE 43 minimum per
// voltage class, and polarization index >= 2.0 when reported.
func (e *Engine) ValidateMegger(ctx context.Context, r *extractors.MeggerResult, profileName string) (Result, error) {
	b := newResultBuilder(r.Equipment.Tag.Value)
	profile, err := e.resolveProfile(profileName)
	if err != nil {
		return Result{}, err
	}

	voltageClass := voltageClassFor(r.TestVoltage.Value)
	minimum, err := profile.MeggerMinimum(voltageClass)
	if err != nil {
		return Result{}, err
	}

	for _, reading := range r.Readings {
		ruleID := "MEG-01"
		b.applyRule(ruleID)

		violation, err := e.threshold.FloorViolation(ctx, reading.Resistance.Value, minimum)
		if err != nil {
			return Result{}, err
		}
		if violation {
			b.add(Finding{
				Severity: domain.SeverityMajor,
				RuleID:   ruleID,
				Message:  fmt.Sprintf("insulation resistance on phase %s (%.1f Mohm) is below the %.1f Mohm minimum for %s", reading.Phase.Value, reading.Resistance.Value, minimum, voltageClass),
				Evidence: domain.Evidence{
					ExtractedValue:    reading.Resistance.Value,
					Threshold:         minimum,
					StandardReference: profile.StandardReference(ruleID),
				},
			})
		}
	}

	if r.PolarizationIndex != nil {
		ruleID := "MEG-02"
		b.applyRule(ruleID)
		if r.PolarizationIndex.Value < profile.MeggerMinPolarization {
			b.add(Finding{
				Severity: domain.SeverityMajor,
				RuleID:   ruleID,
				Message:  fmt.Sprintf("polarization index %.2f is below the minimum of %.2f", r.PolarizationIndex.Value, profile.MeggerMinPolarization),
				Evidence: domain.Evidence{
					ExtractedValue:    r.PolarizationIndex.Value,
					Threshold:         profile.MeggerMinPolarization,
					StandardReference: profile.StandardReference(ruleID),
				},
			})
		}
	}

	return b.build(), nil
}
