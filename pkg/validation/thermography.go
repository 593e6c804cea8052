package validation

import (
	"fmt"

	"github.com/auditeng/compliance/pkg/domain"
	"github.com/auditeng/compliance/pkg/extractors"
)

// thermographySeverityFor maps a hotspot's NETA MTS band to a finding
// severity: CRITICAL->CRITICAL, SERIOUS->CRITICAL,
// INTERMEDIATE->MAJOR, ATTENTION->MINOR, NORMAL->suppressed (no finding).
func thermographySeverityFor(band string) (domain.Severity, bool) {
	switch band {
	case "CRITICAL", "SERIOUS":
		return domain.SeverityCritical, true
	case "INTERMEDIATE":
		return domain.SeverityMajor, true
	case "ATTENTION":
		return domain.SeverityMinor, true
	default: // NORMAL
		return "", false
	}
}

// ValidateThermography applies the Thermography validator: maps
// each hotspot's profile-classified severity band to a finding
// severity, and checks the camera's reported emissivity against the
// profile's expected value.
func (e *Engine) ValidateThermography(r *extractors.ThermographyResult, profileName string) (Result, error) {
	b := newResultBuilder(r.Equipment.Tag.Value)
	profile, err := e.resolveProfile(profileName)
	if err != nil {
		return Result{}, err
	}

	for _, h := range r.Hotspots {
		ruleID := "THERM-01"
		b.applyRule(ruleID)

		band := profile.ClassifyDeltaT(h.DeltaT)
		severity, hasFinding := thermographySeverityFor(band)
		if !hasFinding {
			continue
		}
		b.add(Finding{
			Severity: severity,
			RuleID:   ruleID,
			Message:  fmt.Sprintf("hotspot at %s (%s) shows a delta-T of %.1f C, classified %s", h.Location.Value, h.Component.Value, h.DeltaT, band),
			Evidence: domain.Evidence{
				ExtractedValue:    h.DeltaT,
				Threshold:         band,
				StandardReference: profile.StandardReference(ruleID),
			},
		})
	}

	const emissivityRuleID = "THERM-02"
	b.applyRule(emissivityRuleID)
	const emissivityTolerance = 0.02
	delta := r.Thermal.Emissivity.Value - profile.ExpectedEmissivity
	if delta < 0 {
		delta = -delta
	}
	if delta > emissivityTolerance {
		b.add(Finding{
			Severity: domain.SeverityMinor,
			RuleID:   emissivityRuleID,
			Message:  fmt.Sprintf("reported emissivity %.3f deviates from the expected %.3f", r.Thermal.Emissivity.Value, profile.ExpectedEmissivity),
			Evidence: domain.Evidence{
				ExtractedValue:    r.Thermal.Emissivity.Value,
				Threshold:         profile.ExpectedEmissivity,
				StandardReference: profile.StandardReference(emissivityRuleID),
			},
		})
	}

	return b.build(), nil
}
