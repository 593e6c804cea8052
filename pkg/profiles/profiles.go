// Package profiles holds the Standard Profile configuration:
// named, immutable threshold-and-citation bundles ("NETA", "MICROSOFT")
// selected per task and cached by the validation engine.
package profiles

import (
	"fmt"
)

// ComplementaryThresholds are the four complementary-validator
// tunables, all configurable per profile.
type ComplementaryThresholds struct {
	SerialConfidenceThreshold float64  `yaml:"serial_confidence_threshold"`
	TempMatchTolerance        float64  `yaml:"temp_match_tolerance"`
	SpecDeltaTThreshold       float64  `yaml:"spec_delta_t_threshold"`
	SpecRequiredKeywords      []string `yaml:"spec_required_keywords"`
}

// ThermographyBand is one row of a profile's delta-T severity table:
// inclusive-low, exclusive-high except the top band.
type ThermographyBand struct {
	Severity string  `yaml:"severity"`
	LowC     float64 `yaml:"low_c"`
	HighC    float64 `yaml:"high_c"` // 0 (unset) means +Inf, the top band
}

// Profile is one immutable standard profile: grounding ceilings
// per equipment type, Megger minimums per voltage class, thermography
// bands, complementary thresholds, and canonical standard references
// per rule id.
type Profile struct {
	Name                    string                     `yaml:"name"`
	GroundingCeilingsOhms   map[string]float64         `yaml:"grounding_ceilings_ohms"`
	MeggerMinimumsMOhm      map[string]float64         `yaml:"megger_minimums_mohm"`
	MeggerMinPolarization   float64                    `yaml:"megger_min_polarization_index"`
	ThermographyBands       []ThermographyBand         `yaml:"thermography_bands"`
	ExpectedEmissivity      float64                    `yaml:"expected_emissivity"`
	// ExpectedPhases maps an equipment type to the phase set its
	// thermography report must show hotspot photos for; the COMP-004
	// coverage check compares it against observed hotspot locations.
	ExpectedPhases          map[string][]string        `yaml:"expected_phases"`
	Complementary           ComplementaryThresholds    `yaml:"complementary"`
	StandardReferences      map[string]string          `yaml:"standard_references"`
}

// ExpectedPhasesFor returns the phase set this profile expects for an
// equipment type, falling back to the "other" row. A nil result
// disables phase-coverage checking for that equipment type.
func (p *Profile) ExpectedPhasesFor(equipmentType string) []string {
	if phases, ok := p.ExpectedPhases[equipmentType]; ok {
		return phases
	}
	return p.ExpectedPhases["other"]
}

// GroundingCeiling returns the per-equipment-type ceiling, or an error
// if the equipment type has no configured ceiling in this profile.
func (p *Profile) GroundingCeiling(equipmentType string) (float64, error) {
	ceiling, ok := p.GroundingCeilingsOhms[equipmentType]
	if !ok {
		return 0, fmt.Errorf("profile %s has no grounding ceiling for equipment type %q", p.Name, equipmentType)
	}
	return ceiling, nil
}

// MeggerMinimum returns the IEEE 43 minimum insulation resistance for a
// voltage class, or an error if unconfigured.
func (p *Profile) MeggerMinimum(voltageClass string) (float64, error) {
	min, ok := p.MeggerMinimumsMOhm[voltageClass]
	if !ok {
		return 0, fmt.Errorf("profile %s has no megger minimum for voltage class %q", p.Name, voltageClass)
	}
	return min, nil
}

// StandardReference returns the profile's canonical citation for a rule
// id, or "N/A" when unconfigured.
func (p *Profile) StandardReference(ruleID string) string {
	if ref, ok := p.StandardReferences[ruleID]; ok && ref != "" {
		return ref
	}
	return "N/A"
}

// ClassifyDeltaT maps a delta-T to this profile's severity band table,
// falling back to the top band if none matches (mirrors
// extractors.ClassifySeverity but driven by profile data rather than a
// compile-time constant table, so a profile can adjust a band edge
// without a code change).
func (p *Profile) ClassifyDeltaT(deltaT float64) string {
	for _, b := range p.ThermographyBands {
		high := b.HighC
		if high == 0 {
			high = 1e18
		}
		if deltaT >= b.LowC && deltaT < high {
			return b.Severity
		}
	}
	if len(p.ThermographyBands) > 0 {
		return p.ThermographyBands[len(p.ThermographyBands)-1].Severity
	}
	return "CRITICAL"
}
