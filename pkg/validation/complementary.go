package validation

import (
	"fmt"
	"strings"

	"github.com/auditeng/compliance/pkg/domain"
	"github.com/auditeng/compliance/pkg/extractors"
)

// phaseEquivalents normalizes IEC phase labels (R, S, T) onto the ANSI
// labels (A, B, C) used for expected-set comparison (COMP-004:
// "treat A≡R, B≡S, C≡T").
var phaseEquivalents = map[string]string{
	"R": "A", "S": "B", "T": "C",
}

func normalizePhase(p string) string {
	p = strings.ToUpper(strings.TrimSpace(p))
	if ansi, ok := phaseEquivalents[p]; ok {
		return ansi
	}
	return p
}

// ComplementaryInput bundles every input the five checks need,
// most of them optional cross-document OCR results the orchestrator
// gathers in step 6.
type ComplementaryInput struct {
	Thermography *extractors.ThermographyResult

	// CertificateOCR is nil when no calibration-certificate image was
	// present in the document.
	CertificateOCR *extractors.CertificateOCRResult
	// HygrometerOCR is nil when no hygrometer image was present.
	HygrometerOCR *extractors.HygrometerOCRResult

	// ReportedSerial is the calibration serial the report itself
	// declares (from Thermography.Calibration), surfaced here so
	// COMP-002/COMP-006 don't need to reach back into the extraction.
	ReportedSerial string
	// ExpectedPhases is the phase set this equipment installation is
	// expected to expose hotspots for (e.g. {"A","B","C","N"} or
	// {"R","S","T"}); the orchestrator derives it from the active
	// profile's per-equipment-type table. Empty disables the
	// coverage check.
	ExpectedPhases []string
	// Comments is the free-text report-comments field COMP-005
	// searches; passed through as-is.
	Comments string
}

// ValidateComplementary applies the five cross-document checks. All
// five run regardless of earlier outcomes; there is no
// short-circuiting.
func (e *Engine) ValidateComplementary(input ComplementaryInput, inspectionDate, profileName string) (Result, error) {
	b := newResultBuilder("")
	profile, err := e.resolveProfile(profileName)
	if err != nil {
		return Result{}, err
	}
	thresholds := profile.Complementary

	// COMP-001 CALIBRATION_EXPIRED: reuses the calibration check.
	b.applyRule("COMP-001")
	if input.Thermography != nil {
		if f := calibrationExpiredFinding(input.Thermography.Calibration, inspectionDate, profile.StandardReference("COMP-001")); f != nil {
			f.RuleID = "COMP-001"
			b.add(*f)
		}
	}

	// COMP-002 SERIAL_MISMATCH / COMP-006 SERIAL_ILLEGIBLE.
	b.applyRule("COMP-002")
	if input.CertificateOCR != nil {
		if input.CertificateOCR.Serial.Confidence < thresholds.SerialConfidenceThreshold {
			b.add(Finding{
				Severity: domain.SeverityMajor,
				RuleID:   "COMP-006",
				Message:  fmt.Sprintf("certificate OCR confidence %.2f is below the %.2f threshold; serial cannot be compared", input.CertificateOCR.Serial.Confidence, thresholds.SerialConfidenceThreshold),
				Evidence: domain.Evidence{
					ExtractedValue:    input.CertificateOCR.Serial.Value,
					Threshold:         thresholds.SerialConfidenceThreshold,
					StandardReference: profile.StandardReference("COMP-006"),
				},
			})
		} else if !strings.EqualFold(normalizeSerial(input.CertificateOCR.Serial.Value), normalizeSerial(input.ReportedSerial)) {
			b.add(Finding{
				Severity: domain.SeverityCritical,
				RuleID:   "COMP-002",
				Message:  fmt.Sprintf("report-declared serial %q does not match certificate OCR serial %q", input.ReportedSerial, input.CertificateOCR.Serial.Value),
				Evidence: domain.Evidence{
					ExtractedValue:    input.CertificateOCR.Serial.Value,
					Threshold:         input.ReportedSerial,
					StandardReference: profile.StandardReference("COMP-002"),
				},
			})
		}
	}

	// COMP-003 VALUE_MISMATCH.
	b.applyRule("COMP-003")
	if input.HygrometerOCR != nil && input.Thermography != nil {
		reported := input.Thermography.Thermal.ReflectedTemperature.Value
		observed := input.HygrometerOCR.Temperature.Value
		diff := reported - observed
		if diff < 0 {
			diff = -diff
		}
		if diff > thresholds.TempMatchTolerance {
			b.add(Finding{
				Severity: domain.SeverityCritical,
				RuleID:   "COMP-003",
				Message:  fmt.Sprintf("reported reflected temperature %.1f C differs from hygrometer reading %.1f C by more than %.1f C", reported, observed, thresholds.TempMatchTolerance),
				Evidence: domain.Evidence{
					ExtractedValue:    observed,
					Threshold:         thresholds.TempMatchTolerance,
					StandardReference: profile.StandardReference("COMP-003"),
				},
			})
		}
	}

	// COMP-004 PHOTO_MISSING.
	b.applyRule("COMP-004")
	if input.Thermography != nil && len(input.ExpectedPhases) > 0 {
		observed := make(map[string]bool, len(input.Thermography.Hotspots))
		for _, h := range input.Thermography.Hotspots {
			observed[normalizePhase(h.Location.Value)] = true
		}
		var missing []string
		for _, expected := range input.ExpectedPhases {
			if !observed[normalizePhase(expected)] {
				missing = append(missing, expected)
			}
		}
		if len(missing) > 0 {
			b.add(Finding{
				Severity: domain.SeverityCritical,
				RuleID:   "COMP-004",
				Message:  fmt.Sprintf("no hotspot photo found for expected phase(s): %s", strings.Join(missing, ", ")),
				Evidence: domain.Evidence{
					ExtractedValue:    missing,
					Threshold:         input.ExpectedPhases,
					StandardReference: profile.StandardReference("COMP-004"),
				},
			})
		}
	}

	// COMP-005 SPEC_NON_COMPLIANCE.
	b.applyRule("COMP-005")
	if input.Thermography != nil && input.Thermography.MaxDeltaT > thresholds.SpecDeltaTThreshold {
		if !containsAnyKeyword(input.Comments, thresholds.SpecRequiredKeywords) {
			b.add(Finding{
				Severity: domain.SeverityCritical,
				RuleID:   "COMP-005",
				Message:  fmt.Sprintf("max delta-T %.1f C exceeds %.1f C but report comments cite no remediation keyword", input.Thermography.MaxDeltaT, thresholds.SpecDeltaTThreshold),
				Evidence: domain.Evidence{
					ExtractedValue:    input.Thermography.MaxDeltaT,
					Threshold:         thresholds.SpecDeltaTThreshold,
					StandardReference: profile.StandardReference("COMP-005"),
				},
			})
		}
	}

	return b.build(), nil
}

// normalizeSerial strips spaces and dashes so "FLIR-42X" and "FLIR 42X"
// compare equal, case-insensitively, for the COMP-002 serial check.
func normalizeSerial(s string) string {
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

func containsAnyKeyword(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
