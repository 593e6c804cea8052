package validation

import (
	"fmt"

	"github.com/auditeng/compliance/pkg/domain"
	"github.com/auditeng/compliance/pkg/extractors"
)

// CalibExpRuleID is shared by the standalone calibration validator and
// COMP-001, which reuses this exact check with the same
// inspection-date semantics.
const CalibExpRuleID = "CALIB-EXP"

// ValidateCalibration applies the calibration validator: the
// instrument's calibration expiration date must not fall before the
// extraction's own inspection date (never wall-clock "now").
func (e *Engine) ValidateCalibration(cal *extractors.CalibrationInfo, inspectionDate string, profileName string) (Result, error) {
	b := newResultBuilder("")
	profile, err := e.resolveProfile(profileName)
	if err != nil {
		return Result{}, err
	}

	b.applyRule(CalibExpRuleID)

	if f := calibrationExpiredFinding(cal, inspectionDate, profile.StandardReference(CalibExpRuleID)); f != nil {
		b.add(*f)
	}

	return b.build(), nil
}

// calibrationExpiredFinding is the shared logic behind both the
// standalone calibration validator and COMP-001; returns nil when
// either date is missing/unparseable (evidence for a different
// validator, not this one) or when the certificate is still valid.
func calibrationExpiredFinding(cal *extractors.CalibrationInfo, inspectionDate, standardReference string) *Finding {
	if cal == nil {
		return nil
	}
	inspection, ok := parseDate(inspectionDate)
	if !ok {
		return nil
	}
	expiration, ok := parseDate(cal.ExpirationDate.Value)
	if !ok {
		return nil
	}
	if !expiration.Before(inspection) {
		return nil
	}
	return &Finding{
		Severity: domain.SeverityCritical,
		RuleID:   CalibExpRuleID,
		Message:  fmt.Sprintf("calibration certificate expired %s before the %s inspection date", cal.ExpirationDate.Value, inspectionDate),
		Evidence: domain.Evidence{
			ExtractedValue:    cal.ExpirationDate.Value,
			Threshold:         inspectionDate,
			StandardReference: standardReference,
		},
	}
}
