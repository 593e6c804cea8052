// Package extractors holds one extractor per flavor: Grounding, Megger,
// Thermography, CertificateOCR, and HygrometerOCR. Each flavor owns a
// fixed response schema (a typed struct tree whose leaves are
// extraction.FieldConfidence) and a prompt built from a
// langchaingo/prompts.PromptTemplate.
package extractors

import (
	"fmt"

	"github.com/tmc/langchaingo/prompts"

	apperrors "github.com/auditeng/compliance/internal/errors"
	"github.com/auditeng/compliance/pkg/extraction"
)

// CalibrationInfo is the optional calibration block common to every
// flavor except the OCR extractors.
type CalibrationInfo struct {
	Serial         extraction.FieldConfidence[string] `json:"serial"`
	Lab            extraction.FieldConfidence[string] `json:"lab,omitempty"`
	ExpirationDate extraction.FieldConfidence[string] `json:"expiration_date"` // YYYY-MM-DD
}

// TestConditions is the common test-conditions block: date,
// tester/inspector, instrument, shared with minor field-name variance
// across flavors expressed in each flavor's own struct.
type TestConditions struct {
	Date       extraction.FieldConfidence[string] `json:"date"`
	Tester     extraction.FieldConfidence[string] `json:"tester"`
	Instrument extraction.FieldConfidence[string] `json:"instrument,omitempty"`
}

// EquipmentInfo is the common equipment-identification block.
type EquipmentInfo struct {
	Tag  extraction.FieldConfidence[string] `json:"tag"`
	Type extraction.FieldConfidence[string] `json:"type"` // PANEL|UPS|ATS|GEN|XFMR|other
}

// confidenceLeaf is satisfied by every extraction.FieldConfidence
// instantiation; the NeedsReview walks below collect leaves through it.
type confidenceLeaf interface{ BelowThreshold(float64) bool }

func anyLeafBelow(t float64, leaves ...confidenceLeaf) bool {
	for _, l := range leaves {
		if l.BelowThreshold(t) {
			return true
		}
	}
	return false
}

// optionalText returns the leaf only when the field was actually
// extracted, so an absent optional string (zero confidence by
// construction) doesn't read as a low-confidence extraction.
func optionalText(f extraction.FieldConfidence[string]) []confidenceLeaf {
	if f.Value == "" {
		return nil
	}
	return []confidenceLeaf{f}
}

// needsReview reports whether any calibration leaf falls below its
// review threshold. The expiration date uses the stricter calibration
// threshold; a nil block never needs review.
func (c *CalibrationInfo) needsReview() bool {
	if c == nil {
		return false
	}
	if anyLeafBelow(extraction.LowConfidenceThreshold, c.Serial) {
		return true
	}
	if anyLeafBelow(extraction.LowConfidenceThreshold, optionalText(c.Lab)...) {
		return true
	}
	return c.ExpirationDate.BelowThreshold(extraction.CalibrationConfidenceThreshold)
}

func requireNonEmpty(field, value string) error {
	if value == "" {
		return apperrors.NewInvalidInput(fmt.Sprintf("%s must not be empty", field))
	}
	return nil
}

func requireConfidence(field string, c float64) error {
	if c < 0 || c > 1 {
		return apperrors.NewInvalidInput(fmt.Sprintf("%s confidence %.3f out of [0,1]", field, c))
	}
	return nil
}

// mustTemplate builds a prompt template without checking its variables
// against the template string; a mismatch surfaces as an error from
// Format when the extractor runs.
func mustTemplate(template string, inputVars []string) prompts.PromptTemplate {
	return prompts.NewPromptTemplate(template, inputVars)
}
