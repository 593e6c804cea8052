package extractors

import (
	"context"
	"fmt"

	apperrors "github.com/auditeng/compliance/internal/errors"
	"github.com/auditeng/compliance/pkg/extraction"
)

// PhaseReading is one insulation-resistance reading for a phase.
type PhaseReading struct {
	Phase      extraction.FieldConfidence[string]  `json:"phase"`
	Resistance extraction.FieldConfidence[float64] `json:"resistance_mohms"`
}

// MeggerResult is the Megger (insulation resistance) extractor's
// response schema.
type MeggerResult struct {
	Equipment              EquipmentInfo                        `json:"equipment"`
	Calibration            *CalibrationInfo                      `json:"calibration,omitempty"`
	TestConditions         TestConditions                        `json:"test_conditions"`
	TestVoltage            extraction.FieldConfidence[float64]   `json:"test_voltage"`
	Readings               []PhaseReading                       `json:"readings"`
	PolarizationIndex      *extraction.FieldConfidence[float64] `json:"polarization_index,omitempty"`
}

// Validate implements extraction.Validatable.
func (r *MeggerResult) Validate() error {
	if err := requireNonEmpty("equipment.tag", r.Equipment.Tag.Value); err != nil {
		return err
	}
	if r.TestVoltage.Value <= 0 {
		return apperrors.NewInvalidInput("test_voltage must be positive")
	}
	if len(r.Readings) == 0 {
		return apperrors.NewInvalidInput("readings must contain at least one phase reading")
	}
	for i, reading := range r.Readings {
		if err := requireNonEmpty(fmt.Sprintf("readings[%d].phase", i), reading.Phase.Value); err != nil {
			return err
		}
		if reading.Resistance.Value < 0 {
			return apperrors.NewInvalidInput(fmt.Sprintf("readings[%d].resistance_mohms must be non-negative", i))
		}
	}
	if r.PolarizationIndex != nil && r.PolarizationIndex.Value < 0 {
		return apperrors.NewInvalidInput("polarization_index must be non-negative")
	}
	return nil
}

// OverallConfidence aggregates leaf confidences as the extractor's
// contribution to Analysis.OverallConfidence.
func (r *MeggerResult) OverallConfidence() float64 {
	sum, n := r.Equipment.Tag.Confidence+r.TestVoltage.Confidence, 2
	for _, reading := range r.Readings {
		sum += reading.Resistance.Confidence
		n++
	}
	if r.PolarizationIndex != nil {
		sum += r.PolarizationIndex.Confidence
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// NeedsReview reports whether any extracted leaf's confidence falls
// below the review threshold; the calibration expiration date uses the
// stricter calibration threshold.
func (r *MeggerResult) NeedsReview() bool {
	leaves := []confidenceLeaf{r.Equipment.Tag, r.Equipment.Type, r.TestConditions.Date, r.TestConditions.Tester, r.TestVoltage}
	leaves = append(leaves, optionalText(r.TestConditions.Instrument)...)
	for _, reading := range r.Readings {
		leaves = append(leaves, reading.Phase, reading.Resistance)
	}
	if r.PolarizationIndex != nil {
		leaves = append(leaves, *r.PolarizationIndex)
	}
	if anyLeafBelow(extraction.LowConfidenceThreshold, leaves...) {
		return true
	}
	return r.Calibration.needsReview()
}

var meggerPrompt = mustTemplate(
	`You are extracting structured data from an insulation-resistance
(Megger) commissioning test report. Identify the equipment under test,
calibration details for the test instrument, test conditions, the test
voltage, the per-phase resistance readings in megohms, and the
polarization index if the report states one. For every leaf value,
report a confidence in [0,1] and the literal source text.

Document text:
{{.document_text}}`,
	[]string{"document_text"},
)

// ExtractMegger runs the Megger flavor over a document's text.
func ExtractMegger(ctx context.Context, client *extraction.Client, documentText string) (*MeggerResult, extraction.Metadata, error) {
	systemPrompt, err := meggerPrompt.Format(map[string]any{"document_text": documentText})
	if err != nil {
		return nil, extraction.Metadata{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "format megger prompt")
	}
	return extraction.ExtractInto(ctx, client, extraction.Request{
		SystemPrompt: systemPrompt,
		SchemaName:   "megger.v1",
	}, func() *MeggerResult { return &MeggerResult{} })
}
