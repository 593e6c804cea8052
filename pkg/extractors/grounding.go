package extractors

import (
	"context"
	"fmt"

	apperrors "github.com/auditeng/compliance/internal/errors"
	"github.com/auditeng/compliance/pkg/extraction"
)

// Measurement is one ground-resistance reading.
type Measurement struct {
	TestPoint  extraction.FieldConfidence[string]  `json:"test_point"`
	Resistance extraction.FieldConfidence[float64] `json:"resistance_ohms"`
	Method     extraction.FieldConfidence[string]  `json:"method,omitempty"`
}

// GroundingResult is the Grounding extractor's response schema.
// MinResistance/MaxResistance/AvgResistance are derived post-extraction
// from Measurements, never requested from the model.
type GroundingResult struct {
	Equipment       EquipmentInfo           `json:"equipment"`
	Calibration     *CalibrationInfo        `json:"calibration,omitempty"`
	TestConditions  TestConditions          `json:"test_conditions"`
	Measurements    []Measurement           `json:"measurements"`
	MinResistance   float64                 `json:"min_resistance"`
	MaxResistance   float64                 `json:"max_resistance"`
	AvgResistance   float64                 `json:"avg_resistance"`
}

// Validate implements extraction.Validatable.
func (r *GroundingResult) Validate() error {
	if err := requireNonEmpty("equipment.tag", r.Equipment.Tag.Value); err != nil {
		return err
	}
	if err := requireNonEmpty("equipment.type", r.Equipment.Type.Value); err != nil {
		return err
	}
	if len(r.Measurements) == 0 {
		return apperrors.NewInvalidInput("measurements must contain at least one reading")
	}
	for i, m := range r.Measurements {
		if err := requireNonEmpty(fmt.Sprintf("measurements[%d].test_point", i), m.TestPoint.Value); err != nil {
			return err
		}
		if m.Resistance.Value < 0 {
			return apperrors.NewInvalidInput(fmt.Sprintf("measurements[%d].resistance_ohms must be non-negative", i))
		}
		if err := requireConfidence(fmt.Sprintf("measurements[%d].resistance_ohms", i), m.Resistance.Confidence); err != nil {
			return err
		}
	}
	return nil
}

// DeriveStats fills MinResistance/MaxResistance/AvgResistance from
// Measurements, computed post-extraction rather than requested from
// the model. Idempotent: callers may invoke after every batch merge.
func (r *GroundingResult) DeriveStats() {
	if len(r.Measurements) == 0 {
		r.MinResistance, r.MaxResistance, r.AvgResistance = 0, 0, 0
		return
	}
	min, max, sum := r.Measurements[0].Resistance.Value, r.Measurements[0].Resistance.Value, 0.0
	for _, m := range r.Measurements {
		v := m.Resistance.Value
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	r.MinResistance = min
	r.MaxResistance = max
	r.AvgResistance = sum / float64(len(r.Measurements))
}

// OverallConfidence is the aggregate leaf-confidence signal this
// extractor contributes to Analysis.OverallConfidence, computed as
// the mean of the equipment tag, equipment type and every measurement
// resistance confidence.
func (r *GroundingResult) OverallConfidence() float64 {
	sum, n := r.Equipment.Tag.Confidence+r.Equipment.Type.Confidence, 2
	for _, m := range r.Measurements {
		sum += m.Resistance.Confidence
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// NeedsReview reports whether any extracted leaf's confidence falls
// below the review threshold; the calibration expiration date uses the
// stricter calibration threshold. Absent optional fields don't count.
func (r *GroundingResult) NeedsReview() bool {
	leaves := []confidenceLeaf{r.Equipment.Tag, r.Equipment.Type, r.TestConditions.Date, r.TestConditions.Tester}
	leaves = append(leaves, optionalText(r.TestConditions.Instrument)...)
	for _, m := range r.Measurements {
		leaves = append(leaves, m.TestPoint, m.Resistance)
		leaves = append(leaves, optionalText(m.Method)...)
	}
	if anyLeafBelow(extraction.LowConfidenceThreshold, leaves...) {
		return true
	}
	return r.Calibration.needsReview()
}

var groundingPrompt = mustTemplate(
	`You are extracting structured data from an electrical ground-resistance
(earth resistance) commissioning test report. Identify the equipment
under test (tag and type: PANEL, UPS, ATS, GEN, XFMR, or other), any
calibration certificate referenced for the test instrument, the test
conditions (date, tester, instrument), and every measurement row
(test point, resistance in ohms, optional method such as "fall of
potential" or "clamp-on"). For every leaf value, report a confidence in
[0,1] and the literal source text you read it from.

Document text:
{{.document_text}}`,
	[]string{"document_text"},
)

// Extract runs the Grounding flavor over a single document's text
// (Grounding is text-first, no images required).
func Extract(ctx context.Context, client *extraction.Client, documentText string) (*GroundingResult, extraction.Metadata, error) {
	systemPrompt, err := groundingPrompt.Format(map[string]any{"document_text": documentText})
	if err != nil {
		return nil, extraction.Metadata{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "format grounding prompt")
	}
	result, meta, err := extraction.ExtractInto(ctx, client, extraction.Request{
		SystemPrompt: systemPrompt,
		SchemaName:   "grounding.v1",
	}, func() *GroundingResult { return &GroundingResult{} })
	if err != nil {
		return nil, meta, err
	}
	result.DeriveStats()
	return result, meta, nil
}
