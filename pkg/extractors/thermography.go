package extractors

import (
	"context"
	"fmt"
	"math"

	apperrors "github.com/auditeng/compliance/internal/errors"
	"github.com/auditeng/compliance/pkg/extraction"
)

// Severity is a hotspot's thermal severity per the NETA MTS delta-T table.
type Severity string

const (
	SeverityNormal       Severity = "NORMAL"
	SeverityAttention    Severity = "ATTENTION"
	SeverityIntermediate Severity = "INTERMEDIATE"
	SeveritySerious      Severity = "SERIOUS"
	SeverityCritical     Severity = "CRITICAL"
)

// severityBand is one row of the NETA MTS table: inclusive-low,
// exclusive-high, except the last which is unbounded above.
type severityBand struct {
	severity Severity
	lowDeltaT, highDeltaT float64 // highDeltaT == +Inf for the top band
}

var severityBands = []severityBand{
	{SeverityNormal, 0, 5},
	{SeverityAttention, 5, 15},
	{SeverityIntermediate, 15, 35},
	{SeveritySerious, 35, 70},
	{SeverityCritical, 70, math.Inf(1)},
}

// ClassifySeverity maps a delta-T to its NETA MTS severity band.
// The mapping is bijective on the bands, boundaries inclusive-low,
// exclusive-high.
func ClassifySeverity(deltaT float64) Severity {
	for _, b := range severityBands {
		if deltaT >= b.lowDeltaT && deltaT < b.highDeltaT {
			return b.severity
		}
	}
	return SeverityCritical
}

// Hotspot is one thermal anomaly observed in an image.
type Hotspot struct {
	Location           extraction.FieldConfidence[string]  `json:"location"` // e.g. "A", "B", "C", "N", "R", "S", "T"
	Component          extraction.FieldConfidence[string]  `json:"component"`
	MaxTemperature     extraction.FieldConfidence[float64] `json:"max_temperature"`
	ReferenceTemperature extraction.FieldConfidence[float64] `json:"reference_temperature"`

	// Derived, not requested from the model.
	DeltaT   float64  `json:"delta_t"`
	Severity Severity `json:"severity"`
}

// deriveDeltaT fills DeltaT and Severity from the two temperatures.
func (h *Hotspot) deriveDeltaT() {
	h.DeltaT = h.MaxTemperature.Value - h.ReferenceTemperature.Value
	h.Severity = ClassifySeverity(h.DeltaT)
}

// ThermalMetadata is the camera/ambient-condition block.
type ThermalMetadata struct {
	Emissivity          extraction.FieldConfidence[float64] `json:"emissivity"`
	AmbientTemperature  extraction.FieldConfidence[float64] `json:"ambient_temperature"`
	ReflectedTemperature extraction.FieldConfidence[float64] `json:"reflected_temperature"`
	Distance            extraction.FieldConfidence[float64] `json:"distance"`
	Humidity            extraction.FieldConfidence[float64] `json:"humidity"`
}

// ThermographyTestConditions extends the common block with the fields
// specific to a thermal inspection.
type ThermographyTestConditions struct {
	InspectionDate extraction.FieldConfidence[string] `json:"inspection_date"`
	Inspector      extraction.FieldConfidence[string] `json:"inspector"`
	Load           extraction.FieldConfidence[string]  `json:"load,omitempty"`
	CameraModel    extraction.FieldConfidence[string]  `json:"camera_model"`
	CameraSerial   extraction.FieldConfidence[string]  `json:"camera_serial"`
	// Comments is the free-text report-comments field COMP-005 searches
	// for required keywords; the orchestrator passes this field
	// straight through.
	Comments extraction.FieldConfidence[string] `json:"comments,omitempty"`
}

// ThermographyResult is the Thermography extractor's response schema
//, image-first.
type ThermographyResult struct {
	Equipment       EquipmentInfo               `json:"equipment"`
	Calibration     *CalibrationInfo            `json:"calibration,omitempty"`
	TestConditions  ThermographyTestConditions  `json:"test_conditions"`
	Thermal         ThermalMetadata             `json:"thermal"`
	Hotspots        []Hotspot                   `json:"hotspots"`

	// Derived, not requested from the model.
	MaxDeltaT     float64  `json:"max_delta_t"`
	MaxSeverity   Severity `json:"max_severity"`
	CriticalCount int      `json:"critical_count"`
	SeriousCount  int      `json:"serious_count"`
}

// Validate implements extraction.Validatable.
func (r *ThermographyResult) Validate() error {
	if err := requireNonEmpty("equipment.tag", r.Equipment.Tag.Value); err != nil {
		return err
	}
	if err := requireNonEmpty("test_conditions.inspection_date", r.TestConditions.InspectionDate.Value); err != nil {
		return err
	}
	if len(r.Hotspots) == 0 {
		return apperrors.NewInvalidInput("hotspots must contain at least one entry")
	}
	for i, h := range r.Hotspots {
		if err := requireNonEmpty(fmt.Sprintf("hotspots[%d].location", i), h.Location.Value); err != nil {
			return err
		}
	}
	return nil
}

// DeriveStats fills per-hotspot DeltaT/Severity and the analysis-level
// MaxDeltaT/MaxSeverity/CriticalCount/SeriousCount. Idempotent:
// safe to call again after merging batched results.
func (r *ThermographyResult) DeriveStats() {
	r.MaxDeltaT = 0
	r.MaxSeverity = SeverityNormal
	r.CriticalCount = 0
	r.SeriousCount = 0

	for i := range r.Hotspots {
		h := &r.Hotspots[i]
		h.deriveDeltaT()
		if h.DeltaT > r.MaxDeltaT {
			r.MaxDeltaT = h.DeltaT
		}
		switch h.Severity {
		case SeverityCritical:
			r.CriticalCount++
		case SeveritySerious:
			r.SeriousCount++
		}
		if severityRank(h.Severity) > severityRank(r.MaxSeverity) {
			r.MaxSeverity = h.Severity
		}
	}
}

func severityRank(s Severity) int {
	switch s {
	case SeverityNormal:
		return 0
	case SeverityAttention:
		return 1
	case SeverityIntermediate:
		return 2
	case SeveritySerious:
		return 3
	case SeverityCritical:
		return 4
	default:
		return -1
	}
}

// MergeBatch concatenates another batch's hotspots onto r and
// recomputes the derived fields.
func (r *ThermographyResult) MergeBatch(other *ThermographyResult) {
	r.Hotspots = append(r.Hotspots, other.Hotspots...)
	r.DeriveStats()
}

// OverallConfidence aggregates leaf confidences.
func (r *ThermographyResult) OverallConfidence() float64 {
	sum := r.Equipment.Tag.Confidence + r.Thermal.Emissivity.Confidence
	n := 2
	for _, h := range r.Hotspots {
		sum += h.MaxTemperature.Confidence + h.ReferenceTemperature.Confidence
		n += 2
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// NeedsReview reports whether any extracted leaf's confidence falls
// below the review threshold; the calibration expiration date uses the
// stricter calibration threshold.
func (r *ThermographyResult) NeedsReview() bool {
	leaves := []confidenceLeaf{
		r.Equipment.Tag, r.Equipment.Type,
		r.TestConditions.InspectionDate, r.TestConditions.Inspector,
		r.TestConditions.CameraModel, r.TestConditions.CameraSerial,
		r.Thermal.Emissivity, r.Thermal.AmbientTemperature, r.Thermal.ReflectedTemperature,
		r.Thermal.Distance, r.Thermal.Humidity,
	}
	leaves = append(leaves, optionalText(r.TestConditions.Load)...)
	leaves = append(leaves, optionalText(r.TestConditions.Comments)...)
	for _, h := range r.Hotspots {
		leaves = append(leaves, h.Location, h.Component, h.MaxTemperature, h.ReferenceTemperature)
	}
	if anyLeafBelow(extraction.LowConfidenceThreshold, leaves...) {
		return true
	}
	return r.Calibration.needsReview()
}

// MaxImagesPerBatch is the batching threshold: documents with more
// images than this are extracted per-batch and merged.
const MaxImagesPerBatch = 10

var thermographyPrompt = mustTemplate(
	`You are extracting structured data from a thermal/infrared inspection
report of electrical equipment. Identify the equipment under test,
calibration details, test conditions (inspection date, inspector, load,
camera model and serial), thermal metadata (emissivity, ambient
temperature, reflected temperature, distance, humidity), and every
hotspot visible in the attached thermal images: its location (phase or
component label), component description, maximum temperature, and
reference temperature. Also extract any free-text comments section
verbatim into "comments". For every leaf value, report a confidence in
[0,1] and the literal source text.`,
	[]string{},
)

// ExtractThermography runs one batch of the Thermography flavor over up
// to MaxImagesPerBatch images; callers batch and merge
func ExtractThermography(ctx context.Context, client *extraction.Client, images []extraction.ImageBlock) (*ThermographyResult, extraction.Metadata, error) {
	systemPrompt, err := thermographyPrompt.Format(map[string]any{})
	if err != nil {
		return nil, extraction.Metadata{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "format thermography prompt")
	}
	result, meta, err := extraction.ExtractInto(ctx, client, extraction.Request{
		SystemPrompt: systemPrompt,
		ImageBlocks:  images,
		SchemaName:   "thermography.v1",
	}, func() *ThermographyResult { return &ThermographyResult{} })
	if err != nil {
		return nil, meta, err
	}
	result.DeriveStats()
	return result, meta, nil
}

// ExtractThermographyBatched splits images into MaxImagesPerBatch-sized
// batches, extracts each, and merges the results.
func ExtractThermographyBatched(ctx context.Context, client *extraction.Client, images []extraction.ImageBlock) (*ThermographyResult, extraction.Metadata, error) {
	if len(images) <= MaxImagesPerBatch {
		return ExtractThermography(ctx, client, images)
	}

	var merged *ThermographyResult
	var lastMeta extraction.Metadata
	for start := 0; start < len(images); start += MaxImagesPerBatch {
		end := start + MaxImagesPerBatch
		if end > len(images) {
			end = len(images)
		}
		batch, meta, err := ExtractThermography(ctx, client, images[start:end])
		if err != nil {
			return nil, meta, err
		}
		lastMeta = meta
		if merged == nil {
			merged = batch
			continue
		}
		merged.MergeBatch(batch)
	}
	return merged, lastMeta, nil
}
