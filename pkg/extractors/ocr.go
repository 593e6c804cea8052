package extractors

import (
	"context"

	apperrors "github.com/auditeng/compliance/internal/errors"
	"github.com/auditeng/compliance/pkg/extraction"
)

// CertificateOCRResult is the single-image calibration-certificate OCR
// schema. The orchestrator feeds this into the complementary
// validator's COMP-002/COMP-006 checks.
type CertificateOCRResult struct {
	Serial extraction.FieldConfidence[string] `json:"serial"`
	Lab    extraction.FieldConfidence[string] `json:"lab,omitempty"`
}

// Validate implements extraction.Validatable.
func (r *CertificateOCRResult) Validate() error {
	return requireNonEmpty("serial", r.Serial.Value)
}

var certificateOCRPrompt = mustTemplate(
	`You are reading a calibration certificate photographed or scanned as
a single image. Extract the certificate's serial number and, if
legible, the issuing calibration laboratory's name. Report a confidence
in [0,1] for each and the literal text you read.`,
	[]string{},
)

// ExtractCertificateOCR runs the CertificateOCR flavor over one image.
// Optional: the orchestrator calls it only when a calibration
// certificate image is present.
func ExtractCertificateOCR(ctx context.Context, client *extraction.Client, image extraction.ImageBlock) (*CertificateOCRResult, extraction.Metadata, error) {
	systemPrompt, err := certificateOCRPrompt.Format(map[string]any{})
	if err != nil {
		return nil, extraction.Metadata{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "format certificate OCR prompt")
	}
	return extraction.ExtractInto(ctx, client, extraction.Request{
		SystemPrompt: systemPrompt,
		ImageBlocks:  []extraction.ImageBlock{image},
		SchemaName:   "certificate_ocr.v1",
	}, func() *CertificateOCRResult { return &CertificateOCRResult{} })
}

// HygrometerOCRResult is the single-image thermo-hygrometer display OCR
// schema.
type HygrometerOCRResult struct {
	Temperature extraction.FieldConfidence[float64] `json:"temperature"`
	Humidity    extraction.FieldConfidence[float64] `json:"humidity"`
}

// Validate implements extraction.Validatable.
func (r *HygrometerOCRResult) Validate() error {
	return requireConfidence("temperature", r.Temperature.Confidence)
}

var hygrometerOCRPrompt = mustTemplate(
	`You are reading a thermo-hygrometer's digital display photographed as
a single image. Extract the temperature and relative humidity readings
shown. Report a confidence in [0,1] for each and the literal text you
read.`,
	[]string{},
)

// ExtractHygrometerOCR runs the HygrometerOCR flavor over one image.
// Optional: the orchestrator calls it only when a hygrometer image is
// present.
func ExtractHygrometerOCR(ctx context.Context, client *extraction.Client, image extraction.ImageBlock) (*HygrometerOCRResult, extraction.Metadata, error) {
	systemPrompt, err := hygrometerOCRPrompt.Format(map[string]any{})
	if err != nil {
		return nil, extraction.Metadata{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "format hygrometer OCR prompt")
	}
	return extraction.ExtractInto(ctx, client, extraction.Request{
		SystemPrompt: systemPrompt,
		ImageBlocks:  []extraction.ImageBlock{image},
		SchemaName:   "hygrometer_ocr.v1",
	}, func() *HygrometerOCRResult { return &HygrometerOCRResult{} })
}
