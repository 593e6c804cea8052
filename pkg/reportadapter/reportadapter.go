// Package reportadapter is the Report Adapter:
// FromAnalysis assembles a self-contained ReportBundle from a completed
// Analysis and its Findings. Emission of rendered bytes (PDF) is
// delegated to the external renderer named in ; this package only
// builds the structured value the renderer consumes.
package reportadapter

import (
	"encoding/json"

	"github.com/itchyny/gojq"

	apperrors "github.com/auditeng/compliance/internal/errors"
	"github.com/auditeng/compliance/pkg/domain"
)

// Header is the report's identifying block.
type Header struct {
	EquipmentTag  string `json:"equipment_tag"`
	TestType      string `json:"test_type"`
	EquipmentType string `json:"equipment_type"`
	CreatedAt     string `json:"created_at"`
}

// ExecutiveSummary is the report's top-line outcome.
type ExecutiveSummary struct {
	Verdict       string         `json:"verdict"`
	Score         float64        `json:"compliance_score"`
	Confidence    float64        `json:"overall_confidence"`
	NeedsReview   bool           `json:"needs_review"`
	SeverityCounts domain.SeverityCounts `json:"severity_counts"`
	// Highlights holds a handful of test-type-specific headline values
	// keyed by jq filter (e.g. ".max_delta_t") and pulled out of the
	// stored extraction payload, so the executive summary
	// doesn't need a hand-written getter per test type.
	Highlights map[string]any `json:"highlights,omitempty"`
}

// ReportFinding is one finding as it appears in the rendered report
//: the domain.Finding's fields plus its evidence, inlined.
type ReportFinding struct {
	Severity      domain.Severity `json:"severity"`
	RuleID        string          `json:"rule_id"`
	Message       string          `json:"message"`
	Evidence      domain.Evidence `json:"evidence"`
	Remediation   *string         `json:"remediation,omitempty"`
}

// ReportBundle is the complete, self-contained value FromAnalysis
// produces.
type ReportBundle struct {
	Header           Header           `json:"header"`
	ExecutiveSummary ExecutiveSummary `json:"executive_summary"`
	Findings         []ReportFinding  `json:"findings"`
}

// highlightQueries names the jq filters evaluated against the stored
// extraction_payload JSON for each test type's executive-summary
// highlights (the derived stats computed post-extraction, e.g.
// GroundingResult.DeriveStats / ThermographyResult.DeriveStats).
// Unresolvable paths are silently omitted rather than erroring, since
// the payload shape is test-type-specific.
var highlightQueries = map[string][]string{
	"thermography": {
		".max_delta_t",
		".max_severity",
		".critical_count",
		".serious_count",
	},
	"grounding": {
		".min_resistance",
		".max_resistance",
		".avg_resistance",
	},
	"megger": {
		".polarization_index.value",
	},
}

// FromAnalysis builds a ReportBundle from a completed Analysis and its
// persisted Findings.
func FromAnalysis(analysis *domain.Analysis, findings []*domain.Finding) (*ReportBundle, error) {
	if analysis.Verdict == nil {
		return nil, apperrors.NewInvalidState("cannot build a report for an analysis with no verdict")
	}

	var counts domain.SeverityCounts
	reportFindings := make([]ReportFinding, 0, len(findings))
	for _, f := range findings {
		switch f.Severity {
		case domain.SeverityCritical:
			counts.Critical++
		case domain.SeverityMajor:
			counts.Major++
		case domain.SeverityMinor:
			counts.Minor++
		case domain.SeverityInfo:
			counts.Info++
		}
		reportFindings = append(reportFindings, ReportFinding{
			Severity:    f.Severity,
			RuleID:      f.RuleID,
			Message:     f.Message,
			Evidence:    f.Evidence,
			Remediation: f.Remediation,
		})
	}

	highlights, err := extractHighlights(string(analysis.TestType), analysis.ExtractionPayload)
	if err != nil {
		return nil, err
	}

	return &ReportBundle{
		Header: Header{
			EquipmentTag:  analysis.EquipmentTag,
			TestType:      string(analysis.TestType),
			EquipmentType: string(analysis.EquipmentType),
			CreatedAt:     analysis.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		},
		ExecutiveSummary: ExecutiveSummary{
			Verdict:        string(*analysis.Verdict),
			Score:          analysis.ComplianceScore,
			Confidence:     analysis.OverallConfidence,
			NeedsReview:    analysis.NeedsReview,
			SeverityCounts: counts,
			Highlights:     highlights,
		},
		Findings: reportFindings,
	}, nil
}

// extractHighlights runs this test type's jq filters against the
// extraction payload, collecting whichever resolve to a concrete
// value. A filter that errors or resolves to null is simply omitted.
func extractHighlights(testType string, extractionPayload []byte) (map[string]any, error) {
	queries, ok := highlightQueries[testType]
	if !ok || len(extractionPayload) == 0 {
		return nil, nil
	}

	var payload any
	if err := json.Unmarshal(extractionPayload, &payload); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "decode extraction payload for report highlights")
	}

	highlights := make(map[string]any)
	for _, q := range queries {
		parsed, err := gojq.Parse(q)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "parse report highlight filter").WithDetailsf("filter=%s", q)
		}
		iter := parsed.Run(payload)
		v, ok := iter.Next()
		if !ok {
			continue
		}
		if err, isErr := v.(error); isErr {
			_ = err
			continue
		}
		if v == nil {
			continue
		}
		highlights[q] = v
	}
	if len(highlights) == 0 {
		return nil, nil
	}
	return highlights, nil
}
