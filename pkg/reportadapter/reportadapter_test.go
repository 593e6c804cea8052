package reportadapter_test

import (
	"encoding/json"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/auditeng/compliance/internal/idgen"
	"github.com/auditeng/compliance/pkg/domain"
	"github.com/auditeng/compliance/pkg/reportadapter"
)

func TestReportAdapter(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "ReportAdapter Suite")
}

var _ = Describe("FromAnalysis", func() {
	It("rejects an analysis with no verdict yet", func() {
		analysis := &domain.Analysis{ID: idgen.New()}
		_, err := reportadapter.FromAnalysis(analysis, nil)
		Expect(err).To(HaveOccurred())
	})

	It("assembles header, summary, and ordered findings", func() {
		verdict := domain.VerdictRejected
		payload, _ := json.Marshal(map[string]any{
			"max_delta_t":    92.0,
			"max_severity":   "CRITICAL",
			"critical_count": 1,
			"serious_count":  0,
		})
		analysis := &domain.Analysis{
			ID:                idgen.New(),
			TestType:          domain.TestThermography,
			EquipmentType:     domain.EquipmentPanel,
			EquipmentTag:      "PNL-12",
			ComplianceScore:   75,
			OverallConfidence: 0.92,
			Verdict:           &verdict,
			ExtractionPayload: payload,
		}
		findings := []*domain.Finding{
			{Severity: domain.SeverityCritical, RuleID: "THERM-01", Message: "hotspot exceeds critical band",
				Evidence: domain.Evidence{ExtractedValue: 92.0, Threshold: 70.0, StandardReference: "NETA MTS-2023 §9"}},
		}

		bundle, err := reportadapter.FromAnalysis(analysis, findings)
		Expect(err).ToNot(HaveOccurred())
		Expect(bundle.Header.EquipmentTag).To(Equal("PNL-12"))
		Expect(bundle.ExecutiveSummary.Verdict).To(Equal("REJECTED"))
		Expect(bundle.ExecutiveSummary.SeverityCounts.Critical).To(Equal(1))
		Expect(bundle.ExecutiveSummary.Highlights).To(HaveKeyWithValue(".max_delta_t", 92.0))
		Expect(bundle.Findings).To(HaveLen(1))
		Expect(bundle.Findings[0].RuleID).To(Equal("THERM-01"))
	})

	It("omits highlights entirely for an unrecognized test type", func() {
		verdict := domain.VerdictApproved
		analysis := &domain.Analysis{
			ID:       idgen.New(),
			TestType: domain.TestUnknown,
			Verdict:  &verdict,
		}
		bundle, err := reportadapter.FromAnalysis(analysis, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(bundle.ExecutiveSummary.Highlights).To(BeNil())
	})
})
