package findings

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/auditeng/compliance/internal/idgen"
	"github.com/auditeng/compliance/pkg/domain"
	"github.com/auditeng/compliance/pkg/validation"
)

func TestFindings(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Findings Suite")
}

var _ = Describe("ComputeScore", func() {
	DescribeTable("matches max(0, 100 - 25c - 10m - 2n); INFO has zero effect",
		func(counts domain.SeverityCounts, expected float64) {
			Expect(ComputeScore(counts)).To(Equal(expected))
		},
		Entry("no findings", domain.SeverityCounts{}, 100.0),
		Entry("one major", domain.SeverityCounts{Major: 1}, 90.0),
		Entry("one critical", domain.SeverityCounts{Critical: 1}, 75.0),
		Entry("info-only never moves the score", domain.SeverityCounts{Info: 50}, 100.0),
		Entry("floor at zero", domain.SeverityCounts{Critical: 10}, 0.0),
		Entry("mixed severities", domain.SeverityCounts{Critical: 1, Major: 1, Minor: 2}, 61.0),
	)
})

var _ = Describe("ComputeVerdict", func() {
	// Adding a CRITICAL finding to an APPROVED or REVIEW analysis
	// must force REJECTED.
	It("forces REJECTED once any CRITICAL finding is present, regardless of score/confidence", func() {
		approved := ComputeVerdict(domain.SeverityCounts{}, 100, 0.99)
		Expect(approved).To(Equal(domain.VerdictApproved))

		withCritical := ComputeVerdict(domain.SeverityCounts{Critical: 1}, 100, 0.99)
		Expect(withCritical).To(Equal(domain.VerdictRejected))
	})

	It("is REVIEW when score < 95 even with zero findings otherwise", func() {
		Expect(ComputeVerdict(domain.SeverityCounts{Major: 1}, 90, 0.99)).To(Equal(domain.VerdictReview))
	})

	It("is REVIEW when confidence < 0.7 even with a perfect score", func() {
		Expect(ComputeVerdict(domain.SeverityCounts{}, 100, 0.5)).To(Equal(domain.VerdictReview))
	})

	It("is APPROVED only when score >= 95, confidence >= 0.7, and no CRITICAL finding", func() {
		Expect(ComputeVerdict(domain.SeverityCounts{}, 95, 0.7)).To(Equal(domain.VerdictApproved))
	})
})

var _ = Describe("ToPersisted", func() {
	It("defaults a blank standard reference to N/A", func() {
		analysisID := idgen.New()
		vf := validation.Finding{
			Severity: domain.SeverityMinor,
			RuleID:   "GND-02",
			Message:  "missing test point",
			Evidence: domain.Evidence{ExtractedValue: ""},
		}
		f := ToPersisted(vf, analysisID)
		Expect(f.Evidence.StandardReference).To(Equal(domain.DefaultStandardReference))
		Expect(f.AnalysisID).To(Equal(analysisID))
		Expect(f.RuleID).To(Equal("GND-02"))
	})

	It("preserves a non-blank standard reference", func() {
		vf := validation.Finding{
			RuleID:   "GND-01",
			Evidence: domain.Evidence{StandardReference: "NETA ATS-2021 §7.13"},
		}
		f := ToPersisted(vf, idgen.New())
		Expect(f.Evidence.StandardReference).To(Equal("NETA ATS-2021 §7.13"))
	})
})
