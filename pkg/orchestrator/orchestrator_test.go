package orchestrator

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/auditeng/compliance/pkg/domain"
	"github.com/auditeng/compliance/pkg/extraction"
	"github.com/auditeng/compliance/pkg/extractors"
	"github.com/auditeng/compliance/pkg/validation"
)

func TestOrchestrator(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Orchestrator Suite")
}

func fc(v string, conf float64) extraction.FieldConfidence[string] {
	return extraction.FieldConfidence[string]{Value: v, Confidence: conf}
}

var _ = Describe("combineResults", func() {
	It("sums counts and concatenates findings/rules across every result, in order", func() {
		r1 := validation.Result{
			Findings:     []validation.Finding{{RuleID: "A-1", Severity: domain.SeverityMajor}},
			RulesApplied: []string{"A-1"},
			Counts:       domain.SeverityCounts{Major: 1},
		}
		r2 := validation.Result{
			Findings:     []validation.Finding{{RuleID: "B-1", Severity: domain.SeverityCritical}},
			RulesApplied: []string{"B-1", "B-2"},
			Counts:       domain.SeverityCounts{Critical: 1},
		}

		findings, rules, counts := combineResults(r1, r2)

		Expect(findings).To(HaveLen(2))
		Expect(findings[0].RuleID).To(Equal("A-1"))
		Expect(findings[1].RuleID).To(Equal("B-1"))
		Expect(rules).To(Equal([]string{"A-1", "B-1", "B-2"}))
		Expect(counts).To(Equal(domain.SeverityCounts{Critical: 1, Major: 1}))
	})

	It("returns a zero result for no inputs", func() {
		findings, rules, counts := combineResults()
		Expect(findings).To(BeEmpty())
		Expect(rules).To(BeEmpty())
		Expect(counts).To(Equal(domain.SeverityCounts{}))
	})
})

var _ = Describe("extractionOutcome", func() {
	It("dispatches every accessor to the grounding result when testType is grounding", func() {
		o := extractionOutcome{
			testType: domain.TestGrounding,
			grounding: &extractors.GroundingResult{
				Equipment:      extractors.EquipmentInfo{Tag: fc("PNL-01", 0.9), Type: fc("PANEL", 0.9)},
				Calibration:    &extractors.CalibrationInfo{Serial: fc("SN-1", 0.9)},
				TestConditions: extractors.TestConditions{Date: fc("2026-01-01", 0.9)},
			},
		}

		Expect(o.equipment().Tag.Value).To(Equal("PNL-01"))
		Expect(o.calibrationSerial()).To(Equal("SN-1"))
		Expect(o.inspectionDate()).To(Equal("2026-01-01"))
		Expect(o.overallConfidence()).To(BeNumerically(">", 0))

		payload, err := o.payload()
		Expect(err).NotTo(HaveOccurred())
		Expect(payload).To(ContainSubstring("PNL-01"))
	})

	It("returns a nil calibration when the extraction carried none", func() {
		o := extractionOutcome{
			testType: domain.TestMegger,
			megger:   &extractors.MeggerResult{Equipment: extractors.EquipmentInfo{Tag: fc("PNL-02", 0.9)}},
		}
		Expect(o.calibration()).To(BeNil())
		Expect(o.calibrationSerial()).To(Equal(""))
	})

	It("errors encoding the payload of an unrecognized test type", func() {
		o := extractionOutcome{testType: domain.TestUnknown}
		_, err := o.payload()
		Expect(err).To(HaveOccurred())
	})
})
