package extractors

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/auditeng/compliance/pkg/extraction"
)

var _ = Describe("GroundingResult", func() {
	fs := func(v string) extraction.FieldConfidence[string] {
		return extraction.FieldConfidence[string]{Value: v, Confidence: 0.9}
	}
	ff := func(v float64) extraction.FieldConfidence[float64] {
		return extraction.FieldConfidence[float64]{Value: v, Confidence: 0.9}
	}
	confident := func() *GroundingResult {
		return &GroundingResult{
			Equipment:      EquipmentInfo{Tag: fs("PNL-01"), Type: fs("PANEL")},
			TestConditions: TestConditions{Date: fs("2026-03-10"), Tester: fs("M. Costa")},
			Measurements: []Measurement{
				{TestPoint: fs("TP-1"), Resistance: ff(2.1)},
				{TestPoint: fs("TP-2"), Resistance: ff(3.0)},
				{TestPoint: fs("TP-3"), Resistance: ff(4.8)},
			},
		}
	}

	Describe("DeriveStats", func() {
		It("fills min/max/avg from the measurement list", func() {
			r := confident()
			r.DeriveStats()
			Expect(r.MinResistance).To(Equal(2.1))
			Expect(r.MaxResistance).To(Equal(4.8))
			Expect(r.AvgResistance).To(BeNumerically("~", 3.3, 0.0001))
		})

		It("zeroes the stats for an empty measurement list", func() {
			r := &GroundingResult{MinResistance: 9, MaxResistance: 9, AvgResistance: 9}
			r.DeriveStats()
			Expect(r.MinResistance).To(BeZero())
			Expect(r.MaxResistance).To(BeZero())
			Expect(r.AvgResistance).To(BeZero())
		})
	})

	Describe("NeedsReview", func() {
		It("is false when every leaf clears its threshold", func() {
			Expect(confident().NeedsReview()).To(BeFalse())
		})

		It("is true when any single measurement leaf falls below 0.7", func() {
			r := confident()
			r.Measurements[1].Resistance.Confidence = 0.65
			Expect(r.NeedsReview()).To(BeTrue())
		})

		It("ignores an absent optional method field", func() {
			r := confident()
			r.Measurements[0].Method = extraction.FieldConfidence[string]{}
			Expect(r.NeedsReview()).To(BeFalse())
		})

		It("holds the calibration expiration date to the stricter 0.8 threshold", func() {
			r := confident()
			r.Calibration = &CalibrationInfo{
				Serial:         fs("CAL-9"),
				ExpirationDate: extraction.FieldConfidence[string]{Value: "2027-01-01", Confidence: 0.79},
			}
			Expect(r.NeedsReview()).To(BeTrue())
		})
	})
})
