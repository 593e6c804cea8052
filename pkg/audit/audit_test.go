package audit

import (
	"context"
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/auditeng/compliance/internal/idgen"
	"github.com/auditeng/compliance/pkg/domain"
)

func TestAudit(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Audit Logger Suite")
}

type fakeRepo struct {
	events []*domain.AuditEvent
	err    error
}

func (f *fakeRepo) Insert(ctx context.Context, e *domain.AuditEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, e)
	return nil
}

var _ = Describe("Logger.Log", func() {
	It("persists an event with the given type, analysis ID, and encoded details", func() {
		repo := &fakeRepo{}
		logger := New(repo, zap.NewNop())
		analysisID := idgen.New()

		logger.Log(context.Background(), domain.EventFindingGenerated, analysisID, map[string]any{
			"rule_id": "GND-01",
		}, WithRuleID("GND-01"), WithConfidenceScore(0.92))

		Expect(repo.events).To(HaveLen(1))
		e := repo.events[0]
		Expect(e.EventType).To(Equal(domain.EventFindingGenerated))
		Expect(e.AnalysisID).To(Equal(analysisID))
		Expect(*e.RuleID).To(Equal("GND-01"))
		Expect(*e.ConfidenceScore).To(Equal(0.92))
		Expect(string(e.Details)).To(ContainSubstring(`"rule_id":"GND-01"`))
	})

	It("never propagates a repository failure to the caller", func() {
		repo := &fakeRepo{err: errors.New("connection reset")}
		logger := New(repo, zap.NewNop())

		Expect(func() {
			logger.Log(context.Background(), domain.EventExtractionFailed, idgen.New(), nil)
		}).ToNot(Panic())
	})

	It("encodes an empty details map as an empty JSON object", func() {
		Expect(encodeDetails(nil)).To(Equal([]byte("{}")))
		Expect(encodeDetails(map[string]any{})).To(Equal([]byte("{}")))
	})
})
