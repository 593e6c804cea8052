package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/auditeng/compliance/internal/config"
)

func TestExtraction(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Extraction Client Suite")
}

// scriptedProvider replays a fixed response sequence (repeating the
// last entry once exhausted) and records every request it receives, so
// tests can assert both call counts and re-prompt contents.
type scriptedProvider struct {
	responses []scriptedResponse
	requests  []Request
}

type scriptedResponse struct {
	raw json.RawMessage
	err error
}

func (p *scriptedProvider) Call(_ context.Context, req Request) (json.RawMessage, Metadata, error) {
	p.requests = append(p.requests, req)
	i := len(p.requests) - 1
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	r := p.responses[i]
	return r.raw, Metadata{ModelVersion: "test-model"}, r.err
}

// reading is the minimal Validatable payload the suite extracts into.
type reading struct {
	Value float64 `json:"value"`
}

func (r *reading) Validate() error {
	if r.Value <= 0 {
		return errors.New("value must be positive")
	}
	return nil
}

func extractReading(p Provider, maxRetries int) (*reading, []Request, error) {
	client := New(p, config.LLMConfig{MaxRetries: maxRetries}, zap.NewNop())
	sp := p.(*scriptedProvider)
	value, _, err := ExtractInto(context.Background(), client, Request{
		SystemPrompt: "extract the reading",
		SchemaName:   "reading.v1",
	}, func() *reading { return &reading{} })
	return value, sp.requests, err
}

var _ = Describe("ExtractInto", func() {
	It("returns the validated value on the first attempt when the provider succeeds", func() {
		p := &scriptedProvider{responses: []scriptedResponse{
			{raw: json.RawMessage(`{"value": 3.5}`)},
		}}
		value, requests, err := extractReading(p, 2)
		Expect(err).ToNot(HaveOccurred())
		Expect(value.Value).To(Equal(3.5))
		Expect(requests).To(HaveLen(1))
	})

	It("gives up with a typed ExtractionError once the provider budget is spent", func() {
		p := &scriptedProvider{responses: []scriptedResponse{
			{err: errors.New("upstream 503")},
		}}
		_, requests, err := extractReading(p, 2)
		Expect(err).To(HaveOccurred())
		var xerr *ExtractionError
		Expect(errors.As(err, &xerr)).To(BeTrue())
		Expect(requests).To(HaveLen(2))
	})

	It("re-prompts with the validator's error text and gives up once the validation budget is spent", func() {
		p := &scriptedProvider{responses: []scriptedResponse{
			{raw: json.RawMessage(`{"value": -1}`)},
		}}
		_, requests, err := extractReading(p, 2)
		Expect(err).To(HaveOccurred())
		var xerr *ExtractionError
		Expect(errors.As(err, &xerr)).To(BeTrue())
		Expect(requests).To(HaveLen(2))
		Expect(requests[0].SystemPrompt).To(Equal("extract the reading"))
		Expect(requests[1].SystemPrompt).To(ContainSubstring("did not satisfy the schema"))
		Expect(requests[1].SystemPrompt).To(ContainSubstring("value must be positive"))
	})

	It("re-prompts when the response is not valid JSON at all", func() {
		p := &scriptedProvider{responses: []scriptedResponse{
			{raw: json.RawMessage(`not json`)},
			{raw: json.RawMessage(`{"value": 1.0}`)},
		}}
		value, requests, err := extractReading(p, 2)
		Expect(err).ToNot(HaveOccurred())
		Expect(value.Value).To(Equal(1.0))
		Expect(requests).To(HaveLen(2))
		Expect(requests[1].SystemPrompt).To(ContainSubstring("not valid JSON"))
	})

	It("keeps the provider and validation budgets independent", func() {
		// One transient failure plus one validation failure: a shared
		// counter capped at 2 would give up before the third call; the
		// split budgets carry it through to success.
		p := &scriptedProvider{responses: []scriptedResponse{
			{err: errors.New("connection reset")},
			{raw: json.RawMessage(`{"value": -1}`)},
			{raw: json.RawMessage(`{"value": 7.25}`)},
		}}
		value, requests, err := extractReading(p, 2)
		Expect(err).ToNot(HaveOccurred())
		Expect(value.Value).To(Equal(7.25))
		Expect(requests).To(HaveLen(3))
	})

	It("does not let validation retries consume the provider budget", func() {
		// Two validation failures (the full validation budget would be
		// spent on a third) followed by success; the lone successful
		// provider calls must not count against the provider budget.
		p := &scriptedProvider{responses: []scriptedResponse{
			{raw: json.RawMessage(`{"value": -1}`)},
			{raw: json.RawMessage(`{"value": 0}`)},
			{raw: json.RawMessage(`{"value": 2.5}`)},
		}}
		value, requests, err := extractReading(p, 3)
		Expect(err).ToNot(HaveOccurred())
		Expect(value.Value).To(Equal(2.5))
		Expect(requests).To(HaveLen(3))
	})
})

var _ = Describe("backoffDelay", func() {
	DescribeTable("doubles from a 1s base and caps at 30s",
		func(attempt int, expected time.Duration) {
			Expect(backoffDelay(attempt)).To(Equal(expected))
		},
		Entry("first retry", 1, time.Second),
		Entry("second retry", 2, 2*time.Second),
		Entry("third retry", 3, 4*time.Second),
		Entry("fifth retry", 5, 16*time.Second),
		Entry("sixth retry hits the cap", 6, 30*time.Second),
		Entry("stays capped far out", 10, 30*time.Second),
	)
})

var _ = Describe("reprompt", func() {
	It("appends the correction instruction without mutating the original request", func() {
		req := Request{SystemPrompt: "base prompt", SchemaName: "reading.v1"}
		next := reprompt(req, "value must be positive")
		Expect(next.SystemPrompt).To(ContainSubstring("base prompt"))
		Expect(next.SystemPrompt).To(ContainSubstring("value must be positive"))
		Expect(req.SystemPrompt).To(Equal("base prompt"))
	})
})

var _ = Describe("FieldConfidence", func() {
	It("reports BelowThreshold strictly", func() {
		f := FieldConfidence[string]{Value: "2026-01-01", Confidence: 0.8}
		Expect(f.BelowThreshold(CalibrationConfidenceThreshold)).To(BeFalse())
		Expect(f.BelowThreshold(0.81)).To(BeTrue())
		low := FieldConfidence[float64]{Value: 1.0, Confidence: 0.69}
		Expect(low.BelowThreshold(LowConfidenceThreshold)).To(BeTrue())
	})
})
