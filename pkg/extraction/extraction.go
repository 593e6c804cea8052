// Package extraction is the Extraction Client: the only
// component permitted to call the external LLM. Every other component
// in this repository is deterministic.
package extraction

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/auditeng/compliance/internal/config"
	apperrors "github.com/auditeng/compliance/internal/errors"
)

// FieldConfidence wraps every extracted leaf field: the value
// itself, the model's confidence in it, and the
// literal span of the source document it was read from.
type FieldConfidence[T any] struct {
	Value      T       `json:"value"`
	Confidence float64 `json:"confidence"`
	SourceText string  `json:"source_text,omitempty"`
}

// LowConfidenceThreshold is the default per-field review threshold.
// Calibration expiration dates use CalibrationConfidenceThreshold
// instead.
const LowConfidenceThreshold = 0.7

// CalibrationConfidenceThreshold is the stricter threshold applied
// to calibration expiration dates specifically.
const CalibrationConfidenceThreshold = 0.8

// BelowThreshold reports whether this field's confidence falls under t,
// the building block of every extractor's NeedsReview computation.
func (f FieldConfidence[T]) BelowThreshold(t float64) bool {
	return f.Confidence < t
}

// ImageBlock is one base64-encoded image supplied to the provider
// alongside optional text.
type ImageBlock struct {
	MediaType string // e.g. "image/png", "image/jpeg", "image/tiff"
	Data      []byte
}

func (b ImageBlock) base64() string {
	return base64.StdEncoding.EncodeToString(b.Data)
}

// Request is one extraction call's input.
type Request struct {
	SystemPrompt string
	TextBlocks   []string
	ImageBlocks  []ImageBlock
	// SchemaName identifies the response schema for provider-side
	// logging/metrics; the actual structural validation happens after
	// unmarshal via Validatable.Validate.
	SchemaName string
}

// Metadata carries everything the orchestrator logs about an
// extraction call: model identity, prompt version,
// token counts, and the aggregate confidence signal.
type Metadata struct {
	ModelVersion     string
	PromptVersion    string
	InputTokens      int
	OutputTokens     int
	OverallConfidence float64
}

// ExtractionError is the typed error returned after every retry is
// exhausted.
type ExtractionError struct {
	*apperrors.AppError
	Attempts int
}

func newExtractionError(cause error, attempts int) *ExtractionError {
	return &ExtractionError{
		AppError: apperrors.Wrap(cause, apperrors.ErrorTypeExternal, "extraction failed").
			WithDetailsf("attempts=%d", attempts),
		Attempts: attempts,
	}
}

// Validatable is implemented by every extractor's typed response struct
//. Validate
// returns a non-nil error describing exactly what is wrong, which the
// client feeds back into a re-prompt.
type Validatable interface {
	Validate() error
}

// Provider is the raw transport to an LLM backend: given a prompt and
// blocks, it returns unparsed JSON conforming (hopefully) to the
// requested schema, plus call metadata. Two implementations exist:
// anthropicProvider (direct API) and bedrockProvider (Bedrock-hosted
// Claude), selected by Config.LLM.Provider.
type Provider interface {
	Call(ctx context.Context, req Request) (json.RawMessage, Metadata, error)
}

// Client wraps a Provider with the circuit breaker and retry policy:
// transient provider errors retry with exponential backoff
// (1-30s, max 3 attempts); schema-validation failures retry by
// re-prompting with the validator's error text (also max 3 attempts).
type Client struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker
	cfg      config.LLMConfig
	logger   *zap.Logger
}

// New builds a Client for the provider selected by cfg.Provider. The
// caller constructs the concrete Provider (NewAnthropicProvider or
// NewBedrockProvider) and passes it in, keeping this package agnostic
// to SDK wiring details.
func New(provider Provider, cfg config.LLMConfig, logger *zap.Logger) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-extraction",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Client{provider: provider, breaker: breaker, cfg: cfg, logger: logger}
}

// ExtractInto calls the provider and unmarshals+validates the result
// into a T under two independent retry policies. T must
// be a pointer-receiver Validatable so re-validation can run in place.
func ExtractInto[T Validatable](ctx context.Context, c *Client, req Request, newValue func() T) (T, Metadata, error) {
	var zero T
	maxRetries := c.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	var meta Metadata
	currentReq := req

	// providerAttempts and validationAttempts are independent
	// budgets: a transient provider error never consumes the
	// schema-validation budget and vice versa. Each counts only its
	// own class of failure, and the call only gives up once one of
	// the two budgets (each capped at maxRetries) is spent.
	var providerAttempts, validationAttempts int

	for {
		raw, m, err := c.callWithBreaker(ctx, currentReq)
		meta = m
		if err != nil {
			lastErr = err
			providerAttempts++
			if providerAttempts >= maxRetries {
				break
			}
			wait := backoffDelay(providerAttempts)
			c.logger.Warn("llm provider call failed, retrying",
				zap.Int("attempt", providerAttempts), zap.Error(err), zap.Duration("backoff", wait))
			if !sleep(ctx, wait) {
				return zero, meta, newExtractionError(ctx.Err(), providerAttempts)
			}
			continue
		}

		value := newValue()
		if uerr := json.Unmarshal(raw, value); uerr != nil {
			lastErr = uerr
			validationAttempts++
			if validationAttempts >= maxRetries {
				break
			}
			currentReq = reprompt(req, fmt.Sprintf("response was not valid JSON for schema %s: %v", req.SchemaName, uerr))
			continue
		}
		if verr := value.Validate(); verr != nil {
			lastErr = verr
			validationAttempts++
			if validationAttempts >= maxRetries {
				break
			}
			c.logger.Info("llm response failed schema validation, re-prompting",
				zap.Int("attempt", validationAttempts), zap.Error(verr))
			currentReq = reprompt(req, verr.Error())
			continue
		}
		return value, meta, nil
	}

	return zero, meta, newExtractionError(lastErr, providerAttempts+validationAttempts)
}

func (c *Client) callWithBreaker(ctx context.Context, req Request) (json.RawMessage, Metadata, error) {
	var meta Metadata
	result, err := c.breaker.Execute(func() (any, error) {
		raw, m, callErr := c.provider.Call(ctx, req)
		meta = m
		return raw, callErr
	})
	if err != nil {
		return nil, meta, err
	}
	raw, _ := result.(json.RawMessage)
	return raw, meta, nil
}

// reprompt appends the validator's error text to the system prompt,
// the re-prompt mechanism used for schema-validation retries.
func reprompt(req Request, validationError string) Request {
	next := req
	next.SystemPrompt = req.SystemPrompt + fmt.Sprintf(
		"\n\nYour previous response did not satisfy the schema: %s. Correct it and respond again with valid JSON only.",
		validationError)
	return next
}

// backoffDelay implements the provider-error backoff: 1-30s, doubling
// per attempt, capped at 30s.
func backoffDelay(attempt int) time.Duration {
	d := time.Second * time.Duration(1<<uint(attempt-1))
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
