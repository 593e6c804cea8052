// Package audit is the Audit Logger: an append-only log at
// rule granularity. Failures here are caught and logged as warnings;
// they never fail the caller's surrounding operation: an audit gap
// is preferable to a lost extraction.
package audit

import (
	"context"
	"time"

	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/auditeng/compliance/internal/idgen"
	"github.com/auditeng/compliance/pkg/domain"
)

// Repository is the persistence seam this package writes through
// (satisfied by *taskstore.AuditRepository); kept as an interface here
// so the orchestrator's tests can substitute a recording fake.
type Repository interface {
	Insert(ctx context.Context, e *domain.AuditEvent) error
}

// Logger appends AuditEvents. It never updates or deletes;
// the only two operations it exposes are Log and the repository's own
// ListByAnalysis, reached directly by the review API.
type Logger struct {
	repo   Repository
	logger *zap.Logger
}

func New(repo Repository, logger *zap.Logger) *Logger {
	return &Logger{repo: repo, logger: logger}
}

// Option customizes one optional field of an AuditEvent.
type Option func(*domain.AuditEvent)

func WithModelVersion(v string) Option {
	return func(e *domain.AuditEvent) { e.ModelVersion = &v }
}

func WithPromptVersion(v string) Option {
	return func(e *domain.AuditEvent) { e.PromptVersion = &v }
}

func WithRuleID(v string) Option {
	return func(e *domain.AuditEvent) { e.RuleID = &v }
}

func WithConfidenceScore(v float64) Option {
	return func(e *domain.AuditEvent) { e.ConfidenceScore = &v }
}

// WithTimestamp overrides EventTimestamp, used for the retroactive
// extraction_started event (timestamped at step 2,
// before the Analysis that owns it existed).
func WithTimestamp(t time.Time) Option {
	return func(e *domain.AuditEvent) { e.EventTimestamp = t }
}

// Log appends one event. On failure it logs a warning and returns,
// never propagating the error to the caller.
func (l *Logger) Log(ctx context.Context, eventType domain.AuditEventType, analysisID idgen.ID, details map[string]any, opts ...Option) {
	event := &domain.AuditEvent{
		ID:             idgen.New(),
		AnalysisID:     analysisID,
		EventType:      eventType,
		EventTimestamp: time.Now().UTC(),
		Details:        encodeDetails(details),
	}
	for _, opt := range opts {
		opt(event)
	}

	if err := l.repo.Insert(ctx, event); err != nil {
		l.logger.Warn("audit log insert failed; continuing without it",
			zap.String("event_type", string(eventType)),
			zap.String("analysis_id", analysisID.String()),
			zap.Error(err))
	}
}

// encodeDetails renders details into the opaque JSON column. A
// jx.Writer handles the common case of flat string/number/bool values
// without an intermediate interface{} walk; any other value is written
// as its String() form when it has one, and as the string
// "<unencodable>" otherwise, so every key is kept.
func encodeDetails(details map[string]any) []byte {
	if len(details) == 0 {
		return []byte("{}")
	}

	w := jx.GetWriter()
	defer jx.PutWriter(w)

	w.ObjStart()
	first := true
	for k, v := range details {
		if !first {
			w.Comma()
		}
		first = false
		w.FieldStart(k)
		encodeValue(w, v)
	}
	w.ObjEnd()

	out := make([]byte, len(w.Buf))
	copy(out, w.Buf)
	return out
}

func encodeValue(w *jx.Writer, v any) {
	switch val := v.(type) {
	case string:
		w.Str(val)
	case bool:
		w.Bool(val)
	case int:
		w.Int(val)
	case int64:
		w.Int64(val)
	case float64:
		w.Float64(val)
	case []string:
		w.ArrStart()
		for i, s := range val {
			if i > 0 {
				w.Comma()
			}
			w.Str(s)
		}
		w.ArrEnd()
	case nil:
		w.Null()
	default:
		w.Str(stringify(val))
	}
}

func stringify(v any) string {
	if s, ok := v.(interface{ String() string }); ok {
		return s.String()
	}
	return "<unencodable>"
}
