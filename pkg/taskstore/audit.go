package taskstore

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	apperrors "github.com/auditeng/compliance/internal/errors"
	"github.com/auditeng/compliance/internal/idgen"
	"github.com/auditeng/compliance/pkg/domain"
)

// AuditRepository exposes only Insert and ListByAnalysis: no Update, no
// Delete, matching the append-only invariant enforced at the schema
// level by the REVOKE in migrations/00001_init.sql.
type AuditRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

type auditRow struct {
	ID              string    `db:"id"`
	AnalysisID      string    `db:"analysis_id"`
	EventType       string    `db:"event_type"`
	EventTimestamp  time.Time `db:"event_timestamp"`
	ModelVersion    *string   `db:"model_version"`
	PromptVersion   *string   `db:"prompt_version"`
	RuleID          *string   `db:"rule_id"`
	ConfidenceScore *float64  `db:"confidence_score"`
	Details         []byte    `db:"details"`
}

// Insert appends one audit event. The table is append-only.
func (r *AuditRepository) Insert(ctx context.Context, e *domain.AuditEvent) error {
	const q = `
		INSERT INTO audit_logs (id, analysis_id, event_type, event_timestamp,
			model_version, prompt_version, rule_id, confidence_score, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, q,
		e.ID.String(), e.AnalysisID.String(), string(e.EventType), e.EventTimestamp,
		e.ModelVersion, e.PromptVersion, e.RuleID, e.ConfidenceScore, e.Details)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "insert audit event")
	}
	return nil
}

// ListByAnalysis returns every audit event for an analysis, in
// chronological order, for the audit-trail endpoint.
func (r *AuditRepository) ListByAnalysis(ctx context.Context, analysisID idgen.ID) ([]*domain.AuditEvent, error) {
	const q = `
		SELECT id, analysis_id, event_type, event_timestamp, model_version,
			prompt_version, rule_id, confidence_score, details
		FROM audit_logs
		WHERE analysis_id = $1
		ORDER BY event_timestamp ASC`

	var rows []auditRow
	if err := r.db.SelectContext(ctx, &rows, q, analysisID.String()); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "list audit events")
	}

	out := make([]*domain.AuditEvent, 0, len(rows))
	for _, row := range rows {
		id, err := idgen.Parse(row.ID)
		if err != nil {
			return nil, err
		}
		analysisID, err := idgen.Parse(row.AnalysisID)
		if err != nil {
			return nil, err
		}
		out = append(out, &domain.AuditEvent{
			ID:              id,
			AnalysisID:      analysisID,
			EventType:       domain.AuditEventType(row.EventType),
			EventTimestamp:  row.EventTimestamp,
			ModelVersion:    row.ModelVersion,
			PromptVersion:   row.PromptVersion,
			RuleID:          row.RuleID,
			ConfidenceScore: row.ConfidenceScore,
			Details:         row.Details,
		})
	}
	return out, nil
}
