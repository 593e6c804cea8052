package taskstore

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	apperrors "github.com/auditeng/compliance/internal/errors"
	"github.com/auditeng/compliance/internal/idgen"
	"github.com/auditeng/compliance/pkg/domain"
)

type FindingRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

type findingRow struct {
	ID          string `db:"id"`
	AnalysisID  string `db:"analysis_id"`
	Severity    string `db:"severity"`
	RuleID      string `db:"rule_id"`
	Message     string `db:"message"`
	Evidence    []byte `db:"evidence"`
	Remediation *string `db:"remediation"`
}

func (r findingRow) toDomain() (*domain.Finding, error) {
	id, err := idgen.Parse(r.ID)
	if err != nil {
		return nil, err
	}
	analysisID, err := idgen.Parse(r.AnalysisID)
	if err != nil {
		return nil, err
	}
	var ev domain.Evidence
	if err := json.Unmarshal(r.Evidence, &ev); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "decode finding evidence")
	}
	return &domain.Finding{
		ID:          id,
		AnalysisID:  analysisID,
		Severity:    domain.Severity(r.Severity),
		RuleID:      r.RuleID,
		Message:     r.Message,
		Evidence:    ev,
		Remediation: r.Remediation,
	}, nil
}

// InsertMany persists every finding produced by a single validation run
// in one statement per finding, inside one transaction of its own.
func (r *FindingRepository) InsertMany(ctx context.Context, findings []*domain.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	const q = `
		INSERT INTO findings (id, analysis_id, severity, rule_id, message, evidence, remediation)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "begin findings transaction")
	}
	defer tx.Rollback()

	for _, f := range findings {
		ev, err := json.Marshal(f.Evidence)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "encode finding evidence")
		}
		if _, err := tx.ExecContext(ctx, q,
			f.ID.String(), f.AnalysisID.String(), string(f.Severity), f.RuleID, f.Message, ev, f.Remediation); err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "insert finding")
		}
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "commit findings transaction")
	}
	return nil
}

// ListByAnalysis returns every finding for an analysis, ordered by
// severity weight (CRITICAL first) so the report renders worst-first.
func (r *FindingRepository) ListByAnalysis(ctx context.Context, analysisID idgen.ID) ([]*domain.Finding, error) {
	const q = `
		SELECT id, analysis_id, severity, rule_id, message, evidence, remediation
		FROM findings
		WHERE analysis_id = $1
		ORDER BY CASE severity
			WHEN 'CRITICAL' THEN 0
			WHEN 'MAJOR' THEN 1
			WHEN 'MINOR' THEN 2
			ELSE 3
		END, rule_id`

	var rows []findingRow
	if err := r.db.SelectContext(ctx, &rows, q, analysisID.String()); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "list findings")
	}

	out := make([]*domain.Finding, 0, len(rows))
	for _, row := range rows {
		f, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// SeverityCounts tallies an analysis's findings directly in SQL, the
// same predicate ComputeScore/ComputeVerdict consume.
func (r *FindingRepository) SeverityCounts(ctx context.Context, analysisID idgen.ID) (domain.SeverityCounts, error) {
	const q = `
		SELECT
			count(*) FILTER (WHERE severity = 'CRITICAL') AS critical,
			count(*) FILTER (WHERE severity = 'MAJOR') AS major,
			count(*) FILTER (WHERE severity = 'MINOR') AS minor,
			count(*) FILTER (WHERE severity = 'INFO') AS info
		FROM findings WHERE analysis_id = $1`

	var counts domain.SeverityCounts
	row := r.db.QueryRowxContext(ctx, q, analysisID.String())
	if err := row.Scan(&counts.Critical, &counts.Major, &counts.Minor, &counts.Info); err != nil {
		return domain.SeverityCounts{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "count findings by severity")
	}
	return counts, nil
}
