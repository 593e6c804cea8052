package taskstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	apperrors "github.com/auditeng/compliance/internal/errors"
	"github.com/auditeng/compliance/internal/idgen"
	"github.com/auditeng/compliance/pkg/domain"
)

type AnalysisRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

type analysisRow struct {
	ID                string    `db:"id"`
	TaskID            string    `db:"task_id"`
	TestType          string    `db:"test_type"`
	EquipmentType     string    `db:"equipment_type"`
	EquipmentTag      string    `db:"equipment_tag"`
	ComplianceScore   float64   `db:"compliance_score"`
	OverallConfidence float64   `db:"overall_confidence"`
	NeedsReview       bool      `db:"needs_review"`
	Verdict           *string   `db:"verdict"`
	RejectionReason   *string   `db:"rejection_reason"`
	ExtractionPayload []byte    `db:"extraction_payload"`
	ValidationPayload []byte    `db:"validation_payload"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func (r analysisRow) toDomain() (*domain.Analysis, error) {
	id, err := idgen.Parse(r.ID)
	if err != nil {
		return nil, err
	}
	taskID, err := idgen.Parse(r.TaskID)
	if err != nil {
		return nil, err
	}
	a := &domain.Analysis{
		ID:                id,
		TaskID:            taskID,
		TestType:          domain.TestType(r.TestType),
		EquipmentType:     domain.EquipmentType(r.EquipmentType),
		EquipmentTag:      r.EquipmentTag,
		ComplianceScore:   r.ComplianceScore,
		OverallConfidence: r.OverallConfidence,
		NeedsReview:       r.NeedsReview,
		RejectionReason:   r.RejectionReason,
		ExtractionPayload: r.ExtractionPayload,
		ValidationPayload: r.ValidationPayload,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.Verdict != nil {
		v := domain.Verdict(*r.Verdict)
		a.Verdict = &v
	}
	return a, nil
}

// Create persists a new Analysis, one-to-one with its Task.
func (r *AnalysisRepository) Create(ctx context.Context, a *domain.Analysis) error {
	const q = `
		INSERT INTO analyses (id, task_id, test_type, equipment_type, equipment_tag,
			compliance_score, overall_confidence, needs_review, extraction_payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`
	_, err := r.db.ExecContext(ctx, q,
		a.ID.String(), a.TaskID.String(), string(a.TestType), string(a.EquipmentType), a.EquipmentTag,
		a.ComplianceScore, a.OverallConfidence, a.NeedsReview, a.ExtractionPayload, a.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "insert analysis")
	}
	return nil
}

// UpdateValidation persists the score, verdict, and validation
// payload once the validation engine has run.
func (r *AnalysisRepository) UpdateValidation(ctx context.Context, id idgen.ID, score float64, verdict domain.Verdict, validationPayload []byte) error {
	const q = `UPDATE analyses SET compliance_score = $1, verdict = $2, validation_payload = $3, updated_at = $4 WHERE id = $5`
	_, err := r.db.ExecContext(ctx, q, score, string(verdict), validationPayload, time.Now().UTC(), id.String())
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "update analysis validation")
	}
	return nil
}

// Get returns an Analysis by id.
func (r *AnalysisRepository) Get(ctx context.Context, id idgen.ID) (*domain.Analysis, error) {
	const q = `SELECT id, task_id, test_type, equipment_type, equipment_tag, compliance_score,
		overall_confidence, needs_review, verdict, rejection_reason, extraction_payload, validation_payload, created_at, updated_at
		FROM analyses WHERE id = $1`
	var row analysisRow
	if err := r.db.GetContext(ctx, &row, q, id.String()); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFound("analysis")
		}
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "get analysis")
	}
	return row.toDomain()
}

// GetByTaskID returns the Analysis belonging to a Task (one-to-one).
func (r *AnalysisRepository) GetByTaskID(ctx context.Context, taskID idgen.ID) (*domain.Analysis, error) {
	const q = `SELECT id, task_id, test_type, equipment_type, equipment_tag, compliance_score,
		overall_confidence, needs_review, verdict, rejection_reason, extraction_payload, validation_payload, created_at, updated_at
		FROM analyses WHERE task_id = $1`
	var row analysisRow
	if err := r.db.GetContext(ctx, &row, q, taskID.String()); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFound("analysis")
		}
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "get analysis by task")
	}
	return row.toDomain()
}

// SetVerdict applies a reviewer decision: only from a non-terminal
// verdict (NULL or REVIEW), never re-reviewing an already-terminal
// one.
func (r *AnalysisRepository) SetVerdict(ctx context.Context, id idgen.ID, verdict domain.Verdict, reason *string) (bool, error) {
	const q = `
		UPDATE analyses SET verdict = $1, rejection_reason = $2, updated_at = $3
		WHERE id = $4 AND (verdict IS NULL OR verdict = $5)`
	res, err := r.db.ExecContext(ctx, q, string(verdict), reason, time.Now().UTC(), id.String(), string(domain.VerdictReview))
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "set verdict")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "read rows affected")
	}
	return n == 1, nil
}

// ListFilter is the predicate List applies to both its count query and
// its page query, so the page contents and the pagination total agree.
type ListFilter struct {
	OwnerID    idgen.ID
	Status     *domain.Verdict
	DateFrom   *time.Time
	DateTo     *time.Time
	SortBy     string // "created_at" | "compliance_score"
	SortOrder  string // "asc" | "desc"
	Page       int    // 1-indexed
	PerPage    int
}

func (f ListFilter) whereClause() (string, []any) {
	clauses := []string{"t.user_id = $1"}
	args := []any{f.OwnerID.String()}

	if f.Status != nil {
		clauses = append(clauses, fmt.Sprintf("a.verdict = $%d", len(args)+1))
		args = append(args, string(*f.Status))
	}
	if f.DateFrom != nil {
		clauses = append(clauses, fmt.Sprintf("a.created_at >= $%d", len(args)+1))
		args = append(args, *f.DateFrom)
	}
	if f.DateTo != nil {
		clauses = append(clauses, fmt.Sprintf("a.created_at <= $%d", len(args)+1))
		args = append(args, *f.DateTo)
	}
	return strings.Join(clauses, " AND "), args
}

func (f ListFilter) orderClause() string {
	col := "a.created_at"
	if f.SortBy == "compliance_score" {
		col = "a.compliance_score"
	}
	dir := "ASC"
	nullsPos := "NULLS LAST"
	if strings.EqualFold(f.SortOrder, "desc") {
		dir = "DESC"
		nullsPos = "NULLS FIRST"
	}
	// Nulls sort last on ascending, first on descending, for
	// compliance_score; created_at is never null so the clause is a no-op there.
	return fmt.Sprintf("%s %s %s", col, dir, nullsPos)
}

// List returns a page of analyses owned by the filter's owner, joined
// against tasks for ownership, plus the total matching count for
// pagination.
func (r *AnalysisRepository) List(ctx context.Context, f ListFilter) ([]*domain.Analysis, int, error) {
	where, args := f.whereClause()

	countQ := fmt.Sprintf(`SELECT count(*) FROM analyses a JOIN tasks t ON t.id = a.task_id WHERE %s`, where)
	var total int
	if err := r.db.GetContext(ctx, &total, r.db.Rebind(countQ), args...); err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "count analyses")
	}

	perPage := f.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * perPage

	listArgs := append(append([]any{}, args...), perPage, offset)
	listQ := fmt.Sprintf(`
		SELECT a.id, a.task_id, a.test_type, a.equipment_type, a.equipment_tag, a.compliance_score,
			a.overall_confidence, a.needs_review, a.verdict, a.rejection_reason, a.extraction_payload, a.validation_payload,
			a.created_at, a.updated_at
		FROM analyses a JOIN tasks t ON t.id = a.task_id
		WHERE %s
		ORDER BY %s
		LIMIT $%d OFFSET $%d`, where, f.orderClause(), len(args)+1, len(args)+2)

	var rows []analysisRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(listQ), listArgs...); err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "list analyses")
	}

	out := make([]*domain.Analysis, 0, len(rows))
	for _, row := range rows {
		a, err := row.toDomain()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, nil
}

// OwnerOf returns the owning user id for an analysis, so handlers can
// enforce ownership without fetching the whole row twice.
func (r *AnalysisRepository) OwnerOf(ctx context.Context, analysisID idgen.ID) (idgen.ID, error) {
	const q = `SELECT t.user_id FROM analyses a JOIN tasks t ON t.id = a.task_id WHERE a.id = $1`
	var ownerStr string
	if err := r.db.GetContext(ctx, &ownerStr, q, analysisID.String()); err != nil {
		if err == sql.ErrNoRows {
			return idgen.Nil, apperrors.NewNotFound("analysis")
		}
		return idgen.Nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "get analysis owner")
	}
	return idgen.Parse(ownerStr)
}
