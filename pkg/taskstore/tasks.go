package taskstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	apperrors "github.com/auditeng/compliance/internal/errors"
	"github.com/auditeng/compliance/internal/idgen"
	"github.com/auditeng/compliance/pkg/domain"
)

type TaskRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

type taskRow struct {
	ID                  string    `db:"id"`
	UserID              string    `db:"user_id"`
	OriginalFilename    string    `db:"original_filename"`
	ObjectStoreKey      string    `db:"object_store_key"`
	ByteSize            int64     `db:"byte_size"`
	CalibrationImageKey *string   `db:"calibration_image_key"`
	HygrometerImageKey  *string   `db:"hygrometer_image_key"`
	Status              string    `db:"status"`
	ErrorMessage        *string   `db:"error_message"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

func (r taskRow) toDomain() (*domain.Task, error) {
	id, err := idgen.Parse(r.ID)
	if err != nil {
		return nil, err
	}
	userID, err := idgen.Parse(r.UserID)
	if err != nil {
		return nil, err
	}
	return &domain.Task{
		ID:                  id,
		OwnerID:             userID,
		OriginalFilename:    r.OriginalFilename,
		ObjectStoreKey:      r.ObjectStoreKey,
		ByteSize:            r.ByteSize,
		CalibrationImageKey: r.CalibrationImageKey,
		HygrometerImageKey:  r.HygrometerImageKey,
		Status:              domain.TaskStatus(r.Status),
		ErrorMessage:        r.ErrorMessage,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}, nil
}

// Create persists a new Task with status QUEUED.
func (r *TaskRepository) Create(ctx context.Context, t *domain.Task) error {
	const q = `
		INSERT INTO tasks (id, user_id, original_filename, object_store_key, byte_size,
			calibration_image_key, hygrometer_image_key, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`

	now := t.CreatedAt
	_, err := r.db.ExecContext(ctx, q,
		t.ID.String(), t.OwnerID.String(), t.OriginalFilename, t.ObjectStoreKey, t.ByteSize,
		t.CalibrationImageKey, t.HygrometerImageKey, string(t.Status), now)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "insert task")
	}
	return nil
}

// Get returns a Task by id, or NotFound.
func (r *TaskRepository) Get(ctx context.Context, id idgen.ID) (*domain.Task, error) {
	const q = `SELECT id, user_id, original_filename, object_store_key, byte_size,
		calibration_image_key, hygrometer_image_key, status, error_message, created_at, updated_at
		FROM tasks WHERE id = $1`

	var row taskRow
	if err := r.db.GetContext(ctx, &row, q, id.String()); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFound("task")
		}
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "get task")
	}
	return row.toDomain()
}

// CompareAndSetStatus performs the CAS transition: the update
// only applies if the persisted status still equals `from`, so a
// racing worker's re-entry is a silent no-op (returns false, nil).
func (r *TaskRepository) CompareAndSetStatus(ctx context.Context, id idgen.ID, from, to domain.TaskStatus, errMsg *string) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, apperrors.New(apperrors.ErrorTypeInvalidState, "illegal task status transition")
	}
	const q = `UPDATE tasks SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4 AND status = $5`
	res, err := r.db.ExecContext(ctx, q, string(to), errMsg, time.Now().UTC(), id.String(), string(from))
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "update task status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "read rows affected")
	}
	return n == 1, nil
}

// MarkFailedUnconditional force-fails a task in any non-terminal
// status; a COMPLETED or FAILED task is left unchanged. Used by the
// broker's terminal callback after retries or the age limit are
// exhausted.
func (r *TaskRepository) MarkFailedUnconditional(ctx context.Context, id idgen.ID, reason string) error {
	const q = `UPDATE tasks SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4 AND status NOT IN ('COMPLETED', 'FAILED')`
	_, err := r.db.ExecContext(ctx, q, string(domain.TaskFailed), reason, time.Now().UTC(), id.String())
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "force-fail task")
	}
	return nil
}
