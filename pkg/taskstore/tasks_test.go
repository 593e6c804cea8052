package taskstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	apperrors "github.com/auditeng/compliance/internal/errors"
	"github.com/auditeng/compliance/internal/idgen"
	"github.com/auditeng/compliance/pkg/domain"
)

func TestTaskStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "TaskStore Suite")
}

var _ = Describe("TaskRepository", func() {
	var (
		repo   *TaskRepository
		mockDB *sqlx.DB
		raw    *sql.DB
		mock   sqlmock.Sqlmock
		ctx    context.Context
		task   *domain.Task
	)

	BeforeEach(func() {
		var err error
		raw, mock, err = sqlmock.New(sqlmock.MonitorPingsOption(true))
		Expect(err).ToNot(HaveOccurred())
		mockDB = sqlx.NewDb(raw, "pgx")

		repo = &TaskRepository{db: mockDB, logger: zap.NewNop()}
		ctx = context.Background()

		task = &domain.Task{
			ID:               idgen.New(),
			OwnerID:          idgen.New(),
			OriginalFilename: "panel-001.pdf",
			ObjectStoreKey:   "raw/panel-001.pdf",
			ByteSize:         2048,
			Status:           domain.TaskQueued,
			CreatedAt:        time.Now().UTC(),
			UpdatedAt:        time.Now().UTC(),
		}
	})

	AfterEach(func() {
		raw.Close()
	})

	Describe("Create", func() {
		It("inserts the task with QUEUED status", func() {
			mock.ExpectExec("INSERT INTO tasks").
				WithArgs(task.ID.String(), task.OwnerID.String(), task.OriginalFilename,
					task.ObjectStoreKey, task.ByteSize, (*string)(nil), (*string)(nil),
					string(domain.TaskQueued), task.CreatedAt).
				WillReturnResult(sqlmock.NewResult(1, 1))

			Expect(repo.Create(ctx, task)).To(Succeed())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("Get", func() {
		It("returns the task on a hit", func() {
			rows := sqlmock.NewRows([]string{"id", "user_id", "original_filename", "object_store_key",
				"byte_size", "status", "error_message", "created_at", "updated_at"}).
				AddRow(task.ID.String(), task.OwnerID.String(), task.OriginalFilename, task.ObjectStoreKey,
					task.ByteSize, string(domain.TaskQueued), nil, task.CreatedAt, task.UpdatedAt)

			mock.ExpectQuery("SELECT (.+) FROM tasks WHERE id = ").WithArgs(task.ID.String()).WillReturnRows(rows)

			got, err := repo.Get(ctx, task.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(got.ID).To(Equal(task.ID))
			Expect(got.Status).To(Equal(domain.TaskQueued))
		})

		It("returns a NotFound AppError when the row is missing", func() {
			mock.ExpectQuery("SELECT (.+) FROM tasks WHERE id = ").
				WithArgs(task.ID.String()).
				WillReturnError(sql.ErrNoRows)

			_, err := repo.Get(ctx, task.ID)
			Expect(apperrors.IsType(err, apperrors.ErrorTypeNotFound)).To(BeTrue())
		})
	})

	Describe("CompareAndSetStatus", func() {
		It("rejects an illegal transition before touching the database", func() {
			ok, err := repo.CompareAndSetStatus(ctx, task.ID, domain.TaskCompleted, domain.TaskProcessing, nil)
			Expect(ok).To(BeFalse())
			Expect(apperrors.IsType(err, apperrors.ErrorTypeInvalidState)).To(BeTrue())
		})

		It("applies the update when the row still matches `from`", func() {
			mock.ExpectExec("UPDATE tasks SET status").
				WithArgs(string(domain.TaskProcessing), nil, sqlmock.AnyArg(), task.ID.String(), string(domain.TaskQueued)).
				WillReturnResult(sqlmock.NewResult(0, 1))

			ok, err := repo.CompareAndSetStatus(ctx, task.ID, domain.TaskQueued, domain.TaskProcessing, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("is a silent no-op when a racing worker already moved the row", func() {
			mock.ExpectExec("UPDATE tasks SET status").
				WithArgs(string(domain.TaskProcessing), nil, sqlmock.AnyArg(), task.ID.String(), string(domain.TaskQueued)).
				WillReturnResult(sqlmock.NewResult(0, 0))

			ok, err := repo.CompareAndSetStatus(ctx, task.ID, domain.TaskQueued, domain.TaskProcessing, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})

	Describe("MarkFailedUnconditional", func() {
		It("force-fails a non-terminal task", func() {
			mock.ExpectExec("UPDATE tasks SET status").
				WithArgs(string(domain.TaskFailed), "object store unreachable", sqlmock.AnyArg(), task.ID.String()).
				WillReturnResult(sqlmock.NewResult(0, 1))

			Expect(repo.MarkFailedUnconditional(ctx, task.ID, "object store unreachable")).To(Succeed())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})
})
