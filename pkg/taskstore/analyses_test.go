package taskstore

import (
	"context"
	"database/sql"
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

var _ = Describe("AnalysisRepository", func() {
	var (
		repo   *AnalysisRepository
		raw    *sql.DB
		mock   sqlmock.Sqlmock
		ctx    context.Context
		a      *domain.Analysis
	)

	BeforeEach(func() {
		var err error
		raw, mock, err = sqlmock.New(sqlmock.MonitorPingsOption(true))
		Expect(err).ToNot(HaveOccurred())
		mockDB := sqlx.NewDb(raw, "pgx")

		repo = &AnalysisRepository{db: mockDB, logger: zap.NewNop()}
		ctx = context.Background()

		a = &domain.Analysis{
			ID:                idgen.New(),
			TaskID:            idgen.New(),
			TestType:          domain.TestMegger,
			EquipmentType:     domain.EquipmentPanel,
			EquipmentTag:      "PNL-04",
			ComplianceScore:   0,
			OverallConfidence: 0.91,
			ExtractionPayload: []byte(`{}`),
			CreatedAt:         time.Now().UTC(),
		}
	})

	AfterEach(func() {
		raw.Close()
	})

	Describe("Create", func() {
		It("inserts the analysis row", func() {
			mock.ExpectExec("INSERT INTO analyses").
				WithArgs(a.ID.String(), a.TaskID.String(), string(a.TestType), string(a.EquipmentType),
					a.EquipmentTag, a.ComplianceScore, a.OverallConfidence, a.NeedsReview, a.ExtractionPayload, a.CreatedAt).
				WillReturnResult(sqlmock.NewResult(1, 1))

			Expect(repo.Create(ctx, a)).To(Succeed())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("Get", func() {
		It("returns NotFound when absent", func() {
			mock.ExpectQuery("SELECT (.+) FROM analyses WHERE id").
				WithArgs(a.ID.String()).
				WillReturnError(sql.ErrNoRows)

			_, err := repo.Get(ctx, a.ID)
			Expect(apperrors.IsType(err, apperrors.ErrorTypeNotFound)).To(BeTrue())
		})
	})

	Describe("SetVerdict", func() {
		It("only updates rows still pending or in REVIEW", func() {
			mock.ExpectExec("UPDATE analyses SET verdict").
				WithArgs(string(domain.VerdictApproved), (*string)(nil), sqlmock.AnyArg(), a.ID.String(), string(domain.VerdictReview)).
				WillReturnResult(sqlmock.NewResult(0, 1))

			ok, err := repo.SetVerdict(ctx, a.ID, domain.VerdictApproved, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("is a no-op when the analysis is already terminal", func() {
			mock.ExpectExec("UPDATE analyses SET verdict").
				WithArgs(string(domain.VerdictApproved), (*string)(nil), sqlmock.AnyArg(), a.ID.String(), string(domain.VerdictReview)).
				WillReturnResult(sqlmock.NewResult(0, 0))

			ok, err := repo.SetVerdict(ctx, a.ID, domain.VerdictApproved, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})

	Describe("List", func() {
		It("counts and paginates the owner's analyses joined through tasks", func() {
			owner := idgen.New()

			mock.ExpectQuery("SELECT count\\(\\*\\) FROM analyses a JOIN tasks t").
				WithArgs(owner.String()).
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

			rows := sqlmock.NewRows([]string{"id", "task_id", "test_type", "equipment_type", "equipment_tag",
				"compliance_score", "overall_confidence", "needs_review", "verdict", "rejection_reason",
				"extraction_payload", "validation_payload", "created_at", "updated_at"}).
				AddRow(a.ID.String(), a.TaskID.String(), string(a.TestType), string(a.EquipmentType), a.EquipmentTag,
					90.0, a.OverallConfidence, false, nil, nil, []byte(`{}`), []byte(`{}`), a.CreatedAt, a.CreatedAt)

			mock.ExpectQuery("SELECT a.id, a.task_id").
				WithArgs(owner.String(), 20, 0).
				WillReturnRows(rows)

			out, total, err := repo.List(ctx, ListFilter{OwnerID: owner, Page: 1, PerPage: 20, SortBy: "created_at", SortOrder: "asc"})
			Expect(err).ToNot(HaveOccurred())
			Expect(total).To(Equal(1))
			Expect(out).To(HaveLen(1))
			Expect(out[0].ComplianceScore).To(Equal(90.0))
		})
	})
})
