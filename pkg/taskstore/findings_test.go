package taskstore

import (
	"context"
	"database/sql"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/auditeng/compliance/internal/idgen"
	"github.com/auditeng/compliance/pkg/domain"
)

var _ = Describe("FindingRepository", func() {
	var (
		repo       *FindingRepository
		raw        *sql.DB
		mock       sqlmock.Sqlmock
		ctx        context.Context
		analysisID idgen.ID
	)

	BeforeEach(func() {
		var err error
		raw, mock, err = sqlmock.New(sqlmock.MonitorPingsOption(true))
		Expect(err).ToNot(HaveOccurred())
		mockDB := sqlx.NewDb(raw, "pgx")

		repo = &FindingRepository{db: mockDB, logger: zap.NewNop()}
		ctx = context.Background()
		analysisID = idgen.New()
	})

	AfterEach(func() {
		raw.Close()
	})

	Describe("InsertMany", func() {
		It("is a no-op for an empty slice", func() {
			Expect(repo.InsertMany(ctx, nil)).To(Succeed())
		})

		It("inserts every finding inside one transaction", func() {
			f1 := &domain.Finding{ID: idgen.New(), AnalysisID: analysisID, Severity: domain.SeverityCritical,
				RuleID: "NETA-7.6.1.1", Message: "insulation resistance below threshold",
				Evidence: domain.Evidence{ExtractedValue: 0.3, Threshold: 1.0, StandardReference: "NETA ATS 7.6.1.1"}}
			f2 := &domain.Finding{ID: idgen.New(), AnalysisID: analysisID, Severity: domain.SeverityMinor,
				RuleID: "NETA-7.6.1.2", Message: "ambient temperature not recorded",
				Evidence: domain.Evidence{StandardReference: domain.DefaultStandardReference}}

			mock.ExpectBegin()
			mock.ExpectExec("INSERT INTO findings").
				WithArgs(f1.ID.String(), analysisID.String(), string(domain.SeverityCritical), f1.RuleID, f1.Message,
					sqlmock.AnyArg(), (*string)(nil)).
				WillReturnResult(sqlmock.NewResult(1, 1))
			mock.ExpectExec("INSERT INTO findings").
				WithArgs(f2.ID.String(), analysisID.String(), string(domain.SeverityMinor), f2.RuleID, f2.Message,
					sqlmock.AnyArg(), (*string)(nil)).
				WillReturnResult(sqlmock.NewResult(1, 1))
			mock.ExpectCommit()

			Expect(repo.InsertMany(ctx, []*domain.Finding{f1, f2})).To(Succeed())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("SeverityCounts", func() {
		It("tallies by severity for score computation", func() {
			mock.ExpectQuery("SELECT(.|\\n)*FROM findings WHERE analysis_id").
				WithArgs(analysisID.String()).
				WillReturnRows(sqlmock.NewRows([]string{"critical", "major", "minor", "info"}).AddRow(0, 1, 2, 3))

			counts, err := repo.SeverityCounts(ctx, analysisID)
			Expect(err).ToNot(HaveOccurred())
			Expect(counts.Major).To(Equal(1))
			Expect(counts.Score()).To(Equal(100.0 - 10 - 4))
			Expect(counts.IsValid()).To(BeTrue())
		})
	})
})
