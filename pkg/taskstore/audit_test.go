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

	"github.com/auditeng/compliance/internal/idgen"
	"github.com/auditeng/compliance/pkg/domain"
)

var _ = Describe("AuditRepository", func() {
	var (
		repo       *AuditRepository
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

		repo = &AuditRepository{db: mockDB, logger: zap.NewNop()}
		ctx = context.Background()
		analysisID = idgen.New()
	})

	AfterEach(func() {
		raw.Close()
	})

	Describe("Insert", func() {
		It("appends one event", func() {
			e := &domain.AuditEvent{
				ID:             idgen.New(),
				AnalysisID:     analysisID,
				EventType:      domain.EventValidationRuleApplied,
				EventTimestamp: time.Now().UTC(),
				RuleID:         strPtr("NETA-7.6.1.1"),
				Details:        []byte(`{}`),
			}

			mock.ExpectExec("INSERT INTO audit_logs").
				WithArgs(e.ID.String(), analysisID.String(), string(e.EventType), e.EventTimestamp,
					(*string)(nil), (*string)(nil), e.RuleID, (*float64)(nil), e.Details).
				WillReturnResult(sqlmock.NewResult(1, 1))

			Expect(repo.Insert(ctx, e)).To(Succeed())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("ListByAnalysis", func() {
		It("returns events in chronological order", func() {
			ts := time.Now().UTC()
			rows := sqlmock.NewRows([]string{"id", "analysis_id", "event_type", "event_timestamp",
				"model_version", "prompt_version", "rule_id", "confidence_score", "details"}).
				AddRow(idgen.New().String(), analysisID.String(), string(domain.EventExtractionCompleted), ts,
					nil, nil, nil, nil, []byte(`{}`))

			mock.ExpectQuery("SELECT (.+) FROM audit_logs WHERE analysis_id").
				WithArgs(analysisID.String()).
				WillReturnRows(rows)

			events, err := repo.ListByAnalysis(ctx, analysisID)
			Expect(err).ToNot(HaveOccurred())
			Expect(events).To(HaveLen(1))
			Expect(events[0].EventType).To(Equal(domain.EventExtractionCompleted))
		})
	})
})

func strPtr(s string) *string { return &s }
