// Package taskstore is the Task Store: transactional
// persistence of tasks, analyses, findings, and audit records, plus the
// goose migrations that create the schema.
//
// Each repository method is one short transaction; long-running work
// (LLM calls, object-store I/O)
// never happens while a transaction is open.
package taskstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/auditeng/compliance/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store bundles the five repositories over one connection pool.
type Store struct {
	db       *sqlx.DB
	Users    *UserRepository
	Tasks    *TaskRepository
	Analyses *AnalysisRepository
	Findings *FindingRepository
	Audit    *AuditRepository
}

// Open establishes the connection pool (pgx's stdlib adapter, so the
// same *sql.DB also works against DATA-DOG/go-sqlmock in unit tests)
// and wires every repository over it.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	sqlxDB := sqlx.NewDb(db, "pgx")
	return NewStore(sqlxDB, logger), nil
}

// NewStore wires repositories over an already-open handle; used both by
// Open and directly by tests supplying a sqlmock-backed *sqlx.DB.
func NewStore(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{
		db:       db,
		Users:    &UserRepository{db: db, logger: logger},
		Tasks:    &TaskRepository{db: db, logger: logger},
		Analyses: &AnalysisRepository{db: db, logger: logger},
		Findings: &FindingRepository{db: db, logger: logger},
		Audit:    &AuditRepository{db: db, logger: logger},
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the connection pool can reach the database,
// used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate runs every pending goose migration. Called once at process
// start by cmd/migrate and cmd/api-server.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, s.db.DB, "migrations")
}

// ensure the stdlib driver registers its "pgx" name even when nothing
// else in this file references the package directly.
var _ = stdlib.GetDefaultDriver
