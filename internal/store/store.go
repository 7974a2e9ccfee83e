// Package store persists run and stage-checkpoint history to PostgreSQL,
// independent of the per-stage JSON artifacts pkg/orchestrator writes to
// disk: the artifacts are the resumable pipeline state, this is the
// queryable audit trail of who ran what, when, and whether it succeeded.
// Grounded on tarsy's pkg/database (golang-migrate + embedded SQL
// migrations auto-applied on startup), adapted to query through
// jackc/pgx/v5's pool directly instead of through an ent client.
package store

import (
	"context"
	stdsql "database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver for migrate

	"github.com/trialqeb/interpretpipe/pkg/orchestrator"
)

//go:embed migrations
var migrationsFS embed.FS

// Store wraps a pgx connection pool with the run/stage checkpoint
// tracking queries the orchestrator's progress callback drives.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, applies pending migrations, and returns a ready
// Store.
func New(ctx context.Context, dsn string) (*Store, error) {
	if err := runMigrations(dsn); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func runMigrations(dsn string) error {
	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "interpretpipe", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return source.Close()
}

// StartRun inserts the run row marking protocolID's run as started.
func (s *Store) StartRun(ctx context.Context, runID, protocolID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (run_id, protocol_id, status, started_at) VALUES ($1, $2, 'running', $3)
		 ON CONFLICT (run_id) DO NOTHING`,
		runID, protocolID, time.Now())
	return err
}

// CompleteRun marks runID finished, successfully or not.
func (s *Store) CompleteRun(ctx context.Context, runID string, success bool, runErr error) error {
	status := "succeeded"
	var errMsg *string
	if !success {
		status = "failed"
		if runErr != nil {
			msg := runErr.Error()
			errMsg = &msg
		}
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $2, completed_at = $3, error = $4 WHERE run_id = $1`,
		runID, status, time.Now(), errMsg)
	return err
}

// RecordProgress upserts a stage checkpoint from an orchestrator Progress
// event. Designed to be passed as (or wrapped into) an
// orchestrator.ProgressFunc.
func (s *Store) RecordProgress(ctx context.Context, p orchestrator.Progress) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stage_checkpoints (run_id, stage_number, stage_name, resumed, warning_count, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (run_id, stage_number) DO UPDATE SET
		   stage_name = EXCLUDED.stage_name,
		   resumed = EXCLUDED.resumed,
		   warning_count = EXCLUDED.warning_count,
		   recorded_at = EXCLUDED.recorded_at`,
		p.RunID, p.StageIndex, p.StageName, p.Resumed, p.WarningCount, time.Now())
	return err
}

// RunStatus is the persisted summary of one run, for the progress API and
// CLI status queries.
type RunStatus struct {
	RunID       string
	ProtocolID  string
	Status      string
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       *string
}

// GetRun fetches the persisted status of runID.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunStatus, error) {
	var rs RunStatus
	err := s.pool.QueryRow(ctx,
		`SELECT run_id, protocol_id, status, started_at, completed_at, error FROM runs WHERE run_id = $1`,
		runID,
	).Scan(&rs.RunID, &rs.ProtocolID, &rs.Status, &rs.StartedAt, &rs.CompletedAt, &rs.Error)
	if err != nil {
		return nil, err
	}
	return &rs, nil
}
