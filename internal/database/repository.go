package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// Paging bounds for ListRuns
const (
	DefaultListLimit = 20
	MaxListLimit     = 200
)

// Repository provides database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Runs

// SaveRunReport stores a run and one row per stage in a single transaction
func (r *Repository) SaveRunReport(ctx context.Context, report *models.RunReport) error {
	start := time.Now()

	stages, err := report.Stages.Value()
	if err != nil {
		return fmt.Errorf("failed to encode stages: %w", err)
	}

	err = pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO pipeline_runs (id, pipeline, started_at, finished_at, succeeded, halted_at, stages)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE
			SET finished_at = EXCLUDED.finished_at, succeeded = EXCLUDED.succeeded,
			    halted_at = EXCLUDED.halted_at, stages = EXCLUDED.stages
		`, report.ID, report.Pipeline, report.StartedAt, report.FinishedAt,
			report.Succeeded, report.HaltedAt, stages)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM stage_results WHERE run_id = $1`, report.ID); err != nil {
			return fmt.Errorf("clear stages: %w", err)
		}

		batch := &pgx.Batch{}
		for i, stage := range report.Stages {
			var startedAt *time.Time
			if !stage.StartedAt.IsZero() {
				startedAt = &report.Stages[i].StartedAt
			}
			batch.Queue(`
				INSERT INTO stage_results (run_id, position, name, status, required, exit_code, started_at, duration_ms, error)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`, report.ID, i, stage.Name, stage.Status, stage.Required, stage.ExitCode,
				startedAt, stage.Duration.Milliseconds(), stage.Error)
		}
		return tx.SendBatch(ctx, batch).Close()
	})

	metrics.RecordDatabaseOperation("save_run", metrics.Status(err), time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("failed to save run report: %w", err)
	}
	return nil
}

// GetRun retrieves a run report by ID
func (r *Repository) GetRun(ctx context.Context, id string) (*models.RunReport, error) {
	start := time.Now()

	row := r.db.Pool.QueryRow(ctx, `
		SELECT id, pipeline, started_at, finished_at, succeeded, halted_at, stages
		FROM pipeline_runs
		WHERE id = $1
	`, id)

	report, err := scanRun(row)
	metrics.RecordDatabaseOperation("get_run", metrics.Status(err), time.Since(start).Seconds())

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return report, nil
}

// ListRuns returns the newest runs first. An empty pipeline lists all.
func (r *Repository) ListRuns(ctx context.Context, pipeline string, limit, offset int) ([]*models.RunReport, error) {
	start := time.Now()
	limit, offset = clampPage(limit, offset)

	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, pipeline, started_at, finished_at, succeeded, halted_at, stages
		FROM pipeline_runs
		WHERE $1 = '' OR pipeline = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`, pipeline, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var reports []*models.RunReport
	for rows.Next() {
		report, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		reports = append(reports, report)
	}

	err = rows.Err()
	metrics.RecordDatabaseOperation("list_runs", metrics.Status(err), time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return reports, nil
}

func scanRun(row pgx.Row) (*models.RunReport, error) {
	var (
		report models.RunReport
		stages []byte
	)

	err := row.Scan(&report.ID, &report.Pipeline, &report.StartedAt, &report.FinishedAt,
		&report.Succeeded, &report.HaltedAt, &stages)
	if err != nil {
		return nil, err
	}

	if err := report.Stages.Scan(stages); err != nil {
		return nil, fmt.Errorf("decode stages: %w", err)
	}
	return &report, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Generations

// SaveGeneration records the terminal outcome of a generation job
func (r *Repository) SaveGeneration(ctx context.Context, job models.GenerationJob, result *models.GenerationResult) error {
	start := time.Now()

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO generation_jobs (job_id, handle, prompt, model, final_state, error_kind, error,
			artifact_path, artifact_ref, artifact_bytes, submit_attempts, polls, elapsed_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (job_id) DO UPDATE
		SET final_state = EXCLUDED.final_state, error_kind = EXCLUDED.error_kind, error = EXCLUDED.error,
		    artifact_path = EXCLUDED.artifact_path, artifact_bytes = EXCLUDED.artifact_bytes
	`, job.ID, string(result.Handle), job.Prompt, job.Model, string(result.FinalState),
		string(result.ErrorKind), result.ErrorMessage(), result.ArtifactPath, result.ArtifactRef,
		result.ArtifactBytes, result.SubmitAttempts, result.Polls, result.Elapsed.Milliseconds())

	metrics.RecordDatabaseOperation("save_generation", metrics.Status(err), time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("failed to save generation: %w", err)
	}
	return nil
}
