package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/lo"

	"NewsCurator/internal/domain"
	"NewsCurator/internal/ports"
)

// HistoryRepository is the append-only audit trail of automation runs.
type HistoryRepository struct {
	db *sqlx.DB
}

var _ ports.RunHistory = (*HistoryRepository)(nil)

// NewHistoryRepository wires a sqlx connection pool.
func NewHistoryRepository(db *sqlx.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

type dbRun struct {
	ID                string         `db:"id"`
	RunID             string         `db:"run_id"`
	CategorySlug      string         `db:"category_slug"`
	SourceID          sql.NullString `db:"source_id"`
	Status            string         `db:"status"`
	ArticlesProcessed int            `db:"articles_processed"`
	Errors            pq.StringArray `db:"errors"`
	Notes             sql.NullString `db:"notes"`
	StartedAt         time.Time      `db:"started_at"`
	CompletedAt       sql.NullTime   `db:"completed_at"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (r dbRun) toDomain() domain.AutomationRun {
	run := domain.AutomationRun{
		ID:                r.ID,
		RunID:             r.RunID,
		CategorySlug:      r.CategorySlug,
		Status:            domain.RunStatus(r.Status),
		ArticlesProcessed: r.ArticlesProcessed,
		Errors:            r.Errors,
		Notes:             r.Notes.String,
		StartedAt:         r.StartedAt,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.SourceID.Valid {
		run.SourceID = &r.SourceID.String
	}
	if r.CompletedAt.Valid {
		run.CompletedAt = &r.CompletedAt.Time
	}
	return run
}

// StartRun appends a running record and returns its run identifier.
func (r *HistoryRepository) StartRun(ctx context.Context, categorySlug string, sourceID *string) (string, error) {
	runID := uuid.New().String()

	query := `
		INSERT INTO automation_history (run_id, category_slug, source_id, status, started_at)
		VALUES ($1, $2, $3, 'running', NOW())`

	var src any
	if sourceID != nil {
		src = *sourceID
	}

	if _, err := r.db.ExecContext(ctx, query, runID, categorySlug, src); err != nil {
		return "", fmt.Errorf("start run for %s: %w", categorySlug, err)
	}

	return runID, nil
}

// CompleteRun transitions a running record to its terminal status. A run is
// failed only when nothing was processed and at least one error was collected;
// partial success still completes.
func (r *HistoryRepository) CompleteRun(ctx context.Context, runID string, processed int, errs []string, notes string) error {
	status := domain.RunCompleted
	if processed == 0 && len(errs) > 0 {
		status = domain.RunFailed
	}

	query := `
		UPDATE automation_history
		SET status = $1,
			articles_processed = $2,
			errors = $3,
			notes = $4,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE run_id = $5 AND status = 'running'`

	result, err := r.db.ExecContext(ctx, query, string(status), processed, pq.Array(errs), nullable(notes), runID)
	if err != nil {
		return fmt.Errorf("complete run %s: %w", runID, err)
	}

	return requireRows(result, runID)
}

// RecentRuns returns the newest run records for operational visibility.
func (r *HistoryRepository) RecentRuns(ctx context.Context, limit int) ([]domain.AutomationRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query, args, err := psql.Select("*").
		From("automation_history").
		OrderBy("started_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}

	var rows []dbRun
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}

	return lo.Map(rows, func(row dbRun, _ int) domain.AutomationRun {
		return row.toDomain()
	}), nil
}
