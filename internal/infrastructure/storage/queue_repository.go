package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"NewsCurator/internal/domain"
	"NewsCurator/internal/ports"
)

// entryColumns lists the newslist columns selected by claim queries, prefixed
// for use inside the claim CTE.
const entryColumns = `c.id, c.source_id, c.source_article_id, c.url, c.status, c.meta,
	c.error_log, c.attempt_count, c.last_processed_at, c.resolved_article_id,
	c.claimed_at, c.claimed_by, c.created_at, c.updated_at, s.source_key`

// QueueRepository is the Postgres-backed ingestion queue.
type QueueRepository struct {
	db *sqlx.DB
}

var _ ports.Queue = (*QueueRepository)(nil)

// NewQueueRepository wires a sqlx connection pool.
func NewQueueRepository(db *sqlx.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

type dbEntry struct {
	ID                string         `db:"id"`
	SourceID          string         `db:"source_id"`
	SourceArticleID   sql.NullString `db:"source_article_id"`
	URL               string         `db:"url"`
	Status            string         `db:"status"`
	Meta              []byte         `db:"meta"`
	ErrorLog          sql.NullString `db:"error_log"`
	AttemptCount      int            `db:"attempt_count"`
	LastProcessedAt   sql.NullTime   `db:"last_processed_at"`
	ResolvedArticleID sql.NullString `db:"resolved_article_id"`
	ClaimedAt         sql.NullTime   `db:"claimed_at"`
	ClaimedBy         sql.NullString `db:"claimed_by"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
	SourceKey         string         `db:"source_key"`
}

func (e dbEntry) toDomain() domain.QueueEntry {
	entry := domain.QueueEntry{
		ID:           e.ID,
		SourceID:     e.SourceID,
		URL:          e.URL,
		Status:       domain.EntryStatus(e.Status),
		AttemptCount: e.AttemptCount,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
		SourceKey:    e.SourceKey,
	}
	if e.SourceArticleID.Valid {
		entry.SourceArticleID = &e.SourceArticleID.String
	}
	if e.ErrorLog.Valid {
		entry.ErrorLog = &e.ErrorLog.String
	}
	if e.LastProcessedAt.Valid {
		entry.LastProcessedAt = &e.LastProcessedAt.Time
	}
	if e.ResolvedArticleID.Valid {
		entry.ResolvedArticleID = &e.ResolvedArticleID.String
	}
	if e.ClaimedAt.Valid {
		entry.ClaimedAt = &e.ClaimedAt.Time
	}
	if e.ClaimedBy.Valid {
		entry.ClaimedBy = &e.ClaimedBy.String
	}
	if len(e.Meta) > 0 {
		meta := map[string]string{}
		if err := json.Unmarshal(e.Meta, &meta); err == nil {
			entry.Meta = meta
		}
	}
	return entry
}

// Enqueue inserts a pending entry unless the URL or the
// (source, source_article_id) pair already exists; duplicates are a no-op.
func (r *QueueRepository) Enqueue(ctx context.Context, sourceID string, cand domain.Candidate) (ports.EnqueueResult, error) {
	meta, err := marshalMeta(cand.Meta)
	if err != nil {
		return ports.EnqueueResult{}, fmt.Errorf("marshal meta: %w", err)
	}

	var sourceArticleID any
	if cand.SourceArticleID != "" {
		sourceArticleID = cand.SourceArticleID
	}

	query, args, err := psql.Insert("newslist").
		Columns("source_id", "source_article_id", "url", "status", "meta").
		Values(sourceID, sourceArticleID, cand.URL, domain.StatusPending, meta).
		Suffix("ON CONFLICT DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return ports.EnqueueResult{}, fmt.Errorf("build enqueue query: %w", err)
	}

	var id string
	err = r.db.QueryRowxContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.EnqueueResult{Duplicate: true}, nil
	}
	if err != nil {
		return ports.EnqueueResult{}, fmt.Errorf("enqueue %s: %w", cand.URL, err)
	}

	return ports.EnqueueResult{EntryID: id}, nil
}

// claimQuery atomically moves up to limit claimable rows to processing and
// returns them. Claimable means pending, or processing with an expired lease
// (a crashed worker's claims become reclaimable after the lease timeout).
// FOR UPDATE SKIP LOCKED guarantees two concurrent callers partition the
// queue disjointly.
const claimQuery = `
	WITH picked AS (
		SELECT id FROM newslist
		WHERE status = 'pending'
		   OR (status = 'processing' AND claimed_at < NOW() - ($1 * INTERVAL '1 second'))
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	), claimed AS (
		UPDATE newslist n
		SET status = 'processing', claimed_at = NOW(), claimed_by = $3, updated_at = NOW()
		FROM picked
		WHERE n.id = picked.id
		RETURNING n.*
	)
	SELECT ` + entryColumns + `
	FROM claimed c
	JOIN news_sources s ON s.id = c.source_id
	ORDER BY c.created_at ASC`

const claimForSourceQuery = `
	WITH picked AS (
		SELECT id FROM newslist
		WHERE source_id = $4
		  AND (status = 'pending'
		   OR (status = 'processing' AND claimed_at < NOW() - ($1 * INTERVAL '1 second')))
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	), claimed AS (
		UPDATE newslist n
		SET status = 'processing', claimed_at = NOW(), claimed_by = $3, updated_at = NOW()
		FROM picked
		WHERE n.id = picked.id
		RETURNING n.*
	)
	SELECT ` + entryColumns + `
	FROM claimed c
	JOIN news_sources s ON s.id = c.source_id
	ORDER BY c.created_at ASC`

// ClaimBatch claims up to limit entries across all sources.
func (r *QueueRepository) ClaimBatch(ctx context.Context, limit int, claimedBy string, leaseTimeout time.Duration) ([]domain.QueueEntry, error) {
	var rows []dbEntry
	err := r.db.SelectContext(ctx, &rows, claimQuery, leaseTimeout.Seconds(), limit, claimedBy)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}

	return lo.Map(rows, func(e dbEntry, _ int) domain.QueueEntry {
		return e.toDomain()
	}), nil
}

// ClaimBatchForSource claims up to limit entries belonging to one source.
func (r *QueueRepository) ClaimBatchForSource(ctx context.Context, sourceID string, limit int, claimedBy string, leaseTimeout time.Duration) ([]domain.QueueEntry, error) {
	var rows []dbEntry
	err := r.db.SelectContext(ctx, &rows, claimForSourceQuery, leaseTimeout.Seconds(), limit, claimedBy, sourceID)
	if err != nil {
		return nil, fmt.Errorf("claim batch for source %s: %w", sourceID, err)
	}

	return lo.Map(rows, func(e dbEntry, _ int) domain.QueueEntry {
		return e.toDomain()
	}), nil
}

// MarkExtracted finishes an entry successfully and links the resulting article.
func (r *QueueRepository) MarkExtracted(ctx context.Context, entryID, articleID string) error {
	query := `
		UPDATE newslist
		SET status = 'extracted',
			resolved_article_id = $1,
			error_log = NULL,
			last_processed_at = NOW(),
			claimed_at = NULL,
			claimed_by = NULL,
			updated_at = NOW()
		WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, articleID, entryID)
	if err != nil {
		return fmt.Errorf("mark extracted %s: %w", entryID, err)
	}

	return requireRows(result, entryID)
}

// MarkFailed increments the attempt counter. The entry goes terminal when the
// failure is permanent or the new count reaches maxAttempts; otherwise it
// returns to pending for a later pass.
func (r *QueueRepository) MarkFailed(ctx context.Context, entryID, errorText string, maxAttempts int, permanent bool) error {
	query := `
		UPDATE newslist
		SET attempt_count = attempt_count + 1,
			error_log = $1,
			status = CASE
				WHEN $2 OR attempt_count + 1 >= $3 THEN 'error'
				ELSE 'pending'
			END,
			last_processed_at = NOW(),
			claimed_at = NULL,
			claimed_by = NULL,
			updated_at = NOW()
		WHERE id = $4`

	result, err := r.db.ExecContext(ctx, query, errorText, permanent, maxAttempts, entryID)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", entryID, err)
	}

	return requireRows(result, entryID)
}

// Requeue returns a terminal error entry to pending. Operator recovery only;
// attempt count and error log stay untouched.
func (r *QueueRepository) Requeue(ctx context.Context, entryID string) error {
	query := `
		UPDATE newslist
		SET status = 'pending', claimed_at = NULL, claimed_by = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'error'`

	result, err := r.db.ExecContext(ctx, query, entryID)
	if err != nil {
		return fmt.Errorf("requeue %s: %w", entryID, err)
	}

	return requireRows(result, entryID)
}

// CountsByStatus reports queue depth per source and status.
func (r *QueueRepository) CountsByStatus(ctx context.Context) ([]ports.StatusCount, error) {
	query, args, err := psql.Select("s.source_key", "n.status", "COUNT(*) AS count").
		From("newslist n").
		Join("news_sources s ON s.id = n.source_id").
		GroupBy("s.source_key", "n.status").
		OrderBy("s.source_key", "n.status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build counts query: %w", err)
	}

	var rows []statusRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("counts by status: %w", err)
	}

	return lo.Map(rows, func(row statusRow, _ int) ports.StatusCount {
		return ports.StatusCount{
			SourceKey: row.SourceKey,
			Status:    domain.EntryStatus(row.Status),
			Count:     row.Count,
		}
	}), nil
}

type statusRow struct {
	SourceKey string `db:"source_key"`
	Status    string `db:"status"`
	Count     int    `db:"count"`
}

func marshalMeta(meta map[string]string) ([]byte, error) {
	if len(meta) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(meta)
}

func requireRows(result sql.Result, entryID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("entry %s: %w", entryID, domain.ErrNotFound)
	}
	return nil
}
