package ports

import (
	"context"
	"time"

	"NewsCurator/internal/domain"
)

// SourceRegistry exposes read-only access to configured news origins.
type SourceRegistry interface {
	Get(ctx context.Context, sourceKey string) (*domain.Source, error)
	ListActive(ctx context.Context) ([]domain.Source, error)
}

// CategoryStore reads schedulable categories and records scheduler progress.
type CategoryStore interface {
	ListEnabled(ctx context.Context) ([]domain.Category, error)
	ListEnabledForSource(ctx context.Context, sourceID string) ([]domain.Category, error)
	UpdateLastRun(ctx context.Context, categoryID string, at time.Time) error
}

// EnqueueResult reports what happened to one candidate at enqueue time.
type EnqueueResult struct {
	EntryID   string
	Duplicate bool
}

// StatusCount is one row of a queue depth report.
type StatusCount struct {
	SourceKey string
	Status    domain.EntryStatus
	Count     int
}

// Queue is the durable ingestion queue with its claim protocol. ClaimBatch is
// the sole serialization point in the system: two concurrent callers never
// receive the same entry.
type Queue interface {
	Enqueue(ctx context.Context, sourceID string, cand domain.Candidate) (EnqueueResult, error)
	ClaimBatch(ctx context.Context, limit int, claimedBy string, leaseTimeout time.Duration) ([]domain.QueueEntry, error)
	ClaimBatchForSource(ctx context.Context, sourceID string, limit int, claimedBy string, leaseTimeout time.Duration) ([]domain.QueueEntry, error)
	MarkExtracted(ctx context.Context, entryID, articleID string) error
	MarkFailed(ctx context.Context, entryID, errorText string, maxAttempts int, permanent bool) error
	Requeue(ctx context.Context, entryID string) error
	CountsByStatus(ctx context.Context) ([]StatusCount, error)
}

// ArticleRepository persists normalized articles and their images.
type ArticleRepository interface {
	// Upsert writes the article keyed by (SourceID, SourceArticleID) and fully
	// replaces its images. Returns the article ID and whether a row was created.
	Upsert(ctx context.Context, article domain.Article) (id string, created bool, err error)
	GetBySourceArticleID(ctx context.Context, sourceID, sourceArticleID string) (*domain.Article, error)
}

// RunHistory is the append-only audit trail of automation runs.
type RunHistory interface {
	StartRun(ctx context.Context, categorySlug string, sourceID *string) (runID string, err error)
	CompleteRun(ctx context.Context, runID string, processed int, errs []string, notes string) error
	RecentRuns(ctx context.Context, limit int) ([]domain.AutomationRun, error)
}

// Notifier pushes operational alerts (failed runs) to an external channel.
type Notifier interface {
	NotifyRunFailed(ctx context.Context, run domain.AutomationRun) error
}

// Scheduler controls when recurring pipeline passes execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
