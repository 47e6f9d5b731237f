package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"NewsCurator/internal/domain"
	"NewsCurator/internal/ports"
)

// CategoryRepository reads schedulable categories and records last-run marks.
// Ordering is left to the scheduler use case, which selects over a snapshot.
type CategoryRepository struct {
	db *sqlx.DB
}

var _ ports.CategoryStore = (*CategoryRepository)(nil)

// NewCategoryRepository wires a sqlx connection pool.
func NewCategoryRepository(db *sqlx.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

type dbCategory struct {
	ID        string       `db:"id"`
	SourceID  string       `db:"source_id"`
	Slug      string       `db:"slug"`
	Name      string       `db:"name"`
	Priority  int          `db:"priority"`
	IsEnabled bool         `db:"is_enabled"`
	LastRunAt sql.NullTime `db:"last_run_at"`
	Metadata  []byte       `db:"metadata"`
	CreatedAt time.Time    `db:"created_at"`
	UpdatedAt time.Time    `db:"updated_at"`

	SourceKey     string `db:"source_key"`
	SourceName    string `db:"source_name"`
	BaseURL       string `db:"base_url"`
	ScraperConfig []byte `db:"scraper_config"`
}

func (c dbCategory) toDomain() domain.Category {
	category := domain.Category{
		ID:        c.ID,
		SourceID:  c.SourceID,
		Slug:      c.Slug,
		Name:      c.Name,
		Priority:  c.Priority,
		IsEnabled: c.IsEnabled,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	if c.LastRunAt.Valid {
		t := c.LastRunAt.Time
		category.LastRunAt = &t
	}
	if len(c.Metadata) > 0 {
		meta := map[string]string{}
		if err := json.Unmarshal(c.Metadata, &meta); err == nil {
			category.Metadata = meta
		}
	}

	source := domain.Source{
		ID:        c.SourceID,
		SourceKey: c.SourceKey,
		Name:      c.SourceName,
		BaseURL:   c.BaseURL,
		IsActive:  true,
	}
	if len(c.ScraperConfig) > 0 {
		_ = json.Unmarshal(c.ScraperConfig, &source.Config)
	}
	category.Source = &source

	return category
}

const categoryColumns = `c.id, c.source_id, c.slug, c.name, c.priority, c.is_enabled,
	c.last_run_at, c.metadata, c.created_at, c.updated_at,
	s.source_key, s.name AS source_name, s.base_url, s.scraper_config`

// ListEnabled returns enabled categories of active sources with their owning
// source attached.
func (r *CategoryRepository) ListEnabled(ctx context.Context) ([]domain.Category, error) {
	query, args, err := psql.Select(categoryColumns).
		From("scraper_categories c").
		Join("news_sources s ON s.id = c.source_id").
		Where(sq.Eq{"c.is_enabled": true, "s.is_active": true}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build categories query: %w", err)
	}

	var rows []dbCategory
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list enabled categories: %w", err)
	}

	return lo.Map(rows, func(c dbCategory, _ int) domain.Category {
		return c.toDomain()
	}), nil
}

// ListEnabledForSource narrows ListEnabled to one source.
func (r *CategoryRepository) ListEnabledForSource(ctx context.Context, sourceID string) ([]domain.Category, error) {
	query, args, err := psql.Select(categoryColumns).
		From("scraper_categories c").
		Join("news_sources s ON s.id = c.source_id").
		Where(sq.Eq{"c.is_enabled": true, "s.is_active": true, "c.source_id": sourceID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build categories query: %w", err)
	}

	var rows []dbCategory
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list categories for source %s: %w", sourceID, err)
	}

	return lo.Map(rows, func(c dbCategory, _ int) domain.Category {
		return c.toDomain()
	}), nil
}

// UpdateLastRun stamps a category after a discovery pass.
func (r *CategoryRepository) UpdateLastRun(ctx context.Context, categoryID string, at time.Time) error {
	query, args, err := psql.Update("scraper_categories").
		Set("last_run_at", at).
		Set("updated_at", at).
		Where(sq.Eq{"id": categoryID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build last-run update: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update last run %s: %w", categoryID, err)
	}

	return requireRows(result, categoryID)
}
