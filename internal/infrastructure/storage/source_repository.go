package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"NewsCurator/internal/domain"
	"NewsCurator/internal/ports"
)

// SourceRepository is the read-mostly registry of news origins.
type SourceRepository struct {
	db *sqlx.DB
}

var _ ports.SourceRegistry = (*SourceRepository)(nil)

// NewSourceRepository wires a sqlx connection pool.
func NewSourceRepository(db *sqlx.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

type dbSource struct {
	ID            string    `db:"id"`
	SourceKey     string    `db:"source_key"`
	Name          string    `db:"name"`
	BaseURL       string    `db:"base_url"`
	ScraperConfig []byte    `db:"scraper_config"`
	IsActive      bool      `db:"is_active"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (s dbSource) toDomain() domain.Source {
	source := domain.Source{
		ID:        s.ID,
		SourceKey: s.SourceKey,
		Name:      s.Name,
		BaseURL:   s.BaseURL,
		IsActive:  s.IsActive,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	if len(s.ScraperConfig) > 0 {
		// Config stays opaque to the pipeline; parse errors surface later,
		// when a strategy actually consumes the selectors.
		_ = json.Unmarshal(s.ScraperConfig, &source.Config)
	}
	return source
}

// Get returns one source by its globally unique key.
func (r *SourceRepository) Get(ctx context.Context, sourceKey string) (*domain.Source, error) {
	query, args, err := psql.Select("*").
		From("news_sources").
		Where(sq.Eq{"source_key": sourceKey}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build source query: %w", err)
	}

	var row dbSource
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get source %s: %w", sourceKey, err)
	}

	source := row.toDomain()
	return &source, nil
}

// ListActive returns all sources eligible for scheduling.
func (r *SourceRepository) ListActive(ctx context.Context) ([]domain.Source, error) {
	query, args, err := psql.Select("*").
		From("news_sources").
		Where(sq.Eq{"is_active": true}).
		OrderBy("source_key").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sources query: %w", err)
	}

	var rows []dbSource
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list active sources: %w", err)
	}

	return lo.Map(rows, func(s dbSource, _ int) domain.Source {
		return s.toDomain()
	}), nil
}
