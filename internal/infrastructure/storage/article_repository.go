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
	"github.com/lib/pq"

	"NewsCurator/internal/domain"
	"NewsCurator/internal/ports"
)

// ArticleRepository persists normalized articles with their images.
type ArticleRepository struct {
	db *sqlx.DB
}

var _ ports.ArticleRepository = (*ArticleRepository)(nil)

// NewArticleRepository wires a sqlx connection pool.
func NewArticleRepository(db *sqlx.DB) *ArticleRepository {
	return &ArticleRepository{db: db}
}

type dbArticle struct {
	ID               string         `db:"id"`
	SourceID         string         `db:"source_id"`
	SourceArticleID  string         `db:"source_article_id"`
	SourceURL        string         `db:"source_url"`
	Title            string         `db:"title"`
	Author           sql.NullString `db:"author"`
	Category         sql.NullString `db:"category"`
	SubCategory      sql.NullString `db:"sub_category"`
	Tags             pq.StringArray `db:"tags"`
	PublishedAt      sql.NullTime   `db:"published_at"`
	UpdatedAtSource  sql.NullTime   `db:"updated_at_source"`
	Content          []byte         `db:"content"`
	Excerpt          sql.NullString `db:"excerpt"`
	MainImageURL     sql.NullString `db:"main_image_url"`
	MainImageCaption sql.NullString `db:"main_image_caption"`
	Metadata         []byte         `db:"metadata"`
	ScrapeStatus     string         `db:"scrape_status"`
	ErrorLog         sql.NullString `db:"error_log"`
	ScrapedAt        time.Time      `db:"scraped_at"`
	LastUpdatedAt    time.Time      `db:"last_updated_at"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

const upsertArticleQuery = `
	INSERT INTO articles (
		source_id, source_article_id, source_url, title, author, category,
		sub_category, tags, published_at, updated_at_source, content, excerpt,
		main_image_url, main_image_caption, metadata, scrape_status, error_log,
		scraped_at, last_updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW(), NOW())
	ON CONFLICT (source_id, source_article_id) DO UPDATE SET
		source_url = EXCLUDED.source_url,
		title = EXCLUDED.title,
		author = EXCLUDED.author,
		category = EXCLUDED.category,
		sub_category = EXCLUDED.sub_category,
		tags = EXCLUDED.tags,
		published_at = EXCLUDED.published_at,
		updated_at_source = EXCLUDED.updated_at_source,
		content = EXCLUDED.content,
		excerpt = EXCLUDED.excerpt,
		main_image_url = EXCLUDED.main_image_url,
		main_image_caption = EXCLUDED.main_image_caption,
		metadata = EXCLUDED.metadata,
		scrape_status = EXCLUDED.scrape_status,
		error_log = EXCLUDED.error_log,
		last_updated_at = NOW(),
		updated_at = NOW()
	RETURNING id, (xmax = 0) AS created`

// Upsert writes the article keyed by (source_id, source_article_id) and
// replaces its images wholesale so display order matches the latest fetch.
// Runs in a single transaction.
func (r *ArticleRepository) Upsert(ctx context.Context, article domain.Article) (string, bool, error) {
	content, err := json.Marshal(article.Content)
	if err != nil {
		return "", false, fmt.Errorf("marshal content: %w", err)
	}

	metadata, err := marshalMeta(article.Metadata)
	if err != nil {
		return "", false, fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id      string
		created bool
	)
	err = tx.QueryRowxContext(ctx, upsertArticleQuery,
		article.SourceID,
		article.SourceArticleID,
		article.SourceURL,
		article.Title,
		nullable(article.Author),
		nullable(article.Category),
		nullable(article.SubCategory),
		pq.StringArray(article.Tags),
		nullableTime(article.PublishedAt),
		nullableTime(article.UpdatedAtSource),
		content,
		nullable(article.Excerpt),
		nullable(article.MainImageURL),
		nullable(article.MainImageCaption),
		metadata,
		string(article.ScrapeStatus),
		nullablePtr(article.ErrorLog),
	).Scan(&id, &created)
	if err != nil {
		return "", false, fmt.Errorf("upsert article %s/%s: %w", article.SourceID, article.SourceArticleID, err)
	}

	if err := replaceImages(ctx, tx, id, article.Images); err != nil {
		return "", false, err
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit upsert: %w", err)
	}

	return id, created, nil
}

func replaceImages(ctx context.Context, tx *sqlx.Tx, articleID string, images []domain.ArticleImage) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM article_images WHERE article_id = $1`, articleID); err != nil {
		return fmt.Errorf("delete images: %w", err)
	}

	if len(images) == 0 {
		return nil
	}

	builder := psql.Insert("article_images").
		Columns("article_id", "image_url", "caption", "display_order", "is_main_image")
	for _, img := range images {
		builder = builder.Values(articleID, img.ImageURL, img.Caption, img.DisplayOrder, img.IsMainImage)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build images insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert images: %w", err)
	}

	return nil
}

// GetBySourceArticleID loads one article with its images.
func (r *ArticleRepository) GetBySourceArticleID(ctx context.Context, sourceID, sourceArticleID string) (*domain.Article, error) {
	query, args, err := psql.Select("*").
		From("articles").
		Where(sq.Eq{"source_id": sourceID, "source_article_id": sourceArticleID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build article query: %w", err)
	}

	var row dbArticle
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get article %s/%s: %w", sourceID, sourceArticleID, err)
	}

	article := row.toDomain()

	var images []dbImage
	imgQuery := `SELECT id, article_id, image_url, caption, display_order, is_main_image
		FROM article_images WHERE article_id = $1 ORDER BY display_order ASC`
	if err := r.db.SelectContext(ctx, &images, imgQuery, row.ID); err != nil {
		return nil, fmt.Errorf("load images for %s: %w", row.ID, err)
	}

	for _, img := range images {
		article.Images = append(article.Images, img.toDomain())
	}

	return &article, nil
}

type dbImage struct {
	ID           string         `db:"id"`
	ArticleID    string         `db:"article_id"`
	ImageURL     string         `db:"image_url"`
	Caption      sql.NullString `db:"caption"`
	DisplayOrder int            `db:"display_order"`
	IsMainImage  bool           `db:"is_main_image"`
}

func (i dbImage) toDomain() domain.ArticleImage {
	return domain.ArticleImage{
		ID:           i.ID,
		ArticleID:    i.ArticleID,
		ImageURL:     i.ImageURL,
		Caption:      i.Caption.String,
		DisplayOrder: i.DisplayOrder,
		IsMainImage:  i.IsMainImage,
	}
}

func (a dbArticle) toDomain() domain.Article {
	article := domain.Article{
		ID:               a.ID,
		SourceID:         a.SourceID,
		SourceArticleID:  a.SourceArticleID,
		SourceURL:        a.SourceURL,
		Title:            a.Title,
		Author:           a.Author.String,
		Category:         a.Category.String,
		SubCategory:      a.SubCategory.String,
		Tags:             a.Tags,
		Excerpt:          a.Excerpt.String,
		MainImageURL:     a.MainImageURL.String,
		MainImageCaption: a.MainImageCaption.String,
		ScrapeStatus:     domain.ScrapeStatus(a.ScrapeStatus),
		ScrapedAt:        a.ScrapedAt,
		LastUpdatedAt:    a.LastUpdatedAt,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
	if a.PublishedAt.Valid {
		article.PublishedAt = &a.PublishedAt.Time
	}
	if a.UpdatedAtSource.Valid {
		article.UpdatedAtSource = &a.UpdatedAtSource.Time
	}
	if a.ErrorLog.Valid {
		article.ErrorLog = &a.ErrorLog.String
	}
	if len(a.Content) > 0 {
		_ = json.Unmarshal(a.Content, &article.Content)
	}
	if len(a.Metadata) > 0 {
		meta := map[string]string{}
		if err := json.Unmarshal(a.Metadata, &meta); err == nil {
			article.Metadata = meta
		}
	}
	return article
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullablePtr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
