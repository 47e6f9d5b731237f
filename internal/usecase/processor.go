package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"NewsCurator/internal/domain"
	"NewsCurator/internal/ports"
	"NewsCurator/internal/scrape"
)

const excerptLimit = 200

// ProcessorDeps wires the queue-draining worker with its collaborators.
type ProcessorDeps struct {
	Queue    ports.Queue
	Articles ports.ArticleRepository
	Sources  ports.SourceRegistry
	Registry *scrape.Registry
	History  ports.RunHistory
	Notifier ports.Notifier
	Logger   *slog.Logger

	MaxAttempts  int
	Concurrency  int
	ItemTimeout  time.Duration
	LeaseTimeout time.Duration
	HardCap      int
}

// Processor drains the ingestion queue into articles. Claimed entries are
// extracted concurrently up to a bounded worker count; one slow URL never
// blocks the rest of a batch.
type Processor struct {
	queue    ports.Queue
	articles ports.ArticleRepository
	sources  ports.SourceRegistry
	registry *scrape.Registry
	history  ports.RunHistory
	notifier ports.Notifier
	logger   *slog.Logger

	maxAttempts  int
	concurrency  int
	itemTimeout  time.Duration
	leaseTimeout time.Duration
	hardCap      int
}

// NewProcessor constructs the worker use case.
func NewProcessor(deps ProcessorDeps) *Processor {
	p := &Processor{
		queue:        deps.Queue,
		articles:     deps.Articles,
		sources:      deps.Sources,
		registry:     deps.Registry,
		history:      deps.History,
		notifier:     deps.Notifier,
		logger:       deps.Logger,
		maxAttempts:  deps.MaxAttempts,
		concurrency:  deps.Concurrency,
		itemTimeout:  deps.ItemTimeout,
		leaseTimeout: deps.LeaseTimeout,
		hardCap:      deps.HardCap,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 3
	}
	if p.concurrency <= 0 {
		p.concurrency = 1
	}
	if p.itemTimeout <= 0 {
		p.itemTimeout = 30 * time.Second
	}
	if p.leaseTimeout <= 0 {
		p.leaseTimeout = 10 * time.Minute
	}
	if p.hardCap <= 0 {
		p.hardCap = 500
	}
	return p
}

// ItemResult reports the outcome of one queue entry.
type ItemResult struct {
	EntryID         string `json:"id"`
	SourceArticleID string `json:"sourceArticleId,omitempty"`
	ArticleID       string `json:"articleId,omitempty"`
	Status          string `json:"status"`
	Message         string `json:"message,omitempty"`
}

// Item result statuses.
const (
	ItemImported = "imported"
	ItemExisting = "existing"
	ItemFailed   = "failed"
)

// BatchSummary is the structured report returned to administrative callers.
// Per-item failures are listed, never raised.
type BatchSummary struct {
	Processed int          `json:"processed"`
	Imported  int          `json:"imported"`
	Existing  int          `json:"existing"`
	Failed    int          `json:"failed"`
	Results   []ItemResult `json:"results"`
	Errors    []string     `json:"errors,omitempty"`
}

func (s *BatchSummary) merge(other BatchSummary) {
	s.Processed += other.Processed
	s.Imported += other.Imported
	s.Existing += other.Existing
	s.Failed += other.Failed
	s.Results = append(s.Results, other.Results...)
	s.Errors = append(s.Errors, other.Errors...)
}

// ProcessBatch claims up to limit pending entries and resolves them. An empty
// sourceKey processes entries across all sources; a named one restricts the
// claim to that source. Batch-level store failures abort and are recorded on
// the run; per-item failures only mark their entry.
func (p *Processor) ProcessBatch(ctx context.Context, limit int, sourceKey string) (BatchSummary, error) {
	runSlug := "newslist-process"
	var runSourceID *string

	var claimErr error
	var entries []domain.QueueEntry
	claimedBy := uuid.New().String()

	if sourceKey == "" {
		entries, claimErr = p.queue.ClaimBatch(ctx, limit, claimedBy, p.leaseTimeout)
	} else {
		source, err := p.sources.Get(ctx, sourceKey)
		if err != nil {
			return BatchSummary{}, fmt.Errorf("resolve source %s: %w", sourceKey, err)
		}
		runSlug = "newslist-process:" + sourceKey
		runSourceID = &source.ID
		entries, claimErr = p.queue.ClaimBatchForSource(ctx, source.ID, limit, claimedBy, p.leaseTimeout)
	}

	runID, err := p.history.StartRun(ctx, runSlug, runSourceID)
	if err != nil {
		p.warn("start run failed", "slug", runSlug, "error", err)
	}

	if claimErr != nil {
		p.failRun(ctx, runID, claimErr)
		return BatchSummary{}, fmt.Errorf("claim batch: %w", claimErr)
	}

	summary := p.processEntries(ctx, entries)

	if runID != "" {
		notes := fmt.Sprintf("imported=%d existing=%d failed=%d", summary.Imported, summary.Existing, summary.Failed)
		if err := p.history.CompleteRun(ctx, runID, summary.Imported+summary.Existing, summary.Errors, notes); err != nil {
			p.warn("complete run failed", "run_id", runID, "error", err)
		}
	}

	if p.notifier != nil && summary.Processed > 0 && summary.Imported+summary.Existing == 0 && len(summary.Errors) > 0 {
		run := domain.AutomationRun{RunID: runID, CategorySlug: runSlug, Status: domain.RunFailed, Errors: summary.Errors}
		if err := p.notifier.NotifyRunFailed(ctx, run); err != nil {
			p.warn("notify run failed", "run_id", runID, "error", err)
		}
	}

	return summary, nil
}

// ProcessAllPending repeats ProcessBatch until the queue is drained or the
// hard cap is hit, honoring the caller's deadline between batches.
func (p *Processor) ProcessAllPending(ctx context.Context, limit int, sourceKey string) (BatchSummary, error) {
	var total BatchSummary
	for total.Processed < p.hardCap {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		batch, err := p.ProcessBatch(ctx, limit, sourceKey)
		if err != nil {
			return total, err
		}
		if batch.Processed == 0 {
			break
		}
		total.merge(batch)
	}
	return total, nil
}

// processEntries fans extraction out over a bounded worker count.
func (p *Processor) processEntries(ctx context.Context, entries []domain.QueueEntry) BatchSummary {
	summary := BatchSummary{Processed: len(entries)}
	if len(entries) == 0 {
		return summary
	}

	results := make([]ItemResult, len(entries))
	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup

	for i, entry := range entries {
		wg.Add(1)
		go func(i int, entry domain.QueueEntry) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = p.processEntry(ctx, entry)
		}(i, entry)
	}
	wg.Wait()

	for _, res := range results {
		summary.Results = append(summary.Results, res)
		switch res.Status {
		case ItemImported:
			summary.Imported++
		case ItemExisting:
			summary.Existing++
		default:
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %s", res.EntryID, res.Message))
		}
	}

	return summary
}

// processEntry resolves one claimed entry: extract, upsert, mark. Every exit
// path leaves the entry in a recoverable state.
func (p *Processor) processEntry(ctx context.Context, entry domain.QueueEntry) ItemResult {
	result := ItemResult{EntryID: entry.ID, Status: ItemFailed}
	if entry.SourceArticleID != nil {
		result.SourceArticleID = *entry.SourceArticleID
	}

	source, err := p.sources.Get(ctx, entry.SourceKey)
	if err != nil {
		result.Message = fmt.Sprintf("resolve source %s: %v", entry.SourceKey, err)
		p.markFailed(ctx, entry.ID, result.Message, false)
		return result
	}

	strategy, err := p.registry.ResolveForSource(*source)
	if err != nil {
		result.Message = err.Error()
		p.markFailed(ctx, entry.ID, result.Message, false)
		return result
	}

	itemCtx, cancel := context.WithTimeout(ctx, p.itemTimeout)
	defer cancel()

	doc, err := strategy.Extract(itemCtx, entry.URL, *source)
	if err != nil {
		// A timed-out extraction is a transient failure; the entry returns to
		// pending for a later pass.
		permanent := domain.IsPermanent(err)
		result.Message = fmt.Sprintf("extract: %v", err)
		p.markFailed(ctx, entry.ID, result.Message, permanent)
		return result
	}

	article, err := buildArticle(entry, *source, doc)
	if err != nil {
		result.Message = err.Error()
		p.markFailed(ctx, entry.ID, result.Message, true)
		return result
	}
	result.SourceArticleID = article.SourceArticleID

	articleID, created, err := p.articles.Upsert(ctx, article)
	if err != nil {
		result.Message = fmt.Sprintf("save article: %v", err)
		p.markFailed(ctx, entry.ID, result.Message, false)
		return result
	}

	if err := p.queue.MarkExtracted(ctx, entry.ID, articleID); err != nil {
		result.Message = fmt.Sprintf("mark extracted: %v", err)
		return result
	}

	result.ArticleID = articleID
	result.Message = "article saved"
	if created {
		result.Status = ItemImported
	} else {
		result.Status = ItemExisting
	}

	p.debug("entry processed", "entry_id", entry.ID, "article_id", articleID, "created", created)
	return result
}

func (p *Processor) markFailed(ctx context.Context, entryID, message string, permanent bool) {
	if err := p.queue.MarkFailed(ctx, entryID, message, p.maxAttempts, permanent); err != nil {
		p.warn("mark failed errored", "entry_id", entryID, "error", err)
	}
}

func (p *Processor) failRun(ctx context.Context, runID string, cause error) {
	if runID == "" {
		return
	}
	if err := p.history.CompleteRun(ctx, runID, 0, []string{cause.Error()}, "batch aborted"); err != nil {
		p.warn("complete run failed", "run_id", runID, "error", err)
	}
}

// buildArticle maps an extracted document onto the canonical article keyed by
// (source, source article id). A missing identifier or title is a validation
// failure and therefore permanent.
func buildArticle(entry domain.QueueEntry, source domain.Source, doc *domain.ExtractedDocument) (domain.Article, error) {
	sourceArticleID := doc.SourceArticleID
	if sourceArticleID == "" && entry.SourceArticleID != nil {
		sourceArticleID = *entry.SourceArticleID
	}
	if sourceArticleID == "" {
		return domain.Article{}, errors.New("extracted document has no source article id")
	}
	if strings.TrimSpace(doc.Title) == "" {
		return domain.Article{}, errors.New("extracted document has no title")
	}

	excerpt := doc.Excerpt
	if excerpt == "" {
		excerpt = deriveExcerpt(doc.Content)
	}

	article := domain.Article{
		SourceID:         source.ID,
		SourceArticleID:  sourceArticleID,
		SourceURL:        entry.URL,
		Title:            doc.Title,
		Author:           doc.Author,
		Category:         doc.Category,
		SubCategory:      doc.SubCategory,
		Tags:             doc.Tags,
		PublishedAt:      doc.PublishedAt,
		UpdatedAtSource:  doc.UpdatedAt,
		Content:          doc.Content,
		Excerpt:          excerpt,
		MainImageURL:     doc.MainImageURL,
		MainImageCaption: doc.MainImageCaption,
		Metadata:         doc.Metadata,
		ScrapeStatus:     domain.ScrapeSuccess,
	}

	for i, img := range doc.Images {
		if img.URL == "" {
			continue
		}
		article.Images = append(article.Images, domain.ArticleImage{
			ImageURL:     img.URL,
			Caption:      img.Caption,
			DisplayOrder: i,
			IsMainImage:  img.URL == doc.MainImageURL,
		})
	}

	return article, nil
}

// deriveExcerpt takes the first paragraph text, capped at excerptLimit runes.
func deriveExcerpt(blocks []domain.ContentBlock) string {
	for _, block := range blocks {
		if block.Type != domain.BlockParagraph || block.Text == "" {
			continue
		}
		runes := []rune(block.Text)
		if len(runes) <= excerptLimit {
			return block.Text
		}
		return string(runes[:excerptLimit])
	}
	return ""
}

func (p *Processor) debug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) warn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}
