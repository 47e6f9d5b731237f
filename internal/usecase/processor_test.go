package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"NewsCurator/internal/domain"
	"NewsCurator/internal/ports"
	"NewsCurator/internal/scrape"
)

// fakeWorkQueue hands out canned batches and records terminal marks.
type fakeWorkQueue struct {
	mu      sync.Mutex
	batches [][]domain.QueueEntry
	claims  int

	extracted map[string]string // entry id -> article id
	failed    map[string]failMark
}

type failMark struct {
	message   string
	permanent bool
}

func (f *fakeWorkQueue) Enqueue(ctx context.Context, sourceID string, cand domain.Candidate) (ports.EnqueueResult, error) {
	return ports.EnqueueResult{}, errors.New("not implemented")
}

func (f *fakeWorkQueue) ClaimBatch(ctx context.Context, limit int, claimedBy string, leaseTimeout time.Duration) ([]domain.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims++
	if f.claims > len(f.batches) {
		return nil, nil
	}
	return f.batches[f.claims-1], nil
}

func (f *fakeWorkQueue) ClaimBatchForSource(ctx context.Context, sourceID string, limit int, claimedBy string, leaseTimeout time.Duration) ([]domain.QueueEntry, error) {
	return f.ClaimBatch(ctx, limit, claimedBy, leaseTimeout)
}

func (f *fakeWorkQueue) MarkExtracted(ctx context.Context, entryID, articleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.extracted == nil {
		f.extracted = map[string]string{}
	}
	f.extracted[entryID] = articleID
	return nil
}

func (f *fakeWorkQueue) MarkFailed(ctx context.Context, entryID, errorText string, maxAttempts int, permanent bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed == nil {
		f.failed = map[string]failMark{}
	}
	f.failed[entryID] = failMark{message: errorText, permanent: permanent}
	return nil
}

func (f *fakeWorkQueue) Requeue(ctx context.Context, entryID string) error { return nil }

func (f *fakeWorkQueue) CountsByStatus(ctx context.Context) ([]ports.StatusCount, error) {
	return nil, nil
}

// fakeSources resolves sources by key.
type fakeSources struct {
	sources map[string]*domain.Source
}

func (f *fakeSources) Get(ctx context.Context, sourceKey string) (*domain.Source, error) {
	if s, ok := f.sources[sourceKey]; ok {
		return s, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeSources) ListActive(ctx context.Context) ([]domain.Source, error) {
	var out []domain.Source
	for _, s := range f.sources {
		out = append(out, *s)
	}
	return out, nil
}

// fakeArticles upserts into a map keyed by (source, source article id).
type fakeArticles struct {
	mu       sync.Mutex
	existing map[string]string // key -> article id
	upserts  int
}

func articleKey(sourceID, sourceArticleID string) string {
	return sourceID + "/" + sourceArticleID
}

func (f *fakeArticles) Upsert(ctx context.Context, article domain.Article) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existing == nil {
		f.existing = map[string]string{}
	}
	f.upserts++
	key := articleKey(article.SourceID, article.SourceArticleID)
	if id, ok := f.existing[key]; ok {
		return id, false, nil
	}
	id := fmt.Sprintf("article-%d", len(f.existing)+1)
	f.existing[key] = id
	return id, true, nil
}

func (f *fakeArticles) GetBySourceArticleID(ctx context.Context, sourceID, sourceArticleID string) (*domain.Article, error) {
	return nil, domain.ErrNotFound
}

func queueEntry(id, url, sourceArticleID string) domain.QueueEntry {
	entry := domain.QueueEntry{
		ID:        id,
		SourceID:  "src-s1",
		SourceKey: "s1",
		URL:       url,
		Status:    domain.StatusProcessing,
	}
	if sourceArticleID != "" {
		entry.SourceArticleID = &sourceArticleID
	}
	return entry
}

func docFor(id, title string) *domain.ExtractedDocument {
	return &domain.ExtractedDocument{
		SourceArticleID: id,
		Title:           title,
		Content: []domain.ContentBlock{
			{Type: domain.BlockParagraph, Text: "Body of " + title},
		},
	}
}

func newProcessorForTest(queue ports.Queue, articles ports.ArticleRepository, strategy *fakeStrategy, history ports.RunHistory) *Processor {
	registry := scrape.NewRegistry()
	registry.Register(strategy)
	return NewProcessor(ProcessorDeps{
		Queue:       queue,
		Articles:    articles,
		Sources:     &fakeSources{sources: map[string]*domain.Source{"s1": testSource("s1")}},
		Registry:    registry,
		History:     history,
		MaxAttempts: 3,
		Concurrency: 2,
	})
}

func TestProcessBatchImportsAndDetectsExisting(t *testing.T) {
	t.Parallel()

	queue := &fakeWorkQueue{batches: [][]domain.QueueEntry{{
		queueEntry("e1", "https://s1.example.com/a", "1"),
		queueEntry("e2", "https://s1.example.com/b", "2"),
	}}}
	articles := &fakeArticles{existing: map[string]string{
		articleKey("src-s1", "2"): "article-seed",
	}}
	strategy := &fakeStrategy{
		name: "fake",
		extract: func(url string) (*domain.ExtractedDocument, error) {
			if strings.HasSuffix(url, "/a") {
				return docFor("1", "Fresh article"), nil
			}
			return docFor("2", "Known article"), nil
		},
	}
	history := &fakeHistory{}

	p := newProcessorForTest(queue, articles, strategy, history)

	summary, err := p.ProcessBatch(context.Background(), 25, "")
	if err != nil {
		t.Fatalf("ProcessBatch error: %v", err)
	}

	if summary.Processed != 2 || summary.Imported != 1 || summary.Existing != 1 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(queue.extracted) != 2 {
		t.Fatalf("expected both entries marked extracted, got %d", len(queue.extracted))
	}
	if queue.extracted["e2"] != "article-seed" {
		t.Fatalf("existing entry should resolve to seeded article, got %s", queue.extracted["e2"])
	}
	if len(history.completed) != 1 {
		t.Fatalf("expected a completed run record, got %d", len(history.completed))
	}
}

func TestProcessBatchClassifiesFailures(t *testing.T) {
	t.Parallel()

	queue := &fakeWorkQueue{batches: [][]domain.QueueEntry{{
		queueEntry("gone", "https://s1.example.com/gone", "1"),
		queueEntry("flaky", "https://s1.example.com/flaky", "2"),
	}}}
	strategy := &fakeStrategy{
		name: "fake",
		extract: func(url string) (*domain.ExtractedDocument, error) {
			if strings.HasSuffix(url, "/gone") {
				return nil, domain.Permanent(errors.New("page removed"))
			}
			return nil, errors.New("connection reset")
		},
	}
	history := &fakeHistory{}

	p := newProcessorForTest(queue, &fakeArticles{}, strategy, history)

	summary, err := p.ProcessBatch(context.Background(), 25, "")
	if err != nil {
		t.Fatalf("ProcessBatch error: %v", err)
	}

	if summary.Failed != 2 || len(summary.Errors) != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if mark := queue.failed["gone"]; !mark.permanent {
		t.Fatalf("removed page should fail permanently, got %+v", mark)
	}
	if mark := queue.failed["flaky"]; mark.permanent {
		t.Fatalf("transient failure must stay retryable, got %+v", mark)
	}
}

func TestProcessBatchRetriesAfterTransientFailure(t *testing.T) {
	t.Parallel()

	// Same entry claimed twice, as the queue would re-serve a pending retry.
	queue := &fakeWorkQueue{batches: [][]domain.QueueEntry{
		{queueEntry("e1", "https://s1.example.com/a", "1")},
		{queueEntry("e1", "https://s1.example.com/a", "1")},
	}}

	var mu sync.Mutex
	calls := 0
	strategy := &fakeStrategy{
		name: "fake",
		extract: func(url string) (*domain.ExtractedDocument, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				return nil, errors.New("timeout talking to origin")
			}
			return docFor("1", "Recovered article"), nil
		},
	}
	history := &fakeHistory{}

	p := newProcessorForTest(queue, &fakeArticles{}, strategy, history)

	first, err := p.ProcessBatch(context.Background(), 25, "")
	if err != nil {
		t.Fatalf("first batch error: %v", err)
	}
	if first.Failed != 1 {
		t.Fatalf("first attempt should fail: %+v", first)
	}
	if mark := queue.failed["e1"]; mark.permanent {
		t.Fatalf("timeout must not be permanent: %+v", mark)
	}

	second, err := p.ProcessBatch(context.Background(), 25, "")
	if err != nil {
		t.Fatalf("second batch error: %v", err)
	}
	if second.Imported != 1 {
		t.Fatalf("retry should import: %+v", second)
	}
	if queue.extracted["e1"] == "" {
		t.Fatalf("entry should be marked extracted after the retry")
	}
}

func TestProcessBatchRejectsDocumentWithoutTitle(t *testing.T) {
	t.Parallel()

	queue := &fakeWorkQueue{batches: [][]domain.QueueEntry{{
		queueEntry("e1", "https://s1.example.com/a", "1"),
	}}}
	strategy := &fakeStrategy{
		name: "fake",
		extract: func(url string) (*domain.ExtractedDocument, error) {
			doc := docFor("1", "   ")
			return doc, nil
		},
	}

	p := newProcessorForTest(queue, &fakeArticles{}, strategy, &fakeHistory{})

	summary, err := p.ProcessBatch(context.Background(), 25, "")
	if err != nil {
		t.Fatalf("ProcessBatch error: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("expected validation failure: %+v", summary)
	}
	if mark := queue.failed["e1"]; !mark.permanent {
		t.Fatalf("validation failures are permanent, got %+v", mark)
	}
}

func TestProcessAllPendingDrainsQueue(t *testing.T) {
	t.Parallel()

	queue := &fakeWorkQueue{batches: [][]domain.QueueEntry{
		{queueEntry("e1", "https://s1.example.com/a", "1")},
		{queueEntry("e2", "https://s1.example.com/b", "2")},
	}}
	strategy := &fakeStrategy{
		name: "fake",
		extract: func(url string) (*domain.ExtractedDocument, error) {
			if strings.HasSuffix(url, "/a") {
				return docFor("1", "First"), nil
			}
			return docFor("2", "Second"), nil
		},
	}

	p := newProcessorForTest(queue, &fakeArticles{}, strategy, &fakeHistory{})

	total, err := p.ProcessAllPending(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("ProcessAllPending error: %v", err)
	}
	if total.Processed != 2 || total.Imported != 2 {
		t.Fatalf("unexpected totals: %+v", total)
	}
	if queue.claims < 3 {
		t.Fatalf("expected a final empty claim to stop the loop, got %d claims", queue.claims)
	}
}

func TestBuildArticleDerivesExcerptAndImages(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("word ", 60)
	doc := &domain.ExtractedDocument{
		SourceArticleID: "42",
		Title:           "Excerpt test",
		MainImageURL:    "https://img.example.com/main.jpg",
		Content: []domain.ContentBlock{
			{Type: domain.BlockHeading, Text: "Heading"},
			{Type: domain.BlockParagraph, Text: long},
		},
		Images: []domain.ExtractedImage{
			{URL: "https://img.example.com/main.jpg", Caption: "lead"},
			{URL: "https://img.example.com/inline.jpg"},
			{URL: ""},
		},
	}

	article, err := buildArticle(queueEntry("e1", "https://s1.example.com/a", "42"), *testSource("s1"), doc)
	if err != nil {
		t.Fatalf("buildArticle error: %v", err)
	}

	if got := len([]rune(article.Excerpt)); got != excerptLimit {
		t.Fatalf("excerpt should be capped at %d runes, got %d", excerptLimit, got)
	}
	if len(article.Images) != 2 {
		t.Fatalf("empty image URLs must be dropped, got %d images", len(article.Images))
	}
	if !article.Images[0].IsMainImage || article.Images[1].IsMainImage {
		t.Fatalf("main image flag misplaced: %+v", article.Images)
	}
	if article.Images[1].DisplayOrder != 1 {
		t.Fatalf("display order should follow document order, got %d", article.Images[1].DisplayOrder)
	}
}
