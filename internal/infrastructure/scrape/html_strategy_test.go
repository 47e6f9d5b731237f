package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"NewsCurator/internal/domain"
)

const listPage = `<!DOCTYPE html>
<html><body>
<div class="feed">
	<a href="/news/article/101">First story</a>
	<a href="/news/article/102">Second story</a>
	<a href="/news/article/101">First story again</a>
	<a href="/about">About us</a>
	<a href="https://elsewhere.example.org/news/article/999">Syndicated</a>
</div>
</body></html>`

const articlePage = `<!DOCTYPE html>
<html><body>
<article>
	<h1 class="headline">Rain expected tonight</h1>
	<span class="byline">A. Reporter</span>
	<time class="published" datetime="2026-08-30T18:00:00Z">Aug 30</time>
	<ul class="tags"><li>weather</li><li>local</li></ul>
	<img class="hero" src="/img/hero.jpg" alt="storm clouds">
	<div class="body">
		<h2>Forecast</h2>
		<p>Heavy rain is expected across the region.</p>
		<img src="/img/radar.png" alt="radar">
		<p>Authorities advise caution on the roads.</p>
	</div>
</article>
</body></html>`

func strategySource(baseURL string) domain.Source {
	return domain.Source{
		ID:        "src-1",
		SourceKey: "local-news",
		BaseURL:   baseURL,
		Config: domain.ScraperConfig{
			Strategy: "html",
			Selectors: map[string]string{
				"links":          ".feed a",
				"title":          "h1.headline",
				"author":         ".byline",
				"published_date": "time.published",
				"tags":           ".tags li",
				"content":        ".body",
				"main_image":     "img.hero",
				"images":         "article img",
			},
			Options: map[string]string{
				"article_id_pattern": `/news/article/(\d+)`,
			},
		},
		IsActive: true,
	}
}

func strategyCategory(listURL string) domain.Category {
	return domain.Category{
		ID:       "cat-1",
		SourceID: "src-1",
		Slug:     "news",
		Metadata: map[string]string{"list_url": listURL},
	}
}

func TestDiscoverCollectsMatchingLinks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listPage))
	}))
	defer srv.Close()

	strategy := NewHTMLStrategy(srv.Client())
	source := strategySource(srv.URL)

	candidates, err := strategy.Discover(context.Background(), source, strategyCategory(srv.URL+"/news"))
	if err != nil {
		t.Fatalf("Discover error: %v", err)
	}

	// 101 appears twice and collapses; /about never matches the id pattern.
	if len(candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d: %+v", len(candidates), candidates)
	}

	first := candidates[0]
	if first.SourceArticleID != "101" {
		t.Fatalf("unexpected article id: %s", first.SourceArticleID)
	}
	if first.URL != srv.URL+"/news/article/101" {
		t.Fatalf("relative link not resolved: %s", first.URL)
	}
	if first.Meta["category"] != "news" || first.Meta["title"] != "First story" {
		t.Fatalf("unexpected meta: %+v", first.Meta)
	}

	if candidates[2].URL != "https://elsewhere.example.org/news/article/999" {
		t.Fatalf("absolute link mangled: %s", candidates[2].URL)
	}
}

func TestDiscoverRequiresIDPattern(t *testing.T) {
	t.Parallel()

	strategy := NewHTMLStrategy(nil)
	source := strategySource("https://example.com")
	source.Config.Options = nil

	_, err := strategy.Discover(context.Background(), source, strategyCategory("https://example.com/news"))
	if err == nil {
		t.Fatalf("expected configuration error")
	}
}

func TestExtractMapsSelectors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(articlePage))
	}))
	defer srv.Close()

	strategy := NewHTMLStrategy(srv.Client())
	source := strategySource(srv.URL)

	doc, err := strategy.Extract(context.Background(), srv.URL+"/news/article/101", source)
	if err != nil {
		t.Fatalf("Extract error: %v", err)
	}

	if doc.Title != "Rain expected tonight" {
		t.Fatalf("unexpected title: %q", doc.Title)
	}
	if doc.Author != "A. Reporter" {
		t.Fatalf("unexpected author: %q", doc.Author)
	}
	if doc.SourceArticleID != "101" {
		t.Fatalf("article id not derived from URL: %q", doc.SourceArticleID)
	}
	if doc.PublishedAt == nil || doc.PublishedAt.UTC().Hour() != 18 {
		t.Fatalf("published date not parsed from datetime attr: %+v", doc.PublishedAt)
	}
	if len(doc.Tags) != 2 || doc.Tags[0] != "weather" {
		t.Fatalf("unexpected tags: %+v", doc.Tags)
	}
	if doc.MainImageURL != "/img/hero.jpg" || doc.MainImageCaption != "storm clouds" {
		t.Fatalf("main image not mapped: %q %q", doc.MainImageURL, doc.MainImageCaption)
	}
	if len(doc.Images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(doc.Images))
	}

	wantBlocks := []domain.ContentBlock{
		{Type: domain.BlockHeading, Text: "Forecast"},
		{Type: domain.BlockParagraph, Text: "Heavy rain is expected across the region."},
		{Type: domain.BlockImage, URL: "/img/radar.png"},
		{Type: domain.BlockParagraph, Text: "Authorities advise caution on the roads."},
	}
	if len(doc.Content) != len(wantBlocks) {
		t.Fatalf("expected %d blocks, got %d: %+v", len(wantBlocks), len(doc.Content), doc.Content)
	}
	for i, want := range wantBlocks {
		if doc.Content[i] != want {
			t.Fatalf("block %d: want %+v, got %+v", i, want, doc.Content[i])
		}
	}
}

func TestExtractMissingTitleIsPermanent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>nothing here</p></body></html>`))
	}))
	defer srv.Close()

	strategy := NewHTMLStrategy(srv.Client())

	_, err := strategy.Extract(context.Background(), srv.URL+"/news/article/101", strategySource(srv.URL))
	if err == nil {
		t.Fatalf("expected error for missing title")
	}
	if !domain.IsPermanent(err) {
		t.Fatalf("missing title must be permanent, got %v", err)
	}
}

func TestFetchClassifiesHTTPStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gone":
			w.WriteHeader(http.StatusNotFound)
		case "/busy":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.Write([]byte(articlePage))
		}
	}))
	defer srv.Close()

	strategy := NewHTMLStrategy(srv.Client())
	source := strategySource(srv.URL)

	_, err := strategy.Extract(context.Background(), srv.URL+"/gone", source)
	if !domain.IsPermanent(err) {
		t.Fatalf("404 must be permanent, got %v", err)
	}

	_, err = strategy.Extract(context.Background(), srv.URL+"/busy", source)
	if err == nil {
		t.Fatalf("expected error for 429")
	}
	if domain.IsPermanent(err) {
		t.Fatalf("429 must stay retryable, got %v", err)
	}
}
