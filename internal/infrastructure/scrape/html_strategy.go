package scrape

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"NewsCurator/internal/domain"
	"NewsCurator/internal/scrape"
)

const userAgent = "NewsCurator/1.0"

// Selector keys the generic strategy understands. Everything a source needs
// is data in its scraper config; no per-source code exists in the pipeline.
const (
	selLinks         = "links"
	selTitle         = "title"
	selAuthor        = "author"
	selCategory      = "category"
	selSubCategory   = "sub_category"
	selPublishedDate = "published_date"
	selUpdatedDate   = "updated_date"
	selTags          = "tags"
	selContent       = "content"
	selImages        = "images"
	selMainImage     = "main_image"
)

// Option keys consumed from the source config.
const (
	optArticleIDPattern = "article_id_pattern"
	optTimeLayout       = "time_layout"
)

const defaultTimeLayout = time.RFC3339

// HTMLStrategy discovers and extracts articles from plain HTML pages, driven
// entirely by the per-source selector configuration.
type HTMLStrategy struct {
	client *http.Client
}

var _ scrape.Strategy = (*HTMLStrategy)(nil)

// NewHTMLStrategy wires an HTTP client; a nil client gets a sane default.
func NewHTMLStrategy(client *http.Client) *HTMLStrategy {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &HTMLStrategy{client: client}
}

// Name identifies the strategy inside the registry.
func (h *HTMLStrategy) Name() string {
	return "html"
}

// Discover loads the category's list page and collects article links whose
// URL matches the source's article id pattern. Duplicate ids within one page
// are collapsed; the ingestion queue absorbs the rest.
func (h *HTMLStrategy) Discover(ctx context.Context, source domain.Source, category domain.Category) ([]domain.Candidate, error) {
	listURL := category.ListURL()
	if listURL == "" {
		return nil, fmt.Errorf("category %s has no list url", category.Slug)
	}

	pattern := source.Config.Options[optArticleIDPattern]
	if pattern == "" {
		return nil, fmt.Errorf("source %s has no %s option", source.SourceKey, optArticleIDPattern)
	}
	idExpr, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("source %s: bad %s: %w", source.SourceKey, optArticleIDPattern, err)
	}

	doc, err := h.fetchDocument(ctx, listURL)
	if err != nil {
		return nil, fmt.Errorf("category %s: %w", category.Slug, err)
	}

	linkSelector := source.Config.Selectors[selLinks]
	if linkSelector == "" {
		linkSelector = "a"
	}

	base, err := url.Parse(listURL)
	if err != nil {
		return nil, fmt.Errorf("invalid list url %s: %w", listURL, err)
	}

	seen := map[string]struct{}{}
	var candidates []domain.Candidate

	doc.Find(linkSelector).Each(func(_ int, link *goquery.Selection) {
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return
		}

		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		absolute := resolved.String()

		match := idExpr.FindStringSubmatch(absolute)
		if len(match) < 2 || match[1] == "" {
			return
		}
		articleID := match[1]

		if _, ok := seen[articleID]; ok {
			return
		}
		seen[articleID] = struct{}{}

		meta := map[string]string{"category": category.Slug}
		if title := strings.TrimSpace(link.Text()); title != "" {
			meta["title"] = title
		}

		candidates = append(candidates, domain.Candidate{
			URL:             absolute,
			SourceArticleID: articleID,
			Meta:            meta,
		})
	})

	return candidates, nil
}

// Extract fetches one article page and maps configured selectors onto a
// structured document.
func (h *HTMLStrategy) Extract(ctx context.Context, pageURL string, source domain.Source) (*domain.ExtractedDocument, error) {
	doc, err := h.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	selectors := source.Config.Selectors
	extracted := &domain.ExtractedDocument{
		Title:       text(doc, selectors[selTitle]),
		Author:      text(doc, selectors[selAuthor]),
		Category:    text(doc, selectors[selCategory]),
		SubCategory: text(doc, selectors[selSubCategory]),
	}

	if extracted.Title == "" {
		return nil, domain.Permanent(fmt.Errorf("no title at %s", pageURL))
	}

	if pattern := source.Config.Options[optArticleIDPattern]; pattern != "" {
		if idExpr, err := regexp.Compile(pattern); err == nil {
			if match := idExpr.FindStringSubmatch(pageURL); len(match) >= 2 {
				extracted.SourceArticleID = match[1]
			}
		}
	}

	layout := source.Config.Options[optTimeLayout]
	if layout == "" {
		layout = defaultTimeLayout
	}
	extracted.PublishedAt = parseTime(doc, selectors[selPublishedDate], layout)
	extracted.UpdatedAt = parseTime(doc, selectors[selUpdatedDate], layout)

	if sel := selectors[selTags]; sel != "" {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if tag := strings.TrimSpace(s.Text()); tag != "" {
				extracted.Tags = append(extracted.Tags, tag)
			}
		})
	}

	if sel := selectors[selContent]; sel != "" {
		extracted.Content = contentBlocks(doc, sel)
	}

	if sel := selectors[selMainImage]; sel != "" {
		img := doc.Find(sel).First()
		if src, ok := img.Attr("src"); ok {
			extracted.MainImageURL = src
			extracted.MainImageCaption = strings.TrimSpace(img.AttrOr("alt", ""))
		}
	}

	if sel := selectors[selImages]; sel != "" {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			src, ok := s.Attr("src")
			if !ok || src == "" {
				return
			}
			extracted.Images = append(extracted.Images, domain.ExtractedImage{
				URL:     src,
				Caption: strings.TrimSpace(s.AttrOr("alt", "")),
			})
		})
	}

	return extracted, nil
}

func (h *HTMLStrategy) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	// Gone content is not worth retrying; everything else non-200 is treated
	// as transient (rate limits, upstream hiccups).
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, domain.Permanent(fmt.Errorf("%s returned %s", pageURL, resp.Status))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %s", pageURL, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, nil
}

func text(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(doc.Find(selector).First().Text())
}

func parseTime(doc *goquery.Document, selector, layout string) *time.Time {
	if selector == "" {
		return nil
	}

	node := doc.Find(selector).First()
	raw := strings.TrimSpace(node.AttrOr("datetime", ""))
	if raw == "" {
		raw = strings.TrimSpace(node.Text())
	}
	if raw == "" {
		return nil
	}

	parsed, err := time.Parse(layout, raw)
	if err != nil {
		return nil
	}
	return &parsed
}

// contentBlocks walks the content container in document order and emits typed
// blocks for headings, paragraphs and inline images.
func contentBlocks(doc *goquery.Document, selector string) []domain.ContentBlock {
	var blocks []domain.ContentBlock

	doc.Find(selector).Find("h1, h2, h3, h4, p, img").Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "img" {
			if src, ok := s.Attr("src"); ok && src != "" {
				blocks = append(blocks, domain.ContentBlock{Type: domain.BlockImage, URL: src})
			}
			return
		}

		content := strings.TrimSpace(s.Text())
		if content == "" {
			return
		}

		blockType := domain.BlockParagraph
		if strings.HasPrefix(goquery.NodeName(s), "h") {
			blockType = domain.BlockHeading
		}
		blocks = append(blocks, domain.ContentBlock{Type: blockType, Text: content})
	})

	return blocks
}
