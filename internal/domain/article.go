package domain

import "time"

// BlockType enumerates structured content block kinds.
type BlockType string

const (
	BlockHeading   BlockType = "heading"
	BlockParagraph BlockType = "paragraph"
	BlockImage     BlockType = "image"
)

// ContentBlock is one element of an article's ordered body.
type ContentBlock struct {
	Type BlockType `json:"type"`
	Text string    `json:"text,omitempty"`
	URL  string    `json:"url,omitempty"`
}

// ScrapeStatus reflects the outcome of the last extraction of an article.
type ScrapeStatus string

const (
	ScrapeSuccess ScrapeStatus = "success"
	ScrapeFailed  ScrapeStatus = "failed"
)

// Article is the normalized result of a successful extraction. One canonical
// row exists per (SourceID, SourceArticleID); re-extraction overwrites fields
// instead of duplicating.
type Article struct {
	ID               string
	SourceID         string
	SourceArticleID  string
	SourceURL        string
	Title            string
	Author           string
	Category         string
	SubCategory      string
	Tags             []string
	PublishedAt      *time.Time
	UpdatedAtSource  *time.Time
	Content          []ContentBlock
	Excerpt          string
	MainImageURL     string
	MainImageCaption string
	Metadata         map[string]string
	ScrapeStatus     ScrapeStatus
	ErrorLog         *string
	ScrapedAt        time.Time
	LastUpdatedAt    time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time

	Images []ArticleImage
}

// ArticleImage is exclusively owned by one article and replaced wholesale on
// re-extraction so display order stays consistent with the latest fetch.
type ArticleImage struct {
	ID           string
	ArticleID    string
	ImageURL     string
	Caption      string
	DisplayOrder int
	IsMainImage  bool
}

// ExtractedDocument is what an extraction strategy returns for one URL.
type ExtractedDocument struct {
	SourceArticleID  string
	Title            string
	Author           string
	Category         string
	SubCategory      string
	Tags             []string
	PublishedAt      *time.Time
	UpdatedAt        *time.Time
	Content          []ContentBlock
	Excerpt          string
	MainImageURL     string
	MainImageCaption string
	Images           []ExtractedImage
	Metadata         map[string]string
}

// ExtractedImage is an image reference reported by an extraction strategy.
type ExtractedImage struct {
	URL     string
	Caption string
}
