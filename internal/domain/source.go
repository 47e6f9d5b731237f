package domain

import "time"

// Source identifies one external news origin together with its opaque
// extraction configuration. The pipeline never interprets the config; it is
// handed unchanged to the strategy resolved via ScraperConfig.Strategy.
type Source struct {
	ID        string
	SourceKey string
	Name      string
	BaseURL   string
	Config    ScraperConfig
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScraperConfig carries the strategy name plus named selector rules.
// Selectors are data owned by operators, not pipeline logic.
type ScraperConfig struct {
	Strategy  string            `json:"strategy" yaml:"strategy"`
	Selectors map[string]string `json:"selectors" yaml:"selectors"`
	Options   map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

// Category is a schedulable subdivision of a Source.
type Category struct {
	ID         string
	SourceID   string
	Slug       string
	Name       string
	Priority   int
	IsEnabled  bool
	LastRunAt  *time.Time
	Metadata   map[string]string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Source     *Source
}

// ListURL returns the category's discovery endpoint if one is present in
// metadata, falling back to the owning source's base URL.
func (c Category) ListURL() string {
	if url, ok := c.Metadata["list_url"]; ok && url != "" {
		return url
	}
	if c.Source != nil {
		return c.Source.BaseURL
	}
	return ""
}
