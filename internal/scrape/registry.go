package scrape

import (
	"context"
	"fmt"

	"NewsCurator/internal/domain"
)

// Strategy bundles discovery and extraction for one family of sources. A
// strategy is pure mechanism; which selectors and URLs it applies come from
// the source's opaque configuration.
type Strategy interface {
	Name() string
	Discover(ctx context.Context, source domain.Source, category domain.Category) ([]domain.Candidate, error)
	Extract(ctx context.Context, url string, source domain.Source) (*domain.ExtractedDocument, error)
}

// Registry keeps a mapping from strategy names to their implementations.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: map[string]Strategy{}}
}

// Register adds or replaces a strategy implementation.
func (r *Registry) Register(s Strategy) {
	if r.strategies == nil {
		r.strategies = map[string]Strategy{}
	}
	r.strategies[s.Name()] = s
}

// Resolve returns a strategy by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Strategy, error) {
	if s, ok := r.strategies[name]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("strategy %s is not registered", name)
}

// ResolveForSource picks the strategy named in the source's configuration.
func (r *Registry) ResolveForSource(source domain.Source) (Strategy, error) {
	if source.Config.Strategy == "" {
		return nil, fmt.Errorf("source %s has no strategy configured", source.SourceKey)
	}
	s, err := r.Resolve(source.Config.Strategy)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", source.SourceKey, err)
	}
	return s, nil
}
