package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"NewsCurator/internal/config"
	"NewsCurator/internal/domain"
	"NewsCurator/internal/ports"
	"NewsCurator/internal/scrape"
)

// DiscoveryDeps wires the discovery pass with its collaborators.
type DiscoveryDeps struct {
	Registry   *scrape.Registry
	Categories ports.CategoryStore
	Queue      ports.Queue
	History    ports.RunHistory
	Notifier   ports.Notifier
	Logger     *slog.Logger

	Order         string
	LastRunPolicy string
	Budget        int
}

// Discovery runs scheduler passes: pick categories, discover candidate URLs,
// feed the ingestion queue, and leave an audit trail.
type Discovery struct {
	registry   *scrape.Registry
	categories ports.CategoryStore
	queue      ports.Queue
	history    ports.RunHistory
	notifier   ports.Notifier
	logger     *slog.Logger

	order         string
	lastRunPolicy string
	budget        int
}

// NewDiscovery constructs the scheduling use case.
func NewDiscovery(deps DiscoveryDeps) *Discovery {
	budget := deps.Budget
	if budget <= 0 {
		budget = 1
	}
	return &Discovery{
		registry:      deps.Registry,
		categories:    deps.Categories,
		queue:         deps.Queue,
		history:       deps.History,
		notifier:      deps.Notifier,
		logger:        deps.Logger,
		order:         deps.Order,
		lastRunPolicy: deps.LastRunPolicy,
		budget:        budget,
	}
}

// CategoryOutcome summarizes discovery for one category.
type CategoryOutcome struct {
	CategorySlug    string   `json:"categorySlug"`
	SourceKey       string   `json:"sourceKey"`
	RunID           string   `json:"runId,omitempty"`
	DiscoveredCount int      `json:"discoveredCount"`
	SavedCount      int      `json:"savedCount"`
	DuplicateCount  int      `json:"duplicateCount"`
	Errors          []string `json:"errors,omitempty"`
}

// PassSummary aggregates one scheduler tick across selected categories.
type PassSummary struct {
	Selected   int               `json:"selected"`
	Categories []CategoryOutcome `json:"categories"`
}

// SelectCategories orders a category snapshot by the configured policy and
// returns the top-budget slice. Pure: repeated calls over the same snapshot
// and clock yield the same selection.
//
// priority_first: ascending priority value (lower = more urgent), ties broken
// by oldest last_run_at with never-run categories first.
// staleness_first: oldest last_run_at first (nulls first), ties by priority.
func SelectCategories(categories []domain.Category, order string, budget int) []domain.Category {
	selected := make([]domain.Category, len(categories))
	copy(selected, categories)

	staleBefore := func(a, b domain.Category) bool {
		if a.LastRunAt == nil {
			return b.LastRunAt != nil
		}
		if b.LastRunAt == nil {
			return false
		}
		return a.LastRunAt.Before(*b.LastRunAt)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		a, b := selected[i], selected[j]
		if order == config.OrderStalenessFirst {
			if staleBefore(a, b) {
				return true
			}
			if staleBefore(b, a) {
				return false
			}
			return a.Priority < b.Priority
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return staleBefore(a, b)
	})

	if budget > 0 && len(selected) > budget {
		selected = selected[:budget]
	}
	return selected
}

// RunPass executes one scheduler tick at the provided clock reading. A
// failing category is recorded and skipped; it never aborts the pass.
func (d *Discovery) RunPass(ctx context.Context, now time.Time) (PassSummary, error) {
	snapshot, err := d.categories.ListEnabled(ctx)
	if err != nil {
		return PassSummary{}, fmt.Errorf("list enabled categories: %w", err)
	}

	selected := SelectCategories(snapshot, d.order, d.budget)
	d.debug("scheduler pass", "candidates", len(snapshot), "selected", len(selected))

	summary := PassSummary{Selected: len(selected)}
	for _, category := range selected {
		outcome := d.runCategory(ctx, category, now)
		summary.Categories = append(summary.Categories, outcome)
	}

	return summary, nil
}

// RunForSource executes discovery immediately for one source's next due
// category (the bulk-save path).
func (d *Discovery) RunForSource(ctx context.Context, source domain.Source, now time.Time) (CategoryOutcome, error) {
	snapshot, err := d.categories.ListEnabledForSource(ctx, source.ID)
	if err != nil {
		return CategoryOutcome{}, fmt.Errorf("list categories for %s: %w", source.SourceKey, err)
	}
	if len(snapshot) == 0 {
		return CategoryOutcome{}, fmt.Errorf("source %s: %w", source.SourceKey, domain.ErrNotFound)
	}

	selected := SelectCategories(snapshot, d.order, 1)
	return d.runCategory(ctx, selected[0], now), nil
}

func (d *Discovery) runCategory(ctx context.Context, category domain.Category, now time.Time) CategoryOutcome {
	outcome := CategoryOutcome{CategorySlug: category.Slug}
	source := category.Source
	if source == nil {
		outcome.Errors = append(outcome.Errors, "category has no source attached")
		return outcome
	}
	outcome.SourceKey = source.SourceKey

	runID, err := d.history.StartRun(ctx, category.Slug, &category.SourceID)
	if err != nil {
		// History is observability; discovery still proceeds without it.
		d.warn("start run failed", "category", category.Slug, "error", err)
	}
	outcome.RunID = runID

	strategy, err := d.registry.ResolveForSource(*source)
	if err != nil {
		outcome.Errors = append(outcome.Errors, err.Error())
		d.finishCategory(ctx, category, outcome, now, false)
		return outcome
	}

	candidates, err := strategy.Discover(ctx, *source, category)
	if err != nil {
		outcome.Errors = append(outcome.Errors, fmt.Sprintf("discover: %v", err))
		d.finishCategory(ctx, category, outcome, now, false)
		return outcome
	}
	outcome.DiscoveredCount = len(candidates)

	for _, cand := range candidates {
		result, err := d.queue.Enqueue(ctx, source.ID, cand)
		if err != nil {
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("enqueue %s: %v", cand.URL, err))
			continue
		}
		if result.Duplicate {
			outcome.DuplicateCount++
		} else {
			outcome.SavedCount++
		}
	}

	d.debug("category discovered",
		"category", category.Slug,
		"discovered", outcome.DiscoveredCount,
		"saved", outcome.SavedCount,
		"duplicates", outcome.DuplicateCount,
	)

	d.finishCategory(ctx, category, outcome, now, true)
	return outcome
}

// finishCategory stamps last_run_at per the configured policy and closes the
// run record. The always policy guarantees forward progress: a persistently
// failing category cannot starve the rest of the schedule.
func (d *Discovery) finishCategory(ctx context.Context, category domain.Category, outcome CategoryOutcome, now time.Time, discovered bool) {
	if d.lastRunPolicy != config.LastRunOnSuccess || discovered {
		if err := d.categories.UpdateLastRun(ctx, category.ID, now); err != nil {
			d.warn("update last run failed", "category", category.Slug, "error", err)
		}
	}

	if outcome.RunID == "" {
		return
	}

	notes := fmt.Sprintf("discovered=%d saved=%d duplicates=%d",
		outcome.DiscoveredCount, outcome.SavedCount, outcome.DuplicateCount)
	if err := d.history.CompleteRun(ctx, outcome.RunID, outcome.SavedCount, outcome.Errors, notes); err != nil {
		d.warn("complete run failed", "run_id", outcome.RunID, "error", err)
		return
	}

	if d.notifier != nil && outcome.SavedCount == 0 && len(outcome.Errors) > 0 {
		run := domain.AutomationRun{
			RunID:        outcome.RunID,
			CategorySlug: category.Slug,
			Status:       domain.RunFailed,
			Errors:       outcome.Errors,
		}
		if err := d.notifier.NotifyRunFailed(ctx, run); err != nil {
			d.warn("notify run failed", "run_id", outcome.RunID, "error", err)
		}
	}
}

func (d *Discovery) debug(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Debug(msg, args...)
	}
}

func (d *Discovery) warn(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, args...)
	}
}
