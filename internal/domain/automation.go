package domain

import "time"

// RunStatus is the lifecycle state of an automation run record.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// AutomationRun is one audited execution of the scheduler or worker for a
// category. Append-mostly: status leaves "running" exactly once.
type AutomationRun struct {
	ID                string
	RunID             string
	CategorySlug      string
	SourceID          *string
	Status            RunStatus
	ArticlesProcessed int
	Errors            []string
	Notes             string
	StartedAt         time.Time
	CompletedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
