package domain

import "time"

// EntryStatus is the state machine position of a queue entry.
type EntryStatus string

const (
	StatusPending    EntryStatus = "pending"
	StatusProcessing EntryStatus = "processing"
	StatusExtracted  EntryStatus = "extracted"
	StatusError      EntryStatus = "error"
)

// QueueEntry tracks one discovered URL through the ingestion state machine.
// Only the worker mutates status, attempt and error fields after creation.
type QueueEntry struct {
	ID                string
	SourceID          string
	SourceArticleID   *string
	URL               string
	Status            EntryStatus
	Meta              map[string]string
	ErrorLog          *string
	AttemptCount      int
	LastProcessedAt   *time.Time
	ResolvedArticleID *string
	ClaimedAt         *time.Time
	ClaimedBy         *string
	CreatedAt         time.Time
	UpdatedAt         time.Time

	SourceKey string
}

// Candidate is a discovered item produced by a discovery strategy,
// not yet persisted.
type Candidate struct {
	URL             string
	SourceArticleID string
	Meta            map[string]string
}
