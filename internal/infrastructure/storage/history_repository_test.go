package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"NewsCurator/internal/domain"
)

func TestStartRunInsertsRunningRecord(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewHistoryRepository(db)

	sourceID := "src-1"

	mock.ExpectExec("INSERT INTO automation_history").
		WithArgs(sqlmock.AnyArg(), "news", "src-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	runID, err := repo.StartRun(context.Background(), "news", &sourceID)
	if err != nil {
		t.Fatalf("StartRun error: %v", err)
	}
	if _, err := uuid.Parse(runID); err != nil {
		t.Fatalf("run id should be a UUID, got %q: %v", runID, err)
	}

	expectAllMet(t, mock)
}

func TestCompleteRunComputesStatus(t *testing.T) {
	cases := []struct {
		name       string
		processed  int
		errs       []string
		wantStatus string
	}{
		{"all saved", 5, nil, "completed"},
		{"partial success", 2, []string{"one bad URL"}, "completed"},
		{"nothing but errors", 0, []string{"selector matched nothing"}, "failed"},
		{"empty pass", 0, nil, "completed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewHistoryRepository(db)

			mock.ExpectExec("UPDATE automation_history").
				WithArgs(tc.wantStatus, tc.processed, pq.Array(tc.errs), sqlmock.AnyArg(), "run-1").
				WillReturnResult(sqlmock.NewResult(0, 1))

			if err := repo.CompleteRun(context.Background(), "run-1", tc.processed, tc.errs, "notes"); err != nil {
				t.Fatalf("CompleteRun error: %v", err)
			}

			expectAllMet(t, mock)
		})
	}
}

func TestCompleteRunRequiresRunningRecord(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewHistoryRepository(db)

	// Completing twice matches nothing the second time.
	mock.ExpectExec("UPDATE automation_history").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.CompleteRun(context.Background(), "run-1", 3, nil, "")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	expectAllMet(t, mock)
}

func TestRecentRunsMapsRows(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewHistoryRepository(db)

	started := time.Now().Add(-time.Minute)
	completed := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "run_id", "category_slug", "source_id", "status",
		"articles_processed", "errors", "notes", "started_at", "completed_at",
		"created_at", "updated_at",
	}).AddRow(
		"h1", "run-1", "news", "src-1", "completed",
		3, "{}", "discovered=3 saved=3 duplicates=0", started, completed,
		started, completed,
	)

	mock.ExpectQuery("SELECT \\* FROM automation_history").
		WillReturnRows(rows)

	runs, err := repo.RecentRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentRuns error: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}

	run := runs[0]
	if run.Status != domain.RunCompleted || run.ArticlesProcessed != 3 {
		t.Fatalf("unexpected run: %+v", run)
	}
	if run.SourceID == nil || *run.SourceID != "src-1" {
		t.Fatalf("source id not mapped: %+v", run.SourceID)
	}
	if run.CompletedAt == nil {
		t.Fatalf("completed_at not mapped")
	}

	expectAllMet(t, mock)
}
