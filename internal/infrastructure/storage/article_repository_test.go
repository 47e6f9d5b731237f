package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"NewsCurator/internal/domain"
)

func sampleArticle() domain.Article {
	return domain.Article{
		SourceID:        "src-1",
		SourceArticleID: "42",
		SourceURL:       "https://example.com/a",
		Title:           "Sample",
		Content: []domain.ContentBlock{
			{Type: domain.BlockParagraph, Text: "Body"},
		},
		ScrapeStatus: domain.ScrapeSuccess,
		Images: []domain.ArticleImage{
			{ImageURL: "https://img.example.com/1.jpg", DisplayOrder: 0, IsMainImage: true},
			{ImageURL: "https://img.example.com/2.jpg", DisplayOrder: 1},
		},
	}
}

func TestUpsertCreatesArticleAndReplacesImages(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewArticleRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO articles").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created"}).AddRow("article-1", true))
	mock.ExpectExec("DELETE FROM article_images").
		WithArgs("article-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO article_images").
		WithArgs(
			"article-1", "https://img.example.com/1.jpg", "", 0, true,
			"article-1", "https://img.example.com/2.jpg", "", 1, false,
		).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	id, created, err := repo.Upsert(context.Background(), sampleArticle())
	if err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	if id != "article-1" {
		t.Fatalf("unexpected id: %s", id)
	}
	if !created {
		t.Fatalf("xmax = 0 must report created")
	}

	expectAllMet(t, mock)
}

func TestUpsertExistingArticle(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewArticleRepository(db)

	article := sampleArticle()
	article.Images = nil

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO articles").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created"}).AddRow("article-1", false))
	// Images are still cleared even when the new extraction carries none.
	mock.ExpectExec("DELETE FROM article_images").
		WithArgs("article-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	id, created, err := repo.Upsert(context.Background(), article)
	if err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	if id != "article-1" || created {
		t.Fatalf("conflict path should report existing, got id=%s created=%v", id, created)
	}

	expectAllMet(t, mock)
}

func TestUpsertRollsBackOnImageFailure(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewArticleRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO articles").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created"}).AddRow("article-1", true))
	mock.ExpectExec("DELETE FROM article_images").
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, _, err := repo.Upsert(context.Background(), sampleArticle())
	if err == nil {
		t.Fatalf("expected error from image replacement")
	}

	expectAllMet(t, mock)
}

func TestGetBySourceArticleIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewArticleRepository(db)

	mock.ExpectQuery("SELECT \\* FROM articles").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetBySourceArticleID(context.Background(), "src-1", "42")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	expectAllMet(t, mock)
}
