package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"mydraws-credits-go/internal/database"
	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/store"
)

func setupTestAuthorizer(t *testing.T) (*Authorizer, *database.Service, func()) {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		PingTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	for _, id := range []string{"alice", "bob"} {
		if _, err := db.CreateAccount(context.Background(), id, id, id+"@example.com"); err != nil {
			t.Fatalf("Failed to create account: %v", err)
		}
	}
	return NewAuthorizer(db), db, db.Close
}

func TestResource(t *testing.T) {
	auth, db, cleanup := setupTestAuthorizer(t)
	defer cleanup()
	ctx := context.Background()

	res, err := db.CreateResource(ctx, models.Resource{AccountId: "alice", Title: "cat", BlobKey: "alice/cat.jpg"})
	if err != nil {
		t.Fatalf("CreateResource failed: %v", err)
	}

	got, err := auth.Resource(ctx, "alice", res.Id)
	if err != nil || got.Id != res.Id {
		t.Fatalf("Owner should be authorized, got %v", err)
	}
	if _, err := auth.Resource(ctx, "bob", res.Id); !errors.Is(err, store.ErrNotOwner) {
		t.Errorf("Expected ErrNotOwner, got %v", err)
	}
	if _, err := auth.Resource(ctx, "alice", "missing"); !errors.Is(err, store.ErrResourceNotFound) {
		t.Errorf("Expected ErrResourceNotFound, got %v", err)
	}
}

func TestBook(t *testing.T) {
	auth, db, cleanup := setupTestAuthorizer(t)
	defer cleanup()
	ctx := context.Background()

	book, err := db.CreateBook(ctx, models.Book{AccountId: "bob", Title: "Sketches"})
	if err != nil {
		t.Fatalf("CreateBook failed: %v", err)
	}
	if _, err := auth.Book(ctx, "bob", book.Id); err != nil {
		t.Errorf("Owner should be authorized, got %v", err)
	}
	if _, err := auth.Book(ctx, "alice", book.Id); !errors.Is(err, store.ErrNotOwner) {
		t.Errorf("Expected ErrNotOwner, got %v", err)
	}
	if _, err := auth.Book(ctx, "bob", "missing"); !errors.Is(err, store.ErrBookNotFound) {
		t.Errorf("Expected ErrBookNotFound, got %v", err)
	}
}
