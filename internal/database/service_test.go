package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/store"
)

func testConfig(path string, conns int) models.DatabaseConfig {
	return models.DatabaseConfig{
		Path:            path,
		MaxOpenConns:    conns,
		MaxIdleConns:    conns,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Hour,
		PingTimeout:     time.Second,
	}
}

// setupTestDb opens an in-memory database. A single connection keeps every
// query on the same in-memory instance.
func setupTestDb(t *testing.T) (*Service, func()) {
	t.Helper()
	service, err := NewService(context.Background(), testConfig(":memory:", 1))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	return service, service.Close
}

func createTestAccount(t *testing.T, service *Service, id string) *models.Account {
	t.Helper()
	account, err := service.CreateAccount(context.Background(), id, "Test "+id, id+"@example.com")
	if err != nil {
		t.Fatalf("Failed to create account %s: %v", id, err)
	}
	return account
}

func TestNewService_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  models.DatabaseConfig
	}{
		{"empty path", testConfig("", 1)},
		{"zero open conns", testConfig(":memory:", 0)},
		{"zero ping timeout", models.DatabaseConfig{Path: ":memory:", MaxOpenConns: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewService(context.Background(), tt.cfg); err == nil {
				t.Fatal("Expected configuration error, got nil")
			}
		})
	}
}

func TestNewService_DummyAccounts(t *testing.T) {
	cfg := testConfig(":memory:", 1)
	cfg.CreateDummyAccounts = true
	service, err := NewService(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	defer service.Close()

	accounts, err := service.GetAccounts(context.Background())
	if err != nil {
		t.Fatalf("GetAccounts failed: %v", err)
	}
	if len(accounts) != 3 {
		t.Fatalf("Expected 3 dummy accounts, got %d", len(accounts))
	}
	for _, account := range accounts {
		if account.CreditAmount != 0 {
			t.Errorf("Expected dummy account %s to start at 0, got %d", account.Email, account.CreditAmount)
		}
	}
}

func TestDataSourceName(t *testing.T) {
	if got := dataSourceName("credits.db"); got[:len("credits.db?")] != "credits.db?" {
		t.Errorf("Expected params after '?', got %s", got)
	}
	if got := dataSourceName("file:credits.db?mode=rwc"); got[:len("file:credits.db?mode=rwc&")] != "file:credits.db?mode=rwc&" {
		t.Errorf("Expected params joined with '&', got %s", got)
	}
}

func TestCreateAccount(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	account, err := service.CreateAccount(ctx, "", "Ada", " Ada@Example.com ")
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if account.Id == "" {
		t.Error("Expected generated account id")
	}
	if account.Email != "ada@example.com" {
		t.Errorf("Expected normalised email, got %q", account.Email)
	}
	if account.CreditAmount != 0 {
		t.Errorf("Expected zero balance, got %d", account.CreditAmount)
	}

	byEmail, err := service.GetAccountByEmail(ctx, "ADA@example.com")
	if err != nil {
		t.Fatalf("GetAccountByEmail failed: %v", err)
	}
	if byEmail.Id != account.Id {
		t.Errorf("Expected %s, got %s", account.Id, byEmail.Id)
	}

	_, err = service.CreateAccount(ctx, "", "Other", "ada@example.com")
	if !errors.Is(err, store.ErrAccountExists) {
		t.Errorf("Expected ErrAccountExists, got %v", err)
	}

	if _, err := service.GetAccount(ctx, "missing"); !errors.Is(err, store.ErrAccountNotFound) {
		t.Errorf("Expected ErrAccountNotFound, got %v", err)
	}
}
