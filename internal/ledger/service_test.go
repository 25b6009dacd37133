package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"mydraws-credits-go/internal/database"
	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/store"
)

func setupTestLedger(t *testing.T, policy string) (*Service, *database.Service, func()) {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:            ":memory:",
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Hour,
		PingTimeout:     time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	svc := NewService(db, models.LedgerConfig{
		OverdraftPolicy: policy,
		MaxRetries:      3,
		RetryBackoff:    time.Millisecond,
	})
	return svc, db, db.Close
}

func createFundedAccount(t *testing.T, svc *Service, db *database.Service, id string, credits int64) {
	t.Helper()
	if _, err := db.CreateAccount(context.Background(), id, "Test "+id, id+"@example.com"); err != nil {
		t.Fatalf("Failed to create account: %v", err)
	}
	if credits > 0 {
		if _, err := svc.Credit(context.Background(), id, credits, "WELCOME", ""); err != nil {
			t.Fatalf("Failed to fund account: %v", err)
		}
	}
}

func TestDebit_RecordsSpend(t *testing.T) {
	svc, db, cleanup := setupTestLedger(t, "reject")
	defer cleanup()
	ctx := context.Background()
	createFundedAccount(t, svc, db, "acct-1", 5)

	tx, err := svc.Debit(ctx, "acct-1", 1, string(OperationLocal), "")
	if err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	if tx.Amount != -1 || tx.TransactionType != "CREDIT_USE_LOCAL" {
		t.Errorf("Unexpected transaction: %+v", tx)
	}

	balance, _ := svc.Balance(ctx, "acct-1")
	if balance != 4 {
		t.Errorf("Expected balance 4, got %d", balance)
	}
	history, err := svc.History(ctx, "acct-1", 0, 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 || history[0].Amount != -1 {
		t.Errorf("Expected the spend first in a history of 2, got %+v", history)
	}
	if err := svc.Reconcile(ctx, "acct-1"); err != nil {
		t.Errorf("Reconcile failed: %v", err)
	}
}

func TestDebit_RejectPolicyLeavesBalance(t *testing.T) {
	svc, db, cleanup := setupTestLedger(t, "reject")
	defer cleanup()
	ctx := context.Background()
	createFundedAccount(t, svc, db, "acct-1", 2)

	if _, err := svc.Debit(ctx, "acct-1", 3, string(OperationAIGeneration), ""); !errors.Is(err, store.ErrInsufficientCredits) {
		t.Fatalf("Expected ErrInsufficientCredits, got %v", err)
	}
	balance, _ := svc.Balance(ctx, "acct-1")
	if balance != 2 {
		t.Errorf("Expected balance unchanged at 2, got %d", balance)
	}
}

func TestDebit_ClampPolicyStopsAtZero(t *testing.T) {
	svc, db, cleanup := setupTestLedger(t, "clamp")
	defer cleanup()
	ctx := context.Background()
	createFundedAccount(t, svc, db, "acct-1", 2)

	tx, err := svc.Debit(ctx, "acct-1", 3, string(OperationAIGeneration), "")
	if err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	if tx.BalanceAfter != 0 {
		t.Errorf("Expected balance 0, got %d", tx.BalanceAfter)
	}
	if err := svc.Reconcile(ctx, "acct-1"); err != nil {
		t.Errorf("Log no longer sums to balance: %v", err)
	}
}

func TestDebit_IdempotencyKey(t *testing.T) {
	svc, db, cleanup := setupTestLedger(t, "reject")
	defer cleanup()
	ctx := context.Background()
	createFundedAccount(t, svc, db, "acct-1", 5)

	if _, err := svc.Debit(ctx, "acct-1", 3, "AI_GENERATION", "job:1"); err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	if _, err := svc.Debit(ctx, "acct-1", 3, "AI_GENERATION", "job:1"); !errors.Is(err, store.ErrDuplicateTransaction) {
		t.Fatalf("Expected ErrDuplicateTransaction, got %v", err)
	}
	balance, _ := svc.Balance(ctx, "acct-1")
	if balance != 2 {
		t.Errorf("Expected balance 2, got %d", balance)
	}
}

func TestCredit_Idempotent(t *testing.T) {
	svc, db, cleanup := setupTestLedger(t, "reject")
	defer cleanup()
	ctx := context.Background()
	createFundedAccount(t, svc, db, "acct-7", 0)

	result, err := svc.Credit(ctx, "acct-7", 50, "MERCADO_PAGO", "pay_123")
	if err != nil || result != CreditApplied {
		t.Fatalf("Expected applied, got %v, %v", result, err)
	}
	result, err = svc.Credit(ctx, "acct-7", 50, "MERCADO_PAGO", "pay_123")
	if err != nil || result != CreditAlreadyApplied {
		t.Fatalf("Expected already_applied, got %v, %v", result, err)
	}

	history, _ := svc.History(ctx, "acct-7", 10, 0)
	if len(history) != 1 {
		t.Fatalf("Expected exactly one grant, got %d", len(history))
	}
	if history[0].TransactionType != "MERCADO_PAGO_pay_123" {
		t.Errorf("Unexpected transaction type %q", history[0].TransactionType)
	}
	balance, _ := svc.Balance(ctx, "acct-7")
	if balance != 50 {
		t.Errorf("Expected balance 50, got %d", balance)
	}
}

func TestCredit_KeysScopedByReason(t *testing.T) {
	svc, db, cleanup := setupTestLedger(t, "reject")
	defer cleanup()
	ctx := context.Background()
	createFundedAccount(t, svc, db, "alice", 0)
	createFundedAccount(t, svc, db, "bob", 0)

	if result, err := svc.Credit(ctx, "alice", 5, "ADMIN", "123456"); err != nil || result != CreditApplied {
		t.Fatalf("Expected admin grant applied, got %v, %v", result, err)
	}
	result, err := svc.Credit(ctx, "bob", 50, "MERCADO_PAGO", "123456")
	if err != nil || result != CreditApplied {
		t.Fatalf("Expected payment applied despite equal admin key, got %v, %v", result, err)
	}
	if balance, _ := svc.Balance(ctx, "bob"); balance != 50 {
		t.Errorf("Expected bob balance 50, got %d", balance)
	}

	// A debit key equal to a credit key lives in its own scope too.
	if _, err := svc.Debit(ctx, "bob", 3, "AI_GENERATION", "123456"); err != nil {
		t.Fatalf("Expected debit applied, got %v", err)
	}
	if balance, _ := svc.Balance(ctx, "bob"); balance != 47 {
		t.Errorf("Expected bob balance 47, got %d", balance)
	}

	result, err = svc.Credit(ctx, "bob", 50, "MERCADO_PAGO", "123456")
	if err != nil || result != CreditAlreadyApplied {
		t.Fatalf("Expected replayed payment already_applied, got %v, %v", result, err)
	}
}

func TestCredit_InvalidAmount(t *testing.T) {
	svc, _, cleanup := setupTestLedger(t, "reject")
	defer cleanup()

	for _, amount := range []int64{0, -5} {
		if _, err := svc.Credit(context.Background(), "acct-1", amount, "GRANT", ""); !errors.Is(err, store.ErrInvalidAmount) {
			t.Errorf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestAuthorize(t *testing.T) {
	svc, db, cleanup := setupTestLedger(t, "reject")
	defer cleanup()
	ctx := context.Background()
	createFundedAccount(t, svc, db, "empty", 0)
	createFundedAccount(t, svc, db, "rich", 3)

	if _, err := svc.Authorize(ctx, "empty", OperationLocal); !errors.Is(err, store.ErrInsufficientCredits) {
		t.Errorf("Expected ErrInsufficientCredits, got %v", err)
	}
	cost, err := svc.Authorize(ctx, "rich", OperationAIGeneration)
	if err != nil || cost != 3 {
		t.Errorf("Expected cost 3, got %d, %v", cost, err)
	}
	if _, err := svc.Authorize(ctx, "rich", Operation("UPSCALE")); !errors.Is(err, ErrUnknownOperation) {
		t.Errorf("Expected ErrUnknownOperation, got %v", err)
	}
	if _, err := svc.Authorize(ctx, "ghost", OperationLocal); !errors.Is(err, store.ErrAccountNotFound) {
		t.Errorf("Expected ErrAccountNotFound, got %v", err)
	}
	if _, err := svc.HasSufficientCredits(ctx, "rich", 0); !errors.Is(err, store.ErrInvalidAmount) {
		t.Errorf("Expected ErrInvalidAmount, got %v", err)
	}
}

func TestPrice(t *testing.T) {
	tests := []struct {
		op   Operation
		want int64
	}{
		{OperationLocal, 1},
		{OperationAIGeneration, 3},
	}
	for _, tt := range tests {
		got, err := Price(tt.op)
		if err != nil || got != tt.want {
			t.Errorf("Price(%s) = %d, %v; want %d", tt.op, got, err, tt.want)
		}
	}
}

// conflictingLedger fails with ErrConcurrentModification a fixed number of times.
type conflictingLedger struct {
	store.CreditLedger
	failures int
	calls    int
}

func (c *conflictingLedger) ApplyDebit(_ context.Context, params store.DebitParams) (*models.CreditTransaction, error) {
	c.calls++
	if c.calls <= c.failures {
		return nil, store.ErrConcurrentModification
	}
	return &models.CreditTransaction{AccountId: params.AccountId, Amount: -params.Amount}, nil
}

func TestDebit_RetriesConcurrentModification(t *testing.T) {
	fake := &conflictingLedger{failures: 2}
	svc := NewService(fake, models.LedgerConfig{MaxRetries: 3, RetryBackoff: time.Millisecond})

	if _, err := svc.Debit(context.Background(), "acct-1", 1, "LOCAL", ""); err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if fake.calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", fake.calls)
	}
}

func TestDebit_GivesUpAfterMaxRetries(t *testing.T) {
	fake := &conflictingLedger{failures: 100}
	svc := NewService(fake, models.LedgerConfig{MaxRetries: 3, RetryBackoff: time.Millisecond})

	_, err := svc.Debit(context.Background(), "acct-1", 1, "LOCAL", "")
	if !errors.Is(err, ErrLedgerBusy) {
		t.Fatalf("Expected ErrLedgerBusy, got %v", err)
	}
	if errors.Is(err, store.ErrConcurrentModification) {
		t.Error("Exhausted retries should surface a generic failure")
	}
	if fake.calls != 4 {
		t.Errorf("Expected 4 attempts, got %d", fake.calls)
	}
}

func TestNewService_DefaultsToReject(t *testing.T) {
	svc := NewService(&conflictingLedger{}, models.LedgerConfig{OverdraftPolicy: "bogus"})
	if svc.Policy() != store.OverdraftReject {
		t.Errorf("Expected reject policy, got %s", svc.Policy())
	}
}
