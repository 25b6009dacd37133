package store

import (
	"context"
	"errors"
	"time"

	"mydraws-credits-go/internal/models"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrAccountNotFound        = errors.New("account not found")
	ErrAccountExists          = errors.New("account already exists")
	ErrInsufficientCredits    = errors.New("insufficient credits")
	ErrInvalidAmount          = errors.New("amount must be a positive integer")
	ErrBalanceMismatch        = errors.New("balance does not match transaction log")
	ErrResourceNotFound       = errors.New("resource not found")
	ErrResourceExists         = errors.New("resource already exists")
	ErrBookNotFound           = errors.New("book not found")
	ErrNotOwner               = errors.New("entity belongs to another account")
	ErrJobNotFound            = errors.New("job not found")
	ErrJobStateConflict       = errors.New("job is not in a state that allows this transition")
	ErrHandleNotFound         = errors.New("job handle not found")
)

// OverdraftPolicy decides what a debit larger than the balance does.
type OverdraftPolicy string

const (
	// OverdraftReject fails the debit with ErrInsufficientCredits and writes nothing.
	OverdraftReject OverdraftPolicy = "reject"
	// OverdraftClamp removes whatever is left and records the amount actually removed.
	// The SQL backends record a 0-amount row for an empty account; Formance posts nothing.
	OverdraftClamp OverdraftPolicy = "clamp"
)

// CreditParams contains the parameters for granting credits.
// A non-empty IdempotencyKey makes the grant apply at most once.
type CreditParams struct {
	AccountId       string
	Amount          int64
	TransactionType string
	IdempotencyKey  string
	Reference       string
}

// DebitParams contains the parameters for spending credits.
type DebitParams struct {
	AccountId       string
	Amount          int64
	TransactionType string
	IdempotencyKey  string
	Reference       string
	Policy          OverdraftPolicy
}

// AccountStore manages credit-holding accounts.
type AccountStore interface {
	CreateAccount(ctx context.Context, accountId, name, email string) (*models.Account, error)
	GetAccount(ctx context.Context, accountId string) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	GetAccounts(ctx context.Context) ([]models.Account, error)
}

// CreditLedger is the balance + append-only log pair. Every balance change
// goes through ApplyCredit or ApplyDebit.
type CreditLedger interface {
	ApplyCredit(ctx context.Context, params CreditParams) (*models.CreditTransaction, error)
	ApplyDebit(ctx context.Context, params DebitParams) (*models.CreditTransaction, error)
	GetBalance(ctx context.Context, accountId string) (int64, error)
	GetTransactionHistory(ctx context.Context, accountId string, limit, offset int) ([]models.CreditTransaction, error)
	ReconcileBalance(ctx context.Context, accountId string) error
}

// ResourceStore manages images and the books grouping them.
type ResourceStore interface {
	CreateResource(ctx context.Context, resource models.Resource) (*models.Resource, error)
	GetResource(ctx context.Context, resourceId string) (*models.Resource, error)
	ListResources(ctx context.Context, accountId, bookId string) ([]models.Resource, error)
	DeleteResource(ctx context.Context, resourceId string) error
	AssignBook(ctx context.Context, resourceId, bookId string) error

	CreateBook(ctx context.Context, book models.Book) (*models.Book, error)
	GetBook(ctx context.Context, bookId string) (*models.Book, error)
	ListBooks(ctx context.Context, accountId string) ([]models.Book, error)
	DeleteBook(ctx context.Context, bookId string) error
}

// JobQueue persists background jobs for the worker pool.
type JobQueue interface {
	EnqueueJob(ctx context.Context, job models.Job) (*models.Job, error)
	GetJob(ctx context.Context, jobId string) (*models.Job, error)
	// ClaimJob leases the oldest available job, or returns nil when none is ready.
	ClaimJob(ctx context.Context, workerId string, lease time.Duration) (*models.Job, error)
	CompleteJob(ctx context.Context, jobId, resultResourceId string) error
	FailJob(ctx context.Context, jobId, message string) error
	RetryJob(ctx context.Context, jobId, message string, availableAt time.Time) error
	RequeueExpiredJobs(ctx context.Context, now time.Time) (int64, error)
}

// CorrelationStore maps (account, resource) to an in-flight job handle.
type CorrelationStore interface {
	RegisterHandle(ctx context.Context, handle models.JobHandle) error
	GetHandle(ctx context.Context, accountId, resourceId string) (*models.JobHandle, error)
	DeleteHandle(ctx context.Context, accountId, resourceId string) error
	DeleteExpiredHandles(ctx context.Context, now time.Time) (int64, error)
}

// PaymentEventStore keeps the audit trail of reconciled notifications.
type PaymentEventStore interface {
	RecordPaymentEvent(ctx context.Context, event models.PaymentEvent) error
}

// Store defines the contract that every SQL backend (SQLite, Postgres) must satisfy.
type Store interface {
	AccountStore
	CreditLedger
	ResourceStore
	JobQueue
	CorrelationStore
	PaymentEventStore

	// --- Lifecycle ---
	Ping(ctx context.Context) error
	Close()
}
