package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the application configuration
type Config struct {
	Database    DatabaseConfig
	Ledger      LedgerConfig
	Formance    FormanceConfig
	Server      ServerConfig
	Worker      WorkerConfig
	Storage     StorageConfig
	OpenAI      OpenAIConfig
	Sketch      SketchConfig
	Payments    PaymentsConfig
	Stripe      StripeConfig
	MercadoPago MercadoPagoConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver              string // sqlite or postgres
	Path                string
	URL                 string
	MaxOpenConns        int
	MaxIdleConns        int
	ConnMaxLifetime     time.Duration
	ConnMaxIdleTime     time.Duration
	PingTimeout         time.Duration
	CreateDummyAccounts bool
}

// LedgerConfig holds credit ledger behaviour
type LedgerConfig struct {
	Backend         string // sql or formance
	OverdraftPolicy string // reject or clamp
	MaxRetries      int
	RetryBackoff    time.Duration
}

// FormanceConfig holds the Formance Stack connection
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AccountHeader   string
	MaxUploadBytes  int64
}

// WorkerConfig holds job worker settings
type WorkerConfig struct {
	Concurrency     int
	PollInterval    time.Duration
	CleanupInterval time.Duration
	JobTimeout      time.Duration
	LeaseDuration   time.Duration
	MaxAttempts     int
	RetryBackoff    time.Duration
	HandleTTL       time.Duration
}

// StorageConfig selects the blob store
type StorageConfig struct {
	Backend     string // filesystem or s3
	Root        string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

// OpenAIConfig holds the generative transform settings
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Prompt  string
	Timeout time.Duration
}

// SketchConfig holds the local transform settings
type SketchConfig struct {
	DetailLevel int
	JPEGQuality int
}

// PaymentsConfig holds settings shared by payment providers
type PaymentsConfig struct {
	PackagesFile string
	HTTPTimeout  time.Duration
}

// StripeConfig holds Stripe credentials
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Currency      string
}

// MercadoPagoConfig holds Mercado Pago credentials
type MercadoPagoConfig struct {
	AccessToken     string
	WebhookSecret   string
	BaseURL         string
	NotificationURL string
	SuccessURL      string
	FailureURL      string
	PendingURL      string
	UnitPrice       decimal.Decimal
	Currency        string
}
