/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/transform"

	"github.com/shopspring/decimal"
)

func Load() (*models.Config, error) {
	durations := map[string]*time.Duration{}
	lookup := func(key string, defaultValue time.Duration) *time.Duration {
		d := defaultValue
		durations[key] = &d
		return &d
	}

	connMaxLifetime := lookup("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	connMaxIdleTime := lookup("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	pingTimeout := lookup("DB_PING_TIMEOUT", 5*time.Second)
	ledgerRetryBackoff := lookup("LEDGER_RETRY_BACKOFF", 50*time.Millisecond)
	readTimeout := lookup("SERVER_READ_TIMEOUT", 30*time.Second)
	writeTimeout := lookup("SERVER_WRITE_TIMEOUT", 90*time.Second)
	shutdownTimeout := lookup("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second)
	pollInterval := lookup("WORKER_POLL_INTERVAL", 2*time.Second)
	cleanupInterval := lookup("WORKER_CLEANUP_INTERVAL", 5*time.Minute)
	jobTimeout := lookup("WORKER_JOB_TIMEOUT", 3*time.Minute)
	leaseDuration := lookup("WORKER_LEASE_DURATION", 5*time.Minute)
	jobRetryBackoff := lookup("JOB_RETRY_BACKOFF", 30*time.Second)
	handleTTL := lookup("JOB_HANDLE_TTL", time.Hour)
	openAITimeout := lookup("OPENAI_TIMEOUT", 120*time.Second)
	paymentsHTTPTimeout := lookup("PAYMENTS_HTTP_TIMEOUT", 15*time.Second)

	for key, target := range durations {
		value, err := getEnvDuration(key, *target)
		if err != nil {
			return nil, err
		}
		*target = value
	}

	unitPrice, err := getEnvDecimal("MERCADO_PAGO_UNIT_PRICE", decimal.RequireFromString("0.75"))
	if err != nil {
		return nil, err
	}

	maxUploadBytes, err := getEnvInt64("SERVER_MAX_UPLOAD_BYTES", 10<<20)
	if err != nil {
		return nil, err
	}

	cfg := &models.Config{
		Database: models.DatabaseConfig{
			Driver:              strings.ToLower(getEnvString("DATABASE_DRIVER", "sqlite")),
			Path:                getEnvString("DATABASE_PATH", "credits.db"),
			URL:                 getEnvString("DATABASE_URL", ""),
			MaxOpenConns:        getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:        getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:     *connMaxLifetime,
			ConnMaxIdleTime:     *connMaxIdleTime,
			PingTimeout:         *pingTimeout,
			CreateDummyAccounts: getEnvBool("CREATE_DUMMY_ACCOUNTS", false),
		},
		Ledger: models.LedgerConfig{
			Backend:         strings.ToLower(getEnvString("LEDGER_BACKEND", "sql")),
			OverdraftPolicy: strings.ToLower(getEnvString("LEDGER_OVERDRAFT_POLICY", "reject")),
			MaxRetries:      getEnvInt("LEDGER_MAX_RETRIES", 3),
			RetryBackoff:    *ledgerRetryBackoff,
		},
		Formance: models.FormanceConfig{
			StackURL:     getEnvString("FORMANCE_STACK_URL", ""),
			ClientID:     getEnvString("FORMANCE_CLIENT_ID", ""),
			ClientSecret: getEnvString("FORMANCE_CLIENT_SECRET", ""),
			LedgerName:   getEnvString("FORMANCE_LEDGER_NAME", "credits"),
		},
		Server: models.ServerConfig{
			Addr:            getEnvString("SERVER_ADDR", ":8080"),
			ReadTimeout:     *readTimeout,
			WriteTimeout:    *writeTimeout,
			ShutdownTimeout: *shutdownTimeout,
			AccountHeader:   getEnvString("SERVER_ACCOUNT_HEADER", "X-Account-Id"),
			MaxUploadBytes:  maxUploadBytes,
		},
		Worker: models.WorkerConfig{
			Concurrency:     getEnvInt("WORKER_CONCURRENCY", 2),
			PollInterval:    *pollInterval,
			CleanupInterval: *cleanupInterval,
			JobTimeout:      *jobTimeout,
			LeaseDuration:   *leaseDuration,
			MaxAttempts:     getEnvInt("JOB_MAX_ATTEMPTS", 3),
			RetryBackoff:    *jobRetryBackoff,
			HandleTTL:       *handleTTL,
		},
		Storage: models.StorageConfig{
			Backend:     strings.ToLower(getEnvString("STORAGE_BACKEND", "filesystem")),
			Root:        getEnvString("STORAGE_ROOT", "media"),
			S3Bucket:    getEnvString("S3_BUCKET", ""),
			S3Region:    getEnvString("S3_REGION", "us-east-1"),
			S3Endpoint:  getEnvString("S3_ENDPOINT", ""),
			S3AccessKey: getEnvString("S3_ACCESS_KEY", ""),
			S3SecretKey: getEnvString("S3_SECRET_KEY", ""),
		},
		OpenAI: models.OpenAIConfig{
			APIKey:  getEnvString("OPENAI_API_KEY", ""),
			BaseURL: getEnvString("OPENAI_BASE_URL", ""),
			Model:   getEnvString("OPENAI_IMAGE_MODEL", "gpt-image-1"),
			Prompt:  getEnvString("OPENAI_TRANSFORM_PROMPT", transform.DefaultPrompt),
			Timeout: *openAITimeout,
		},
		Sketch: models.SketchConfig{
			DetailLevel: getEnvInt("SKETCH_DETAIL_LEVEL", 21),
			JPEGQuality: getEnvInt("SKETCH_JPEG_QUALITY", 90),
		},
		Payments: models.PaymentsConfig{
			PackagesFile: getEnvString("CREDIT_PACKAGES_FILE", "packages.yaml"),
			HTTPTimeout:  *paymentsHTTPTimeout,
		},
		Stripe: models.StripeConfig{
			SecretKey:     getEnvString("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnvString("STRIPE_WEBHOOK_SECRET", ""),
			SuccessURL:    getEnvString("STRIPE_SUCCESS_URL", "http://localhost:8080/payments/success"),
			CancelURL:     getEnvString("STRIPE_CANCEL_URL", "http://localhost:8080/payments/cancel"),
			Currency:      strings.ToLower(getEnvString("STRIPE_CURRENCY", "usd")),
		},
		MercadoPago: models.MercadoPagoConfig{
			AccessToken:     getEnvString("MERCADO_PAGO_ACCESS_TOKEN", ""),
			WebhookSecret:   getEnvString("MERCADO_PAGO_WEBHOOK_SECRET", ""),
			BaseURL:         getEnvString("MERCADO_PAGO_BASE_URL", "https://api.mercadopago.com"),
			NotificationURL: getEnvString("MERCADO_PAGO_NOTIFICATION_URL", ""),
			SuccessURL:      getEnvString("MERCADO_PAGO_SUCCESS_URL", "http://localhost:8080/payments/success"),
			FailureURL:      getEnvString("MERCADO_PAGO_FAILURE_URL", "http://localhost:8080/payments/failure"),
			PendingURL:      getEnvString("MERCADO_PAGO_PENDING_URL", "http://localhost:8080/payments/pending"),
			UnitPrice:       unitPrice,
			Currency:        strings.ToUpper(getEnvString("MERCADO_PAGO_CURRENCY", "BRL")),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *models.Config) error {
	switch cfg.Database.Driver {
	case "sqlite":
	case "postgres":
		if cfg.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when DATABASE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q (expected sqlite or postgres)", cfg.Database.Driver)
	}

	switch cfg.Ledger.Backend {
	case "sql":
	case "formance":
		if cfg.Formance.StackURL == "" {
			return fmt.Errorf("FORMANCE_STACK_URL is required when LEDGER_BACKEND=formance")
		}
	default:
		return fmt.Errorf("unsupported LEDGER_BACKEND %q (expected sql or formance)", cfg.Ledger.Backend)
	}

	if cfg.Ledger.OverdraftPolicy != "reject" && cfg.Ledger.OverdraftPolicy != "clamp" {
		return fmt.Errorf("unsupported LEDGER_OVERDRAFT_POLICY %q (expected reject or clamp)", cfg.Ledger.OverdraftPolicy)
	}
	if cfg.Ledger.MaxRetries < 0 {
		return fmt.Errorf("LEDGER_MAX_RETRIES cannot be negative, got %d", cfg.Ledger.MaxRetries)
	}

	switch cfg.Storage.Backend {
	case "filesystem":
	case "s3":
		if cfg.Storage.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND=s3")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q (expected filesystem or s3)", cfg.Storage.Backend)
	}

	if cfg.Worker.Concurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("JOB_MAX_ATTEMPTS must be positive, got %d", cfg.Worker.MaxAttempts)
	}
	if !cfg.MercadoPago.UnitPrice.IsPositive() {
		return fmt.Errorf("MERCADO_PAGO_UNIT_PRICE must be positive, got %s", cfg.MercadoPago.UnitPrice)
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid integer for %s: %q (%w)", key, value, err)
		}
		return intValue, nil
	}
	return defaultValue, nil
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	if value := os.Getenv(key); value != "" {
		d, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid decimal for %s: %q (%w)", key, value, err)
		}
		return d, nil
	}
	return defaultValue, nil
}
