package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Expected sqlite driver, got %s", cfg.Database.Driver)
	}
	if cfg.Ledger.OverdraftPolicy != "reject" {
		t.Errorf("Expected reject overdraft policy by default, got %s", cfg.Ledger.OverdraftPolicy)
	}
	if cfg.Ledger.MaxRetries != 3 {
		t.Errorf("Expected 3 ledger retries, got %d", cfg.Ledger.MaxRetries)
	}
	if cfg.Worker.HandleTTL != time.Hour {
		t.Errorf("Expected 1h handle TTL, got %v", cfg.Worker.HandleTTL)
	}
	if cfg.Sketch.DetailLevel != 21 {
		t.Errorf("Expected detail level 21, got %d", cfg.Sketch.DetailLevel)
	}
	if cfg.MercadoPago.UnitPrice.String() != "0.75" {
		t.Errorf("Expected unit price 0.75, got %s", cfg.MercadoPago.UnitPrice)
	}
	if cfg.MercadoPago.Currency != "BRL" {
		t.Errorf("Expected BRL currency, got %s", cfg.MercadoPago.Currency)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LEDGER_OVERDRAFT_POLICY", "CLAMP")
	t.Setenv("JOB_HANDLE_TTL", "90m")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("MERCADO_PAGO_UNIT_PRICE", "1.10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Ledger.OverdraftPolicy != "clamp" {
		t.Errorf("Expected clamp, got %s", cfg.Ledger.OverdraftPolicy)
	}
	if cfg.Worker.HandleTTL != 90*time.Minute {
		t.Errorf("Expected 90m TTL, got %v", cfg.Worker.HandleTTL)
	}
	if cfg.Worker.Concurrency != 8 {
		t.Errorf("Expected concurrency 8, got %d", cfg.Worker.Concurrency)
	}
	if cfg.MercadoPago.UnitPrice.String() != "1.1" {
		t.Errorf("Expected unit price 1.1, got %s", cfg.MercadoPago.UnitPrice)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"bad duration", "JOB_HANDLE_TTL", "soon", "JOB_HANDLE_TTL"},
		{"bad policy", "LEDGER_OVERDRAFT_POLICY", "forgive", "LEDGER_OVERDRAFT_POLICY"},
		{"bad driver", "DATABASE_DRIVER", "oracle", "DATABASE_DRIVER"},
		{"postgres without url", "DATABASE_DRIVER", "postgres", "DATABASE_URL"},
		{"formance without url", "LEDGER_BACKEND", "formance", "FORMANCE_STACK_URL"},
		{"s3 without bucket", "STORAGE_BACKEND", "s3", "S3_BUCKET"},
		{"bad price", "MERCADO_PAGO_UNIT_PRICE", "cheap", "MERCADO_PAGO_UNIT_PRICE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil {
				t.Fatalf("Expected error for %s=%s", tt.key, tt.value)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}
