package common

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"

	"mydraws-credits-go/internal/api"
	"mydraws-credits-go/internal/database"
	"mydraws-credits-go/internal/formance"
	"mydraws-credits-go/internal/jobs"
	"mydraws-credits-go/internal/ledger"
	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/payments"
	"mydraws-credits-go/internal/postgres"
	"mydraws-credits-go/internal/storage"
	"mydraws-credits-go/internal/store"
	"mydraws-credits-go/internal/transform"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Services is everything a binary may need, built from one Config.
type Services struct {
	Store  store.Store
	Ledger *ledger.Service
	Blobs  storage.BlobStore
	API    *api.Service
	// Remote is nil when no generative backend is configured.
	Remote transform.Transformer

	Catalog             *payments.Catalog
	Reconciler          *payments.Reconciler
	StripeCheckout      *payments.StripeCheckout
	MercadoPagoCheckout *payments.MercadoPagoCheckout
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// OpenStore opens the configured SQL backend and, when LEDGER_BACKEND is
// formance, routes the credit ledger part of it to the Formance stack.
func OpenStore(ctx context.Context, cfg *models.Config) (store.Store, error) {
	var base store.Store
	switch cfg.Database.Driver {
	case "postgres":
		pg, err := postgres.NewService(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		base = pg
	default:
		db, err := database.NewService(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		base = db
	}

	if cfg.Ledger.Backend != "formance" {
		return base, nil
	}

	zap.L().Info("Using Formance credit ledger",
		zap.String("stack_url", cfg.Formance.StackURL),
		zap.String("ledger", cfg.Formance.LedgerName))
	formanceLedger, err := formance.NewService(ctx, cfg.Formance, base)
	if err != nil {
		base.Close()
		return nil, err
	}
	return formance.NewLedgerStore(base, formanceLedger), nil
}

// InitializeLedger opens the store and the ledger service only. Command-line
// tools that never transform images use it.
func InitializeLedger(ctx context.Context, cfg *models.Config) (store.Store, *ledger.Service, error) {
	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return st, ledger.NewService(st, cfg.Ledger), nil
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	st, ledgerService, err := InitializeLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}
	services := &Services{Store: st, Ledger: ledgerService}

	blobs, err := storage.NewStore(ctx, cfg.Storage)
	if err != nil {
		services.Close()
		return nil, fmt.Errorf("unable to open blob storage: %w", err)
	}
	services.Blobs = blobs

	services.API = api.NewService(api.Dependencies{
		Store:     st,
		Ledger:    ledgerService,
		Blobs:     blobs,
		Local:     transform.NewSketchTransformer(cfg.Sketch),
		HandleTTL: cfg.Worker.HandleTTL,
	})

	if cfg.OpenAI.APIKey != "" {
		httpClient, err := NewHTTPClient(cfg.OpenAI.Timeout)
		if err != nil {
			services.Close()
			return nil, fmt.Errorf("unable to create custom http client: %w", err)
		}
		remote, err := transform.NewOpenAITransformer(cfg.OpenAI, httpClient)
		if err != nil {
			services.Close()
			return nil, err
		}
		services.Remote = remote
	} else {
		zap.L().Warn("OPENAI_API_KEY not set, generative transforms cannot be processed")
	}

	if err := services.initializePayments(cfg); err != nil {
		services.Close()
		return nil, err
	}

	return services, nil
}

func (s *Services) initializePayments(cfg *models.Config) error {
	catalog, err := payments.LoadPackages(cfg.Payments.PackagesFile)
	if errors.Is(err, fs.ErrNotExist) {
		zap.L().Warn("Credit packages file not found, card checkout has no packages",
			zap.String("file", cfg.Payments.PackagesFile))
		catalog, err = payments.NewCatalog(nil)
	}
	if err != nil {
		return err
	}
	s.Catalog = catalog

	httpClient, err := NewHTTPClient(cfg.Payments.HTTPTimeout)
	if err != nil {
		return fmt.Errorf("unable to create custom http client: %w", err)
	}

	var adapters []payments.Adapter

	if cfg.Stripe.WebhookSecret != "" {
		adapter, err := payments.NewStripeAdapter(cfg.Stripe, catalog, s.Store, s.Ledger)
		if err != nil {
			return err
		}
		adapters = append(adapters, adapter)
	}
	if cfg.Stripe.SecretKey != "" {
		checkout, err := payments.NewStripeCheckout(cfg.Stripe, catalog, httpClient)
		if err != nil {
			return err
		}
		s.StripeCheckout = checkout
	}

	if cfg.MercadoPago.AccessToken != "" {
		adapter, err := payments.NewMercadoPagoAdapter(cfg.MercadoPago, httpClient, s.Store, s.Ledger)
		if err != nil {
			return err
		}
		adapters = append(adapters, adapter)

		checkout, err := payments.NewMercadoPagoCheckout(cfg.MercadoPago, httpClient)
		if err != nil {
			return err
		}
		s.MercadoPagoCheckout = checkout
	}

	s.Reconciler = payments.NewReconciler(s.Store, adapters...)
	zap.L().Info("Payment providers configured",
		zap.Strings("webhooks", s.Reconciler.Providers()),
		zap.Int("packages", len(catalog.All())))
	return nil
}

// NewWorker builds the job worker for this process. It fails when no
// generative backend is configured since there would be nothing to run.
func (s *Services) NewWorker(cfg models.WorkerConfig) (*jobs.Worker, error) {
	if s.Remote == nil {
		return nil, fmt.Errorf("a generative transform backend is required to run the worker (set OPENAI_API_KEY)")
	}
	return jobs.NewWorker(jobs.WorkerConfig{
		Queue:           s.Store,
		Handles:         s.Store,
		Handlers:        map[string]jobs.Handler{jobs.KindAITransform: s.API.AITransformHandler(s.Remote)},
		Concurrency:     cfg.Concurrency,
		PollInterval:    cfg.PollInterval,
		CleanupInterval: cfg.CleanupInterval,
		JobTimeout:      cfg.JobTimeout,
		LeaseDuration:   cfg.LeaseDuration,
		MaxAttempts:     cfg.MaxAttempts,
		RetryBackoff:    cfg.RetryBackoff,
	}), nil
}

func (s *Services) Close() {
	if s.Store != nil {
		s.Store.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
