package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"mydraws-credits-go/internal/common"
	"mydraws-credits-go/internal/config"
	"mydraws-credits-go/internal/ledger"
	"mydraws-credits-go/internal/payments"
	"mydraws-credits-go/internal/store"

	"go.uber.org/zap"
)

type dummyAccount struct {
	id    string
	name  string
	email string
}

var dummyAccounts = []dummyAccount{
	{"demo-alice", "Alice Demo", "alice@example.com"},
	{"demo-bob", "Bob Demo", "bob@example.com"},
	{"demo-carol", "Carol Demo", "carol@example.com"},
}

// createDummyAccounts is idempotent: existing accounts are left untouched and
// the welcome grant is keyed per account.
func createDummyAccounts(ctx context.Context, st store.Store, ledgerService *ledger.Service, grant int64) {
	for _, d := range dummyAccounts {
		account, err := st.CreateAccount(ctx, d.id, d.name, d.email)
		switch {
		case errors.Is(err, store.ErrAccountExists):
			zap.L().Info("Dummy account already exists", zap.String("id", d.id))
			fmt.Printf("✓ %s: already exists\n", d.email)
		case err != nil:
			zap.L().Error("Failed to create dummy account", zap.String("id", d.id), zap.Error(err))
			fmt.Printf("✗ %s: %v\n", d.email, err)
			continue
		default:
			fmt.Printf("✓ %s: created (%s)\n", account.Email, account.Id)
		}

		if grant <= 0 {
			continue
		}
		result, err := ledgerService.Credit(ctx, d.id, grant, "WELCOME", "setup:"+d.id)
		if err != nil {
			zap.L().Error("Failed to grant welcome credits", zap.String("id", d.id), zap.Error(err))
			continue
		}
		if result == ledger.CreditApplied {
			fmt.Printf("  granted %d credits\n", grant)
		}
	}
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	dummyFlag := flag.Bool("dummy", false, "Create demo accounts")
	grantFlag := flag.Int64("grant", 0, "Welcome credits for each demo account (with --dummy)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	common.PrintHeader("SETUP", common.DefaultWidth)
	fmt.Printf("Database driver: %s\n", cfg.Database.Driver)
	fmt.Printf("Ledger backend:  %s\n", cfg.Ledger.Backend)

	// Opening the store creates the SQLite schema or applies the Postgres
	// migrations.
	st, ledgerService, err := common.InitializeLedger(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer st.Close()
	fmt.Println("✓ Schema up to date")

	catalog, err := payments.LoadPackages(cfg.Payments.PackagesFile)
	if err != nil {
		zap.L().Warn("Credit packages not usable", zap.String("file", cfg.Payments.PackagesFile), zap.Error(err))
		fmt.Printf("✗ Packages: %v\n", err)
	} else {
		fmt.Printf("✓ Packages: %d loaded from %s\n", len(catalog.All()), cfg.Payments.PackagesFile)
	}

	if *dummyFlag {
		fmt.Println()
		createDummyAccounts(ctx, st, ledgerService, *grantFlag)
	}

	common.PrintFooter("Setup complete", common.DefaultWidth)
	zap.L().Info("Setup complete")
}
