// Command creditctl is the operator tool for the credit ledger: manual grants,
// history, the package catalog, price quotes and correlation cleanup.
package main

import (
	"context"
	"fmt"
	"os"

	"mydraws-credits-go/internal/common"
	"mydraws-credits-go/internal/config"
)

func main() {
	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "creditctl: %v\n", err)
		os.Exit(1)
	}

	a := &app{
		cfg: cfg,
		open: func(ctx context.Context) (*ledgerHandle, error) {
			st, ledgerService, err := common.InitializeLedger(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return &ledgerHandle{store: st, ledger: ledgerService, close: st.Close}, nil
		},
	}

	if err := newRootCmd(a).Execute(); err != nil {
		os.Exit(1)
	}
}
