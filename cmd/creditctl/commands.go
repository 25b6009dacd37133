package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"mydraws-credits-go/internal/common"
	"mydraws-credits-go/internal/jobs"
	"mydraws-credits-go/internal/ledger"
	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/payments"
	"mydraws-credits-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type ledgerHandle struct {
	store  store.Store
	ledger *ledger.Service
	close  func()
}

// app holds the configuration and opens the store only for commands that
// touch it, so packages and quote work without a database.
type app struct {
	cfg  *models.Config
	open func(ctx context.Context) (*ledgerHandle, error)
}

func (a *app) withLedger(cmd *cobra.Command, fn func(h *ledgerHandle) error) error {
	h, err := a.open(cmd.Context())
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	if h.close != nil {
		defer h.close()
	}
	return fn(h)
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "creditctl",
		Short:        "Operate the credit ledger",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newGrantCmd(a),
		newHistoryCmd(a),
		newPackagesCmd(a),
		newQuoteCmd(a),
		newSweepCmd(a),
	)
	return rootCmd
}

func newGrantCmd(a *app) *cobra.Command {
	var reason, key string

	cmd := &cobra.Command{
		Use:   "grant <account> <credits>",
		Short: "Grant credits to an account",
		Long:  "Grant credits to an account. With --key the grant applies at most once, so a retried command cannot double-credit.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("credits must be an integer: %w", err)
			}
			return a.withLedger(cmd, func(h *ledgerHandle) error {
				accounts, err := common.ResolveAccounts(cmd.Context(), h.store, args[0])
				if err != nil {
					return err
				}
				account := accounts[0]

				result, err := h.ledger.Credit(cmd.Context(), account.Id, amount, reason, key)
				if err != nil {
					return err
				}
				balance, err := h.ledger.Balance(cmd.Context(), account.Id)
				if err != nil {
					return err
				}

				if result == ledger.CreditAlreadyApplied {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "grant %s already applied to %s, balance %d\n", key, account.Id, balance)
					return nil
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "granted %d credits to %s, balance %d\n", amount, account.Id, balance)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "ADMIN", "Transaction type recorded in the ledger")
	cmd.Flags().StringVar(&key, "key", "", "Idempotency key")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "history <account>",
		Short: "Show ledger entries, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLedger(cmd, func(h *ledgerHandle) error {
				accounts, err := common.ResolveAccounts(cmd.Context(), h.store, args[0])
				if err != nil {
					return err
				}
				transactions, err := h.ledger.History(cmd.Context(), accounts[0].Id, limit, offset)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "CREATED\tAMOUNT\tTYPE\tBALANCE")
				for _, tx := range transactions {
					_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\n",
						tx.CreatedAt.UTC().Format(time.RFC3339),
						common.FormatCredits(tx.Amount),
						tx.TransactionType,
						tx.BalanceAfter)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of entries")
	cmd.Flags().IntVar(&offset, "offset", 0, "Entries to skip")
	return cmd
}

func newPackagesCmd(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "packages",
		Short: "Validate and list the credit package catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				file = a.cfg.Payments.PackagesFile
			}
			catalog, err := payments.LoadPackages(file)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tLABEL\tCREDITS\tPRICE")
			for _, pkg := range catalog.All() {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", pkg.Id, pkg.Label, pkg.Credits, pkg.Amount.StringFixed(2))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Packages file (default from CREDIT_PACKAGES_FILE)")
	return cmd
}

func newQuoteCmd(a *app) *cobra.Command {
	var unitPrice string

	cmd := &cobra.Command{
		Use:   "quote <credits>",
		Short: "Price a custom credit purchase with volume discounts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			credits, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("credits must be an integer: %w", err)
			}
			base := a.cfg.MercadoPago.UnitPrice
			if unitPrice != "" {
				if base, err = decimal.NewFromString(unitPrice); err != nil {
					return fmt.Errorf("invalid unit price: %w", err)
				}
			}

			quote, err := payments.NewQuote(credits, base)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "credits: %d\nunit price: %s\ntotal: %s\n",
				quote.Credits, quote.UnitPrice.StringFixed(2), quote.Total.StringFixed(2))
			return nil
		},
	}

	cmd.Flags().StringVar(&unitPrice, "unit-price", "", "Base price per credit (default from MERCADO_PAGO_UNIT_PRICE)")
	return cmd
}

func newSweepCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Requeue jobs with expired leases and drop expired transform handles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withLedger(cmd, func(h *ledgerHandle) error {
				result, err := jobs.Sweep(cmd.Context(), h.store, h.store, time.Now().UTC())
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "requeued jobs: %d\nexpired handles: %d\n",
					result.RequeuedJobs, result.ExpiredHandles)
				return nil
			})
		},
	}
}
