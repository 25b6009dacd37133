package common

import (
	"fmt"
	"strings"
	"time"

	"mydraws-credits-go/internal/models"
)

const (
	DefaultWidth = 80
	WideWidth    = 100
)

// PrintHeader prints title between two rules
func PrintHeader(title string, width int) {
	fmt.Println("\n" + strings.Repeat("=", width))
	fmt.Println(title)
	fmt.Println(strings.Repeat("=", width))
}

func PrintFooter(message string, width int) {
	fmt.Println("\n" + strings.Repeat("=", width))
	fmt.Println(message)
	fmt.Println(strings.Repeat("=", width) + "\n")
}

// BoxPrefix returns the tree prefix for a list item
func BoxPrefix(isLast bool) string {
	if isLast {
		return "└  "
	}
	return "│  "
}

// BoxDetailPrefix returns the prefix for detail lines under a list item
func BoxDetailPrefix(isLast bool) string {
	if isLast {
		return "   "
	}
	return "│  "
}

// FormatCredits renders a signed ledger amount: +10, -3.
func FormatCredits(amount int64) string {
	if amount > 0 {
		return fmt.Sprintf("+%d", amount)
	}
	return fmt.Sprintf("%d", amount)
}

// PrintAccount prints one account and its balance as a tree entry
func PrintAccount(account models.Account, balance int64, isLast bool) {
	fmt.Printf("%s%s (%s)\n", BoxPrefix(isLast), account.Name, account.Email)
	fmt.Printf("%sid: %s  balance: %d credits\n", BoxDetailPrefix(isLast), account.Id, balance)
}

// PrintTransactions prints ledger entries newest first, one per line
func PrintTransactions(transactions []models.CreditTransaction) {
	if len(transactions) == 0 {
		fmt.Println("   (no transactions)")
		return
	}
	for i, tx := range transactions {
		fmt.Printf("%s%s  %-6s %-40s balance %d\n",
			BoxPrefix(i == len(transactions)-1),
			tx.CreatedAt.Local().Format(time.DateTime),
			FormatCredits(tx.Amount),
			tx.TransactionType,
			tx.BalanceAfter)
	}
}
