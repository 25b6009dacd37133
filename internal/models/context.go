package models

import (
	"context"
)

type accountContextKey struct{}

// WithAccount attaches the authenticated account to a request context.
func WithAccount(ctx context.Context, account *Account) context.Context {
	return context.WithValue(ctx, accountContextKey{}, account)
}

// AccountFromContext retrieves the authenticated account, or nil if absent.
func AccountFromContext(ctx context.Context) *Account {
	account, _ := ctx.Value(accountContextKey{}).(*Account)
	return account
}
