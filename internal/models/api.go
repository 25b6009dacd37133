package models

import (
	"time"
)

// AccountSummary represents an account and its current balance
type AccountSummary struct {
	Id           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	CreditAmount int64  `json:"credit_amount"`
}

// TransactionRecord represents a ledger entry in the account history
type TransactionRecord struct {
	Id           string    `json:"id"`
	Type         string    `json:"type"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

// ResourceRecord represents a resource as returned to clients
type ResourceRecord struct {
	Id        string    `json:"id"`
	Title     string    `json:"title"`
	BasedOn   string    `json:"based_on,omitempty"`
	BookId    string    `json:"book_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// BookRecord represents a book as returned to clients
type BookRecord struct {
	Id          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Author      string    `json:"author,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SpendResult represents the result of a paid operation
type SpendResult struct {
	Success    bool   `json:"success"`
	Operation  string `json:"operation"`
	Cost       int64  `json:"cost"`
	NewBalance int64  `json:"new_balance"`
	Error      string `json:"error,omitempty"`
}

func NewResourceRecord(r *Resource) ResourceRecord {
	return ResourceRecord{
		Id:        r.Id,
		Title:     r.Title,
		BasedOn:   r.BasedOn,
		BookId:    r.BookId,
		CreatedAt: r.CreatedAt,
	}
}

func NewBookRecord(b *Book) BookRecord {
	return BookRecord{
		Id:          b.Id,
		Title:       b.Title,
		Description: b.Description,
		Author:      b.Author,
		CreatedAt:   b.CreatedAt,
	}
}
