// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the session
// driver from the concrete banking backend.
package port

import (
	"context"

	"github.com/boddenberg/hbci-session-go/internal/domain"
)

// EventSource lets callers connect handlers to the events a banking
// context emits while an operation runs.
type EventSource interface {
	OnCallback(fn domain.AnswerFunc)
	OnLog(fn domain.LogFunc)
	OnStatus(fn domain.StatusFunc)
}

// BankingContext is the session root of the home-banking backend.
// Every operation may emit callback, log and status events synchronously
// before it returns.
type BankingContext interface {
	EventSource

	// AddPassport registers a bank/user credential pair. It triggers the
	// callbacks needed to collect account details and credentials.
	AddPassport(ctx context.Context, blz, userID string) (bool, error)

	// GetAccounts lists the accounts visible to a registered user.
	GetAccounts(ctx context.Context, blz, userID string) ([]domain.Account, error)

	// GetBalances returns the booked balance of one account.
	GetBalances(ctx context.Context, blz, userID, number string) (string, error)

	// GetStatements returns all turnover lines of one account.
	GetStatements(ctx context.Context, blz, userID, number string) ([]domain.Statement, error)
}

// BankDirectory resolves German bank codes (BLZ).
type BankDirectory interface {
	Lookup(blz string) (*domain.Bank, error)
	NameForBLZ(blz string) string
	PinTanURLForBLZ(blz string) string
	ForEach(fn func(bank domain.Bank))
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
