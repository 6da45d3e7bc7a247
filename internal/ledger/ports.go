package ledger

import (
	"context"
	"errors"

	"dailybudget/internal/core"
)

// ErrNotFound is returned by stores when a keyed record does not exist.
var ErrNotFound = errors.New("ledger: record not found")

// Ports for the durable account and spend storage.
type (
	AccountStore interface {
		GetAccount(ctx context.Context, id int64) (core.Account, error)
		// InsertAccount ignores a.ID and returns the identifier assigned by the store.
		InsertAccount(ctx context.Context, a core.Account) (int64, error)
		UpdateAccount(ctx context.Context, a core.Account) error
		DeleteAccount(ctx context.Context, a core.Account) error
	}

	SpendStore interface {
		GetSpend(ctx context.Context, id int64) (core.Spend, error)
		// GetSpendsByAccount returns spends ordered by date descending,
		// newest insert first when dates are equal.
		GetSpendsByAccount(ctx context.Context, accountID int64) ([]core.Spend, error)
		InsertSpend(ctx context.Context, s core.Spend) (int64, error)
		UpdateSpend(ctx context.Context, s core.Spend) error
		DeleteSpend(ctx context.Context, s core.Spend) error
		DeleteSpendsByAccount(ctx context.Context, accountID int64) (int64, error)
	}

	// Store is the full ledger. InTx runs fn against a view of the store whose
	// writes are applied together or not at all.
	Store interface {
		AccountStore
		SpendStore
		InTx(ctx context.Context, fn func(tx Store) error) error
		Ping(ctx context.Context) error
	}
)
