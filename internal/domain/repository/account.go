package repository

import (
	"context"
	"time"

	"github.com/hszk-dev/mediapool/internal/domain/model"
)

// AccountRepository persists storage accounts and their usage counters.
type AccountRepository interface {
	// Upsert creates an account or updates its capacity and active flag.
	// UsedBytes of an existing account is left untouched.
	Upsert(ctx context.Context, account *model.StorageAccount) error

	// List returns all accounts ordered by id.
	List(ctx context.Context) ([]*model.StorageAccount, error)

	// GetByID returns ErrAccountNotFound if the account does not exist.
	GetByID(ctx context.Context, id string) (*model.StorageAccount, error)

	// AddUsage atomically adds delta to the account's used bytes in a single
	// statement and returns the new value.
	AddUsage(ctx context.Context, id string, delta int64) (int64, error)

	// SetUsage overwrites used bytes with the provider's authoritative figure.
	SetUsage(ctx context.Context, id string, used int64, at time.Time) error

	// DeactivateExcept marks every account not in ids as inactive.
	DeactivateExcept(ctx context.Context, ids []string) error
}
