package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hszk-dev/mediapool/internal/domain/model"
	"github.com/hszk-dev/mediapool/internal/domain/repository"
)

const accountColumns = `id, capacity_bytes, used_bytes, active, reconciled_at, updated_at`

// AccountRepository implements repository.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db DBTX
}

// NewAccountRepository creates a new AccountRepository instance.
func NewAccountRepository(db DBTX) *AccountRepository {
	return &AccountRepository{db: db}
}

// Upsert registers an account or refreshes its capacity and active flag.
func (r *AccountRepository) Upsert(ctx context.Context, account *model.StorageAccount) error {
	const query = `
		INSERT INTO storage_accounts (id, capacity_bytes, used_bytes, active, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET capacity_bytes = EXCLUDED.capacity_bytes, active = EXCLUDED.active, updated_at = EXCLUDED.updated_at
	`

	account.UpdatedAt = time.Now()
	_, err := r.db.Exec(ctx, query,
		account.ID,
		account.CapacityBytes,
		account.UsedBytes,
		account.Active,
		account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

// List returns all accounts ordered by id.
func (r *AccountRepository) List(ctx context.Context) ([]*model.StorageAccount, error) {
	const query = `SELECT ` + accountColumns + ` FROM storage_accounts ORDER BY id ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*model.StorageAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// GetByID retrieves one account.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*model.StorageAccount, error) {
	const query = `SELECT ` + accountColumns + ` FROM storage_accounts WHERE id = $1`

	account, err := scanAccount(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// AddUsage increments used bytes in one statement, so concurrent uploads
// to the same account never lose an update.
func (r *AccountRepository) AddUsage(ctx context.Context, id string, delta int64) (int64, error) {
	const query = `
		UPDATE storage_accounts
		SET used_bytes = used_bytes + $2, updated_at = $3
		WHERE id = $1
		RETURNING used_bytes
	`

	var used int64
	if err := r.db.QueryRow(ctx, query, id, delta, time.Now()).Scan(&used); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, repository.ErrAccountNotFound
		}
		return 0, fmt.Errorf("failed to add account usage: %w", err)
	}
	return used, nil
}

// SetUsage overwrites used bytes with the provider-reported value.
func (r *AccountRepository) SetUsage(ctx context.Context, id string, used int64, at time.Time) error {
	const query = `
		UPDATE storage_accounts
		SET used_bytes = $2, reconciled_at = $3, updated_at = $3
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, used, at)
	if err != nil {
		return fmt.Errorf("failed to set account usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrAccountNotFound
	}
	return nil
}

// DeactivateExcept marks accounts missing from ids as inactive.
func (r *AccountRepository) DeactivateExcept(ctx context.Context, ids []string) error {
	const query = `
		UPDATE storage_accounts
		SET active = FALSE, updated_at = $2
		WHERE active AND NOT (id = ANY($1))
	`

	if ids == nil {
		ids = []string{}
	}
	if _, err := r.db.Exec(ctx, query, ids, time.Now()); err != nil {
		return fmt.Errorf("failed to deactivate accounts: %w", err)
	}
	return nil
}

func scanAccount(row rowScanner) (*model.StorageAccount, error) {
	var (
		account      model.StorageAccount
		reconciledAt *time.Time
	)

	err := row.Scan(
		&account.ID,
		&account.CapacityBytes,
		&account.UsedBytes,
		&account.Active,
		&reconciledAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if reconciledAt != nil {
		account.ReconciledAt = *reconciledAt
	}
	return &account, nil
}

// Compile-time verification that AccountRepository implements repository.AccountRepository.
var _ repository.AccountRepository = (*AccountRepository)(nil)
