package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LookupReference returns the registered holder for an account.
func (r *SQLRepository) LookupReference(ctx context.Context, account string) (string, error) {
	var holder string
	err := r.db.QueryRowContext(ctx, r.rebind(
		`SELECT holder FROM reference_accounts WHERE account = ?`), account).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", storageErr("lookup reference", err)
	}
	return holder, nil
}

// SaveReference adds or replaces a reference entry.
func (r *SQLRepository) SaveReference(ctx context.Context, account, holder string) error {
	if account == "" || holder == "" {
		return fmt.Errorf("%w: account and holder are required", domain.ErrInvalidInput)
	}

	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO reference_accounts (account, holder, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (account) DO UPDATE SET holder = excluded.holder, updated_at = excluded.updated_at`),
		account, holder, time.Now().UTC())
	if err != nil {
		return storageErr("save reference", err)
	}
	return nil
}

// CountReferences returns the number of reference entries.
func (r *SQLRepository) CountReferences(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reference_accounts`).Scan(&n); err != nil {
		return 0, storageErr("count references", err)
	}
	return n, nil
}
