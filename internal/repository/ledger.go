package repository

import (
	"context"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CommitLedger writes one observation's delta in a single transaction.
func (r *SQLRepository) CommitLedger(ctx context.Context, d domain.LedgerDelta) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin ledger commit", err)
	}
	defer tx.Rollback()

	if d.NewAccount {
		if _, err := tx.ExecContext(ctx, r.rebind(
			`INSERT INTO ledger_accounts (account, holder) VALUES (?, ?) ON CONFLICT (account) DO NOTHING`),
			d.Account, d.Holder); err != nil {
			return storageErr("register account", err)
		}
	}

	if d.LinkAccount {
		if _, err := tx.ExecContext(ctx, r.rebind(
			`INSERT INTO ledger_holder_accounts (holder, account) VALUES (?, ?) ON CONFLICT (holder, account) DO NOTHING`),
			d.Holder, d.Account); err != nil {
			return storageErr("link account", err)
		}
	}

	// Registration order lives in seq, so existing names are updated in place.
	if _, err := tx.ExecContext(ctx, r.rebind(`
		INSERT INTO ledger_names (holder, last_account) VALUES (?, ?)
		ON CONFLICT (holder) DO UPDATE SET last_account = excluded.last_account`),
		d.Holder, d.Account); err != nil {
		return storageErr("register name", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit ledger", err)
	}
	return nil
}

// LoadLedger reads the persisted ledger in insertion order.
func (r *SQLRepository) LoadLedger(ctx context.Context) (*domain.LedgerSnapshot, error) {
	snap := &domain.LedgerSnapshot{}

	var err error
	if snap.Accounts, err = r.pairs(ctx, `SELECT account, holder FROM ledger_accounts ORDER BY account`); err != nil {
		return nil, err
	}
	if snap.HolderAccounts, err = r.pairs(ctx, `SELECT account, holder FROM ledger_holder_accounts ORDER BY seq`); err != nil {
		return nil, err
	}
	if snap.Names, err = r.pairs(ctx, `SELECT last_account, holder FROM ledger_names ORDER BY seq`); err != nil {
		return nil, err
	}
	return snap, nil
}

// ResetLedger empties every ledger table atomically.
func (r *SQLRepository) ResetLedger(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin ledger reset", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"ledger_accounts", "ledger_holder_accounts", "ledger_names"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return storageErr("reset "+table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit ledger reset", err)
	}
	return nil
}

func (r *SQLRepository) pairs(ctx context.Context, query string) ([]domain.AccountHolder, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storageErr("load ledger", err)
	}
	defer rows.Close()

	var out []domain.AccountHolder
	for rows.Next() {
		var p domain.AccountHolder
		if err := rows.Scan(&p.Account, &p.Holder); err != nil {
			return nil, storageErr("scan ledger", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("load ledger", err)
	}
	return out, nil
}

