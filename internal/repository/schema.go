package repository

// Schema definitions for the Kestrel database.
// Sequence columns keep insertion order; their type differs per driver.

func schemaTransactions(serial string) string {
	return `
CREATE TABLE IF NOT EXISTS transactions (
    seq ` + serial + `,
    id TEXT NOT NULL UNIQUE,
    tx_date TEXT NOT NULL,
    caller TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    fraud_score REAL NOT NULL,
    record TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(tx_date);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
`
}

const schemaLedgerAccounts = `
CREATE TABLE IF NOT EXISTS ledger_accounts (
    account TEXT PRIMARY KEY,
    holder TEXT NOT NULL
);
`

func schemaLedgerHolderAccounts(serial string) string {
	return `
CREATE TABLE IF NOT EXISTS ledger_holder_accounts (
    seq ` + serial + `,
    holder TEXT NOT NULL,
    account TEXT NOT NULL,
    UNIQUE (holder, account)
);
`
}

func schemaLedgerNames(serial string) string {
	return `
CREATE TABLE IF NOT EXISTS ledger_names (
    seq ` + serial + `,
    holder TEXT NOT NULL UNIQUE,
    last_account TEXT NOT NULL
);
`
}

const schemaReferenceAccounts = `
CREATE TABLE IF NOT EXISTS reference_accounts (
    account TEXT PRIMARY KEY,
    holder TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements for a driver in order.
func AllSchemas(driver string) []string {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == "postgres" {
		serial = "BIGSERIAL PRIMARY KEY"
	}
	return []string{
		schemaTransactions(serial),
		schemaLedgerAccounts,
		schemaLedgerHolderAccounts(serial),
		schemaLedgerNames(serial),
		schemaReferenceAccounts,
	}
}
