// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// TransactionLog is the append-only record of analyzed transactions.
type TransactionLog interface {
	Append(ctx context.Context, rec *TransactionRecord) error

	// List returns every record in insertion order.
	List(ctx context.Context) ([]*TransactionRecord, error)

	// ListByDate groups records by UTC calendar date, insertion order
	// preserved inside each date.
	ListByDate(ctx context.Context) (map[string][]*TransactionRecord, error)

	Clear(ctx context.Context) error
}

// AccountHolder pairs an account number with a normalized holder name.
type AccountHolder struct {
	Account string `json:"account"`
	Holder  string `json:"holder"`
}

// LedgerDelta is the set of writes a single ledger observation makes.
// The name registry entry for Holder is always upserted with Account.
type LedgerDelta struct {
	Account string
	Holder  string

	// NewAccount registers Account under Holder for the first time.
	NewAccount bool

	// LinkAccount appends Account to Holder's account list.
	LinkAccount bool

	// NewName appends Holder to the name registry.
	NewName bool
}

// LedgerSnapshot is the persisted ledger, each slice in insertion order.
type LedgerSnapshot struct {
	Accounts       []AccountHolder
	HolderAccounts []AccountHolder
	Names          []AccountHolder
}

// LedgerStore persists identity ledger state.
type LedgerStore interface {
	CommitLedger(ctx context.Context, delta LedgerDelta) error
	LoadLedger(ctx context.Context) (*LedgerSnapshot, error)
	ResetLedger(ctx context.Context) error
}

// ReferenceStore persists reference directory entries.
type ReferenceStore interface {
	LookupReference(ctx context.Context, account string) (string, error)
	SaveReference(ctx context.Context, account, holder string) error
	CountReferences(ctx context.Context) (int, error)
}

// Repository is the full persistence surface of one database.
type Repository interface {
	TransactionLog
	LedgerStore
	ReferenceStore

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific. PostgresURL, when set, replaces the discrete fields.
	PostgresURL      string
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
