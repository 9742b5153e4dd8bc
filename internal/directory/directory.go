// Package directory implements the reference directory of registered
// account holders used for name verification.
package directory

import (
	"context"
	"fmt"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ledger"
)

// Directory is a reference directory that accepts new entries.
type Directory interface {
	domain.ReferenceDirectory
	Put(ctx context.Context, account, holder string) error
}

// DemoAccounts seed a fresh directory.
var DemoAccounts = map[string]string{
	"123456789012": "gumma ganesh",
	"987654321012": "chandu",
	"111122223333": "john doe",
}

func checkEntry(account, holder string) error {
	if account == "" || holder == "" {
		return fmt.Errorf("%w: account and holder are required", domain.ErrInvalidInput)
	}
	return nil
}

// Static is an in-memory directory.
type Static struct {
	mu      sync.RWMutex
	holders map[string]string
}

// NewStatic returns a directory holding a copy of seed.
func NewStatic(seed map[string]string) *Static {
	s := &Static{holders: make(map[string]string, len(seed))}
	for account, holder := range seed {
		s.holders[ledger.Normalize(account)] = holder
	}
	return s
}

// Lookup returns domain.ErrNotFound for unknown accounts.
func (s *Static) Lookup(_ context.Context, account string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	holder, ok := s.holders[ledger.Normalize(account)]
	if !ok {
		return "", domain.ErrNotFound
	}
	return holder, nil
}

// Put adds or replaces an entry.
func (s *Static) Put(_ context.Context, account, holder string) error {
	account = ledger.Normalize(account)
	if err := checkEntry(account, holder); err != nil {
		return err
	}

	s.mu.Lock()
	s.holders[account] = holder
	s.mu.Unlock()
	return nil
}

// SQL is a directory backed by the repository's reference table.
type SQL struct {
	store domain.ReferenceStore
}

// NewSQL wraps a reference store.
func NewSQL(store domain.ReferenceStore) *SQL {
	return &SQL{store: store}
}

// Seed writes seed into an empty store and reports how many entries it wrote.
// A store that already has entries is left alone.
func (d *SQL) Seed(ctx context.Context, seed map[string]string) (int, error) {
	n, err := d.store.CountReferences(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}

	for account, holder := range seed {
		if err := d.Put(ctx, account, holder); err != nil {
			return 0, err
		}
	}
	return len(seed), nil
}

// Lookup returns domain.ErrNotFound for unknown accounts.
func (d *SQL) Lookup(ctx context.Context, account string) (string, error) {
	return d.store.LookupReference(ctx, ledger.Normalize(account))
}

// Put adds or replaces an entry.
func (d *SQL) Put(ctx context.Context, account, holder string) error {
	account = ledger.Normalize(account)
	if err := checkEntry(account, holder); err != nil {
		return err
	}
	return d.store.SaveReference(ctx, account, holder)
}
