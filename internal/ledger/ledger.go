// Package ledger tracks which holder names have been seen with which
// account numbers so that identity inconsistency, duplicate accounts and
// name variations can be detected across transactions.
package ledger

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// VariantMatcher inspects the registered full names, oldest first, and
// returns an alert for holder or "". known is only valid for the call.
type VariantMatcher func(holder string, known []string) string

// Observation is what the ledger knew about a transaction's identity
// before the transaction was registered.
type Observation struct {
	// AccountNameInconsistent is set when the account was first seen
	// under a different holder, named by PreviousHolder.
	AccountNameInconsistent bool
	PreviousHolder          string

	// MultipleAccountsSameHolder is set when the holder is known and the
	// account is new to them. OtherAccounts lists the holder's prior accounts.
	MultipleAccountsSameHolder bool
	OtherAccounts              []string

	NameVariationAlert string
}

// Stats reports the size of each ledger map.
type Stats struct {
	Accounts int `json:"accounts"`
	Holders  int `json:"holders"`
	Names    int `json:"names"`
}

// Ledger is the identity ledger. All reads and writes for one transaction
// happen under a single lock so concurrent transactions for the same
// account or holder observe each other's registrations.
type Ledger struct {
	mu sync.Mutex

	accountToHolder  map[string]string
	holderToAccounts map[string][]string

	// names keeps registry insertion order; nameAccount holds the most
	// recent account used under each name.
	names       []string
	nameAccount map[string]string

	highRisk map[string]struct{}
	match    VariantMatcher
	store    domain.LedgerStore
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithStore backs the ledger with durable storage. Every observation and
// reset is committed to the store before memory is updated.
func WithStore(store domain.LedgerStore) Option {
	return func(l *Ledger) { l.store = store }
}

// WithMatcher sets the name variation matcher.
func WithMatcher(m VariantMatcher) Option {
	return func(l *Ledger) { l.match = m }
}

// New creates an empty ledger with a fixed high-risk country set.
func New(highRiskCountries []string, opts ...Option) *Ledger {
	l := &Ledger{
		highRisk: make(map[string]struct{}, len(highRiskCountries)),
	}
	for _, c := range highRiskCountries {
		l.highRisk[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}
	l.clear()
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Normalize case-folds a name and collapses its whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(cases.Fold().String(s)), " ")
}

// IsHighRiskCountry reports whether the country code is in the static set.
func (l *Ledger) IsHighRiskCountry(country string) bool {
	_, ok := l.highRisk[strings.ToUpper(strings.TrimSpace(country))]
	return ok
}

// Observe reads the prior state for account and holder, then registers
// them. Both arguments must already be normalized. If the store cannot
// commit, nothing is registered and the error wraps domain.ErrStorage.
func (l *Ledger) Observe(ctx context.Context, account, holder string) (Observation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var obs Observation

	prev, seen := l.accountToHolder[account]
	if seen && prev != holder {
		obs.AccountNameInconsistent = true
		obs.PreviousHolder = prev
	}

	accounts, known := l.holderToAccounts[holder]
	linked := slices.Contains(accounts, account)
	if known && !linked {
		obs.MultipleAccountsSameHolder = true
		obs.OtherAccounts = slices.Clone(accounts)
	}

	_, nameSeen := l.nameAccount[holder]
	if !nameSeen && l.match != nil {
		obs.NameVariationAlert = l.match(holder, l.names)
	}

	delta := domain.LedgerDelta{
		Account:     account,
		Holder:      holder,
		NewAccount:  !seen,
		LinkAccount: !linked,
		NewName:     !nameSeen,
	}
	if l.store != nil {
		if err := l.store.CommitLedger(ctx, delta); err != nil {
			return Observation{}, fmt.Errorf("%w: commit ledger: %v", domain.ErrStorage, err)
		}
	}
	l.apply(delta)

	return obs, nil
}

func (l *Ledger) apply(d domain.LedgerDelta) {
	if d.NewAccount {
		l.accountToHolder[d.Account] = d.Holder
	}
	if d.LinkAccount {
		l.holderToAccounts[d.Holder] = append(l.holderToAccounts[d.Holder], d.Account)
	}
	if d.NewName {
		l.names = append(l.names, d.Holder)
	}
	l.nameAccount[d.Holder] = d.Account
}

// Reset empties the ledger. The high-risk country set is static and kept.
func (l *Ledger) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store != nil {
		if err := l.store.ResetLedger(ctx); err != nil {
			return fmt.Errorf("%w: reset ledger: %v", domain.ErrStorage, err)
		}
	}
	l.clear()
	return nil
}

// Restore replaces the in-memory state with the store's contents.
// It is a no-op without a store.
func (l *Ledger) Restore(ctx context.Context) error {
	if l.store == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	snap, err := l.store.LoadLedger(ctx)
	if err != nil {
		return fmt.Errorf("%w: load ledger: %v", domain.ErrStorage, err)
	}

	l.clear()
	for _, e := range snap.Accounts {
		l.accountToHolder[e.Account] = e.Holder
	}
	for _, e := range snap.HolderAccounts {
		if !slices.Contains(l.holderToAccounts[e.Holder], e.Account) {
			l.holderToAccounts[e.Holder] = append(l.holderToAccounts[e.Holder], e.Account)
		}
	}
	for _, e := range snap.Names {
		if _, ok := l.nameAccount[e.Holder]; !ok {
			l.names = append(l.names, e.Holder)
		}
		l.nameAccount[e.Holder] = e.Account
	}
	return nil
}

func (l *Ledger) clear() {
	l.accountToHolder = make(map[string]string)
	l.holderToAccounts = make(map[string][]string)
	l.names = nil
	l.nameAccount = make(map[string]string)
}

// Stats returns the current map sizes.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Accounts: len(l.accountToHolder),
		Holders:  len(l.holderToAccounts),
		Names:    len(l.names),
	}
}
