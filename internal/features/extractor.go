// Package features turns a raw transaction request into the signal set
// used by the classifier and the decision overlay.
package features

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ledger"
)

// DefaultVeryHighAmount is the exclusive very-high amount threshold.
var DefaultVeryHighAmount = decimal.NewFromInt(100000)

// MaxAmount is the largest amount accepted for analysis.
var MaxAmount = decimal.New(1, 15)

// plainAmount is unsigned decimal text without exponent notation.
var plainAmount = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// Extractor computes signals and performs the ledger registration for
// each transaction it sees.
type Extractor struct {
	ledger    *ledger.Ledger
	directory domain.ReferenceDirectory
	veryHigh  decimal.Decimal
	validate  *validator.Validate
}

// NewExtractor creates an extractor. A nil directory verifies no names.
func NewExtractor(l *ledger.Ledger, dir domain.ReferenceDirectory, veryHigh decimal.Decimal) *Extractor {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Extractor{
		ledger:    l,
		directory: dir,
		veryHigh:  veryHigh,
		validate:  v,
	}
}

// Check normalizes and validates req without touching the ledger and
// returns the normalized request with its parsed amount.
func (e *Extractor) Check(req domain.TransactionRequest) (domain.TransactionRequest, decimal.Decimal, error) {
	req = req.Normalize()
	if err := e.validate.Struct(req); err != nil {
		return req, decimal.Zero, fmt.Errorf("%w: %s", domain.ErrInvalidInput, describe(err))
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return req, decimal.Zero, fmt.Errorf("%w: amount %q is not a number", domain.ErrInvalidInput, req.Amount)
	}
	if amount.IsNegative() {
		return req, decimal.Zero, fmt.Errorf("%w: amount must not be negative", domain.ErrInvalidInput)
	}
	// Exponent forms are refused before any comparison rescales them.
	if !plainAmount.MatchString(req.Amount) {
		return req, decimal.Zero, fmt.Errorf("%w: amount %q must be plain decimal digits", domain.ErrInvalidInput, req.Amount)
	}
	if amount.GreaterThan(MaxAmount) {
		return req, decimal.Zero, fmt.Errorf("%w: amount exceeds %s", domain.ErrInvalidInput, MaxAmount.String())
	}
	return req, amount, nil
}

// Extract validates req, consults the reference directory, registers the
// transaction in the ledger and returns the full signal set.
// Invalid requests fail with domain.ErrInvalidInput before the ledger is touched.
func (e *Extractor) Extract(ctx context.Context, req domain.TransactionRequest) (*domain.Signals, error) {
	req, amount, err := e.Check(req)
	if err != nil {
		return nil, err
	}

	holder := ledger.Normalize(req.HolderName)
	account := ledger.Normalize(req.AccountNumber)

	s := &domain.Signals{
		Request:          req,
		AmountValue:      amount,
		NormalizedHolder: holder,
	}
	s.Amount = amount.InexactFloat64()
	s.Country = req.Country
	s.RoutingCodeValid = ValidRoutingCode(req.RoutingCode)
	s.AccountPatternSuspicious = SuspiciousAccount(account)
	s.HighRiskCountry = e.ledger.IsHighRiskCountry(req.Country)
	s.VeryHighAmount = amount.GreaterThan(e.veryHigh)
	s.SuspiciousNamePattern = SuspiciousName(holder)

	// The directory is read before registration so a lookup failure
	// leaves the ledger untouched.
	if err := e.verifyName(ctx, s, account); err != nil {
		return nil, err
	}

	obs, err := e.ledger.Observe(ctx, account, holder)
	if err != nil {
		return nil, err
	}
	s.AccountNameInconsistent = obs.AccountNameInconsistent
	s.PreviousHolder = obs.PreviousHolder
	s.MultipleAccountsSameHolder = obs.MultipleAccountsSameHolder
	s.OtherAccounts = obs.OtherAccounts
	s.NameVariationAlert = obs.NameVariationAlert

	return s, nil
}

func (e *Extractor) verifyName(ctx context.Context, s *domain.Signals, account string) error {
	s.NameVerification = domain.NameUnknown
	if e.directory == nil {
		return nil
	}

	registered, err := e.directory.Lookup(ctx, account)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil
	case err != nil:
		if errors.Is(err, domain.ErrStorage) {
			return err
		}
		return fmt.Errorf("%w: reference lookup: %v", domain.ErrStorage, err)
	}

	s.DirectoryHolder = registered
	if ledger.Normalize(registered) == s.NormalizedHolder {
		s.NameVerification = domain.NameVerified
		s.NameMatchesAccount = true
	} else {
		s.NameVerification = domain.NameMismatch
	}
	return nil
}

// describe flattens validator errors into one message.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "max":
			msgs = append(msgs, fe.Field()+" is too long")
		default:
			msgs = append(msgs, fe.Field()+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}
