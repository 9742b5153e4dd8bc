package domain

import (
	"strings"
	"time"
)

// DefaultCountry is assumed when a request omits the country.
const DefaultCountry = "IN"

// TransactionRequest is the raw transaction submitted for analysis.
// Amount is kept as text so it can be parsed exactly.
type TransactionRequest struct {
	HolderName    string `json:"accountHolder" validate:"required,max=128"`
	AccountNumber string `json:"accountNumber" validate:"required,max=34"`
	RoutingCode   string `json:"ifscCode" validate:"required,max=32"`
	Country       string `json:"country" validate:"omitempty,max=3"`
	Amount        string `json:"amount" validate:"required,max=32"`
}

// Normalize trims every field and applies the default country.
func (r TransactionRequest) Normalize() TransactionRequest {
	out := TransactionRequest{
		HolderName:    strings.TrimSpace(r.HolderName),
		AccountNumber: strings.TrimSpace(r.AccountNumber),
		RoutingCode:   strings.TrimSpace(r.RoutingCode),
		Country:       strings.ToUpper(strings.TrimSpace(r.Country)),
		Amount:        strings.TrimSpace(r.Amount),
	}
	if out.Country == "" {
		out.Country = DefaultCountry
	}
	return out
}

// TransactionRecord is one entry of the transaction log.
type TransactionRecord struct {
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Caller    string             `json:"caller,omitempty"`
	Input     TransactionRequest `json:"input"`
	Result    Decision           `json:"result"`
}

// Date returns the UTC calendar date the record is grouped under.
func (r *TransactionRecord) Date() string {
	return r.Timestamp.UTC().Format(DateLayout)
}

// DateLayout is the key format used by the by-date history view.
const DateLayout = "2006-01-02"

// Submission is the bus payload for asynchronous analysis.
type Submission struct {
	ID      string             `json:"id"`
	Caller  string             `json:"caller"`
	Request TransactionRequest `json:"request"`
}
