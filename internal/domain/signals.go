package domain

import "github.com/shopspring/decimal"

// Features is the vector handed to the classifier.
type Features struct {
	Amount                     float64 `json:"amount"`
	Country                    string  `json:"country"`
	RoutingCodeValid           bool    `json:"routingCodeValid"`
	AccountPatternSuspicious   bool    `json:"accountPatternSuspicious"`
	NameMatchesAccount         bool    `json:"nameMatchesAccount"`
	AccountNameInconsistent    bool    `json:"accountNameInconsistent"`
	HighRiskCountry            bool    `json:"highRiskCountry"`
	VeryHighAmount             bool    `json:"veryHighAmount"`
	SuspiciousNamePattern      bool    `json:"suspiciousNamePattern"`
	MultipleAccountsSameHolder bool    `json:"multipleAccountsSameHolder"`
}

// NameVerification is the outcome of checking a holder name against
// the reference directory.
type NameVerification int

const (
	// NameUnknown means the directory has no entry for the account.
	NameUnknown NameVerification = iota
	// NameVerified means the directory holder equals the submitted holder.
	NameVerified
	// NameMismatch means the directory lists a different holder.
	NameMismatch
)

func (v NameVerification) String() string {
	switch v {
	case NameVerified:
		return "verified"
	case NameMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// Signals is the feature vector plus the context the decision overlay
// needs to build reasons and risk factors.
type Signals struct {
	Features

	Request          TransactionRequest
	AmountValue      decimal.Decimal
	NormalizedHolder string

	NameVerification NameVerification
	DirectoryHolder  string

	PreviousHolder     string
	OtherAccounts      []string
	NameVariationAlert string
}
