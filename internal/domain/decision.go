package domain

import (
	"encoding/json"
	"fmt"
)

// Status is the final verdict for a transaction.
type Status string

const (
	StatusApproved Status = "approved"
	StatusReview   Status = "review"
	StatusDeclined Status = "declined"
)

// Severity grades a single risk factor.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"Low", "Medium", "High", "Critical"}

func (s Severity) String() string {
	if s < SeverityLow || s > SeverityCritical {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

// MarshalJSON encodes the severity by name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a severity name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range severityNames {
		if n == name {
			*s = Severity(i)
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", name)
}

// RiskFactor is one line of the decision explanation.
type RiskFactor struct {
	Factor  string   `json:"factor"`
	Risk    Severity `json:"risk"`
	Comment string   `json:"comment"`
}

// Decision is the response returned to the caller and persisted with
// the transaction record.
type Decision struct {
	FraudScore  float64      `json:"fraudScore"`
	Status      Status       `json:"status"`
	Reason      string       `json:"reason"`
	RiskFactors []RiskFactor `json:"riskFactors"`
}
