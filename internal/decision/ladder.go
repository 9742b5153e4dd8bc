package decision

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Rule is one step of the override ladder. The first rule whose Applies
// returns true sets the final status and reason; later rules are skipped.
type Rule struct {
	Name    string
	Status  domain.Status
	Applies func(s *domain.Signals) bool
	Reason  func(s *domain.Signals) string
}

// Rule names, also used as metric labels.
const (
	RuleBaselineDecline         = "baseline_decline"
	RuleBaselineReview          = "baseline_review"
	RuleBaselineApprove         = "baseline_approve"
	RuleNameVariation           = "name_variation"
	RuleMultipleAccounts        = "multiple_accounts"
	RuleSuspiciousNamePattern   = "suspicious_name_pattern"
	RuleNameNotVerified         = "name_not_verified"
	RuleAccountNameInconsistent = "account_name_inconsistent"
	RuleHighRiskCountryAmount   = "high_risk_country_large_amount"
)

// DefaultLadder returns the override rules in precedence order.
func DefaultLadder() []Rule {
	return []Rule{
		{
			Name:    RuleNameVariation,
			Status:  domain.StatusReview,
			Applies: func(s *domain.Signals) bool { return s.NameVariationAlert != "" },
			Reason: func(s *domain.Signals) string {
				return s.NameVariationAlert + " - Transaction flagged for review."
			},
		},
		{
			Name:    RuleMultipleAccounts,
			Status:  domain.StatusDeclined,
			Applies: func(s *domain.Signals) bool { return s.MultipleAccountsSameHolder },
			Reason: func(*domain.Signals) string {
				return "FRAUD DETECTED: This person has multiple accounts. Transaction declined immediately."
			},
		},
		{
			Name:    RuleSuspiciousNamePattern,
			Status:  domain.StatusReview,
			Applies: func(s *domain.Signals) bool { return s.SuspiciousNamePattern },
			Reason: func(*domain.Signals) string {
				return "Suspicious name pattern detected. Transaction flagged for manual review."
			},
		},
		{
			Name:    RuleNameNotVerified,
			Status:  domain.StatusReview,
			Applies: func(s *domain.Signals) bool { return !s.NameMatchesAccount },
			Reason: func(s *domain.Signals) string {
				if s.NameVerification == domain.NameMismatch {
					return "Transaction flagged for review: Account holder name does not match the registered holder."
				}
				return "Transaction flagged for review: Account holder name could not be verified."
			},
		},
		{
			Name:    RuleAccountNameInconsistent,
			Status:  domain.StatusDeclined,
			Applies: func(s *domain.Signals) bool { return s.AccountNameInconsistent },
			Reason: func(s *domain.Signals) string {
				return "Transaction declined: Account name inconsistent! " + inconsistencyDetail(s)
			},
		},
		{
			Name:    RuleHighRiskCountryAmount,
			Status:  domain.StatusReview,
			Applies: func(s *domain.Signals) bool { return s.HighRiskCountry && s.VeryHighAmount },
			Reason: func(*domain.Signals) string {
				return "Transaction flagged: High-risk country + large amount requires manual review."
			},
		},
	}
}

func inconsistencyDetail(s *domain.Signals) string {
	return fmt.Sprintf("Previously used: '%s', now using: '%s'", s.PreviousHolder, s.NormalizedHolder)
}
