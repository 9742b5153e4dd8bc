package decision

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Factor names in display order.
const (
	FactorModel          = "AI Model Risk Analysis"
	FactorNameVerify     = "Account Name Verification"
	FactorAccountHistory = "Account Usage History"
	FactorDuplicates     = "Duplicate Accounts"
	FactorNameVariation  = "Name Variation Detection"
	FactorNamePattern    = "Name Pattern Analysis"
	FactorGeography      = "Geographic Risk"
	FactorAmount         = "Transaction Amount"
	FactorRoutingCode    = "IFSC Code Validation"
	FactorAccountFormat  = "Account Number Validation"
)

// riskFactors lists every factor in fixed order. Severities follow the
// signals alone, not the ladder rule that fired.
func (p *Processor) riskFactors(prob float64, s *domain.Signals) []domain.RiskFactor {
	factors := make([]domain.RiskFactor, 0, 10)
	add := func(name string, risk domain.Severity, comment string) {
		factors = append(factors, domain.RiskFactor{Factor: name, Risk: risk, Comment: comment})
	}

	modelRisk := domain.SeverityLow
	switch {
	case prob > p.DeclineThreshold:
		modelRisk = domain.SeverityHigh
	case prob > p.ReviewThreshold:
		modelRisk = domain.SeverityMedium
	}
	add(FactorModel, modelRisk, fmt.Sprintf("Model assigned a %.1f%% risk score.", prob*100))

	add(FactorNameVerify, flag(!s.NameMatchesAccount, domain.SeverityHigh), nameComment(s))

	history := "Account history consistent"
	if s.AccountNameInconsistent {
		history = inconsistencyDetail(s)
	}
	add(FactorAccountHistory, flag(s.AccountNameInconsistent, domain.SeverityHigh), history)

	dup := "No duplicate accounts detected"
	if s.MultipleAccountsSameHolder {
		dup = fmt.Sprintf("ALERT: This person '%s' already has %d other account(s): %s",
			s.NormalizedHolder, len(s.OtherAccounts), strings.Join(s.OtherAccounts, ", "))
	}
	add(FactorDuplicates, flag(s.MultipleAccountsSameHolder, domain.SeverityCritical), dup)

	if s.NameVariationAlert != "" {
		add(FactorNameVariation, domain.SeverityHigh, s.NameVariationAlert)
	}

	pattern := "Name pattern appears normal"
	if s.SuspiciousNamePattern {
		pattern = "Suspicious name pattern detected"
	}
	add(FactorNamePattern, flag(s.SuspiciousNamePattern, domain.SeverityHigh), pattern)

	geo := fmt.Sprintf("Country '%s' has normal fraud risk", s.Country)
	if s.HighRiskCountry {
		geo = fmt.Sprintf("Country '%s' is in high-risk fraud list", s.Country)
	}
	add(FactorGeography, flag(s.HighRiskCountry, domain.SeverityHigh), geo)

	amount := "Amount: " + formatAmount(s)
	if s.VeryHighAmount {
		amount = "Very high amount: " + formatAmount(s)
	}
	add(FactorAmount, p.amountTier(s), amount)

	routing := "IFSC format valid"
	if !s.RoutingCodeValid {
		routing = "Invalid IFSC code format/length"
	}
	add(FactorRoutingCode, flag(!s.RoutingCodeValid, domain.SeverityHigh), routing)

	acct := "Account format OK"
	if s.AccountPatternSuspicious {
		acct = "Suspicious account number pattern"
	}
	add(FactorAccountFormat, flag(s.AccountPatternSuspicious, domain.SeverityMedium), acct)

	return factors
}

func (p *Processor) amountTier(s *domain.Signals) domain.Severity {
	switch {
	case s.VeryHighAmount:
		return domain.SeverityCritical
	case s.AmountValue.GreaterThan(p.HighAmount):
		return domain.SeverityHigh
	case s.AmountValue.GreaterThan(p.MediumAmount):
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func nameComment(s *domain.Signals) string {
	switch s.NameVerification {
	case domain.NameVerified:
		return "Name verified"
	case domain.NameMismatch:
		return "Name mismatch! Correct name is: " + s.DirectoryHolder
	default:
		return "Account holder could not be verified"
	}
}

// flag returns sev when set, Low otherwise.
func flag(set bool, sev domain.Severity) domain.Severity {
	if set {
		return sev
	}
	return domain.SeverityLow
}

func formatAmount(s *domain.Signals) string {
	p := message.NewPrinter(language.English)
	return p.Sprint(number.Decimal(s.AmountValue.InexactFloat64(), number.Scale(2)))
}
