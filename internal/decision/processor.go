// Package decision turns a fraud probability and a signal set into the
// final, explained verdict.
package decision

import (
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Processor applies the probability baseline and the override ladder.
type Processor struct {
	// Probabilities strictly above these produce declined / review.
	DeclineThreshold float64
	ReviewThreshold  float64

	// Amount tiers used for the Transaction Amount factor.
	HighAmount   decimal.Decimal
	MediumAmount decimal.Decimal

	Ladder []Rule
}

// NewProcessor creates a processor with the default thresholds and ladder.
func NewProcessor() *Processor {
	return &Processor{
		DeclineThreshold: 0.75,
		ReviewThreshold:  0.4,
		HighAmount:       decimal.NewFromInt(50000),
		MediumAmount:     decimal.NewFromInt(10000),
		Ladder:           DefaultLadder(),
	}
}

// Decide produces the decision for probability p and returns the name of
// the rule that set the status. It never fails.
func (p *Processor) Decide(prob float64, s *domain.Signals) (*domain.Decision, string) {
	status, reason, rule := p.baseline(prob)

	for _, r := range p.Ladder {
		if r.Applies(s) {
			status, reason, rule = r.Status, r.Reason(s), r.Name
			break
		}
	}

	return &domain.Decision{
		FraudScore:  prob,
		Status:      status,
		Reason:      reason,
		RiskFactors: p.riskFactors(prob, s),
	}, rule
}

func (p *Processor) baseline(prob float64) (domain.Status, string, string) {
	switch {
	case prob > p.DeclineThreshold:
		return domain.StatusDeclined,
			fmt.Sprintf("Transaction automatically declined due to high fraud risk (AI Score > %s%%).", percent(p.DeclineThreshold)),
			RuleBaselineDecline
	case prob > p.ReviewThreshold:
		return domain.StatusReview,
			fmt.Sprintf("Transaction flagged for manual review (AI Score %s-%s%%).", percent(p.ReviewThreshold), percent(p.DeclineThreshold)),
			RuleBaselineReview
	default:
		return domain.StatusApproved,
			fmt.Sprintf("Transaction appears legitimate (AI Score < %s%%).", percent(p.ReviewThreshold)),
			RuleBaselineApprove
	}
}

// percent renders a threshold as a percentage with at most one decimal.
func percent(t float64) string {
	return strconv.FormatFloat(math.Round(t*1000)/10, 'f', -1, 64)
}
