// Package risk computes the 0-100 validation score that gates queue submissions.
//
// Scoring starts at 100 and subtracts the points of every rule that fires:
//
//	history       no history: 30; otherwise 5 per issue x severity weight
//	              (low 1, medium 2, high 3), capped at 30
//	consistency   |amount - average| / average > 0.5: 20
//	verification  payment details not an active verified account: 15
//	frequency     submissions/month in the window > 3x baseline: 15
//	account_age   account younger than 6 months: 20
//	success_rate  success rate below 0.90: 25
//
// The result is clamped to [0, 100] and banded into a risk level.
package risk

import "github.com/boddenberg/p2p-queue-engine/internal/domain"

const maxScore = 100

// Scorer evaluates the deduction rules. It is safe for concurrent use.
type Scorer struct {
	table Table
	rules []Rule
}

// NewScorer creates a scorer using the given table.
func NewScorer(table Table) *Scorer {
	return &Scorer{table: table, rules: Rules()}
}

// Table returns the scoring table in use.
func (s *Scorer) Table() Table {
	return s.table
}

// Score computes a ValidationResult. It has no side effects; a nil history
// means the customer has never used the payment method.
func (s *Scorer) Score(tx domain.ProposedTransaction, history *domain.PaymentMethodHistory, accountAgeMonths int) *domain.ValidationResult {
	in := &Input{Tx: tx, History: history, AccountAgeMonths: accountAgeMonths}

	result := &domain.ValidationResult{
		Flags:       []string{},
		Deductions:  []domain.Deduction{},
		EvaluatedAt: tx.Timestamp,
	}
	result.Checks.RiskCheck.Passed = true

	score := maxScore
	for _, rule := range s.rules {
		out := rule.Evaluate(in, &s.table, &result.Checks)
		if out.Points <= 0 {
			continue
		}
		score -= out.Points
		result.Flags = append(result.Flags, out.Flag)
		result.Deductions = append(result.Deductions, domain.Deduction{
			Rule:   rule.Name,
			Points: out.Points,
			Flag:   out.Flag,
		})
		if rule.Name == "account_age" || rule.Name == "success_rate" {
			result.Checks.RiskCheck.Passed = false
		}
	}

	result.ValidationScore = clamp(score, 0, maxScore)
	result.RiskLevel = domain.RiskLevelForScore(result.ValidationScore)
	return result
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
