package risk

import (
	"math"
	"time"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"
)

// daysPerMonth normalises window counts to the monthly frequency baseline.
const daysPerMonth = 30.0

// Table holds every point value and threshold used by the rules.
type Table struct {
	NewMethodPenalty int // no history for this method
	IssueBasePoints  int // per logged issue, times the severity weight
	IssuePenaltyCap  int

	DeviationThreshold float64 // fraction of the historical average
	DeviationPenalty   int

	UnverifiedPenalty int

	FrequencyWindow     time.Duration
	FrequencyMultiplier float64 // flag when current > multiplier * baseline
	FrequencyPenalty    int

	MinAccountAgeMonths int
	NewAccountPenalty   int

	MinSuccessRate    float64
	LowSuccessPenalty int
}

// DefaultTable is the documented scoring table.
func DefaultTable() Table {
	return Table{
		NewMethodPenalty: 30,
		IssueBasePoints:  5,
		IssuePenaltyCap:  30,

		DeviationThreshold: 0.5,
		DeviationPenalty:   20,

		UnverifiedPenalty: 15,

		FrequencyWindow:     30 * 24 * time.Hour,
		FrequencyMultiplier: 3,
		FrequencyPenalty:    15,

		MinAccountAgeMonths: 6,
		NewAccountPenalty:   20,

		MinSuccessRate:    0.90,
		LowSuccessPenalty: 25,
	}
}

// severityWeight multiplies the per-issue base points.
var severityWeight = map[domain.IssueSeverity]int{
	domain.SeverityLow:    1,
	domain.SeverityMedium: 2,
	domain.SeverityHigh:   3,
}

// Input is everything a rule may look at.
type Input struct {
	Tx               domain.ProposedTransaction
	History          *domain.PaymentMethodHistory
	AccountAgeMonths int
}

// Outcome is the result of one rule. Points are subtracted from the score.
type Outcome struct {
	Points int
	Flag   string
}

// Rule is a named deduction. Evaluate records its supporting numbers in checks.
type Rule struct {
	Name     string
	Evaluate func(in *Input, t *Table, checks *domain.ValidationChecks) Outcome
}

// Rules returns the deduction rules in evaluation order.
func Rules() []Rule {
	return []Rule{
		{Name: "history", Evaluate: historyRule},
		{Name: "consistency", Evaluate: consistencyRule},
		{Name: "verification", Evaluate: verificationRule},
		{Name: "frequency", Evaluate: frequencyRule},
		{Name: "account_age", Evaluate: accountAgeRule},
		{Name: "success_rate", Evaluate: successRateRule},
	}
}

func historyRule(in *Input, t *Table, checks *domain.ValidationChecks) Outcome {
	c := &checks.HistoryCheck
	if in.History == nil {
		c.Passed = false
		c.NewPaymentMethod = true
		return Outcome{Points: t.NewMethodPenalty, Flag: "new payment method"}
	}

	c.TotalTransactions = in.History.TotalTransactions
	c.IssueCount = len(in.History.Issues)

	penalty := 0
	for _, issue := range in.History.Issues {
		weight, ok := severityWeight[issue.Severity]
		if !ok {
			weight = severityWeight[domain.SeverityHigh]
		}
		penalty += t.IssueBasePoints * weight
	}
	if penalty > t.IssuePenaltyCap {
		penalty = t.IssuePenaltyCap
	}
	c.IssuePenalty = penalty

	if penalty == 0 {
		c.Passed = true
		return Outcome{}
	}
	c.Passed = false
	return Outcome{Points: penalty, Flag: "payment issues on record"}
}

func consistencyRule(in *Input, t *Table, checks *domain.ValidationChecks) Outcome {
	c := &checks.ConsistencyCheck
	c.Passed = true
	if in.History == nil || !in.History.AverageAmount.IsPositive() {
		return Outcome{}
	}

	avg := in.History.AverageAmount
	deviation, _ := in.Tx.Amount.Sub(avg).Abs().Div(avg).Float64()
	c.AverageAmount = avg.InexactFloat64()
	c.DeviationPercent = math.Round(deviation*10000) / 100

	if deviation > t.DeviationThreshold {
		c.Passed = false
		return Outcome{Points: t.DeviationPenalty, Flag: "amount deviation"}
	}
	return Outcome{}
}

func verificationRule(in *Input, t *Table, checks *domain.ValidationChecks) Outcome {
	c := &checks.VerificationCheck
	if in.History != nil && in.History.HasActiveAccount(in.Tx.PaymentDetails) {
		c.Passed = true
		c.Verified = true
		return Outcome{}
	}
	c.Passed = false
	return Outcome{Points: t.UnverifiedPenalty, Flag: "unverified account"}
}

func frequencyRule(in *Input, t *Table, checks *domain.ValidationChecks) Outcome {
	c := &checks.FrequencyCheck
	c.Passed = true

	window := t.FrequencyWindow
	if window <= 0 {
		window = DefaultTable().FrequencyWindow
	}
	windowDays := window.Hours() / 24
	current := float64(in.Tx.RecentCount+1) * daysPerMonth / windowDays
	c.CurrentFrequency = math.Round(current*100) / 100

	if in.History == nil || in.History.FrequencyScore <= 0 {
		return Outcome{}
	}
	c.BaselineFrequency = in.History.FrequencyScore

	// A single submission inside the window is the smallest rate the window
	// can express, so the baseline is floored there. Otherwise a rare user
	// would trip the rule with the proposed transaction alone.
	baseline := math.Max(in.History.FrequencyScore, daysPerMonth/windowDays)
	if current > t.FrequencyMultiplier*baseline {
		c.Passed = false
		return Outcome{Points: t.FrequencyPenalty, Flag: "high frequency"}
	}
	return Outcome{}
}

func accountAgeRule(in *Input, t *Table, checks *domain.ValidationChecks) Outcome {
	c := &checks.RiskCheck
	c.AccountAgeMonths = in.AccountAgeMonths
	if in.AccountAgeMonths < t.MinAccountAgeMonths {
		c.NewAccount = true
		return Outcome{Points: t.NewAccountPenalty, Flag: "new account"}
	}
	return Outcome{}
}

func successRateRule(in *Input, t *Table, checks *domain.ValidationChecks) Outcome {
	c := &checks.RiskCheck
	if in.History == nil {
		return Outcome{}
	}
	c.SuccessRate = in.History.SuccessRate
	if in.History.SuccessRate < t.MinSuccessRate {
		c.LowSuccessRate = true
		return Outcome{Points: t.LowSuccessPenalty, Flag: "low success rate"}
	}
	return Outcome{}
}
