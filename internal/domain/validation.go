package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Risk validation
// ============================================================

// RiskLevel is the coarse risk tier derived from a validation score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// riskRank orders levels from safest to riskiest.
var riskRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Valid reports whether r is a known level.
func (r RiskLevel) Valid() bool {
	_, ok := riskRank[r]
	return ok
}

// AtLeast reports whether r is as risky as, or riskier than, other.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return riskRank[r] >= riskRank[other]
}

// RiskLevelForScore maps a 0-100 score onto its tier:
// >=85 low, 65-84 medium, 40-64 high, <40 critical.
func RiskLevelForScore(score int) RiskLevel {
	switch {
	case score >= 85:
		return RiskLow
	case score >= 65:
		return RiskMedium
	case score >= 40:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// ProposedTransaction is the scorer input describing a submission.
type ProposedTransaction struct {
	CustomerID     string          `json:"customerId"`
	PaymentType    PaymentType     `json:"paymentType"`
	PaymentDetails string          `json:"paymentDetails,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Timestamp      time.Time       `json:"timestamp"`

	// RecentCount is the number of accepted submissions for the same
	// customer and method inside the frequency window, excluding this one.
	RecentCount int `json:"recentCount"`
}

// HistoryCheck reports on the payment method's track record.
type HistoryCheck struct {
	Passed            bool `json:"passed"`
	NewPaymentMethod  bool `json:"newPaymentMethod"`
	TotalTransactions int  `json:"totalTransactions"`
	IssueCount        int  `json:"issueCount"`
	IssuePenalty      int  `json:"issuePenalty"`
}

// ConsistencyCheck compares the amount with the historical average.
type ConsistencyCheck struct {
	Passed           bool    `json:"passed"`
	AverageAmount    float64 `json:"averageAmount"`
	DeviationPercent float64 `json:"deviationPercent"`
}

// VerificationCheck reports whether the payment details are a verified account.
type VerificationCheck struct {
	Passed   bool `json:"passed"`
	Verified bool `json:"verified"`
}

// FrequencyCheck compares the current submission rate with the historical baseline.
type FrequencyCheck struct {
	Passed            bool    `json:"passed"`
	CurrentFrequency  float64 `json:"currentFrequency"` // per month
	BaselineFrequency float64 `json:"baselineFrequency"`
}

// RiskCheck covers customer-level signals: account age and success rate.
type RiskCheck struct {
	Passed           bool    `json:"passed"`
	AccountAgeMonths int     `json:"accountAgeMonths"`
	NewAccount       bool    `json:"newAccount"`
	SuccessRate      float64 `json:"successRate"`
	LowSuccessRate   bool    `json:"lowSuccessRate"`
}

// ValidationChecks groups the per-check results.
type ValidationChecks struct {
	HistoryCheck      HistoryCheck      `json:"historyCheck"`
	ConsistencyCheck  ConsistencyCheck  `json:"consistencyCheck"`
	VerificationCheck VerificationCheck `json:"verificationCheck"`
	FrequencyCheck    FrequencyCheck    `json:"frequencyCheck"`
	RiskCheck         RiskCheck         `json:"riskCheck"`
}

// Deduction is one fired scoring rule.
type Deduction struct {
	Rule   string `json:"rule"`
	Points int    `json:"points"`
	Flag   string `json:"flag"`
}

// ValidationResult is computed fresh for every submission and never persisted as
// a mutable entity.
type ValidationResult struct {
	ValidationScore int              `json:"validationScore"`
	RiskLevel       RiskLevel        `json:"riskLevel"`
	Checks          ValidationChecks `json:"checks"`
	Flags           []string         `json:"flags"`
	Deductions      []Deduction      `json:"deductions"`
	EvaluatedAt     time.Time        `json:"evaluatedAt"`
}

// Decision is the orchestrator policy outcome for a validated submission.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReview Decision = "review"
	DecisionReject Decision = "reject"
)
