package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Matches
// ============================================================

// MatchStatus tracks a committed pairing through settlement.
type MatchStatus string

const (
	MatchStatusMatched   MatchStatus = "matched"
	MatchStatusConfirmed MatchStatus = "confirmed"
)

// MatchProposal is a candidate pairing produced by the matching engine.
// Proposals are not persisted; the orchestrator commits them one at a time.
type MatchProposal struct {
	WithdrawalID  string          `json:"withdrawalId"`
	DepositID     string          `json:"depositId"`
	PaymentType   PaymentType     `json:"paymentType"`
	MatchScore    float64         `json:"matchScore"`
	SettledAmount decimal.Decimal `json:"settledAmount"`
	Remainder     decimal.Decimal `json:"remainder"`
}

// Match is a committed withdrawal/deposit pairing.
type Match struct {
	ID            string          `json:"id"`
	WithdrawalID  string          `json:"withdrawalId"`
	DepositID     string          `json:"depositId"`
	PaymentType   PaymentType     `json:"paymentType"`
	MatchScore    float64         `json:"matchScore"`
	SettledAmount decimal.Decimal `json:"settledAmount"`
	Remainder     decimal.Decimal `json:"remainder"`
	Status        MatchStatus     `json:"status"`
	MatchedAt     time.Time       `json:"matchedAt"`
	ConfirmedAt   *time.Time      `json:"confirmedAt,omitempty"`
}

// MatchingPassResult summarises one matching pass.
type MatchingPassResult struct {
	Matches   []Match   `json:"matches"`
	Proposed  int       `json:"proposed"`
	Conflicts int       `json:"conflicts"`
	StartedAt time.Time `json:"startedAt"`
	Duration  string    `json:"duration"`
}
