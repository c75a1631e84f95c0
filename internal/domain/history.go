package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Payment method history
// ============================================================

// IssueSeverity grades a logged payment issue.
type IssueSeverity string

const (
	SeverityLow    IssueSeverity = "low"
	SeverityMedium IssueSeverity = "medium"
	SeverityHigh   IssueSeverity = "high"
)

// Valid reports whether s is a known severity.
func (s IssueSeverity) Valid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

// VerifiedAccount is an account identifier the customer has proven ownership of.
type VerifiedAccount struct {
	Identifier string    `json:"identifier"`
	VerifiedAt time.Time `json:"verifiedAt"`
	IsActive   bool      `json:"isActive"`
}

// PaymentIssue is an append-only record of a problem seen on a payment method.
type PaymentIssue struct {
	Type        string        `json:"type"` // chargeback, reversal, failed, dispute
	Date        time.Time     `json:"date"`
	Description string        `json:"description"`
	Severity    IssueSeverity `json:"severity"`
}

// PaymentMethodHistory aggregates a customer's past use of one payment method.
type PaymentMethodHistory struct {
	CustomerID        string            `json:"customerId"`
	PaymentType       PaymentType       `json:"paymentType"`
	TotalTransactions int               `json:"totalTransactions"`
	SuccessRate       float64           `json:"successRate"` // 0..1
	AverageAmount     decimal.Decimal   `json:"averageAmount"`
	FirstUsed         time.Time         `json:"firstUsed"`
	LastUsed          time.Time         `json:"lastUsed"`
	FrequencyScore    float64           `json:"frequencyScore"` // transactions per month
	VerifiedAccounts  []VerifiedAccount `json:"verifiedAccounts"`
	Issues            []PaymentIssue    `json:"issues"`
}

// HasActiveAccount reports whether identifier is an active verified account.
func (h *PaymentMethodHistory) HasActiveAccount(identifier string) bool {
	if identifier == "" {
		return false
	}
	for _, acc := range h.VerifiedAccounts {
		if acc.IsActive && acc.Identifier == identifier {
			return true
		}
	}
	return false
}

// Validate checks the history invariants.
func (h *PaymentMethodHistory) Validate() error {
	if h.CustomerID == "" {
		return &ErrValidation{Field: "customerId", Message: "required"}
	}
	if !h.PaymentType.Valid() {
		return &ErrValidation{Field: "paymentType", Message: "unsupported payment type"}
	}
	if h.SuccessRate < 0 || h.SuccessRate > 1 {
		return &ErrValidation{Field: "successRate", Message: "must be between 0 and 1"}
	}
	if h.AverageAmount.IsNegative() {
		return &ErrValidation{Field: "averageAmount", Message: "must not be negative"}
	}
	for _, issue := range h.Issues {
		if !issue.Severity.Valid() {
			return &ErrValidation{Field: "issues.severity", Message: "must be low, medium or high"}
		}
	}
	return nil
}
