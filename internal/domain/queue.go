package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Queue items
// ============================================================

// ItemType distinguishes money leaving (withdrawal) from money entering (deposit).
type ItemType string

const (
	ItemTypeWithdrawal ItemType = "withdrawal"
	ItemTypeDeposit    ItemType = "deposit"
)

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	return t == ItemTypeWithdrawal || t == ItemTypeDeposit
}

// PaymentType is the settlement rail used by an item.
type PaymentType string

const (
	PaymentBankTransfer PaymentType = "bank_transfer"
	PaymentVenmo        PaymentType = "venmo"
	PaymentCashApp      PaymentType = "cashapp"
	PaymentPayPal       PaymentType = "paypal"
	PaymentZelle        PaymentType = "zelle"
)

// PaymentTypes lists every supported payment method.
var PaymentTypes = []PaymentType{
	PaymentBankTransfer,
	PaymentVenmo,
	PaymentCashApp,
	PaymentPayPal,
	PaymentZelle,
}

// Valid reports whether p is a supported payment method.
func (p PaymentType) Valid() bool {
	for _, known := range PaymentTypes {
		if p == known {
			return true
		}
	}
	return false
}

// ItemStatus is the lifecycle state of a queue item.
type ItemStatus string

const (
	StatusPending   ItemStatus = "pending"
	StatusMatched   ItemStatus = "matched"
	StatusConfirmed ItemStatus = "confirmed"
	StatusExpired   ItemStatus = "expired"
	StatusCancelled ItemStatus = "cancelled"
)

// ItemStatuses lists every status, in lifecycle order.
var ItemStatuses = []ItemStatus{
	StatusPending,
	StatusMatched,
	StatusConfirmed,
	StatusExpired,
	StatusCancelled,
}

// transitions holds the allowed status moves. Anything not listed is rejected.
var transitions = map[ItemStatus][]ItemStatus{
	StatusPending: {StatusMatched, StatusExpired, StatusCancelled},
	StatusMatched: {StatusConfirmed},
}

// CanTransition reports whether an item may move from one status to another.
func CanTransition(from, to ItemStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible from s.
func (s ItemStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// Priority bounds. Lower value means higher priority.
const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = MinPriority
)

// QueueItem is a pending (or settled) withdrawal or deposit request.
type QueueItem struct {
	ID              string          `json:"id"`
	Type            ItemType        `json:"type"`
	CustomerID      string          `json:"customerId"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentType     PaymentType     `json:"paymentType"`
	PaymentDetails  string          `json:"paymentDetails"`
	Priority        int             `json:"priority"`
	Status          ItemStatus      `json:"status"`
	RequiresReview  bool            `json:"requiresReview"`
	ValidationScore int             `json:"validationScore"`
	RiskLevel       RiskLevel       `json:"riskLevel"`
	MatchID         string          `json:"matchId,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Matchable reports whether the item can take part in a matching pass.
func (q *QueueItem) Matchable() bool {
	return q.Status == StatusPending && !q.RequiresReview
}

// MatchCommitError returns nil when the item can still be committed to a
// match. Expired and cancelled items report an invalid transition. Matched,
// confirmed and review-held items report a commit conflict.
func (q *QueueItem) MatchCommitError() error {
	switch {
	case q.Matchable():
		return nil
	case q.Status == StatusExpired, q.Status == StatusCancelled:
		return &ErrInvalidStateTransition{ItemID: q.ID, From: q.Status, To: StatusMatched}
	default:
		return &ErrAlreadyMatched{ItemID: q.ID, Status: q.Status}
	}
}

// DedupKey identifies near-identical submissions.
func (q *QueueItem) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s|%s", q.CustomerID, q.Type, q.Amount.String(), q.PaymentType)
}

// SubmissionRequest is the payload accepted by the submission API.
type SubmissionRequest struct {
	Type             ItemType        `json:"type"`
	CustomerID       string          `json:"customerId"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentType      PaymentType     `json:"paymentType"`
	PaymentDetails   string          `json:"paymentDetails"`
	Priority         int             `json:"priority,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	AccountAgeMonths *int            `json:"accountAgeMonths,omitempty"`
}

// SubmissionResult is returned for an accepted submission.
type SubmissionResult struct {
	ID             string            `json:"id"`
	Status         ItemStatus        `json:"status"`
	RequiresReview bool              `json:"requiresReview"`
	Validation     *ValidationResult `json:"validation"`
}

// ItemFilter narrows pending-item listings. Zero fields match everything.
type ItemFilter struct {
	Type        ItemType
	CustomerID  string
	PaymentType PaymentType
}

// Matches reports whether item satisfies the filter.
func (f ItemFilter) Matches(item *QueueItem) bool {
	if f.Type != "" && item.Type != f.Type {
		return false
	}
	if f.CustomerID != "" && item.CustomerID != f.CustomerID {
		return false
	}
	if f.PaymentType != "" && item.PaymentType != f.PaymentType {
		return false
	}
	return true
}
