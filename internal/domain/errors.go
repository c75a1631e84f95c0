package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error types for consistent error handling across the queue engine.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrValidationRejected indicates the risk policy blocked a submission.
// Result carries the full breakdown so callers can explain the decision.
type ErrValidationRejected struct {
	Result *ValidationResult
}

func (e *ErrValidationRejected) Error() string {
	if e.Result == nil {
		return "submission rejected by risk policy"
	}
	msg := fmt.Sprintf("submission rejected by risk policy: score=%d risk=%s",
		e.Result.ValidationScore, e.Result.RiskLevel)
	if len(e.Result.Flags) > 0 {
		msg += " flags=" + strings.Join(e.Result.Flags, ",")
	}
	return msg
}

// ErrDuplicateSubmission indicates a near-identical pending item was submitted
// inside the dedup window.
type ErrDuplicateSubmission struct {
	CustomerID  string
	Type        ItemType
	Amount      string
	PaymentType PaymentType
	ExistingID  string
}

func (e *ErrDuplicateSubmission) Error() string {
	return fmt.Sprintf("duplicate submission: %s %s %s via %s already pending as %s",
		e.CustomerID, e.Type, e.Amount, e.PaymentType, e.ExistingID)
}

// ErrAlreadyMatched indicates an optimistic-concurrency conflict while committing
// a match: the item was no longer pending.
type ErrAlreadyMatched struct {
	ItemID string
	Status ItemStatus
}

func (e *ErrAlreadyMatched) Error() string {
	return fmt.Sprintf("queue item %s is no longer pending (status=%s)", e.ItemID, e.Status)
}

// ErrInvalidStateTransition indicates a move the item lifecycle does not allow.
type ErrInvalidStateTransition struct {
	ItemID string
	From   ItemStatus
	To     ItemStatus
}

func (e *ErrInvalidStateTransition) Error() string {
	return fmt.Sprintf("invalid state transition for %s: %s -> %s", e.ItemID, e.From, e.To)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrPassInProgress is returned when another matching pass holds the pass lock.
var ErrPassInProgress = errors.New("matching pass already in progress")

// IsPermanent reports whether err is a domain outcome that retrying cannot change.
func IsPermanent(err error) bool {
	var (
		notFound   *ErrNotFound
		validation *ErrValidation
		rejected   *ErrValidationRejected
		duplicate  *ErrDuplicateSubmission
		matched    *ErrAlreadyMatched
		transition *ErrInvalidStateTransition
	)
	return errors.As(err, &notFound) ||
		errors.As(err, &validation) ||
		errors.As(err, &rejected) ||
		errors.As(err, &duplicate) ||
		errors.As(err, &matched) ||
		errors.As(err, &transition)
}
