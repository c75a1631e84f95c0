// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"
)

// QueueStore is the single source of truth for queue item status.
// Add, MarkMatched and Expire must each be atomic.
type QueueStore interface {
	// Add assigns ID, timestamps and pending status. It fails with
	// *domain.ErrDuplicateSubmission when an identical pending item was
	// created within dedupWindow.
	Add(ctx context.Context, item *domain.QueueItem, dedupWindow time.Duration) (string, error)
	Get(ctx context.Context, id string) (*domain.QueueItem, error)
	ListPending(ctx context.Context, filter domain.ItemFilter) ([]domain.QueueItem, error)

	// MarkMatched moves both sides of the proposal to matched and records the
	// match. Pending status is re-checked at commit time and both items are
	// left untouched on failure: a lost race returns *domain.ErrAlreadyMatched,
	// an item that expired or was cancelled since the proposal returns
	// *domain.ErrInvalidStateTransition.
	MarkMatched(ctx context.Context, proposal domain.MatchProposal) (*domain.Match, error)

	// Expire moves pending items created before cutoff to expired.
	Expire(ctx context.Context, cutoff time.Time) (int, error)

	Transition(ctx context.Context, id string, from, to domain.ItemStatus) (*domain.QueueItem, error)
	ClearReview(ctx context.Context, id string) (*domain.QueueItem, error)

	GetMatch(ctx context.Context, id string) (*domain.Match, error)
	ListMatches(ctx context.Context, status domain.MatchStatus) ([]domain.Match, error)
	ConfirmMatch(ctx context.Context, id string) (*domain.Match, error)

	Stats(ctx context.Context) (*domain.QueueStats, error)
}

// HistoryStore reads payment method history owned by an external system.
// A nil history with a nil error means the customer never used the method.
type HistoryStore interface {
	GetHistory(ctx context.Context, customerID string, paymentType domain.PaymentType) (*domain.PaymentMethodHistory, error)
}

// HistoryWriter seeds history in backends the engine controls (dev tooling).
type HistoryWriter interface {
	PutHistory(ctx context.Context, h *domain.PaymentMethodHistory) error
}

// ProfileFetcher resolves customer-level data needed for scoring.
type ProfileFetcher interface {
	GetAccountAgeMonths(ctx context.Context, customerID string) (int, error)
}

// SubmissionCounter tracks accepted submissions per customer and method in a
// sliding window, feeding the frequency check.
type SubmissionCounter interface {
	Record(ctx context.Context, customerID string, paymentType domain.PaymentType, at time.Time) error
	Count(ctx context.Context, customerID string, paymentType domain.PaymentType, since time.Time) (int, error)
}

// PassLock serialises matching passes across processes.
type PassLock interface {
	// TryLock returns a release func when the lock was taken, or ok=false.
	TryLock(ctx context.Context, ttl time.Duration) (release func(), ok bool, err error)
}

// EventPublisher delivers queue lifecycle events. Delivery is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.QueueEvent) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
