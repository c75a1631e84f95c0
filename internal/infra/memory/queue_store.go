// Package memory holds process-local implementations of the queue ports.
// They back the default single-instance deployment and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// QueueStore is a mutex-guarded QueueStore. A single lock makes Add,
// MarkMatched and Expire atomic with respect to each other.
type QueueStore struct {
	mu      sync.Mutex
	items   map[string]*domain.QueueItem
	order   []string
	matches map[string]*domain.Match
	now     func() time.Time
}

// NewQueueStore creates an empty store. A nil clock means time.Now.
func NewQueueStore(now func() time.Time) *QueueStore {
	if now == nil {
		now = time.Now
	}
	return &QueueStore{
		items:   make(map[string]*domain.QueueItem),
		matches: make(map[string]*domain.Match),
		now:     now,
	}
}

// Add inserts item as pending. A non-zero CreatedAt is kept so callers can
// share a clock with the store.
func (s *QueueStore) Add(_ context.Context, item *domain.QueueItem, dedupWindow time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}
	if dedupWindow > 0 {
		if dup := s.findDuplicate(item, item.CreatedAt.Add(-dedupWindow)); dup != nil {
			return "", &domain.ErrDuplicateSubmission{
				CustomerID:  item.CustomerID,
				Type:        item.Type,
				Amount:      item.Amount.String(),
				PaymentType: item.PaymentType,
				ExistingID:  dup.ID,
			}
		}
	}

	stored := *item
	stored.ID = uuid.NewString()
	stored.Status = domain.StatusPending
	stored.MatchID = ""
	stored.UpdatedAt = stored.CreatedAt

	s.items[stored.ID] = &stored
	s.order = append(s.order, stored.ID)

	item.ID = stored.ID
	item.Status = stored.Status
	item.UpdatedAt = stored.UpdatedAt
	return stored.ID, nil
}

func (s *QueueStore) findDuplicate(item *domain.QueueItem, since time.Time) *domain.QueueItem {
	key := item.DedupKey()
	for _, id := range s.order {
		existing := s.items[id]
		if existing.Status != domain.StatusPending || existing.CreatedAt.Before(since) {
			continue
		}
		if existing.DedupKey() == key {
			return existing
		}
	}
	return nil
}

// Get returns a copy of the item.
func (s *QueueStore) Get(_ context.Context, id string) (*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "queue_item", ID: id}
	}
	cp := *item
	return &cp, nil
}

// ListPending returns pending items in insertion order, including those held
// for review.
func (s *QueueStore) ListPending(_ context.Context, filter domain.ItemFilter) ([]domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.QueueItem, 0)
	for _, id := range s.order {
		item := s.items[id]
		if item.Status == domain.StatusPending && filter.Matches(item) {
			out = append(out, *item)
		}
	}
	return out, nil
}

// MarkMatched re-checks both items under the lock and commits the pair only
// if both are still matchable.
func (s *QueueStore) MarkMatched(_ context.Context, p domain.MatchProposal) (*domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.matchable(p.WithdrawalID)
	if err != nil {
		return nil, err
	}
	d, err := s.matchable(p.DepositID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	m := &domain.Match{
		ID:            ulid.Make().String(),
		WithdrawalID:  p.WithdrawalID,
		DepositID:     p.DepositID,
		PaymentType:   p.PaymentType,
		MatchScore:    p.MatchScore,
		SettledAmount: p.SettledAmount,
		Remainder:     p.Remainder,
		Status:        domain.MatchStatusMatched,
		MatchedAt:     now,
	}
	for _, item := range []*domain.QueueItem{w, d} {
		item.Status = domain.StatusMatched
		item.MatchID = m.ID
		item.UpdatedAt = now
	}
	s.matches[m.ID] = m

	cp := *m
	return &cp, nil
}

func (s *QueueStore) matchable(id string) (*domain.QueueItem, error) {
	item, ok := s.items[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "queue_item", ID: id}
	}
	if err := item.MatchCommitError(); err != nil {
		return nil, err
	}
	return item, nil
}

// Expire moves pending items created before cutoff to expired. Items held
// for review expire too.
func (s *QueueStore) Expire(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, item := range s.items {
		if item.Status == domain.StatusPending && item.CreatedAt.Before(cutoff) {
			item.Status = domain.StatusExpired
			item.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// Transition moves an item from one status to another, failing when the
// current status differs from `from` or the move is not allowed.
func (s *QueueStore) Transition(_ context.Context, id string, from, to domain.ItemStatus) (*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "queue_item", ID: id}
	}
	if item.Status != from || !domain.CanTransition(from, to) {
		return nil, &domain.ErrInvalidStateTransition{ItemID: id, From: item.Status, To: to}
	}
	item.Status = to
	item.UpdatedAt = s.now()

	cp := *item
	return &cp, nil
}

// ClearReview releases a pending item held for review into matching.
func (s *QueueStore) ClearReview(_ context.Context, id string) (*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "queue_item", ID: id}
	}
	if item.Status != domain.StatusPending {
		return nil, &domain.ErrInvalidStateTransition{ItemID: id, From: item.Status, To: domain.StatusPending}
	}
	item.RequiresReview = false
	item.UpdatedAt = s.now()

	cp := *item
	return &cp, nil
}

// GetMatch returns a copy of the match.
func (s *QueueStore) GetMatch(_ context.Context, id string) (*domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "match", ID: id}
	}
	cp := *m
	return &cp, nil
}

// ListMatches returns matches, newest first. An empty status lists all.
func (s *QueueStore) ListMatches(_ context.Context, status domain.MatchStatus) ([]domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Match, 0, len(s.matches))
	for _, m := range s.matches {
		if status == "" || m.Status == status {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// ConfirmMatch marks a match settled and moves both items to confirmed.
func (s *QueueStore) ConfirmMatch(_ context.Context, id string) (*domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "match", ID: id}
	}
	if m.Status != domain.MatchStatusMatched {
		return nil, &domain.ErrInvalidStateTransition{ItemID: id, From: domain.ItemStatus(m.Status), To: domain.StatusConfirmed}
	}
	items := []*domain.QueueItem{s.items[m.WithdrawalID], s.items[m.DepositID]}
	for _, item := range items {
		if item == nil || item.Status != domain.StatusMatched {
			return nil, &domain.ErrInvalidStateTransition{ItemID: id, From: domain.StatusMatched, To: domain.StatusConfirmed}
		}
	}

	now := s.now()
	for _, item := range items {
		item.Status = domain.StatusConfirmed
		item.UpdatedAt = now
	}
	m.Status = domain.MatchStatusConfirmed
	m.ConfirmedAt = &now

	cp := *m
	return &cp, nil
}

// Stats summarises every stored item.
func (s *QueueStore) Stats(_ context.Context) (*domain.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := domain.NewQueueStats()
	for _, id := range s.order {
		stats.Add(s.items[id])
	}
	return stats, nil
}
