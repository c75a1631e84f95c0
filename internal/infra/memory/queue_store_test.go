package memory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"
	"github.com/boddenberg/p2p-queue-engine/internal/infra/memory"

	"github.com/shopspring/decimal"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newItem(typ domain.ItemType, customer, amount string) *domain.QueueItem {
	return &domain.QueueItem{
		Type:           typ,
		CustomerID:     customer,
		Amount:         decimal.RequireFromString(amount),
		PaymentType:    domain.PaymentVenmo,
		PaymentDetails: "@" + customer,
		Priority:       domain.DefaultPriority,
	}
}

func addPair(t *testing.T, s *memory.QueueStore) (string, string) {
	t.Helper()
	ctx := context.Background()
	wid, err := s.Add(ctx, newItem(domain.ItemTypeWithdrawal, "alice", "100"), 0)
	if err != nil {
		t.Fatalf("add withdrawal: %v", err)
	}
	did, err := s.Add(ctx, newItem(domain.ItemTypeDeposit, "bob", "100"), 0)
	if err != nil {
		t.Fatalf("add deposit: %v", err)
	}
	return wid, did
}

func TestQueueStore_AddAssignsIdentity(t *testing.T) {
	c := &clock{now: t0}
	s := memory.NewQueueStore(c.Now)

	item := newItem(domain.ItemTypeWithdrawal, "alice", "100")
	id, err := s.Add(context.Background(), item, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusPending {
		t.Errorf("expected pending, got %s", got.Status)
	}
	if !got.CreatedAt.Equal(t0) {
		t.Errorf("expected createdAt %v, got %v", t0, got.CreatedAt)
	}
	if item.ID != id {
		t.Errorf("expected caller item to receive id %s, got %s", id, item.ID)
	}
}

func TestQueueStore_DedupWindow(t *testing.T) {
	c := &clock{now: t0}
	s := memory.NewQueueStore(c.Now)
	ctx := context.Background()

	firstID, err := s.Add(ctx, newItem(domain.ItemTypeWithdrawal, "alice", "100"), time.Minute)
	if err != nil {
		t.Fatalf("first add: %v", err)
	}

	c.Advance(30 * time.Second)
	_, err = s.Add(ctx, newItem(domain.ItemTypeWithdrawal, "alice", "100.00"), time.Minute)
	var dup *domain.ErrDuplicateSubmission
	if !errors.As(err, &dup) {
		t.Fatalf("expected ErrDuplicateSubmission, got %v", err)
	}
	if dup.ExistingID != firstID {
		t.Errorf("expected existing id %s, got %s", firstID, dup.ExistingID)
	}

	// Different amount is not a duplicate.
	if _, err := s.Add(ctx, newItem(domain.ItemTypeWithdrawal, "alice", "101"), time.Minute); err != nil {
		t.Errorf("expected different amount to be accepted, got %v", err)
	}

	c.Advance(31 * time.Second)
	if _, err := s.Add(ctx, newItem(domain.ItemTypeWithdrawal, "alice", "100"), time.Minute); err != nil {
		t.Errorf("expected resubmission after window to be accepted, got %v", err)
	}
}

func TestQueueStore_GetNotFound(t *testing.T) {
	s := memory.NewQueueStore(nil)

	_, err := s.Get(context.Background(), "missing")

	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQueueStore_MarkMatched(t *testing.T) {
	s := memory.NewQueueStore(nil)
	ctx := context.Background()
	wid, did := addPair(t, s)

	m, err := s.MarkMatched(ctx, domain.MatchProposal{
		WithdrawalID:  wid,
		DepositID:     did,
		PaymentType:   domain.PaymentVenmo,
		MatchScore:    0.97,
		SettledAmount: decimal.NewFromInt(100),
		Remainder:     decimal.Zero,
	})
	if err != nil {
		t.Fatalf("mark matched: %v", err)
	}

	for _, id := range []string{wid, did} {
		item, _ := s.Get(ctx, id)
		if item.Status != domain.StatusMatched || item.MatchID != m.ID {
			t.Errorf("item %s: expected matched with match %s, got %s/%s", id, m.ID, item.Status, item.MatchID)
		}
	}

	pending, _ := s.ListPending(ctx, domain.ItemFilter{})
	if len(pending) != 0 {
		t.Errorf("expected no pending items, got %d", len(pending))
	}

	_, err = s.MarkMatched(ctx, domain.MatchProposal{WithdrawalID: wid, DepositID: did})
	var already *domain.ErrAlreadyMatched
	if !errors.As(err, &already) {
		t.Fatalf("expected ErrAlreadyMatched on second commit, got %v", err)
	}
}

func TestQueueStore_MarkMatchedCancelledLeavesPartnerUntouched(t *testing.T) {
	s := memory.NewQueueStore(nil)
	ctx := context.Background()
	wid, did := addPair(t, s)

	if _, err := s.Transition(ctx, did, domain.StatusPending, domain.StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, err := s.MarkMatched(ctx, domain.MatchProposal{WithdrawalID: wid, DepositID: did})
	var invalid *domain.ErrInvalidStateTransition
	if !errors.As(err, &invalid) || invalid.ItemID != did || invalid.From != domain.StatusCancelled {
		t.Fatalf("expected invalid transition from cancelled for %s, got %v", did, err)
	}

	w, _ := s.Get(ctx, wid)
	if w.Status != domain.StatusPending {
		t.Errorf("expected withdrawal to stay pending, got %s", w.Status)
	}
}

func TestQueueStore_MarkMatchedExpiredItem(t *testing.T) {
	s := memory.NewQueueStore(nil)
	ctx := context.Background()
	wid, did := addPair(t, s)

	if n, err := s.Expire(ctx, time.Now().Add(time.Hour)); err != nil || n != 2 {
		t.Fatalf("expire: n=%d err=%v", n, err)
	}

	_, err := s.MarkMatched(ctx, domain.MatchProposal{WithdrawalID: wid, DepositID: did})
	var invalid *domain.ErrInvalidStateTransition
	if !errors.As(err, &invalid) || invalid.From != domain.StatusExpired || invalid.To != domain.StatusMatched {
		t.Fatalf("expected invalid transition from expired, got %v", err)
	}
	var already *domain.ErrAlreadyMatched
	if errors.As(err, &already) {
		t.Errorf("expired item must not be reported as a commit conflict")
	}

	matches, _ := s.ListMatches(ctx, "")
	if len(matches) != 0 {
		t.Errorf("expected no match recorded, got %d", len(matches))
	}
}

func TestQueueStore_MarkMatchedRespectsReviewHold(t *testing.T) {
	s := memory.NewQueueStore(nil)
	ctx := context.Background()

	held := newItem(domain.ItemTypeWithdrawal, "alice", "100")
	held.RequiresReview = true
	wid, _ := s.Add(ctx, held, 0)
	did, _ := s.Add(ctx, newItem(domain.ItemTypeDeposit, "bob", "100"), 0)

	if _, err := s.MarkMatched(ctx, domain.MatchProposal{WithdrawalID: wid, DepositID: did}); err == nil {
		t.Fatal("expected held item to be rejected")
	}

	if _, err := s.ClearReview(ctx, wid); err != nil {
		t.Fatalf("clear review: %v", err)
	}
	if _, err := s.MarkMatched(ctx, domain.MatchProposal{WithdrawalID: wid, DepositID: did}); err != nil {
		t.Fatalf("expected match after approval, got %v", err)
	}
}

func TestQueueStore_ConcurrentMarkMatched(t *testing.T) {
	s := memory.NewQueueStore(nil)
	ctx := context.Background()

	wid, _ := s.Add(ctx, newItem(domain.ItemTypeWithdrawal, "alice", "100"), 0)
	var deposits []string
	for i := 0; i < 8; i++ {
		id, _ := s.Add(ctx, newItem(domain.ItemTypeDeposit, "bob", "100"), 0)
		deposits = append(deposits, id)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for _, did := range deposits {
		wg.Add(1)
		go func(did string) {
			defer wg.Done()
			_, err := s.MarkMatched(ctx, domain.MatchProposal{WithdrawalID: wid, DepositID: did})
			if err == nil {
				wins.Add(1)
			}
		}(did)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winning commit, got %d", wins.Load())
	}
	matches, _ := s.ListMatches(ctx, "")
	if len(matches) != 1 {
		t.Errorf("expected 1 match, got %d", len(matches))
	}
}

func TestQueueStore_ExpireIsIdempotent(t *testing.T) {
	c := &clock{now: t0}
	s := memory.NewQueueStore(c.Now)
	ctx := context.Background()

	oldID, _ := s.Add(ctx, newItem(domain.ItemTypeWithdrawal, "alice", "100"), 0)
	c.Advance(2 * time.Hour)
	newID, _ := s.Add(ctx, newItem(domain.ItemTypeDeposit, "bob", "100"), 0)

	cutoff := c.Now().Add(-time.Hour)
	n, err := s.Expire(ctx, cutoff)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 expired, got %d (%v)", n, err)
	}
	n, _ = s.Expire(ctx, cutoff)
	if n != 0 {
		t.Errorf("expected second expire to be a no-op, got %d", n)
	}

	old, _ := s.Get(ctx, oldID)
	fresh, _ := s.Get(ctx, newID)
	if old.Status != domain.StatusExpired || fresh.Status != domain.StatusPending {
		t.Errorf("unexpected statuses: old=%s new=%s", old.Status, fresh.Status)
	}
}

func TestQueueStore_Transition(t *testing.T) {
	s := memory.NewQueueStore(nil)
	ctx := context.Background()
	wid, _ := addPair(t, s)

	if _, err := s.Transition(ctx, wid, domain.StatusPending, domain.StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, err := s.Transition(ctx, wid, domain.StatusPending, domain.StatusCancelled)
	var invalid *domain.ErrInvalidStateTransition
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
	if invalid.From != domain.StatusCancelled {
		t.Errorf("expected from=cancelled, got %s", invalid.From)
	}
}

func TestQueueStore_ConfirmMatch(t *testing.T) {
	c := &clock{now: t0}
	s := memory.NewQueueStore(c.Now)
	ctx := context.Background()
	wid, did := addPair(t, s)

	m, err := s.MarkMatched(ctx, domain.MatchProposal{WithdrawalID: wid, DepositID: did})
	if err != nil {
		t.Fatalf("mark matched: %v", err)
	}

	c.Advance(time.Minute)
	confirmed, err := s.ConfirmMatch(ctx, m.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != domain.MatchStatusConfirmed || confirmed.ConfirmedAt == nil {
		t.Errorf("expected confirmed match with timestamp, got %+v", confirmed)
	}
	w, _ := s.Get(ctx, wid)
	if w.Status != domain.StatusConfirmed {
		t.Errorf("expected withdrawal confirmed, got %s", w.Status)
	}

	if _, err := s.ConfirmMatch(ctx, m.ID); err == nil {
		t.Error("expected second confirm to fail")
	}

	listed, _ := s.ListMatches(ctx, domain.MatchStatusMatched)
	if len(listed) != 0 {
		t.Errorf("expected no open matches, got %d", len(listed))
	}
}

func TestQueueStore_Stats(t *testing.T) {
	s := memory.NewQueueStore(nil)
	ctx := context.Background()

	held := newItem(domain.ItemTypeWithdrawal, "carol", "50")
	held.RequiresReview = true
	_, _ = s.Add(ctx, held, 0)
	wid, did := addPair(t, s)
	_, _ = s.MarkMatched(ctx, domain.MatchProposal{WithdrawalID: wid, DepositID: did})

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalItems != 3 {
		t.Errorf("expected 3 items, got %d", stats.TotalItems)
	}
	if stats.ByStatus[domain.StatusMatched] != 2 || stats.ByStatus[domain.StatusPending] != 1 {
		t.Errorf("unexpected status counts: %v", stats.ByStatus)
	}
	if stats.AwaitingReview != 1 {
		t.Errorf("expected 1 awaiting review, got %d", stats.AwaitingReview)
	}
	if !stats.PendingVolume[domain.PaymentVenmo].Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected pending venmo volume 50, got %s", stats.PendingVolume[domain.PaymentVenmo])
	}
}
