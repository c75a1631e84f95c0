package memory

import (
	"context"
	"sync"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"
)

// HistoryStore keeps payment method history and account ages in memory.
// It serves local development and tests; seed it with PutHistory and
// SetAccountAge.
type HistoryStore struct {
	mu          sync.RWMutex
	histories   map[string]domain.PaymentMethodHistory
	accountAges map[string]int
}

// NewHistoryStore creates an empty history store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{
		histories:   make(map[string]domain.PaymentMethodHistory),
		accountAges: make(map[string]int),
	}
}

func historyKey(customerID string, pt domain.PaymentType) string {
	return customerID + "|" + string(pt)
}

// GetHistory returns nil, nil when the customer never used the method.
func (s *HistoryStore) GetHistory(_ context.Context, customerID string, pt domain.PaymentType) (*domain.PaymentMethodHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.histories[historyKey(customerID, pt)]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

// PutHistory replaces the history for (customer, method).
func (s *HistoryStore) PutHistory(_ context.Context, h *domain.PaymentMethodHistory) error {
	if err := h.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.histories[historyKey(h.CustomerID, h.PaymentType)] = *h
	return nil
}

// SetAccountAge records a customer's account age in months.
func (s *HistoryStore) SetAccountAge(_ context.Context, customerID string, months int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountAges[customerID] = months
	return nil
}

// GetAccountAgeMonths returns the recorded age, or *domain.ErrNotFound.
func (s *HistoryStore) GetAccountAgeMonths(_ context.Context, customerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	months, ok := s.accountAges[customerID]
	if !ok {
		return 0, &domain.ErrNotFound{Resource: "customer_profile", ID: customerID}
	}
	return months, nil
}
