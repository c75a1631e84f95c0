package domain

import "github.com/shopspring/decimal"

// QueueStats is the read-only dashboard summary of the queue.
type QueueStats struct {
	ByStatus       map[ItemStatus]int              `json:"byStatus"`
	ByType         map[ItemType]int                `json:"byType"`
	PendingByType  map[ItemType]int                `json:"pendingByType"`
	PendingVolume  map[PaymentType]decimal.Decimal `json:"pendingVolume"`
	AwaitingReview int                             `json:"awaitingReview"`
	TotalItems     int                             `json:"totalItems"`
	TotalVolume    decimal.Decimal                 `json:"totalVolume"`
}

// NewQueueStats returns stats with every map initialised.
func NewQueueStats() *QueueStats {
	return &QueueStats{
		ByStatus:      make(map[ItemStatus]int),
		ByType:        make(map[ItemType]int),
		PendingByType: make(map[ItemType]int),
		PendingVolume: make(map[PaymentType]decimal.Decimal),
		TotalVolume:   decimal.Zero,
	}
}

// Add folds one item into the summary.
func (s *QueueStats) Add(item *QueueItem) {
	s.ByStatus[item.Status]++
	s.ByType[item.Type]++
	s.TotalItems++
	s.TotalVolume = s.TotalVolume.Add(item.Amount)

	if item.Status != StatusPending {
		return
	}
	s.PendingByType[item.Type]++
	s.PendingVolume[item.PaymentType] = s.PendingVolume[item.PaymentType].Add(item.Amount)
	if item.RequiresReview {
		s.AwaitingReview++
	}
}
