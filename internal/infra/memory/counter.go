package memory

import (
	"context"
	"sync"
	"time"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"
)

// SubmissionCounter is a sliding-window counter of accepted submissions.
// Entries older than retention are pruned on Record.
type SubmissionCounter struct {
	mu        sync.Mutex
	events    map[string][]time.Time
	retention time.Duration
}

// NewSubmissionCounter keeps timestamps for retention.
func NewSubmissionCounter(retention time.Duration) *SubmissionCounter {
	return &SubmissionCounter{
		events:    make(map[string][]time.Time),
		retention: retention,
	}
}

// Record adds one submission at the given time.
func (c *SubmissionCounter) Record(_ context.Context, customerID string, pt domain.PaymentType, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := historyKey(customerID, pt)
	kept := c.events[key][:0]
	for _, ts := range c.events[key] {
		if c.retention <= 0 || !ts.Before(at.Add(-c.retention)) {
			kept = append(kept, ts)
		}
	}
	c.events[key] = append(kept, at)
	return nil
}

// Count returns the submissions recorded at or after since.
func (c *SubmissionCounter) Count(_ context.Context, customerID string, pt domain.PaymentType, since time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, ts := range c.events[historyKey(customerID, pt)] {
		if !ts.Before(since) {
			n++
		}
	}
	return n, nil
}
