package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SubmissionCounter keeps one sorted set per (customer, method), scored by
// submission time in milliseconds.
type SubmissionCounter struct {
	client    *redis.Client
	keyPrefix string
	retention time.Duration
}

// NewSubmissionCounter creates a counter that prunes entries older than
// retention.
func NewSubmissionCounter(client *redis.Client, keyPrefix string, retention time.Duration) *SubmissionCounter {
	return &SubmissionCounter{client: client, keyPrefix: keyPrefix, retention: retention}
}

func (c *SubmissionCounter) key(customerID string, pt domain.PaymentType) string {
	return prefixed(c.keyPrefix, fmt.Sprintf("submissions:%s:%s", customerID, pt))
}

// Record adds a submission and trims the window in one round trip.
func (c *SubmissionCounter) Record(ctx context.Context, customerID string, pt domain.PaymentType, at time.Time) error {
	ctx, span := tracer.Start(ctx, "SubmissionCounter.Record")
	defer span.End()

	key := c.key(customerID, pt)
	pipe := c.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: fmt.Sprintf("%d:%s", at.UnixMilli(), uuid.NewString()),
	})
	if c.retention > 0 {
		cutoff := at.Add(-c.retention).UnixMilli()
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		pipe.PExpire(ctx, key, c.retention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	return nil
}

// Count returns the submissions recorded at or after since.
func (c *SubmissionCounter) Count(ctx context.Context, customerID string, pt domain.PaymentType, since time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "SubmissionCounter.Count")
	defer span.End()

	n, err := c.client.ZCount(ctx, c.key(customerID, pt), strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return int(n), nil
}
