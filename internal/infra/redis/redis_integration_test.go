//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"
	rediscache "github.com/boddenberg/p2p-queue-engine/internal/infra/redis"
	"github.com/boddenberg/p2p-queue-engine/internal/testutil"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupClient(t *testing.T) *redis.Client {
	t.Helper()
	addr, cleanup := testutil.StartRedis(t)
	t.Cleanup(cleanup)

	client, err := rediscache.NewClient(context.Background(), rediscache.Config{Addr: addr}, zap.NewNop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestSubmissionCounter_SlidingWindow(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()
	c := rediscache.NewSubmissionCounter(client, "test", 24*time.Hour)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := c.Record(ctx, "alice", domain.PaymentVenmo, base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	// Two records in the same millisecond must both count.
	if err := c.Record(ctx, "alice", domain.PaymentVenmo, base.Add(2*time.Hour)); err != nil {
		t.Fatalf("record: %v", err)
	}

	n, err := c.Count(ctx, "alice", domain.PaymentVenmo, base.Add(time.Hour))
	if err != nil || n != 3 {
		t.Errorf("expected 3 since +1h, got %d (%v)", n, err)
	}
	n, _ = c.Count(ctx, "alice", domain.PaymentZelle, base)
	if n != 0 {
		t.Errorf("expected other method to be independent, got %d", n)
	}

	// A record two days later prunes everything older than the retention.
	if err := c.Record(ctx, "alice", domain.PaymentVenmo, base.Add(48*time.Hour)); err != nil {
		t.Fatalf("record: %v", err)
	}
	n, _ = c.Count(ctx, "alice", domain.PaymentVenmo, base)
	if n != 1 {
		t.Errorf("expected old entries pruned, got %d", n)
	}
}

func TestPassLock_ExclusiveAndReleasable(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()
	a := rediscache.NewPassLock(client, "test", zap.NewNop())
	b := rediscache.NewPassLock(client, "test", zap.NewNop())

	release, ok, err := a.TryLock(ctx, time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first lock, got ok=%v err=%v", ok, err)
	}
	if _, ok, _ := b.TryLock(ctx, time.Minute); ok {
		t.Fatal("expected second instance to be refused")
	}

	release()
	release()

	releaseB, ok, err := b.TryLock(ctx, time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected lock after release, got ok=%v err=%v", ok, err)
	}
	releaseB()
}

func TestPassLock_ExpiresAfterTTL(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()
	l := rediscache.NewPassLock(client, "ttl", zap.NewNop())

	if _, ok, _ := l.TryLock(ctx, 100*time.Millisecond); !ok {
		t.Fatal("expected lock")
	}
	time.Sleep(250 * time.Millisecond)
	release, ok, err := l.TryLock(ctx, time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected lock after ttl, got ok=%v err=%v", ok, err)
	}
	release()
}
