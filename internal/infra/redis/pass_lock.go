package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// PassLock is a SET NX PX lock shared by every engine instance. The ttl
// bounds how long a crashed holder can block other passes.
type PassLock struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

// NewPassLock creates a lock stored under keyPrefix:matching-pass.
func NewPassLock(client *redis.Client, keyPrefix string, logger *zap.Logger) *PassLock {
	return &PassLock{
		client: client,
		key:    prefixed(keyPrefix, "matching-pass"),
		logger: logger,
	}
}

// TryLock takes the lock without blocking.
func (l *PassLock) TryLock(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	ctx, span := tracer.Start(ctx, "PassLock.TryLock")
	defer span.End()

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire pass lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// The caller's context may already be cancelled at release time.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{l.key}, token).Err(); err != nil {
				l.logger.Warn("pass lock release failed", zap.String("key", l.key), zap.Error(err))
			}
		})
	}
	return release, true, nil
}
