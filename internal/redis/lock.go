package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("billing lock not acquired")
)

// Locker guards the billing-trigger critical section per appointment so that
// duplicate join events cannot run the trigger concurrently.
type Locker interface {
	WithBillingLock(ctx context.Context, appointmentID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisBillingLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBillingLocker creates a locker that uses a per appointment Redis key
func NewRedisBillingLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisBillingLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisBillingLocker) WithBillingLock(ctx context.Context, appointmentID uuid.UUID, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:billing:%s", appointmentID.String())
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire billing lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisBillingLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release billing lock: %w", err)
	}
	return nil
}
