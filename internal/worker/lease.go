package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseHeld means another worker currently holds the lead's lease.
var ErrLeaseHeld = errors.New("lead lease held by another worker")

// releaseScript deletes the lease only when the caller still owns it, so a
// worker that overran its TTL cannot release a successor's lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease serializes writers per lead with a Redis SET NX PX lock. It
// guarantees mutual exclusion for the common case; the database's version
// column and the partial unique deal index backstop it.
type Lease struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewLease(rdb redis.UniversalClient, ttl time.Duration) *Lease {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Lease{rdb: rdb, ttl: ttl}
}

func leaseKey(leadID uuid.UUID) string {
	return "leadflow:lease:" + leadID.String()
}

// Acquire takes the lead's lease and returns the owner token needed to
// release it. ErrLeaseHeld when someone else holds it.
func (l *Lease) Acquire(ctx context.Context, leadID uuid.UUID) (string, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, leaseKey(leadID), token, l.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("lease acquire: %w", err)
	}
	if !ok {
		return "", ErrLeaseHeld
	}
	return token, nil
}

// Release frees the lease if the token still owns it. Releasing an expired or
// stolen lease is a silent no-op.
func (l *Lease) Release(ctx context.Context, leadID uuid.UUID, token string) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{leaseKey(leadID)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lease release: %w", err)
	}
	return nil
}

// WithLease runs fn while holding the lead's lease. A held lease surfaces as
// ErrLeaseHeld so the caller can retry the job later.
func (l *Lease) WithLease(ctx context.Context, leadID uuid.UUID, fn func(ctx context.Context) error) error {
	token, err := l.Acquire(ctx, leadID)
	if err != nil {
		return err
	}
	defer func() { _ = l.Release(context.WithoutCancel(ctx), leadID, token) }()
	return fn(ctx)
}
