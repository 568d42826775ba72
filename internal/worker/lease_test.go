package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestLease(t *testing.T) (*Lease, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewLease(rdb, 30*time.Second), mr
}

func TestLease_MutualExclusion(t *testing.T) {
	lease, _ := newTestLease(t)
	leadID := uuid.New()
	ctx := context.Background()

	token, err := lease.Acquire(ctx, leadID)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := lease.Acquire(ctx, leadID); !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("expected ErrLeaseHeld for concurrent acquire, got %v", err)
	}

	if err := lease.Release(ctx, leadID, token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := lease.Acquire(ctx, leadID); err != nil {
		t.Fatalf("expected acquire after release, got %v", err)
	}
}

func TestLease_IndependentPerLead(t *testing.T) {
	lease, _ := newTestLease(t)
	ctx := context.Background()

	if _, err := lease.Acquire(ctx, uuid.New()); err != nil {
		t.Fatalf("acquire lead a: %v", err)
	}
	if _, err := lease.Acquire(ctx, uuid.New()); err != nil {
		t.Fatalf("expected independent lease per lead, got %v", err)
	}
}

func TestLease_ReleaseRequiresOwnerToken(t *testing.T) {
	lease, _ := newTestLease(t)
	leadID := uuid.New()
	ctx := context.Background()

	if _, err := lease.Acquire(ctx, leadID); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// A stale worker with the wrong token must not free the lease.
	if err := lease.Release(ctx, leadID, "stale-token"); err != nil {
		t.Fatalf("release with wrong token should be a no-op, got %v", err)
	}
	if _, err := lease.Acquire(ctx, leadID); !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("expected lease to survive a foreign release, got %v", err)
	}
}

func TestLease_ExpiresAfterTTL(t *testing.T) {
	lease, mr := newTestLease(t)
	leadID := uuid.New()
	ctx := context.Background()

	if _, err := lease.Acquire(ctx, leadID); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	mr.FastForward(31 * time.Second)

	if _, err := lease.Acquire(ctx, leadID); err != nil {
		t.Fatalf("expected acquire after expiry, got %v", err)
	}
}

func TestWithLease_ReleasesOnCompletion(t *testing.T) {
	lease, _ := newTestLease(t)
	leadID := uuid.New()
	ctx := context.Background()

	ran := false
	err := lease.WithLease(ctx, leadID, func(ctx context.Context) error {
		ran = true
		if _, err := lease.Acquire(ctx, leadID); !errors.Is(err, ErrLeaseHeld) {
			t.Fatalf("expected lease held inside fn, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithLease: %v", err)
	}
	if !ran {
		t.Fatalf("expected fn to run")
	}

	if _, err := lease.Acquire(ctx, leadID); err != nil {
		t.Fatalf("expected lease released after fn, got %v", err)
	}
}

func TestWithLease_ReleasesOnError(t *testing.T) {
	lease, _ := newTestLease(t)
	leadID := uuid.New()
	ctx := context.Background()

	wantErr := errors.New("boom")
	if err := lease.WithLease(ctx, leadID, func(context.Context) error { return wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if _, err := lease.Acquire(ctx, leadID); err != nil {
		t.Fatalf("expected lease released after failing fn, got %v", err)
	}
}
