package outbound

import (
	"context"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/platform/logger"
)

// DispatchEnqueuer hands claimed outbox rows to the queue. Implemented by the
// worker client.
type DispatchEnqueuer interface {
	EnqueueOutboundDispatch(ctx context.Context, outboxID uuid.UUID, runAt time.Time) error
}

// Dispatcher polls the outbox and turns due rows into queue tasks. Claiming
// flips the row to enqueued; a failed enqueue flips it back so the next tick
// retries it.
type Dispatcher struct {
	repo     *Repository
	enqueuer DispatchEnqueuer
	interval time.Duration
	batch    int
	log      *logger.Logger
}

func NewDispatcher(repo *Repository, enqueuer DispatchEnqueuer, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		repo:     repo,
		enqueuer: enqueuer,
		interval: 2 * time.Second,
		batch:    50,
		log:      log,
	}
}

func (d *Dispatcher) Run(ctx context.Context) {
	if d == nil || d.repo == nil || d.enqueuer == nil {
		return
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		records, err := d.repo.ClaimPending(ctx, d.batch)
		if err != nil {
			d.log.Warn("outbox claim failed", "error", err)
			continue
		}

		for _, rec := range records {
			if err := d.enqueuer.EnqueueOutboundDispatch(ctx, rec.ID, rec.RunAt); err != nil {
				msg := err.Error()
				_ = d.repo.MarkPending(ctx, rec.ID, &msg)
			}
		}
	}
}
