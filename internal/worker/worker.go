package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"leadflow_backend/internal/leads/service"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

// Outbound executes one drained outbox row. Implemented by the outbound
// dispatcher's executor.
type Outbound interface {
	Execute(ctx context.Context, outboxID uuid.UUID) error
}

type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	svc      *service.Service
	lease    *Lease
	outbound Outbound
	log      *logger.Logger
}

func NewWorker(cfg config.WorkerConfig, svc *service.Service, lease *Lease, outbound Outbound, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetQueueConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:   server,
		mux:      mux,
		svc:      svc,
		lease:    lease,
		outbound: outbound,
		log:      log,
	}

	mux.HandleFunc(TaskLeadEventProcess, w.classified(TaskLeadEventProcess, w.handleLeadEventProcess))
	mux.HandleFunc(TaskLeadRoutingEvaluate, w.classified(TaskLeadRoutingEvaluate, w.handleLeadRoutingEvaluate))
	mux.HandleFunc(TaskLeadDecaySweep, w.classified(TaskLeadDecaySweep, w.handleLeadDecaySweep))
	mux.HandleFunc(TaskOutboundDispatch, w.classified(TaskOutboundDispatch, w.handleOutboundDispatch))

	return w, nil
}

// classified translates the error taxonomy into asynq behavior: not-found
// jobs are discarded, poison and validation errors archive immediately, and
// everything retryable goes back to the queue for backoff. Exhausted retries
// are archived by asynq itself, which is the dead-letter set the admin API
// inspects.
func (w *Worker) classified(taskType string, fn func(ctx context.Context, task *asynq.Task) error) func(ctx context.Context, task *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		attempt, _ := asynq.GetRetryCount(ctx)
		w.log.JobEvent("started", taskType, "", attempt)

		err := fn(ctx, task)
		if err == nil {
			w.log.JobEvent("finished", taskType, "", attempt)
			return nil
		}

		switch apperr.GetKind(err) {
		case apperr.KindNotFound:
			w.log.JobEvent("discarded", taskType, "", attempt)
			return nil
		case apperr.KindValidation, apperr.KindBadRequest:
			w.log.JobError(taskType, "", "validation", err)
			return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
		case apperr.KindPoison:
			w.log.JobError(taskType, "", "poison", err)
			return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
		case apperr.KindConflict:
			w.log.JobError(taskType, "", "conflict", err)
			return err
		default:
			w.log.JobError(taskType, "", "transient", err)
			return err
		}
	}
}

func (w *Worker) handleLeadEventProcess(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseLeadEventProcessPayload(task)
	if err != nil {
		return apperr.Poison("malformed event process payload", err)
	}
	leadID, err := uuid.Parse(payload.LeadID)
	if err != nil {
		return apperr.Poison("malformed lead id", err)
	}
	eventID, err := uuid.Parse(payload.EventID)
	if err != nil {
		return apperr.Poison("malformed event id", err)
	}

	err = w.lease.WithLease(ctx, leadID, func(ctx context.Context) error {
		return w.svc.ProcessEvent(ctx, leadID, eventID)
	})
	if errors.Is(err, ErrLeaseHeld) {
		return apperr.Transient("lead busy, retrying later", err)
	}
	return err
}

func (w *Worker) handleLeadRoutingEvaluate(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseLeadRoutingEvaluatePayload(task)
	if err != nil {
		return apperr.Poison("malformed routing payload", err)
	}
	leadID, err := uuid.Parse(payload.LeadID)
	if err != nil {
		return apperr.Poison("malformed lead id", err)
	}

	err = w.lease.WithLease(ctx, leadID, func(ctx context.Context) error {
		_, err := w.svc.EvaluateRouting(ctx, leadID, nil)
		return err
	})
	if errors.Is(err, ErrLeaseHeld) {
		return apperr.Transient("lead busy, retrying later", err)
	}
	return err
}

// handleLeadDecaySweep works one batch of stale leads. Per-lead failures are
// logged and skipped; a busy or vanished lead is simply picked up by a later
// sweep.
func (w *Worker) handleLeadDecaySweep(ctx context.Context, _ *asynq.Task) error {
	ids, err := w.svc.StaleLeadIDs(ctx)
	if err != nil {
		return err
	}

	var failures int
	for _, leadID := range ids {
		err := w.lease.WithLease(ctx, leadID, func(ctx context.Context) error {
			return w.svc.ApplyDecay(ctx, leadID)
		})
		switch {
		case err == nil:
		case errors.Is(err, ErrLeaseHeld), apperr.GetKind(err) == apperr.KindNotFound:
			// Busy or deleted: the next sweep catches it.
		default:
			failures++
			w.log.JobError(TaskLeadDecaySweep, leadID.String(), "sweep", err)
		}
	}

	if failures > 0 {
		return apperr.Transient(fmt.Sprintf("decay sweep had %d failures", failures), nil)
	}
	return nil
}

func (w *Worker) handleOutboundDispatch(ctx context.Context, task *asynq.Task) error {
	if w.outbound == nil {
		return nil
	}
	payload, err := ParseOutboundDispatchPayload(task)
	if err != nil {
		return apperr.Poison("malformed outbound payload", err)
	}
	outboxID, err := uuid.Parse(payload.OutboxID)
	if err != nil {
		return apperr.Poison("malformed outbox id", err)
	}
	return w.outbound.Execute(ctx, outboxID)
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("worker stopped", "error", err)
	}
}

// RunDecayScheduler enqueues a sweep task on the configured interval until
// the context ends.
func RunDecayScheduler(ctx context.Context, client *Client, interval time.Duration, log *logger.Logger) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := client.EnqueueDecaySweep(ctx); err != nil {
			log.Warn("decay sweep enqueue failed", "error", err)
		}
	}
}
