package worker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"leadflow_backend/platform/config"
)

// Client enqueues engine tasks. It implements service.Enqueuer.
type Client struct {
	client     *asynq.Client
	queue      string
	maxRetries int
}

func NewClient(cfg config.WorkerConfig) (*Client, error) {
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

	return &Client{
		client:     asynq.NewClient(opt),
		queue:      queue,
		maxRetries: cfg.GetMaxJobRetries(),
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) error {
	opts = append(opts, asynq.Queue(c.queue), asynq.MaxRetry(c.maxRetries))
	_, err := c.client.EnqueueContext(ctx, task, opts...)
	return err
}

func (c *Client) EnqueueEventProcess(ctx context.Context, leadID, eventID uuid.UUID) error {
	task, err := NewLeadEventProcessTask(LeadEventProcessPayload{
		LeadID:  leadID.String(),
		EventID: eventID.String(),
	})
	if err != nil {
		return err
	}
	// One task per (lead, event): a duplicate enqueue within the window is
	// dropped instead of double-processed.
	return ignoreDuplicate(c.enqueue(ctx, task, asynq.TaskID("event:"+eventID.String())))
}

func (c *Client) EnqueueRoutingEvaluation(ctx context.Context, leadID uuid.UUID) error {
	task, err := NewLeadRoutingEvaluateTask(LeadRoutingEvaluatePayload{LeadID: leadID.String()})
	if err != nil {
		return err
	}
	return ignoreDuplicate(c.enqueue(ctx, task))
}

func (c *Client) EnqueueDecaySweep(ctx context.Context) error {
	return ignoreDuplicate(c.enqueue(ctx, NewLeadDecaySweepTask()))
}

func (c *Client) EnqueueOutboundDispatch(ctx context.Context, outboxID uuid.UUID, runAt time.Time) error {
	task, err := NewOutboundDispatchTask(OutboundDispatchPayload{OutboxID: outboxID.String()})
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.TaskID("outbox:" + outboxID.String())}
	if runAt.After(time.Now()) {
		opts = append(opts, asynq.ProcessAt(runAt))
	}
	return ignoreDuplicate(c.enqueue(ctx, task, opts...))
}

func ignoreDuplicate(err error) error {
	if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
