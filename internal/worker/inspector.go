package worker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"leadflow_backend/platform/config"
)

// DeadLetter is one archived task: a job that exhausted its retries or was
// classified as poison.
type DeadLetter struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	LastError    string          `json:"lastError"`
	LastFailedAt time.Time       `json:"lastFailedAt"`
	Retried      int             `json:"retried"`
	MaxRetry     int             `json:"maxRetry"`
}

// Inspector reads the archived task set for the admin API.
type Inspector struct {
	inspector *asynq.Inspector
	queue     string
}

func NewInspector(cfg config.WorkerConfig) (*Inspector, error) {
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

	return &Inspector{inspector: asynq.NewInspector(opt), queue: queue}, nil
}

func (i *Inspector) Close() error {
	if i == nil || i.inspector == nil {
		return nil
	}
	return i.inspector.Close()
}

// ListDeadLetters returns up to size archived tasks, most recent first.
func (i *Inspector) ListDeadLetters(size int) ([]DeadLetter, error) {
	if size < 1 {
		size = 50
	}
	tasks, err := i.inspector.ListArchivedTasks(i.queue, asynq.PageSize(size))
	if err != nil {
		return nil, err
	}

	letters := make([]DeadLetter, 0, len(tasks))
	for _, task := range tasks {
		payload := json.RawMessage(task.Payload)
		if !json.Valid(payload) {
			payload, _ = json.Marshal(string(task.Payload))
		}
		letters = append(letters, DeadLetter{
			ID:           task.ID,
			Type:         task.Type,
			Payload:      payload,
			LastError:    task.LastErr,
			LastFailedAt: task.LastFailedAt,
			Retried:      task.Retried,
			MaxRetry:     task.MaxRetry,
		})
	}
	return letters, nil
}
