package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

// FinanceClient pushes routed-lead snapshots to the external finance system.
// The call sits behind a rate limiter and a circuit breaker: when the remote
// keeps failing the breaker opens and callers fail fast until it half-opens.
type FinanceClient struct {
	url     string
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
	limiter *rate.Limiter
	enabled bool
	log     *logger.Logger
}

func NewFinanceClient(cfg config.FinanceSyncConfig, log *logger.Logger) *FinanceClient {
	timeout := cfg.GetFinanceSyncTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perSecond := cfg.GetFinanceSyncRatePerSecond()
	if perSecond <= 0 {
		perSecond = 5
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "finance-sync",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &FinanceClient{
		url:     cfg.GetFinanceSyncURL(),
		apiKey:  cfg.GetFinanceSyncAPIKey(),
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		enabled: cfg.IsFinanceSyncEnabled(),
		log:     log,
	}
}

// Sync sends one lead payload. Errors are retryable: the worker's backoff
// plus the breaker's open state protect the remote.
func (f *FinanceClient) Sync(ctx context.Context, leadID string, payload map[string]string) error {
	if !f.enabled {
		f.log.Info("finance sync disabled, dropping", "leadId", leadID)
		return nil
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(map[string]any{
		"leadId": leadID,
		"data":   payload,
	})
	if err != nil {
		return fmt.Errorf("encode finance payload: %w", err)
	}

	_, err = f.breaker.Execute(func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		if f.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+f.apiKey)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		if resp.StatusCode >= 300 {
			return struct{}{}, fmt.Errorf("finance sync returned %d", resp.StatusCode)
		}
		return struct{}{}, nil
	})
	return err
}
