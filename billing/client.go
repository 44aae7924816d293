// Package billing implements a resilient ports.BillingClient adapter
// over the concrete billing service's HTTP API, wrapping every call
// with the teacher's resilience.Retry and a core.CircuitBreaker so
// transient network failures are absorbed below the use-case boundary
// (see SPEC_FULL.md §5, "Agent-call resilience").
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pipelinecore/pipelinecore/core"
	"github.com/pipelinecore/pipelinecore/ports"
	"github.com/pipelinecore/pipelinecore/resilience"
)

// Config configures the HTTP billing client.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	RetryAttempts int
}

// Client is a ports.BillingClient backed by an HTTP billing service,
// guarded by retry and circuit-breaker policies.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retryCfg   *resilience.RetryConfig
	breaker    *resilience.CircuitBreaker
	logger     core.Logger
}

// New builds a resilient billing Client. logger may be nil.
func New(cfg Config, logger core.Logger) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	retryCfg := resilience.DefaultRetryConfig()
	if cfg.RetryAttempts > 0 {
		retryCfg.MaxAttempts = cfg.RetryAttempts
	}

	cbCfg := resilience.DefaultConfig()
	cbCfg.Name = "billing-client"
	breaker, err := resilience.NewCircuitBreaker(cbCfg)
	if err != nil {
		return nil, fmt.Errorf("billing: failed to build circuit breaker: %w", err)
	}
	if logger != nil {
		breaker.SetLogger(logger)
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		retryCfg:   retryCfg,
		breaker:    breaker,
		logger:     logger,
	}, nil
}

// CircuitBreaker exposes the client's breaker as a core.CircuitBreaker
// so callers (health checks, admin endpoints) can inspect state and
// metrics without depending on the concrete resilience type.
func (c *Client) CircuitBreaker() core.CircuitBreaker {
	return c.breaker
}

// GetBalance implements ports.BillingClient.
func (c *Client) GetBalance(ctx context.Context, tenantID string) (ports.Balance, error) {
	var balance ports.Balance
	err := resilience.RetryWithCircuitBreaker(ctx, c.retryCfg, c.breaker, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/tenants/"+tenantID+"/balance", nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ports.ErrBillingServiceUnavailable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: status %d", ports.ErrBillingServiceUnavailable, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("billing: unexpected status %d: %s", resp.StatusCode, string(body))
		}

		var payload struct {
			Balance int64 `json:"balance"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return fmt.Errorf("billing: decode balance response: %w", err)
		}
		balance = ports.Balance{TenantID: tenantID, Amount: payload.Balance}
		return nil
	})
	if err != nil {
		return ports.Balance{}, err
	}
	return balance, nil
}

// ConsumeCredits implements ports.BillingClient.
func (c *Client) ConsumeCredits(ctx context.Context, req ports.ConsumeCreditsRequest) error {
	body, err := json.Marshal(map[string]any{
		"tenant_id":       req.TenantID,
		"amount":          req.Amount,
		"idempotency_key": req.IdempotencyKey,
		"reference_type":  req.ReferenceType,
		"reference_id":    req.ReferenceID,
		"metadata":        req.Metadata,
	})
	if err != nil {
		return fmt.Errorf("billing: marshal consume-credits request: %w", err)
	}

	return resilience.RetryWithCircuitBreaker(ctx, c.retryCfg, c.breaker, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/credits/consume", bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("%w: %v", ports.ErrBillingServiceUnavailable, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusPaymentRequired:
			return ports.ErrInsufficientCredits
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: status %d", ports.ErrBillingServiceUnavailable, resp.StatusCode)
		case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
			respBody, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("billing: unexpected status %d: %s", resp.StatusCode, string(respBody))
		}
		return nil
	})
}
