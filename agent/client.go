// Package agent implements a resilient ports.AgentExecutor adapter over
// the downstream agent runtime's HTTP API, wrapping every call with the
// teacher's resilience.Retry and a core.CircuitBreaker — mirroring
// billing.Client, the other concrete adapter this core's port-facing
// RunStep use case depends on at the step-7/step-12 boundary (see
// SPEC_FULL.md §5, "Agent-call resilience").
package agent

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

// Config configures the HTTP agent-runtime client.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	RetryAttempts int
}

// Client is a ports.AgentExecutor backed by an HTTP agent runtime,
// guarded by retry and circuit-breaker policies.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retryCfg   *resilience.RetryConfig
	breaker    *resilience.CircuitBreaker
	logger     core.Logger
}

// New builds a resilient agent Client. logger may be nil.
func New(cfg Config, logger core.Logger) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	retryCfg := resilience.DefaultRetryConfig()
	if cfg.RetryAttempts > 0 {
		retryCfg.MaxAttempts = cfg.RetryAttempts
	}

	cbCfg := resilience.DefaultConfig()
	cbCfg.Name = "agent-client"
	breaker, err := resilience.NewCircuitBreaker(cbCfg)
	if err != nil {
		return nil, fmt.Errorf("agent: failed to build circuit breaker: %w", err)
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

// CircuitBreaker exposes the client's breaker as a core.CircuitBreaker,
// mirroring billing.Client.CircuitBreaker.
func (c *Client) CircuitBreaker() core.CircuitBreaker {
	return c.breaker
}

// Execute implements ports.AgentExecutor by POSTing the step's frozen
// input snapshot to the agent runtime's per-agent-type endpoint.
func (c *Client) Execute(ctx context.Context, req ports.AgentExecuteRequest) (ports.AgentExecuteResult, error) {
	body, err := json.Marshal(map[string]any{
		"agent_type": req.AgentType,
		"inputs":     req.Inputs,
	})
	if err != nil {
		return ports.AgentExecuteResult{}, fmt.Errorf("agent: marshal execute request: %w", err)
	}

	var result ports.AgentExecuteResult
	err = resilience.RetryWithCircuitBreaker(ctx, c.retryCfg, c.breaker, func() error {
		url := fmt.Sprintf("%s/v1/agents/%s/execute", c.baseURL, req.AgentType)
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("%w: %v", ports.ErrAgentRuntimeUnavailable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: status %d", ports.ErrAgentRuntimeUnavailable, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("agent: unexpected status %d: %s", resp.StatusCode, string(respBody))
		}

		var payload struct {
			Output               map[string]any `json:"output"`
			PromptTokens         int64          `json:"prompt_tokens"`
			CompletionTokens     int64          `json:"completion_tokens"`
			EstimatedCostCredits int64          `json:"estimated_cost_credits"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return fmt.Errorf("agent: decode execute response: %w", err)
		}
		result = ports.AgentExecuteResult{
			Output:               payload.Output,
			PromptTokens:         payload.PromptTokens,
			CompletionTokens:     payload.CompletionTokens,
			EstimatedCostCredits: payload.EstimatedCostCredits,
		}
		return nil
	})
	if err != nil {
		return ports.AgentExecuteResult{}, err
	}
	return result, nil
}
