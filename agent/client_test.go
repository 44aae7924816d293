package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipelinecore/pipelinecore/domain"
	"github.com/pipelinecore/pipelinecore/ports"
)

func TestExecuteSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/agents/ARCHITECT/execute", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"output":                 map[string]any{"summary": "done"},
			"prompt_tokens":          120,
			"completion_tokens":      340,
			"estimated_cost_credits": 5,
		})
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL}, nil)
	require.NoError(t, err)

	result, err := client.Execute(context.Background(), ports.AgentExecuteRequest{
		AgentType: domain.AgentTypeArchitect,
		Inputs:    map[string]any{"task_title": "t"},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", result.Output["summary"])
	assert.Equal(t, int64(120), result.PromptTokens)
	assert.Equal(t, int64(5), result.EstimatedCostCredits)
}

func TestExecuteRuntimeUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL, RetryAttempts: 1}, nil)
	require.NoError(t, err)

	_, err = client.Execute(context.Background(), ports.AgentExecuteRequest{
		AgentType: domain.AgentTypeQA,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ports.ErrAgentRuntimeUnavailable.Error())
}

func TestCircuitBreakerExposesState(t *testing.T) {
	client, err := New(Config{BaseURL: "http://unused.invalid"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "closed", client.CircuitBreaker().GetState(), "a freshly built client's breaker starts closed")
}
