package ports

import (
	"context"
	"errors"

	"github.com/pipelinecore/pipelinecore/domain"
)

// ErrAgentRuntimeUnavailable is returned by an AgentExecutor adapter
// when the downstream agent runtime cannot be reached or returns a
// server error, mirroring ports.ErrBillingServiceUnavailable.
var ErrAgentRuntimeUnavailable = errors.New("agent runtime unavailable")

// AgentExecuteRequest carries a step's frozen input snapshot to the
// downstream agent.
type AgentExecuteRequest struct {
	AgentType domain.AgentType
	Inputs    map[string]any
}

// AgentExecuteResult is the downstream agent's reported output and
// usage for one invocation.
type AgentExecuteResult struct {
	Output              map[string]any
	PromptTokens        int64
	CompletionTokens    int64
	EstimatedCostCredits int64
}

// AgentExecutor invokes a downstream pipeline-stage agent. Any failure
// is treated as transient unless the adapter explicitly classifies it
// otherwise (resilience wrapping happens at the adapter layer, not
// here — see RunStepUseCase's handling of a returned error).
type AgentExecutor interface {
	Execute(ctx context.Context, req AgentExecuteRequest) (AgentExecuteResult, error)
}
