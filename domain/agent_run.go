package domain

import "time"

// AgentRun records one concrete agent call's metadata. Created only on
// agent success; immutable thereafter.
type AgentRun struct {
	ID                   string
	PipelineRunID        string
	StepRunID            string
	AgentType            AgentType
	Model                string
	PromptTokens         int64
	CompletionTokens     int64
	EstimatedCostCredits int64
	ActualCostCredits    int64
	StartedAt            time.Time
	CompletedAt          time.Time
}

// NewAgentRun creates an AgentRun record for a successful agent
// invocation. ActualCostCredits equals EstimatedCostCredits in this
// version (no usage-based true-up is defined).
func NewAgentRun(pipelineRunID, stepRunID string, agentType AgentType, model string, promptTokens, completionTokens, estimatedCostCredits int64, startedAt, completedAt time.Time) *AgentRun {
	return &AgentRun{
		ID:                   NewID(),
		PipelineRunID:        pipelineRunID,
		StepRunID:            stepRunID,
		AgentType:            agentType,
		Model:                model,
		PromptTokens:         promptTokens,
		CompletionTokens:     completionTokens,
		EstimatedCostCredits: estimatedCostCredits,
		ActualCostCredits:    estimatedCostCredits,
		StartedAt:            startedAt,
		CompletedAt:          completedAt,
	}
}
