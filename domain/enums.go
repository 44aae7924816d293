package domain

// RunStatus is the lifecycle status of a PipelineRun.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Valid reports whether s is a known RunStatus.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusPaused,
		RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether a run in this status accepts no further
// writes other than idempotent audit.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// StepStatus is the lifecycle status of a PipelineStepRun.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusCancelled StepStatus = "cancelled"
)

// Valid reports whether s is a known StepStatus.
func (s StepStatus) Valid() bool {
	switch s {
	case StepStatusPending, StepStatusRunning, StepStatusCompleted,
		StepStatusFailed, StepStatusCancelled:
		return true
	}
	return false
}

// StepType is one of the four fixed pipeline stages.
type StepType string

const (
	StepTypeAnalysis     StepType = "ANALYSIS"
	StepTypeUserStories  StepType = "USER_STORIES"
	StepTypeCodeSkeleton StepType = "CODE_SKELETON"
	StepTypeTestCases    StepType = "TEST_CASES"
)

// Valid reports whether t is a known StepType.
func (t StepType) Valid() bool {
	switch t {
	case StepTypeAnalysis, StepTypeUserStories, StepTypeCodeSkeleton, StepTypeTestCases:
		return true
	}
	return false
}

// stepNumberToType and its inverse keep the step number <-> step type
// bijection in one place, per the design notes.
var stepNumberToType = map[int]StepType{
	1: StepTypeAnalysis,
	2: StepTypeUserStories,
	3: StepTypeCodeSkeleton,
	4: StepTypeTestCases,
}

var stepTypeToNumber = map[StepType]int{
	StepTypeAnalysis:     1,
	StepTypeUserStories:  2,
	StepTypeCodeSkeleton: 3,
	StepTypeTestCases:    4,
}

// StepTypeForNumber returns the step type bound to a step number, and
// false if the number is outside {1..4}.
func StepTypeForNumber(n int) (StepType, bool) {
	t, ok := stepNumberToType[n]
	return t, ok
}

// StepNumberForType returns the step number bound to a step type, and
// false if the type is unknown.
func StepNumberForType(t StepType) (int, bool) {
	n, ok := stepTypeToNumber[t]
	return n, ok
}

// AgentType is the kind of downstream agent invoked for a step.
type AgentType string

const (
	AgentTypeArchitect AgentType = "ARCHITECT"
	AgentTypePM        AgentType = "PM"
	AgentTypeEngineer  AgentType = "ENGINEER"
	AgentTypeQA        AgentType = "QA"
)

var stepTypeToAgentType = map[StepType]AgentType{
	StepTypeAnalysis:     AgentTypeArchitect,
	StepTypeUserStories:  AgentTypePM,
	StepTypeCodeSkeleton: AgentTypeEngineer,
	StepTypeTestCases:    AgentTypeQA,
}

// AgentTypeForStep returns the agent type bound to a step type.
func AgentTypeForStep(t StepType) (AgentType, bool) {
	a, ok := stepTypeToAgentType[t]
	return a, ok
}

// ArtifactStatus is the review status of an Artifact.
type ArtifactStatus string

const (
	ArtifactStatusDraft    ArtifactStatus = "draft"
	ArtifactStatusApproved ArtifactStatus = "approved"
	ArtifactStatusRejected ArtifactStatus = "rejected"
)

// InitialArtifactStatus returns the status a freshly created artifact
// receives for the given step type: ANALYSIS is auto-approved, every
// other stage starts as a draft pending review.
func InitialArtifactStatus(t StepType) ArtifactStatus {
	if t == StepTypeAnalysis {
		return ArtifactStatusApproved
	}
	return ArtifactStatusDraft
}

// PauseReason is a reason a PipelineRun is paused.
type PauseReason string

const (
	PauseReasonInsufficientCredit PauseReason = "INSUFFICIENT_CREDIT"
)

// PauseReasonSet is a set of PauseReason, modeled as a map rather than
// a slice so the "paused implies pause_reasons non-empty" invariant is
// a cheap len() check and duplicate reasons cannot accumulate.
type PauseReasonSet map[PauseReason]struct{}

// NewPauseReasonSet builds a set from zero or more reasons.
func NewPauseReasonSet(reasons ...PauseReason) PauseReasonSet {
	s := make(PauseReasonSet, len(reasons))
	for _, r := range reasons {
		s[r] = struct{}{}
	}
	return s
}

// Add inserts a reason into the set.
func (s PauseReasonSet) Add(r PauseReason) {
	s[r] = struct{}{}
}

// Has reports whether r is present in the set.
func (s PauseReasonSet) Has(r PauseReason) bool {
	_, ok := s[r]
	return ok
}

// Slice returns the set's members as a slice, for serialization.
func (s PauseReasonSet) Slice() []PauseReason {
	out := make([]PauseReason, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	return out
}
