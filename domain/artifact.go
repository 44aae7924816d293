package domain

import "time"

// Artifact is the persisted output of a successful step.
type Artifact struct {
	ID            string
	TaskID        string
	PipelineRunID string
	StepRunID     string
	ArtifactType  StepType
	Status        ArtifactStatus
	Content       map[string]any
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ApprovedAt    *time.Time
}

// NewArtifact creates the first version of an artifact for a
// successful step. ANALYSIS artifacts are auto-approved; every other
// stage starts as a draft pending review.
func NewArtifact(taskID, pipelineRunID, stepRunID string, stepType StepType, content map[string]any, now time.Time) *Artifact {
	a := &Artifact{
		ID:            NewID(),
		TaskID:        taskID,
		PipelineRunID: pipelineRunID,
		StepRunID:     stepRunID,
		ArtifactType:  stepType,
		Status:        InitialArtifactStatus(stepType),
		Content:       content,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if a.Status == ArtifactStatusApproved {
		approvedAt := now
		a.ApprovedAt = &approvedAt
	}
	return a
}
