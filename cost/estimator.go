// Package cost implements the pipeline's static cost table. Credits
// are whole numbers — no sub-credit billing is defined anywhere in the
// source material — so costs are int64 rather than a decimal type.
package cost

import "github.com/pipelinecore/pipelinecore/domain"

var stepCosts = map[domain.StepType]int64{
	domain.StepTypeAnalysis:     50,
	domain.StepTypeUserStories:  30,
	domain.StepTypeCodeSkeleton: 40,
	domain.StepTypeTestCases:    30,
}

// PipelineCost is the fixed total cost of a full four-step run.
const PipelineCost int64 = 150

// Estimator computes credit costs for a step or the full pipeline. It
// wraps the static table behind an interface (usecase.CostEstimator) so
// call sites can substitute a different table in tests.
type Estimator struct {
	table map[domain.StepType]int64
}

// NewEstimator returns an Estimator over the standard cost table.
func NewEstimator() *Estimator {
	return &Estimator{table: stepCosts}
}

// EstimatePipelineCost returns the fixed cost of a full pipeline run.
func (e *Estimator) EstimatePipelineCost() int64 {
	return PipelineCost
}

// EstimateStepCost returns the cost of a single step type, or 0 for an
// unknown step type.
func (e *Estimator) EstimateStepCost(stepType domain.StepType) int64 {
	return e.table[stepType]
}
