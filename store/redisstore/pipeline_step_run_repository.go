package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pipelinecore/pipelinecore/core"
	"github.com/pipelinecore/pipelinecore/domain"

	"github.com/go-redis/redis/v8"
)

const stepKeyPrefix = "step:"
const stepsByRunKeyPrefix = "steps_by_run:"

// PipelineStepRunRepository is a Redis-backed
// ports.PipelineStepRunRepository, following the same blob-plus-index
// layout as PipelineRunRepository.
type PipelineStepRunRepository struct {
	client *core.RedisClient
}

// NewPipelineStepRunRepository wraps an already-connected core.RedisClient.
func NewPipelineStepRunRepository(client *core.RedisClient) *PipelineStepRunRepository {
	return &PipelineStepRunRepository{client: client}
}

func stepKey(id string) string {
	return stepKeyPrefix + id
}

func stepsByRunKey(runID string) string {
	return stepsByRunKeyPrefix + runID
}

func (r *PipelineStepRunRepository) Create(ctx context.Context, step *domain.PipelineStepRun) error {
	data, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("redisstore: marshal step: %w", err)
	}
	if err := r.client.Set(ctx, stepKey(step.ID), data, 0); err != nil {
		return fmt.Errorf("redisstore: set step: %w", core.ErrConnectionFailed)
	}
	if err := r.client.SAdd(ctx, stepsByRunKey(step.PipelineRunID), step.ID); err != nil {
		return fmt.Errorf("redisstore: index step by run: %w", core.ErrConnectionFailed)
	}
	return nil
}

func (r *PipelineStepRunRepository) GetByID(ctx context.Context, id string) (*domain.PipelineStepRun, error) {
	data, err := r.client.Get(ctx, stepKey(id))
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: get step: %w", core.ErrConnectionFailed)
	}
	var step domain.PipelineStepRun
	if err := json.Unmarshal([]byte(data), &step); err != nil {
		return nil, fmt.Errorf("redisstore: unmarshal step: %w", err)
	}
	return &step, nil
}

func (r *PipelineStepRunRepository) GetByPipelineRunID(ctx context.Context, pipelineRunID string) ([]*domain.PipelineStepRun, error) {
	ids, err := r.client.SMembers(ctx, stepsByRunKey(pipelineRunID))
	if err != nil {
		return nil, fmt.Errorf("redisstore: list steps by run: %w", core.ErrConnectionFailed)
	}
	steps := make([]*domain.PipelineStepRun, 0, len(ids))
	for _, id := range ids {
		step, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if step != nil {
			steps = append(steps, step)
		}
	}
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].StepNumber < steps[j].StepNumber
	})
	return steps, nil
}

// Update persists step within a WATCH/MULTI/EXEC transaction on the
// step's key, so a concurrent Cancel and RunStep cannot clobber each
// other's status transition.
func (r *PipelineStepRunRepository) Update(ctx context.Context, step *domain.PipelineStepRun) error {
	key := stepKey(step.ID)
	txf := func(tx *redis.Tx) error {
		data, err := json.Marshal(step)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.client.FormatKey(key), data, 0)
			return nil
		})
		return err
	}

	if err := r.client.Watch(ctx, txf, key); err != nil {
		return fmt.Errorf("redisstore: update step: %w", core.ErrConnectionFailed)
	}
	return nil
}
