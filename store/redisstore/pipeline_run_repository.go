// Package redisstore implements the repository ports that need
// transactional, compare-and-swap semantics over Redis: PipelineRun,
// PipelineStepRun, and DeadLetterEvent. AgentRun and Artifact are
// append-only audit trails with no concurrent-update contention, so
// this repository scopes its Redis adapter to the three entities that
// actually need Watch/TxPipelined — see DESIGN.md.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/pipelinecore/pipelinecore/core"
	"github.com/pipelinecore/pipelinecore/domain"

	"github.com/go-redis/redis/v8"
)

const runKeyPrefix = "run:"
const runsByTaskKeyPrefix = "runs_by_task:"
const runLockKeyPrefix = "runlock:"

// runLockTTL bounds how long a per-task creation lock can be held
// before it self-expires, so a crash between SetNX and Del cannot wedge
// the task forever.
const runLockTTL = 5 * time.Second

// runLockMaxAttempts and runLockRetryDelay bound how long
// GetOrCreateRunning waits for a contended per-task lock before giving
// up.
const runLockMaxAttempts = 20
const runLockRetryDelay = 25 * time.Millisecond

// PipelineRunRepository is a Redis-backed ports.PipelineRunRepository.
// Run records are stored as JSON blobs keyed by run id; a per-task
// (unordered) set tracks run ids so GetByTaskID/GetAllByTaskID can
// resolve without a full scan, sorting the loaded runs by StartedAt,
// newest first. Updates use WATCH/MULTI/EXEC via
// core.RedisClient.Watch so two concurrent RunStep invocations on the
// same task cannot both observe and persist a stale run.
//
// Create plus a bare GetByTaskID read is not safe to compose into an
// acquire-or-create sequence: two callers can both observe no existing
// run and both Create one. GetOrCreateRunning closes that window with a
// SetNX-based per-task lock.
type PipelineRunRepository struct {
	client *core.RedisClient
}

// NewPipelineRunRepository wraps an already-connected core.RedisClient.
func NewPipelineRunRepository(client *core.RedisClient) *PipelineRunRepository {
	return &PipelineRunRepository{client: client}
}

func runKey(id string) string {
	return runKeyPrefix + id
}

func runsByTaskKey(taskID string) string {
	return runsByTaskKeyPrefix + taskID
}

func (r *PipelineRunRepository) Create(ctx context.Context, run *domain.PipelineRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("redisstore: marshal run: %w", err)
	}
	if err := r.client.Set(ctx, runKey(run.ID), data, 0); err != nil {
		return fmt.Errorf("redisstore: set run: %w", core.ErrConnectionFailed)
	}
	if err := r.client.SAdd(ctx, runsByTaskKey(run.TaskID), run.ID); err != nil {
		return fmt.Errorf("redisstore: index run by task: %w", core.ErrConnectionFailed)
	}
	return nil
}

func (r *PipelineRunRepository) GetByID(ctx context.Context, id string) (*domain.PipelineRun, error) {
	data, err := r.client.Get(ctx, runKey(id))
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: get run: %w", core.ErrConnectionFailed)
	}
	var run domain.PipelineRun
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return nil, fmt.Errorf("redisstore: unmarshal run: %w", err)
	}
	return &run, nil
}

func (r *PipelineRunRepository) runsForTask(ctx context.Context, taskID string) ([]*domain.PipelineRun, error) {
	ids, err := r.client.SMembers(ctx, runsByTaskKey(taskID))
	if err != nil {
		return nil, fmt.Errorf("redisstore: list runs by task: %w", core.ErrConnectionFailed)
	}
	runs := make([]*domain.PipelineRun, 0, len(ids))
	for _, id := range ids {
		run, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if run != nil {
			runs = append(runs, run)
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

func (r *PipelineRunRepository) GetByTaskID(ctx context.Context, taskID string) (*domain.PipelineRun, error) {
	runs, err := r.runsForTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[0], nil
}

func (r *PipelineRunRepository) GetAllByTaskID(ctx context.Context, taskID string) ([]*domain.PipelineRun, error) {
	return r.runsForTask(ctx, taskID)
}

// Update persists run within a WATCH/MULTI/EXEC transaction on the
// run's key, so a concurrent writer (e.g. a Cancel racing a RunStep
// advance) observes a Redis-level transaction abort (redis.TxFailedErr)
// rather than silently clobbering the other's change. Callers that
// need retry-on-conflict semantics re-read the run and call Update
// again.
func (r *PipelineRunRepository) Update(ctx context.Context, run *domain.PipelineRun) error {
	key := runKey(run.ID)
	txf := func(tx *redis.Tx) error {
		data, err := json.Marshal(run)
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
		return fmt.Errorf("redisstore: update run: %w", core.ErrConnectionFailed)
	}
	return nil
}

func runLockKey(taskID string) string {
	return runLockKeyPrefix + taskID
}

// GetOrCreateRunning implements ports.PipelineRunRepository. It takes a
// SetNX-based advisory lock keyed by task_id before checking for an
// existing running run and, if none exists, creating one — closing the
// TOCTOU window a bare GetByTaskID+Create sequence would leave open
// between two concurrent RunStep invocations on the same task. A
// caller that loses the race for the lock polls GetByTaskID until the
// winner's run becomes visible, bounded by runLockMaxAttempts.
func (r *PipelineRunRepository) GetOrCreateRunning(ctx context.Context, taskID string, newRun func() *domain.PipelineRun) (*domain.PipelineRun, bool, error) {
	lockKey := runLockKey(taskID)

	for attempt := 0; attempt < runLockMaxAttempts; attempt++ {
		acquired, err := r.client.SetNX(ctx, lockKey, "1", runLockTTL)
		if err != nil {
			return nil, false, fmt.Errorf("redisstore: acquire run lock: %w", core.ErrConnectionFailed)
		}

		if !acquired {
			existing, err := r.GetByTaskID(ctx, taskID)
			if err != nil {
				return nil, false, err
			}
			if existing != nil && existing.Status == domain.RunStatusRunning {
				return existing, false, nil
			}
			select {
			case <-ctx.Done():
				return nil, false, ctx.Err()
			case <-time.After(runLockRetryDelay):
			}
			continue
		}

		run, created, err := r.createRunningUnderLock(ctx, taskID, newRun)
		r.client.Del(ctx, lockKey)
		return run, created, err
	}

	return nil, false, fmt.Errorf("redisstore: timed out acquiring run lock for task %s", taskID)
}

func (r *PipelineRunRepository) createRunningUnderLock(ctx context.Context, taskID string, newRun func() *domain.PipelineRun) (*domain.PipelineRun, bool, error) {
	existing, err := r.GetByTaskID(ctx, taskID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil && existing.Status == domain.RunStatusRunning {
		return existing, false, nil
	}

	run := newRun()
	if err := r.Create(ctx, run); err != nil {
		return nil, false, err
	}
	return run, true, nil
}
