package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pipelinecore/pipelinecore/core"
	"github.com/pipelinecore/pipelinecore/domain"
)

const deadLetterKeyPrefix = "deadletter:"
const deadLetterIndexKey = "deadletter_index"

// DeadLetterEventRepository is a Redis-backed, write-once
// ports.DeadLetterEventRepository. Dead letter events carry no
// concurrent-update contention (they are created once and never
// modified), so plain Set+SAdd is used instead of Watch/TxPipelined.
type DeadLetterEventRepository struct {
	client *core.RedisClient
}

// NewDeadLetterEventRepository wraps an already-connected core.RedisClient.
func NewDeadLetterEventRepository(client *core.RedisClient) *DeadLetterEventRepository {
	return &DeadLetterEventRepository{client: client}
}

func (r *DeadLetterEventRepository) Create(ctx context.Context, event *domain.DeadLetterEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redisstore: marshal dead letter event: %w", err)
	}
	if err := r.client.Set(ctx, deadLetterKeyPrefix+event.ID, data, 0); err != nil {
		return fmt.Errorf("redisstore: set dead letter event: %w", core.ErrConnectionFailed)
	}
	if err := r.client.SAdd(ctx, deadLetterIndexKey, event.ID); err != nil {
		return fmt.Errorf("redisstore: index dead letter event: %w", core.ErrConnectionFailed)
	}
	return nil
}
