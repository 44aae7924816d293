// Package audit implements a logging-based ports.AuditSink: every
// event is written through core.Logger at Info level with structured
// fields. A production deployment fronting a real audit store would
// implement the same interface against that store instead.
package audit

import (
	"context"

	"github.com/pipelinecore/pipelinecore/core"
	"github.com/pipelinecore/pipelinecore/ports"
)

// LoggingSink is a ports.AuditSink backed by a structured logger.
type LoggingSink struct {
	logger core.Logger
}

// New builds a LoggingSink.
func New(logger core.Logger) *LoggingSink {
	return &LoggingSink{logger: logger}
}

// LogEvent implements ports.AuditSink.
func (s *LoggingSink) LogEvent(ctx context.Context, event ports.AuditEvent) error {
	s.logger.InfoWithContext(ctx, "audit event", map[string]interface{}{
		"event_type":    event.EventType,
		"tenant_id":     event.TenantID,
		"user_id":       event.UserID,
		"resource_type": event.ResourceType,
		"resource_id":   event.ResourceID,
		"metadata":      event.Metadata,
	})
	return nil
}
