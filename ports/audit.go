package ports

import "context"

// Audit event types emitted by the core.
const (
	AuditEventPipelineCancelled = "pipeline_cancelled"
	AuditEventPipelineReplayed  = "pipeline_replayed"
)

// AuditEvent is one entry logged to the audit sink.
type AuditEvent struct {
	EventType    string
	TenantID     string
	UserID       string
	ResourceType string
	ResourceID   string
	Metadata     map[string]any
}

// AuditSink records audit events. A failure to log an event must not
// fail the use case that triggered it — callers log and swallow.
type AuditSink interface {
	LogEvent(ctx context.Context, event AuditEvent) error
}
