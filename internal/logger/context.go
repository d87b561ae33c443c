// Package logger provides structured logging with automatic secret redaction.
package logger

import (
	"context"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for common logging fields. These keys are used to store
// values in context.Context that are automatically extracted and added
// to log entries by ContextHandler/ModuleHandler.
const (
	// ContextKeyTaskID identifies the task a log line is about.
	ContextKeyTaskID contextKey = "task_id"

	// ContextKeyClientID identifies the owning client.
	ContextKeyClientID contextKey = "client_id"

	// ContextKeyFlowID identifies the flow artifact being executed.
	ContextKeyFlowID contextKey = "flow_id"

	// ContextKeyStage identifies the pipeline stage (e.g. "dispatch", "mediate", "collect").
	ContextKeyStage contextKey = "stage"

	// ContextKeyRequestID identifies the individual HTTP/WS request, or an
	// outstanding input_request correlation id.
	ContextKeyRequestID contextKey = "request_id"

	// ContextKeyCorrelationID is used for cross-component tracing of a task.
	ContextKeyCorrelationID contextKey = "correlation_id"

	// ContextKeyEnvironment identifies the deployment environment.
	ContextKeyEnvironment contextKey = "environment"
)

// allContextKeys lists all context keys that should be extracted for logging.
var allContextKeys = []contextKey{
	ContextKeyTaskID,
	ContextKeyClientID,
	ContextKeyFlowID,
	ContextKeyStage,
	ContextKeyRequestID,
	ContextKeyCorrelationID,
	ContextKeyEnvironment,
}

// WithTaskID returns a new context with the task ID set.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, ContextKeyTaskID, taskID)
}

// WithClientID returns a new context with the client ID set.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, ContextKeyClientID, clientID)
}

// WithFlowID returns a new context with the flow ID set.
func WithFlowID(ctx context.Context, flowID string) context.Context {
	return context.WithValue(ctx, ContextKeyFlowID, flowID)
}

// WithStage returns a new context with the processing stage set.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, ContextKeyStage, stage)
}

// WithRequestID returns a new context with the request ID set.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// WithCorrelationID returns a new context with the correlation ID set.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, ContextKeyCorrelationID, correlationID)
}

// WithEnvironment returns a new context with the environment set.
func WithEnvironment(ctx context.Context, environment string) context.Context {
	return context.WithValue(ctx, ContextKeyEnvironment, environment)
}

// WithLoggingContext returns a new context with multiple logging fields set at
// once. Only non-empty values are set.
func WithLoggingContext(ctx context.Context, fields *LoggingFields) context.Context {
	if fields == nil {
		return ctx
	}
	if fields.TaskID != "" {
		ctx = WithTaskID(ctx, fields.TaskID)
	}
	if fields.ClientID != "" {
		ctx = WithClientID(ctx, fields.ClientID)
	}
	if fields.FlowID != "" {
		ctx = WithFlowID(ctx, fields.FlowID)
	}
	if fields.Stage != "" {
		ctx = WithStage(ctx, fields.Stage)
	}
	if fields.RequestID != "" {
		ctx = WithRequestID(ctx, fields.RequestID)
	}
	if fields.CorrelationID != "" {
		ctx = WithCorrelationID(ctx, fields.CorrelationID)
	}
	if fields.Environment != "" {
		ctx = WithEnvironment(ctx, fields.Environment)
	}
	return ctx
}

// LoggingFields holds all standard logging context fields, for bulk setting
// via WithLoggingContext.
type LoggingFields struct {
	TaskID        string
	ClientID      string
	FlowID        string
	Stage         string
	RequestID     string
	CorrelationID string
	Environment   string
}

// ExtractLoggingFields extracts all logging fields from a context.
func ExtractLoggingFields(ctx context.Context) LoggingFields {
	fields := LoggingFields{}
	if v := ctx.Value(ContextKeyTaskID); v != nil {
		fields.TaskID, _ = v.(string)
	}
	if v := ctx.Value(ContextKeyClientID); v != nil {
		fields.ClientID, _ = v.(string)
	}
	if v := ctx.Value(ContextKeyFlowID); v != nil {
		fields.FlowID, _ = v.(string)
	}
	if v := ctx.Value(ContextKeyStage); v != nil {
		fields.Stage, _ = v.(string)
	}
	if v := ctx.Value(ContextKeyRequestID); v != nil {
		fields.RequestID, _ = v.(string)
	}
	if v := ctx.Value(ContextKeyCorrelationID); v != nil {
		fields.CorrelationID, _ = v.(string)
	}
	if v := ctx.Value(ContextKeyEnvironment); v != nil {
		fields.Environment, _ = v.(string)
	}
	return fields
}
