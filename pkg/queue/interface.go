// Package queue provides the task transport for dispatched schedule entries.
// The leader publishes due tasks to a Redis stream; workers consume them
// through a consumer group.
package queue

import (
	"context"
	"time"
)

// Pinger is an optional interface for health checking queue connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Queue defines the interface for task transport operations.
type Queue interface {
	// Publish appends a task message to the stream.
	// Returns error if the message cannot be sent.
	Publish(ctx context.Context, task *TaskMessage) error

	// Receive retrieves up to maxMessages via the consumer group, blocking
	// up to block (0 = no wait). Returns an empty slice if none available.
	Receive(ctx context.Context, maxMessages int64, block time.Duration) ([]Message, error)

	// Ack acknowledges successful message processing.
	// handle is the stream message ID.
	Ack(ctx context.Context, handle string) error

	// Depth returns the current number of entries in the stream.
	Depth(ctx context.Context) (int64, error)
}

// Message represents a stream message in a transport-agnostic format.
type Message struct {
	// ID is the unique message identifier.
	ID string

	// Body contains the JSON-encoded TaskMessage.
	Body string

	// Handle is used to acknowledge the message.
	Handle string

	// Attributes contains message metadata (trace context, etc).
	Attributes map[string]string
}

// TaskMessage represents a dispatched schedule entry for queue transport.
type TaskMessage struct {
	// Entry is the schedule entry name that produced this task.
	Entry string `json:"entry"`

	// Task is the task identifier workers route on.
	Task string `json:"task"`

	// Payload carries entry-specific arguments, if any.
	Payload map[string]any `json:"payload,omitempty"`

	// ScheduledAt is when the dispatcher deemed the entry due.
	ScheduledAt time.Time `json:"scheduled_at"`

	TraceID  string `json:"trace_id,omitempty"`
	SpanID   string `json:"span_id,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
}

// ExtractTraceContext extracts OpenTelemetry trace context from message attributes.
func ExtractTraceContext(msg Message) (traceID, spanID, parentID string) {
	if msg.Attributes == nil {
		return "", "", ""
	}
	return msg.Attributes["TraceID"], msg.Attributes["SpanID"], msg.Attributes["ParentID"]
}
