package repository

import (
	"context"

	"github.com/google/uuid"
)

// TaskKind distinguishes the work a queued task asks for.
type TaskKind string

const (
	TaskConvert   TaskKind = "convert"
	TaskThumbnail TaskKind = "thumbnail"
)

// Task is a job-queue message. Delivery is at-least-once, so handlers
// must tolerate duplicates; Attempt ties a convert task to one job attempt.
type Task struct {
	Kind       TaskKind  `json:"kind"`
	AssetID    uuid.UUID `json:"asset_id"`
	JobID      uuid.UUID `json:"job_id,omitempty"`
	Resolution string    `json:"resolution,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	RetryCount int       `json:"retry_count"`
}

// MessageQueue defines the interface for message queue operations.
// Implementations should be provided by the infrastructure layer (e.g., RabbitMQ).
type MessageQueue interface {
	// PublishTask sends a task to the queue.
	PublishTask(ctx context.Context, task Task) error

	// ConsumeTasks delivers tasks to handler with at most concurrency
	// handlers in flight. It returns when ctx is cancelled.
	ConsumeTasks(ctx context.Context, concurrency int, handler func(ctx context.Context, task Task) error) error

	// Close gracefully closes the connection to the message queue.
	Close() error
}
