package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// StreamQueue implements Queue using Redis Streams.
type StreamQueue struct {
	client     *redis.Client
	stream     string
	group      string
	consumerID string
}

// Verify StreamQueue implements Queue interface.
var _ Queue = (*StreamQueue)(nil)

// StreamConfig holds Redis stream connection settings.
type StreamConfig struct {
	Addr       string
	Password   string
	DB         int
	Stream     string
	Group      string
	ConsumerID string
}

// NewStreamQueue creates a Redis-backed task queue.
func NewStreamQueue(cfg StreamConfig) (*StreamQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	consumerID := cfg.ConsumerID
	if consumerID == "" {
		consumerID = uuid.New().String()
	}

	q := &StreamQueue{
		client:     client,
		stream:     cfg.Stream,
		group:      cfg.Group,
		consumerID: consumerID,
	}

	if err := q.ensureConsumerGroup(context.Background()); err != nil {
		_ = client.Close()
		return nil, err
	}

	return q, nil
}

// NewStreamQueueWithClient creates a stream queue with an existing redis.Client (for testing).
func NewStreamQueueWithClient(client *redis.Client, stream, group, consumerID string) *StreamQueue {
	return &StreamQueue{
		client:     client,
		stream:     stream,
		group:      group,
		consumerID: consumerID,
	}
}

func (q *StreamQueue) ensureConsumerGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Publish appends a task message to the Redis stream.
func (q *StreamQueue) Publish(ctx context.Context, task *TaskMessage) error {
	if task.Entry == "" {
		return fmt.Errorf("entry name is required")
	}
	if task.Task == "" {
		return fmt.Errorf("task identifier is required")
	}

	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	values := map[string]interface{}{
		"body":     string(body),
		"entry":    task.Entry,
		"task":     task.Task,
		"trace_id": task.TraceID,
		"span_id":  task.SpanID,
	}

	_, err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to add message to stream: %w", err)
	}

	return nil
}

// Receive retrieves messages from the stream using the consumer group.
func (q *StreamQueue) Receive(ctx context.Context, maxMessages int64, block time.Duration) ([]Message, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumerID,
		Streams:  []string{q.stream, ">"},
		Count:    maxMessages,
		Block:    block,
	}).Result()

	if errors.Is(err, redis.Nil) {
		return []Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, xmsg := range stream.Messages {
			msg := Message{
				ID:         xmsg.ID,
				Handle:     xmsg.ID,
				Attributes: make(map[string]string),
			}

			if body, ok := xmsg.Values["body"].(string); ok {
				msg.Body = body
			}
			if traceID, ok := xmsg.Values["trace_id"].(string); ok && traceID != "" {
				msg.Attributes["TraceID"] = traceID
			}
			if spanID, ok := xmsg.Values["span_id"].(string); ok && spanID != "" {
				msg.Attributes["SpanID"] = spanID
			}

			messages = append(messages, msg)
		}
	}

	return messages, nil
}

// Ack acknowledges message processing via XACK.
func (q *StreamQueue) Ack(ctx context.Context, handle string) error {
	_, err := q.client.XAck(ctx, q.stream, q.group, handle).Result()
	if err != nil {
		return fmt.Errorf("failed to acknowledge message: %w", err)
	}
	return nil
}

// Depth returns the current stream length via XLEN.
func (q *StreamQueue) Depth(ctx context.Context) (int64, error) {
	depth, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read stream length: %w", err)
	}
	return depth, nil
}

// Close closes the Redis client connection.
func (q *StreamQueue) Close() error {
	return q.client.Close()
}

// Ping checks connectivity to Redis.
func (q *StreamQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
