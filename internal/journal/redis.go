package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohamedkhairy/vpa-engine/internal/config"
)

// StreamSink publishes journal records to a Redis stream for downstream
// consumers (alerting, dashboards). It is an optional secondary sink; the
// JSONL file remains the source of truth.
type StreamSink struct {
	client *redis.Client
	stream string
}

// NewStreamSink connects to Redis and verifies the connection.
func NewStreamSink(cfg config.RedisConfig, stream string) (*StreamSink, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &StreamSink{client: rdb, stream: stream}, nil
}

// Append publishes one record to the stream, keyed by record type.
func (s *StreamSink) Append(rec Record) error {
	jsonData, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal journal record: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			rec.Type: string(jsonData),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", s.stream, err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *StreamSink) Close() error {
	return s.client.Close()
}
