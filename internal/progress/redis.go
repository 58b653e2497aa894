/**
 * Redis Progress Publisher
 *
 * Pushes progress events onto a per-document Redis pub/sub channel so API
 * frontends can relay them to clients without polling the database
 * themselves.
 */

package progress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "ingest:progress:"

// RedisPublisher publishes events over Redis pub/sub
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a publisher from a Redis URL
func NewRedisPublisher(redisURL string) (*RedisPublisher, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return &RedisPublisher{client: redis.NewClient(opts)}, nil
}

// Channel returns the pub/sub channel name for a document
func Channel(documentID string) string {
	return channelPrefix + documentID
}

// Publish sends one event to the document's channel
func (p *RedisPublisher) Publish(ctx context.Context, documentID string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}

	if err := p.client.Publish(ctx, Channel(documentID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish progress event: %w", err)
	}

	return nil
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
