package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStatsMirror writes a Stats snapshot into Redis keys each time Publish
// is called, for external dashboards; nothing in this module calls Publish
// on its own, on checkpoint or otherwise. It is read-only observability,
// never a queue backend — the four backends in this package are exhaustive;
// Redis never buffers or orders records.
//
// Grounded on queue/redis/queue.go's GetQueueDepth/key-prefix conventions,
// repurposed from a job queue into a depth/stats publisher.
type RedisStatsMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisMirrorConfig configures the mirror.
type RedisMirrorConfig struct {
	RedisURL  string
	KeyPrefix string // defaults to "syslogcore:stats:"
	TTL       time.Duration
}

// NewRedisStatsMirror connects to Redis and returns a mirror ready to
// publish Stats snapshots. It fails fast if Redis is unreachable, matching
// queue/redis/queue.go's "test connection at construction" behaviour.
func NewRedisStatsMirror(ctx context.Context, cfg RedisMirrorConfig) (*RedisStatsMirror, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "syslogcore:stats:"
	}

	return &RedisStatsMirror{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

// Close closes the underlying Redis connection.
func (m *RedisStatsMirror) Close() error {
	return m.client.Close()
}

// Publish writes a Stats snapshot to Redis under <prefix><queue-name>.
func (m *RedisStatsMirror) Publish(ctx context.Context, s Stats) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	key := m.prefix + s.Name
	if m.ttl > 0 {
		return m.client.Set(ctx, key, data, m.ttl).Err()
	}
	return m.client.Set(ctx, key, data, 0).Err()
}

// Fetch reads back the last published Stats snapshot for a queue name.
func (m *RedisStatsMirror) Fetch(ctx context.Context, name string) (Stats, error) {
	var s Stats
	data, err := m.client.Get(ctx, m.prefix+name).Bytes()
	if err == redis.Nil {
		return s, fmt.Errorf("no mirrored stats for %q", name)
	}
	if err != nil {
		return s, fmt.Errorf("failed to fetch mirrored stats: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to unmarshal mirrored stats: %w", err)
	}
	return s, nil
}
