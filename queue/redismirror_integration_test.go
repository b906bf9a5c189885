//go:build integration

package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/redis"
)

// TestRedisStatsMirrorAgainstRealRedis exercises RedisStatsMirror against a
// real Redis instance rather than miniredis, the way
// queue/rabbit_integration_test.go verified the RabbitMQ-backed queue
// against a real broker container.
func TestRedisStatsMirrorAgainstRealRedis(t *testing.T) {
	ctx := context.Background()

	container, err := redis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "failed to start redis container")
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	}()

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	mirror, err := NewRedisStatsMirror(ctx, RedisMirrorConfig{RedisURL: url})
	require.NoError(t, err)
	defer mirror.Close()

	s := Stats{Name: "queue-a", Kind: FixedArray, LogicalSize: 3, PhysicalSize: 5}
	require.NoError(t, mirror.Publish(ctx, s))

	got, err := mirror.Fetch(ctx, "queue-a")
	require.NoError(t, err)
	assert.Equal(t, s, got)
}
