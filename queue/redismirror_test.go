package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStatsMirrorPublishFetch(t *testing.T) {
	mr := miniredis.RunT(t)

	mirror, err := NewRedisStatsMirror(context.Background(), RedisMirrorConfig{
		RedisURL: "redis://" + mr.Addr(),
	})
	require.NoError(t, err)
	defer mirror.Close()

	s := Stats{Name: "queue-a", Kind: FixedArray, LogicalSize: 3, PhysicalSize: 5}
	require.NoError(t, mirror.Publish(context.Background(), s))

	got, err := mirror.Fetch(context.Background(), "queue-a")
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestRedisStatsMirrorFetchMissing(t *testing.T) {
	mr := miniredis.RunT(t)

	mirror, err := NewRedisStatsMirror(context.Background(), RedisMirrorConfig{
		RedisURL: "redis://" + mr.Addr(),
	})
	require.NoError(t, err)
	defer mirror.Close()

	_, err = mirror.Fetch(context.Background(), "missing")
	assert.Error(t, err)
}
