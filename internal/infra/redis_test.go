package infra

import (
	"context"
	"testing"

	"mdm/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClientModes(t *testing.T) {
	_, _, err := NewRedisClient(&config.RedisConfig{})
	assert.ErrorIs(t, err, ErrRedisDisabled)

	rdb, mode, err := NewRedisClient(&config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 6379})
	require.NoError(t, err)
	assert.Equal(t, "standalone", mode)
	assert.NoError(t, rdb.Close())

	_, _, err = NewRedisClient(&config.RedisConfig{Enabled: true, Mode: "sentinel"})
	assert.Error(t, err)

	_, _, err = NewRedisClient(&config.RedisConfig{Enabled: true, Mode: "cluster"})
	assert.Error(t, err)

	_, mode, err = NewRedisClient(&config.RedisConfig{Enabled: true, Mode: "ring"})
	assert.Error(t, err)
	assert.Equal(t, "ring", mode)
}

func TestHealthCheckRedisWithoutClient(t *testing.T) {
	assert.ErrorIs(t, HealthCheckRedis(context.Background(), nil), ErrRedisDisabled)
}
