package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDefaults(t *testing.T) {
	cfg, err := Resolve()
	require.NoError(t, err)
	assert.Equal(t, 10000, cfg.ReapThreshold)
	assert.Equal(t, 30*time.Second, cfg.ReapInterval)
	assert.Equal(t, 1024, cfg.URingSQEntries)
	assert.Equal(t, 8192, cfg.URingCQEntries)
	assert.Equal(t, 8080, cfg.ListenPort)
}

func TestResolveAppliesOptionsInOrder(t *testing.T) {
	cfg, err := Resolve(
		WithWorkerCount(4),
		WithWebRoot("/srv/www"),
		WithListenPort(9090),
		WithCacheCapacity(16),
		WithReapThreshold(500),
		WithReapInterval(time.Second),
		WithURingSizes(256, 2048),
	)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, "/srv/www", cfg.WebRoot)
	assert.Equal(t, 9090, cfg.ListenPort)
	assert.Equal(t, 16, cfg.CacheCapacity)
	assert.Equal(t, 500, cfg.ReapThreshold)
	assert.Equal(t, time.Second, cfg.ReapInterval)
	assert.Equal(t, 256, cfg.URingSQEntries)
	assert.Equal(t, 2048, cfg.URingCQEntries)
}

func TestResolveIgnoresNilOption(t *testing.T) {
	cfg, err := Resolve(nil, WithListenPort(1234))
	require.NoError(t, err)
	assert.Equal(t, 1234, cfg.ListenPort)
}
