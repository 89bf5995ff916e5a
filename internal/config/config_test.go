package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaultConfig(t *testing.T) {
	c := NewDefaultConfig()
	assert.Equal(t, 1, c.NumWorkers)
	assert.Equal(t, CheckpointNone, c.CheckpointType)
	assert.Less(t, c.CheckpointInterval, time.Duration(0))
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	c, err := Load("")
	assert.NoError(t, err)
	assert.Equal(t, NewDefaultConfig().NumWorkers, c.NumWorkers)
}

func TestLoadTOMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "piccolo.toml")
	body := `
num-workers = 3
master-addr = "127.0.0.1:7000"
worker-addrs = ["127.0.0.1:7001", "127.0.0.1:7002", "127.0.0.1:7003"]
checkpoint-type = "EPOCH"
checkpoint-interval = 30.0
sleep-time = 0.01

[[table]]
id = 0
num-shards = 3
`
	assert.NoError(t, os.WriteFile(path, []byte(body), 0644))

	c, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, 3, c.NumWorkers)
	assert.Equal(t, CheckpointEpoch, c.CheckpointType)
	assert.Equal(t, 30*time.Second, c.CheckpointInterval)
	assert.Equal(t, []string{"127.0.0.1:7000", "127.0.0.1:7001", "127.0.0.1:7002", "127.0.0.1:7003"}, c.Addrs())

	n, ok := c.ShardCount(0)
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = c.ShardCount(99)
	assert.False(t, ok)
}
