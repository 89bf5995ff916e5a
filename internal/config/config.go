// Package config holds the configuration recognized by the core: cluster
// size, checkpoint policy, per-table shard counts and poll intervals.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// CheckpointType selects how the master schedules checkpoints.
type CheckpointType string

const (
	CheckpointNone     CheckpointType = "NONE"
	CheckpointRolling  CheckpointType = "ROLLING"
	CheckpointEpoch    CheckpointType = "EPOCH"
	disabledInterval                 = -1
)

// TableConfig declares one table's shard count. The sharding function and
// accumulator are registered in code (internal/table), not configuration,
// since they are Go function values.
type TableConfig struct {
	ID        int `toml:"id"`
	NumShards int `toml:"num-shards"`
}

// Config is the configuration shared by the master and every worker.
type Config struct {
	NumWorkers                 int            `toml:"num-workers"`
	CheckpointDir              string         `toml:"checkpoint-dir"`
	SleepTime                  time.Duration  `toml:"-"`
	SleepTimeSeconds           float64        `toml:"sleep-time"`
	CheckpointInterval         time.Duration  `toml:"-"`
	CheckpointIntervalSeconds  float64        `toml:"checkpoint-interval"`
	CheckpointType             CheckpointType `toml:"checkpoint-type"`
	Tables                     []TableConfig  `toml:"table"`
	LogLevel                   string         `toml:"log-level"`
	MasterAddr                 string         `toml:"master-addr"`
	WorkerAddrs                []string       `toml:"worker-addrs"`
}

// Addrs returns the full rank-indexed address list a GrpcTransport needs:
// index 0 is the master, indexes 1..NumWorkers are the workers.
func (c *Config) Addrs() []string {
	return append([]string{c.MasterAddr}, c.WorkerAddrs...)
}

// NewDefaultConfig returns a value with sane defaults that callers layer
// file and flag overrides onto.
func NewDefaultConfig() *Config {
	c := &Config{
		NumWorkers:                1,
		CheckpointDir:             "checkpoints",
		SleepTimeSeconds:          0.001,
		CheckpointIntervalSeconds: disabledInterval,
		CheckpointType:            CheckpointNone,
		LogLevel:                  "info",
		MasterAddr:                "127.0.0.1:9930",
	}
	c.resolveDurations()
	return c
}

func (c *Config) resolveDurations() {
	c.SleepTime = time.Duration(c.SleepTimeSeconds * float64(time.Second))
	if c.CheckpointIntervalSeconds < 0 {
		c.CheckpointInterval = -1
	} else {
		c.CheckpointInterval = time.Duration(c.CheckpointIntervalSeconds * float64(time.Second))
	}
}

// Load reads a TOML config file on top of the defaults.
func Load(path string) (*Config, error) {
	c := NewDefaultConfig()
	if path == "" {
		return c, nil
	}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, errors.Wrapf(err, "loading config from %s", path)
	}
	c.resolveDurations()
	return c, nil
}

// ShardCount returns the configured shard count for table id, or ok=false
// if the table was never declared.
func (c *Config) ShardCount(tableID int) (int, bool) {
	for _, t := range c.Tables {
		if t.ID == tableID {
			return t.NumShards, true
		}
	}
	return 0, false
}
