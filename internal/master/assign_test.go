package master

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tablekernel/piccolo/internal/config"
	"github.com/tablekernel/piccolo/internal/transport"
)

func TestPickWorkerRoundRobin(t *testing.T) {
	fabric := transport.NewFabric(3)
	m := New(config.NewDefaultConfig(), fabric.For(masterRank))
	m.workers[1] = &workerInfo{rank: 1}
	m.workers[2] = &workerInfo{rank: 2}

	seen := map[int]int{}
	for i := 0; i < 4; i++ {
		seen[m.pickWorker()]++
	}
	assert.Equal(t, 2, seen[1])
	assert.Equal(t, 2, seen[2])
}

func TestPickWorkerNoneRegistered(t *testing.T) {
	fabric := transport.NewFabric(1)
	m := New(config.NewDefaultConfig(), fabric.For(masterRank))
	assert.Equal(t, -1, m.pickWorker())
}

func TestLeastLoadedSkipsExcluded(t *testing.T) {
	fabric := transport.NewFabric(3)
	m := New(config.NewDefaultConfig(), fabric.For(masterRank))
	m.workers[1] = &workerInfo{rank: 1, activeTasks: 3}
	m.workers[2] = &workerInfo{rank: 2, activeTasks: 1}

	assert.Equal(t, 2, m.leastLoaded(nil))
	assert.Equal(t, 1, m.leastLoaded(map[int]bool{2: true}))
}

func TestAssignTablesIsIdempotent(t *testing.T) {
	fabric := transport.NewFabric(3)
	cfg := config.NewDefaultConfig()
	cfg.Tables = []config.TableConfig{{ID: 9, NumShards: 2}}
	m := New(cfg, fabric.For(masterRank))
	m.workers[1] = &workerInfo{rank: 1}
	m.workers[2] = &workerInfo{rank: 2}

	assert.NoError(t, m.assignTables(9))
	first := map[shardKey]int{{9, 0}: m.owner[shardKey{9, 0}], {9, 1}: m.owner[shardKey{9, 1}]}

	assert.NoError(t, m.assignTables(9))
	assert.Equal(t, first[shardKey{9, 0}], m.owner[shardKey{9, 0}])
	assert.Equal(t, first[shardKey{9, 1}], m.owner[shardKey{9, 1}])
}

func TestAssignTablesUnknownTable(t *testing.T) {
	fabric := transport.NewFabric(2)
	m := New(config.NewDefaultConfig(), fabric.For(masterRank))
	assert.Error(t, m.assignTables(404))
}
