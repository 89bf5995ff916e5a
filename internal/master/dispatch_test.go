package master

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tablekernel/piccolo/internal/config"
	"github.com/tablekernel/piccolo/internal/transport"
	"github.com/tablekernel/piccolo/internal/wire"
)

func TestBusiestBacklogPicksLongestQueueExcludingSelf(t *testing.T) {
	backlog := map[int][]*task{
		1: {{}, {}, {}},
		2: {{}},
		3: {{}, {}},
	}
	victim, queue := busiestBacklog(backlog, 1)
	assert.Equal(t, 3, victim)
	assert.Len(t, queue, 2)
}

func TestBusiestBacklogEmpty(t *testing.T) {
	victim, queue := busiestBacklog(map[int][]*task{}, 1)
	assert.Equal(t, -1, victim)
	assert.Nil(t, queue)
}

func TestStealWorkMovesTaskToIdleWorker(t *testing.T) {
	fabric := transport.NewFabric(3)
	cfg := config.NewDefaultConfig()
	cfg.NumWorkers = 2
	m := New(cfg, fabric.For(masterRank))
	m.workers[1] = &workerInfo{rank: 1, slots: 1, activeTasks: 0}
	m.workers[2] = &workerInfo{rank: 2, slots: 1, activeTasks: 0}

	tasks := []*task{
		{table: 5, shard: 0, worker: 1},
		{table: 5, shard: 1, worker: 1},
	}
	m.stealWork(tasks)

	assert.Equal(t, 2, tasks[1].worker)
	assert.Equal(t, 2, m.owner[shardKey{5, 1}])
}

func TestApplyKernelDoneMarksTaskFinished(t *testing.T) {
	fabric := transport.NewFabric(2)
	cfg := config.NewDefaultConfig()
	m := New(cfg, fabric.For(masterRank))
	m.workers[1] = &workerInfo{rank: 1, slots: 1, activeTasks: 1}

	tasks := []*task{{kernelName: "Echo", method: "Do", table: 5, shard: 0, worker: 1, state: taskWorking}}
	done := []wire.KernelDone{{KernelName: "Echo", Method: "Do", Table: 5, Shard: 0}}
	m.applyKernelDone(tasks, done)

	assert.Equal(t, taskFinished, tasks[0].state)
	assert.Equal(t, 0, m.workers[1].activeTasks)
}

func TestAllFinished(t *testing.T) {
	tasks := []*task{{state: taskFinished}, {state: taskFinished}}
	assert.True(t, allFinished(tasks))
	tasks = append(tasks, &task{state: taskWorking})
	assert.False(t, allFinished(tasks))
}
