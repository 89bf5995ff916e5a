package master

import (
	"time"

	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"github.com/tablekernel/piccolo/internal/wire"
	"go.uber.org/zap"
)

type taskState int

const (
	taskAssigned taskState = iota
	taskWorking
	taskFinished
)

// task is one kernel invocation on one shard, tracked through the
// ASSIGNED -> WORKING -> FINISHED lifecycle.
type task struct {
	kernelName string
	method     string
	table      int
	shard      int
	worker     int
	dispatched bool
	state      taskState
}

// RunOne dispatches kernelName.method on a single shard of table and
// blocks until it finishes.
func (m *Master) RunOne(kernelName, method string, table, shard int) error {
	return m.runShards(kernelName, method, table, []int{shard})
}

// RunAll dispatches kernelName.method across every shard of table and
// blocks until all finish.
func (m *Master) RunAll(kernelName, method string, table int) error {
	n, err := m.shardCount(table)
	if err != nil {
		return err
	}
	shards := make([]int, n)
	for i := range shards {
		shards[i] = i
	}
	return m.runShards(kernelName, method, table, shards)
}

// RunRange dispatches kernelName.method across shards [start, end) of
// table and blocks until all finish.
func (m *Master) RunRange(kernelName, method string, table, start, end int) error {
	if start < 0 || end < start {
		return errors.Errorf("invalid shard range [%d, %d)", start, end)
	}
	shards := make([]int, 0, end-start)
	for s := start; s < end; s++ {
		shards = append(shards, s)
	}
	return m.runShards(kernelName, method, table, shards)
}

func (m *Master) runShards(kernelName, method string, table int, shards []int) error {
	if err := m.assignTables(table); err != nil {
		return errors.Wrapf(err, "assigning table %d before run", table)
	}
	m.maybeCheckpoint()

	tasks := make([]*task, len(shards))
	for i, shard := range shards {
		tasks[i] = &task{
			kernelName: kernelName,
			method:     method,
			table:      table,
			shard:      shard,
			worker:     m.owner[shardKey{table, shard}],
		}
	}

	for {
		m.dispatchReady(tasks)
		m.stealWork(tasks)

		done, ckptDone, restoreDone := m.pollMessages()
		m.applyKernelDone(tasks, done)
		m.applyCheckpointDone(ckptDone)
		m.applyRestoreDone(restoreDone)

		if allFinished(tasks) {
			return nil
		}
		time.Sleep(m.cfg.SleepTime)
	}
}

func allFinished(tasks []*task) bool {
	for _, t := range tasks {
		if t.state != taskFinished {
			return false
		}
	}
	return true
}

// dispatchReady sends RUN_KERNEL for every task whose worker currently has
// spare capacity and hasn't been sent yet.
func (m *Master) dispatchReady(tasks []*task) {
	for _, t := range tasks {
		if t.dispatched {
			continue
		}
		w, ok := m.workers[t.worker]
		if !ok || w.activeTasks >= w.slots {
			continue
		}
		if err := m.sendRunKernel(t); err != nil {
			log.Error("dispatching kernel", zap.Error(err))
			continue
		}
		t.dispatched = true
		t.state = taskWorking
		w.activeTasks++
	}
}

func (m *Master) sendRunKernel(t *task) error {
	env, err := wire.Encode(wire.TagRunKernel, &wire.RunKernel{
		KernelName: t.kernelName, Method: t.method, Table: t.table, Shard: t.shard,
	})
	if err != nil {
		return errors.Wrap(err, "encoding RunKernel")
	}
	return m.transport.Send(t.worker, wire.TagRunKernel, env.Payload)
}

// stealWork looks for an idle worker (no active tasks and nothing of its
// own left to dispatch) while another worker still has a backlog of
// not-yet-dispatched tasks, and moves one backlogged task's shard
// ownership to the idle worker. A stolen task stays undispatched with its
// worker set to the thief; the next dispatchReady pass sends it there.
func (m *Master) stealWork(tasks []*task) {
	backlog := map[int][]*task{}
	for _, t := range tasks {
		if !t.dispatched {
			backlog[t.worker] = append(backlog[t.worker], t)
		}
	}
	if len(backlog) == 0 {
		return
	}

	for _, w := range m.workers {
		if w.activeTasks > 0 {
			continue // not idle
		}
		if len(backlog[w.rank]) > 0 {
			continue // already has its own backlog to work through
		}
		victim, queue := busiestBacklog(backlog, w.rank)
		if victim < 0 || len(queue) < 2 {
			continue // leave the victim at least one task of its own
		}
		stolen := queue[len(queue)-1]
		backlog[victim] = queue[:len(queue)-1]

		if err := m.reassign(stolen.table, stolen.shard, w.rank); err != nil {
			log.Error("stealing work", zap.Error(err))
			continue
		}
		stolen.worker = w.rank
		log.Info("stole task", zap.Int("table", stolen.table), zap.Int("shard", stolen.shard),
			zap.Int("from", victim), zap.Int("to", w.rank))
	}
}

func busiestBacklog(backlog map[int][]*task, exclude int) (int, []*task) {
	victim, best := -1, 0
	for w, q := range backlog {
		if w == exclude {
			continue
		}
		if len(q) > best {
			victim, best = w, len(q)
		}
	}
	if victim < 0 {
		return -1, nil
	}
	return victim, backlog[victim]
}

func (m *Master) applyKernelDone(tasks []*task, done []wire.KernelDone) {
	for _, d := range done {
		for _, t := range tasks {
			if t.table == d.Table && t.shard == d.Shard && t.kernelName == d.KernelName && t.method == d.Method {
				t.state = taskFinished
				if w, ok := m.workers[t.worker]; ok && w.activeTasks > 0 {
					w.activeTasks--
				}
			}
		}
	}
}
