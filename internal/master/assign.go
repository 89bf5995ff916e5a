package master

import (
	"sort"

	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"github.com/tablekernel/piccolo/internal/wire"
	"go.uber.org/zap"
)

// shardCount returns the configured shard count for table, per
// config.TableConfig.
func (m *Master) shardCount(table int) (int, error) {
	n, ok := m.cfg.ShardCount(table)
	if !ok {
		return 0, errors.Errorf("table %d has no configured shard count", table)
	}
	return n, nil
}

// pickWorker returns the next worker rank in round-robin order among
// currently registered workers.
func (m *Master) pickWorker() int {
	ranks := m.workerRanks()
	if len(ranks) == 0 {
		return -1
	}
	w := ranks[m.rrCursor%len(ranks)]
	m.rrCursor++
	return w
}

func (m *Master) workerRanks() []int {
	ranks := make([]int, 0, len(m.workers))
	for r := range m.workers {
		ranks = append(ranks, r)
	}
	sort.Ints(ranks)
	return ranks
}

// leastLoaded returns the registered worker with the fewest active tasks,
// excluding any rank in skip.
func (m *Master) leastLoaded(skip map[int]bool) int {
	best, bestLoad := -1, -1
	for r, w := range m.workers {
		if skip[r] {
			continue
		}
		if best < 0 || w.activeTasks < bestLoad {
			best, bestLoad = r, w.activeTasks
		}
	}
	return best
}

// assignTables gives every not-yet-owned shard of table a worker via
// round robin, and broadcasts the resulting assignment to all workers so
// every worker's local ownership view converges, not just the shard
// owner's — a table's Owner() is consulted for routing on every worker,
// not only the owner.
func (m *Master) assignTables(table int) error {
	n, err := m.shardCount(table)
	if err != nil {
		return err
	}
	var assigns []wire.ShardAssign
	for shard := 0; shard < n; shard++ {
		key := shardKey{table, shard}
		if _, ok := m.owner[key]; ok {
			continue
		}
		w := m.pickWorker()
		if w < 0 {
			return errors.Errorf("no registered workers to assign table %d shard %d", table, shard)
		}
		m.owner[key] = w
		assigns = append(assigns, wire.ShardAssign{Table: table, Shard: shard, NewWorker: w})
	}
	if len(assigns) == 0 {
		return nil
	}
	return m.broadcastAssignment(assigns)
}

func (m *Master) broadcastAssignment(assigns []wire.ShardAssign) error {
	env, err := wire.Encode(wire.TagShardAssignment, &wire.ShardAssignment{Assignments: assigns})
	if err != nil {
		return errors.Wrap(err, "encoding ShardAssignment")
	}
	if err := m.transport.Broadcast(wire.TagShardAssignment, env.Payload); err != nil {
		return errors.Wrap(err, "broadcasting ShardAssignment")
	}
	for _, a := range assigns {
		log.Info("shard assigned", zap.Int("table", a.Table), zap.Int("shard", a.Shard), zap.Int("worker", a.NewWorker))
	}
	return nil
}

// reassign moves shard's ownership to worker and tells every worker about
// it, used by work stealing to move a not-yet-started task's shard to an
// idle worker.
func (m *Master) reassign(table, shard, worker int) error {
	m.owner[shardKey{table, shard}] = worker
	return m.broadcastAssignment([]wire.ShardAssign{{Table: table, Shard: shard, NewWorker: worker}})
}
