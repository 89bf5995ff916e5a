// Package master implements the cluster controller: worker registration,
// shard assignment, kernel dispatch with work stealing, and checkpoint
// orchestration.
package master

import (
	"time"

	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"github.com/tablekernel/piccolo/internal/config"
	"github.com/tablekernel/piccolo/internal/transport"
	"github.com/tablekernel/piccolo/internal/wire"
	"go.uber.org/zap"
)

const masterRank = 0

type shardKey struct {
	table int
	shard int
}

// workerInfo is what the master tracks about one registered worker.
type workerInfo struct {
	rank        int
	slots       int
	registered  bool
	activeTasks int
}

// Master is the cluster controller. It runs single-threaded: RunOne,
// RunAll, and RunRange each block the caller until their shards finish,
// and the checkpoint interval is checked at the start of each run on that
// same goroutine rather than from a separate goroutine.
type Master struct {
	transport transport.Transport
	cfg       *config.Config

	workers  map[int]*workerInfo
	owner    map[shardKey]int
	rrCursor int

	lastCheckpoint time.Time
	checkpointSeq  int64
}

// New constructs a master bound to tr, expecting cfg.NumWorkers workers to
// register before any run is dispatched.
func New(cfg *config.Config, tr transport.Transport) *Master {
	return &Master{
		transport: tr,
		cfg:       cfg,
		workers:   make(map[int]*workerInfo),
		owner:     make(map[shardKey]int),
	}
}

// WaitForWorkers blocks until every configured worker has sent
// RegisterWorker, or timeout elapses.
func (m *Master) WaitForWorkers(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		m.drainRegistrations()
		if len(m.workers) >= m.cfg.NumWorkers {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Errorf("timed out waiting for %d workers, %d registered",
				m.cfg.NumWorkers, len(m.workers))
		}
		time.Sleep(m.cfg.SleepTime)
	}
}

func (m *Master) drainRegistrations() {
	for {
		payload, _, ok := m.transport.TryRecv(transport.AnyRank, wire.TagRegisterWorker)
		if !ok {
			return
		}
		var msg wire.RegisterWorker
		if err := wire.Decode(wire.Envelope{Tag: wire.TagRegisterWorker, Payload: payload}, &msg); err != nil {
			log.Error("decoding RegisterWorker", zap.Error(err))
			continue
		}
		m.workers[msg.ID] = &workerInfo{rank: msg.ID, slots: msg.Slots, registered: true}
		log.Info("worker registered", zap.Int("rank", msg.ID), zap.Int("slots", msg.Slots))
	}
}

// pollMessages drains everything except RUN_KERNEL/CHECKPOINT/RESTORE
// dispatch (the master only ever sends those, never receives them) and
// returns the KernelDone and CheckpointDone/RestoreDone batches seen.
func (m *Master) pollMessages() (done []wire.KernelDone, ckptDone []wire.CheckpointDone, restoreDone []wire.RestoreDone) {
	m.drainRegistrations()

	for {
		payload, _, ok := m.transport.TryRecv(transport.AnyRank, wire.TagKernelDone)
		if !ok {
			break
		}
		var msg wire.KernelDone
		if err := wire.Decode(wire.Envelope{Tag: wire.TagKernelDone, Payload: payload}, &msg); err != nil {
			log.Error("decoding KernelDone", zap.Error(err))
			continue
		}
		done = append(done, msg)
	}

	for {
		payload, _, ok := m.transport.TryRecv(transport.AnyRank, wire.TagCheckpointDone)
		if !ok {
			break
		}
		var msg wire.CheckpointDone
		if err := wire.Decode(wire.Envelope{Tag: wire.TagCheckpointDone, Payload: payload}, &msg); err != nil {
			log.Error("decoding CheckpointDone", zap.Error(err))
			continue
		}
		ckptDone = append(ckptDone, msg)
	}

	for {
		payload, _, ok := m.transport.TryRecv(transport.AnyRank, wire.TagRestoreDone)
		if !ok {
			break
		}
		var msg wire.RestoreDone
		if err := wire.Decode(wire.Envelope{Tag: wire.TagRestoreDone, Payload: payload}, &msg); err != nil {
			log.Error("decoding RestoreDone", zap.Error(err))
			continue
		}
		restoreDone = append(restoreDone, msg)
	}
	return done, ckptDone, restoreDone
}

// Shutdown broadcasts WORKER_SHUTDOWN to every registered worker.
func (m *Master) Shutdown() error {
	env, err := wire.Encode(wire.TagWorkerShutdown, &wire.WorkerShutdown{})
	if err != nil {
		return errors.Wrap(err, "encoding WorkerShutdown")
	}
	return m.transport.Broadcast(wire.TagWorkerShutdown, env.Payload)
}
