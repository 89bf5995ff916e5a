package worker

import (
	"github.com/pingcap/log"
	"github.com/tablekernel/piccolo/internal/checkpoint"
	"github.com/tablekernel/piccolo/internal/table"
	"github.com/tablekernel/piccolo/internal/wire"
	"go.uber.org/zap"
)

// startCheckpoint begins a new epoch in response to a master-issued
// CHECKPOINT message, unless this worker has already reached that epoch
// (handleEpochMarker cuts it early when a peer's marker arrives first).
func (w *Worker) startCheckpoint(epoch int64) {
	w.stateMu.Lock()
	behind := w.epoch < epoch
	w.stateMu.Unlock()
	if !behind {
		return
	}
	w.cutEpoch(epoch)
}

// cutEpoch snapshots every locally-owned shard, opens a fresh delta log per
// table, advances the local epoch counter, and propagates an epoch marker
// to every other worker so the cut is visible on every channel.
func (w *Worker) cutEpoch(epoch int64) {
	for _, t := range table.All() {
		shards := t.CheckpointSnapshot()
		if err := checkpoint.WriteSnapshot(w.cfg.CheckpointDir, t.ID(), epoch, t.Info().AccumKind, shards); err != nil {
			log.Error("writing checkpoint snapshot", zap.Int("table", t.ID()), zap.Error(err))
			continue
		}
		dl, err := checkpoint.OpenDeltaLog(w.cfg.CheckpointDir, t.ID(), epoch)
		if err != nil {
			log.Error("opening delta log", zap.Int("table", t.ID()), zap.Error(err))
			continue
		}
		w.stateMu.Lock()
		if old, ok := w.deltaLogs[t.ID()]; ok {
			old.Close()
		}
		w.deltaLogs[t.ID()] = dl
		w.stateMu.Unlock()
	}

	w.stateMu.Lock()
	w.epoch = epoch
	w.peerEpoch[w.rank] = epoch
	done := w.allPeersDoneLocked(epoch)
	w.stateMu.Unlock()

	marker := &wire.PutRequest{Source: w.rank, Table: -1, Shard: -1, Done: true, Epoch: epoch, Marker: epoch}
	for r := 1; r <= w.cfg.NumWorkers; r++ {
		if r == w.rank {
			continue
		}
		w.sendTagged(r, wire.TagPutRequest, marker)
	}

	if done {
		w.finishCheckpoint(epoch)
	}
}

// handleEpochMarker records a peer's arrival at epoch, catching this
// worker up first if the peer got there before the master's CHECKPOINT
// message reached it.
func (w *Worker) handleEpochMarker(source int, epoch int64) {
	w.stateMu.Lock()
	behind := w.epoch < epoch
	w.stateMu.Unlock()
	if behind {
		w.cutEpoch(epoch)
	}

	w.stateMu.Lock()
	w.peerEpoch[source] = epoch
	done := w.epoch == epoch && w.allPeersDoneLocked(epoch)
	w.stateMu.Unlock()
	if done {
		w.finishCheckpoint(epoch)
	}
}

// allPeersDoneLocked reports whether every worker rank has acknowledged
// epoch. Callers must hold stateMu.
func (w *Worker) allPeersDoneLocked(epoch int64) bool {
	for r := 1; r <= w.cfg.NumWorkers; r++ {
		if w.peerEpoch[r] != epoch {
			return false
		}
	}
	return true
}

func (w *Worker) finishCheckpoint(epoch int64) {
	w.stateMu.Lock()
	logs := w.deltaLogs
	w.deltaLogs = make(map[int]*checkpoint.DeltaLog)
	w.stateMu.Unlock()
	for _, dl := range logs {
		dl.Close()
	}
	w.sendTagged(MasterRank, wire.TagCheckpointDone, &wire.CheckpointDone{Epoch: epoch})
}

// appendDeltaLog records a delta that arrived tagged for an epoch older
// than this worker's current one, i.e. a write in flight when the cut
// happened; restore replays it back on top of the matching snapshot.
func (w *Worker) appendDeltaLog(tableID int, req *wire.PutRequest) {
	w.stateMu.Lock()
	dl, ok := w.deltaLogs[tableID]
	w.stateMu.Unlock()
	if !ok {
		return
	}
	if err := dl.Append(req); err != nil {
		log.Error("appending to delta log", zap.Int("table", tableID), zap.Error(err))
	}
}

// restore reloads every table's shard contents from epoch's snapshot and
// replays its delta log on top, then acknowledges the master.
func (w *Worker) restore(epoch int64) {
	for _, t := range table.All() {
		kind, shards, err := checkpoint.ReadSnapshot(w.cfg.CheckpointDir, t.ID(), epoch)
		if err != nil {
			log.Error("reading checkpoint snapshot", zap.Int("table", t.ID()), zap.Error(err))
			continue
		}
		if kind != t.Info().AccumKind {
			log.Warn("checkpoint accumulator kind does not match live table",
				zap.Int("table", t.ID()), zap.Stringer("snapshot", kind), zap.Stringer("live", t.Info().AccumKind))
		}
		if err := t.RestoreSnapshot(shards); err != nil {
			log.Error("restoring snapshot", zap.Int("table", t.ID()), zap.Error(err))
			continue
		}
		deltas, err := checkpoint.ReplayDeltaLog(w.cfg.CheckpointDir, t.ID(), epoch)
		if err != nil {
			log.Error("replaying delta log", zap.Int("table", t.ID()), zap.Error(err))
			continue
		}
		for _, d := range deltas {
			t.ApplyUpdates(d)
		}
	}

	w.stateMu.Lock()
	w.epoch = epoch
	w.peerEpoch = map[int]int64{w.rank: epoch}
	w.stateMu.Unlock()

	w.sendTagged(MasterRank, wire.TagRestoreDone, &wire.RestoreDone{Epoch: epoch})
}
