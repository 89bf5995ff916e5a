package worker

import (
	"time"

	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"github.com/tablekernel/piccolo/internal/table"
	"github.com/tablekernel/piccolo/internal/transport"
	"github.com/tablekernel/piccolo/internal/wire"
	"go.uber.org/zap"
)

// The methods below satisfy table.Context, the narrow surface GlobalTable
// uses to reach the worker instead of holding a back-pointer.

func (w *Worker) SelfRank() int { return w.rank }

func (w *Worker) Owner(tableID, shard int) int {
	t := table.Get(tableID)
	if t == nil {
		return -1
	}
	return t.Owner(shard)
}

func (w *Worker) SendDelta(peer int, req *wire.PutRequest) {
	w.sendTagged(peer, wire.TagPutRequest, req)
	w.metrics.PutsOut.Inc()
}

func (w *Worker) DrainIncoming() { w.handlePutRequests() }

// GetRemote issues a synchronous GET RPC and blocks for the response,
// reaping outstanding sends and applying inbound PUT traffic (including
// epoch markers) while it waits. Master messages are not read here.
func (w *Worker) GetRemote(tableID, shard int, key []byte) ([]byte, bool, error) {
	owner := w.Owner(tableID, shard)
	if owner < 0 {
		return nil, false, errors.Errorf("shard %d of table %d is unassigned", shard, tableID)
	}
	w.sendTagged(owner, wire.TagGetRequest, &wire.GetRequest{Table: tableID, Shard: shard, Key: key})
	w.metrics.GetsOut.Inc()

	for {
		if payload, _, ok := w.transport.TryRecv(owner, wire.TagGetResponse); ok {
			var resp wire.PutRequest
			if err := wire.Decode(wire.Envelope{Tag: wire.TagGetResponse, Payload: payload}, &resp); err != nil {
				return nil, false, err
			}
			if resp.Missing {
				return nil, true, nil
			}
			return resp.Pairs[0].Value, false, nil
		}
		w.collectPending()
		w.handlePutRequests()
		time.Sleep(w.cfg.SleepTime)
	}
}

// handlePutRequests reaps outstanding sends and applies every buffered
// inbound delta, including epoch markers.
func (w *Worker) handlePutRequests() {
	w.collectPending()
	for {
		payload, source, ok := w.transport.TryRecv(transport.AnyRank, wire.TagPutRequest)
		if !ok {
			return
		}
		w.metrics.BytesIn.Add(float64(len(payload)))
		var req wire.PutRequest
		if err := wire.Decode(wire.Envelope{Tag: wire.TagPutRequest, Payload: payload}, &req); err != nil {
			log.Error("decoding PUT request", zap.Error(err))
			continue
		}
		if req.IsMarker() {
			w.handleEpochMarker(source, req.Marker)
			continue
		}

		t := table.Get(req.Table)
		if t == nil {
			log.Error("PUT for unknown table", zap.Int("table", req.Table))
			continue
		}
		t.ApplyUpdates(&req)
		w.metrics.PutsIn.Inc()

		if req.Epoch < w.currentEpoch() {
			w.appendDeltaLog(req.Table, &req)
		}
		if req.Done && t.Tainted(req.Shard) {
			t.ClearTainted(req.Shard)
		}
	}
}

// handleGetRequests answers every buffered GET request against locally
// owned shards, reporting a missing key rather than blocking for it
//. Returns whether any request was serviced.
func (w *Worker) handleGetRequests() bool {
	did := false
	for {
		payload, source, ok := w.transport.TryRecv(transport.AnyRank, wire.TagGetRequest)
		if !ok {
			return did
		}
		did = true
		w.metrics.GetsIn.Inc()
		var req wire.GetRequest
		if err := wire.Decode(wire.Envelope{Tag: wire.TagGetRequest, Payload: payload}, &req); err != nil {
			log.Error("decoding GET request", zap.Error(err))
			continue
		}

		resp := &wire.PutRequest{
			Source: w.rank, Table: req.Table, Shard: req.Shard,
			Done: true, Epoch: w.currentEpoch(), Marker: -1,
		}
		t := table.Get(req.Table)
		if t == nil {
			resp.Missing = true
		} else if vb, missing := t.GetLocal(req.Shard, req.Key); missing {
			resp.Missing = true
		} else {
			resp.Pairs = []wire.KV{{Key: req.Key, Value: vb}}
		}
		w.sendTagged(source, wire.TagGetResponse, resp)
	}
}

// checkForMasterUpdates drains every control message the master may have
// sent since the last check: shutdown, shard reassignment, kernel
// dispatch, checkpoint, and restore, then reports finished kernels back if
// the network has drained.
func (w *Worker) checkForMasterUpdates() {
	if _, _, ok := w.transport.TryRecv(MasterRank, wire.TagWorkerShutdown); ok {
		w.Shutdown()
		return
	}

	for {
		payload, _, ok := w.transport.TryRecv(MasterRank, wire.TagShardAssignment)
		if !ok {
			break
		}
		var msg wire.ShardAssignment
		if err := wire.Decode(wire.Envelope{Tag: wire.TagShardAssignment, Payload: payload}, &msg); err != nil {
			log.Error("decoding shard assignment", zap.Error(err))
			continue
		}
		w.applyShardAssignment(&msg)
	}

	for {
		payload, _, ok := w.transport.TryRecv(MasterRank, wire.TagRunKernel)
		if !ok {
			break
		}
		var msg wire.RunKernel
		if err := wire.Decode(wire.Envelope{Tag: wire.TagRunKernel, Payload: payload}, &msg); err != nil {
			log.Error("decoding RUN_KERNEL", zap.Error(err))
			continue
		}
		w.stateMu.Lock()
		w.kernelQueue = append(w.kernelQueue, msg)
		w.stateMu.Unlock()
	}

	for {
		payload, _, ok := w.transport.TryRecv(MasterRank, wire.TagCheckpoint)
		if !ok {
			break
		}
		var msg wire.Checkpoint
		if err := wire.Decode(wire.Envelope{Tag: wire.TagCheckpoint, Payload: payload}, &msg); err != nil {
			log.Error("decoding CHECKPOINT", zap.Error(err))
			continue
		}
		w.startCheckpoint(msg.Epoch)
	}

	for {
		payload, _, ok := w.transport.TryRecv(MasterRank, wire.TagRestore)
		if !ok {
			break
		}
		var msg wire.Restore
		if err := wire.Decode(wire.Envelope{Tag: wire.TagRestore, Payload: payload}, &msg); err != nil {
			log.Error("decoding RESTORE", zap.Error(err))
			continue
		}
		w.restore(msg.Epoch)
	}

	if w.networkIdle() {
		w.flushKernelDone()
	}
}

func (w *Worker) flushKernelDone() {
	w.stateMu.Lock()
	done := w.kernelDone
	w.kernelDone = nil
	w.stateMu.Unlock()
	for i := range done {
		w.sendTagged(MasterRank, wire.TagKernelDone, &done[i])
	}
}

// applyShardAssignment reconciles one batch of ownership changes. Gaining
// a shard from a live previous owner taints it until that owner's final
// delta arrives; gaining a previously unassigned shard (prevOwner < 0, as
// at startup) has no previous owner to wait on, so it is immediately
// canonical. Losing a shard flushes its canonical contents to the new
// owner first, so no write is dropped on the handoff.
func (w *Worker) applyShardAssignment(msg *wire.ShardAssignment) {
	for _, a := range msg.Assignments {
		t := table.Get(a.Table)
		if t == nil {
			log.Error("shard assignment for unknown table", zap.Int("table", a.Table))
			continue
		}
		prevOwner := t.Owner(a.Shard)
		switch {
		case a.NewWorker == w.rank && prevOwner == w.rank:
			// no-op: reassignment to the current owner
		case a.NewWorker == w.rank && prevOwner >= 0:
			t.SetOwner(a.Shard, w.rank)
			t.SetTainted(a.Shard)
		case a.NewWorker == w.rank:
			t.SetOwner(a.Shard, w.rank)
		case prevOwner == w.rank && a.NewWorker != w.rank:
			p := t.Partition(a.Shard)
			for _, frag := range p.SerializePartial(w.rank, a.Table, a.Shard, w.currentEpoch()) {
				w.sendTagged(a.NewWorker, wire.TagPutRequest, frag)
			}
			p.Clear()
			t.SetOwner(a.Shard, a.NewWorker)
		default:
			t.SetOwner(a.Shard, a.NewWorker)
		}
	}
}
