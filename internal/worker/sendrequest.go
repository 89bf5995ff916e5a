package worker

import (
	"time"

	"github.com/pingcap/log"
	"github.com/tablekernel/piccolo/internal/transport"
	"github.com/tablekernel/piccolo/internal/wire"
	"go.uber.org/zap"
)

// sendRequest tracks one outstanding non-blocking send: if it has not
// completed within networkTimeout it is cancelled and retransmitted
// verbatim.
type sendRequest struct {
	peer    int
	tag     wire.Tag
	payload []byte
	handle  transport.Handle
	started time.Time
}

// sendTagged encodes msg under tag and hands it to the transport as a
// tracked non-blocking send, mirroring the way every worker-to-worker
// message (deltas, GET requests, GET responses) is issued.
func (w *Worker) sendTagged(peer int, tag wire.Tag, msg interface{}) {
	env, err := wire.Encode(tag, msg)
	if err != nil {
		log.Fatal("encoding outgoing message", zap.Stringer("tag", tag), zap.Error(err))
	}
	w.trackSend(peer, tag, env.Payload)
}

func (w *Worker) trackSend(peer int, tag wire.Tag, payload []byte) {
	req := &sendRequest{
		peer:    peer,
		tag:     tag,
		payload: payload,
		handle:  w.transport.ISend(peer, tag, payload),
		started: time.Now(),
	}
	w.metrics.BytesOut.Add(float64(len(payload)))
	w.stateMu.Lock()
	w.outgoing[req] = struct{}{}
	w.metrics.OutstandingSend.Set(float64(len(w.outgoing)))
	w.stateMu.Unlock()
}

// collectPending reaps completed sends and retransmits any that have been
// outstanding longer than networkTimeout. It must not be called while holding stateMu.
func (w *Worker) collectPending() {
	w.stateMu.Lock()
	var stale []*sendRequest
	for req := range w.outgoing {
		if req.handle.Test() {
			delete(w.outgoing, req)
			continue
		}
		if time.Since(req.started) > networkTimeout {
			stale = append(stale, req)
		}
	}
	for _, req := range stale {
		delete(w.outgoing, req)
	}
	w.metrics.OutstandingSend.Set(float64(len(w.outgoing)))
	w.stateMu.Unlock()

	for _, req := range stale {
		req.handle.Cancel()
		w.metrics.SendRetries.Inc()
		log.Warn("retransmitting send after timeout",
			zap.Int("peer", req.peer), zap.Stringer("tag", req.tag))
		w.trackSend(req.peer, req.tag, req.payload)
	}
}
