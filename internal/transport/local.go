package transport

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tablekernel/piccolo/internal/wire"
)

// Fabric is an in-process rank space shared by every Transport handed out
// by it. It stands in for the real cluster transport (MPI, a TCP mesh) in
// tests and single-binary demo runs, where every rank is a goroutine
// rather than a separate process.
type Fabric struct {
	mu       sync.Mutex
	cond     *sync.Cond
	numRanks int
	inbox    map[int]map[wire.Tag][]inboxMsg
	delay    map[[2]int]time.Duration // (source,dest) -> artificial ISend delay, consumed once
	closed   bool
}

type inboxMsg struct {
	source  int
	payload []byte
}

// NewFabric builds a fabric with ranks 0..numRanks-1 (rank 0 is master).
func NewFabric(numRanks int) *Fabric {
	f := &Fabric{
		numRanks: numRanks,
		inbox:    make(map[int]map[wire.Tag][]inboxMsg),
	}
	f.cond = sync.NewCond(&f.mu)
	for r := 0; r < numRanks; r++ {
		f.inbox[r] = make(map[wire.Tag][]inboxMsg)
	}
	return f
}

// For returns the Transport view of the fabric for the given rank.
func (f *Fabric) For(rank int) Transport {
	return &localTransport{fabric: f, rank: rank}
}

// InjectSendDelay makes the next ISend from source to dest report
// incomplete for at least dur; used by tests exercising the send-timeout
// retry path.
func (f *Fabric) InjectSendDelay(source, dest int, dur time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delay == nil {
		f.delay = make(map[[2]int]time.Duration)
	}
	f.delay[[2]int{source, dest}] = dur
}

func (f *Fabric) takeDelay(source, dest int) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := [2]int{source, dest}
	d, ok := f.delay[key]
	if ok {
		delete(f.delay, key)
	}
	return d
}

func (f *Fabric) deliver(dest int, tag wire.Tag, msg inboxMsg) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.inbox[dest][tag] = append(f.inbox[dest][tag], msg)
	f.cond.Broadcast()
}

type localTransport struct {
	fabric *Fabric
	rank   int
}

func (t *localTransport) Rank() int      { return t.rank }
func (t *localTransport) NumRanks() int  { return t.fabric.numRanks }

func (t *localTransport) Send(peer int, tag wire.Tag, payload []byte) error {
	t.fabric.deliver(peer, tag, inboxMsg{source: t.rank, payload: payload})
	return nil
}

func (t *localTransport) ISend(peer int, tag wire.Tag, payload []byte) Handle {
	h := &localHandle{}
	delay := t.fabric.takeDelay(t.rank, peer)
	if delay <= 0 {
		t.fabric.deliver(peer, tag, inboxMsg{source: t.rank, payload: payload})
		h.markDone()
		return h
	}
	deadline := time.Now().Add(delay)
	h.deadline = &deadline
	h.deliver = func() {
		t.fabric.deliver(peer, tag, inboxMsg{source: t.rank, payload: payload})
	}
	return h
}

// localHandle simulates asynchronous completion: Test() only reports done
// once any injected delay has elapsed, at which point the payload is
// actually delivered. Cancel() drops a not-yet-delivered send outright,
// matching the semantics the worker's retry path depends on (payload is
// re-sent verbatim by the caller after Cancel).
type localHandle struct {
	mu        sync.Mutex
	done      bool
	cancelled bool
	deadline  *time.Time
	deliver   func()
}

func (h *localHandle) markDone() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.done = true
}

func (h *localHandle) Test() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done || h.cancelled {
		return h.done
	}
	if h.deadline != nil && time.Now().After(*h.deadline) {
		h.deliver()
		h.done = true
	}
	return h.done
}

func (h *localHandle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled = true
}

func (t *localTransport) Probe(peer int, tag wire.Tag) (int, int, bool) {
	t.fabric.mu.Lock()
	defer t.fabric.mu.Unlock()
	return t.probeLocked(peer, tag)
}

func (t *localTransport) probeLocked(peer int, tag wire.Tag) (int, int, bool) {
	q := t.fabric.inbox[t.rank][tag]
	for _, m := range q {
		if peer == AnyRank || m.source == peer {
			return m.source, len(m.payload), true
		}
	}
	return 0, 0, false
}

func (t *localTransport) Recv(peer int, tag wire.Tag) ([]byte, int, error) {
	t.fabric.mu.Lock()
	defer t.fabric.mu.Unlock()
	for {
		if t.fabric.closed {
			return nil, 0, errors.New("transport closed")
		}
		if payload, source, ok := t.popLocked(peer, tag); ok {
			return payload, source, nil
		}
		t.fabric.cond.Wait()
	}
}

func (t *localTransport) TryRecv(peer int, tag wire.Tag) ([]byte, int, bool) {
	t.fabric.mu.Lock()
	defer t.fabric.mu.Unlock()
	payload, source, ok := t.popLocked(peer, tag)
	return payload, source, ok
}

func (t *localTransport) popLocked(peer int, tag wire.Tag) ([]byte, int, bool) {
	q := t.fabric.inbox[t.rank][tag]
	for i, m := range q {
		if peer == AnyRank || m.source == peer {
			t.fabric.inbox[t.rank][tag] = append(q[:i], q[i+1:]...)
			return m.payload, m.source, true
		}
	}
	return nil, 0, false
}

func (t *localTransport) Broadcast(tag wire.Tag, payload []byte) error {
	for r := 1; r < t.fabric.numRanks; r++ {
		if err := t.Send(r, tag, payload); err != nil {
			return err
		}
	}
	return nil
}

func (t *localTransport) Close() error {
	t.fabric.mu.Lock()
	defer t.fabric.mu.Unlock()
	t.fabric.closed = true
	t.fabric.cond.Broadcast()
	return nil
}
