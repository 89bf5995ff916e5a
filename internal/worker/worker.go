// Package worker implements the worker engine: two cooperating loops
// (kernel execution and table-service), non-blocking send tracking with
// retry on timeout, epoch-based quiescence, and message dispatch for
// PUT/GET/assignment/checkpoint/shutdown.
package worker

import (
	"sync"
	"time"

	"github.com/pingcap/log"
	"github.com/tablekernel/piccolo/internal/checkpoint"
	"github.com/tablekernel/piccolo/internal/config"
	"github.com/tablekernel/piccolo/internal/kernel"
	"github.com/tablekernel/piccolo/internal/metrics"
	"github.com/tablekernel/piccolo/internal/table"
	"github.com/tablekernel/piccolo/internal/transport"
	"github.com/tablekernel/piccolo/internal/wire"
	"go.uber.org/zap"
)

// MasterRank is the fixed rank of the master controller.
const MasterRank = 0

// networkTimeout is how long an outstanding non-blocking send is given to
// complete before it is cancelled and retransmitted.
const networkTimeout = 60 * time.Second

// Worker runs a two-loop engine: kernel execution on the calling goroutine,
// table service (remote GETs) on a second goroutine, sharing the state
// below under stateMu.
type Worker struct {
	rank      int
	transport transport.Transport
	cfg       *config.Config
	metrics   *metrics.WorkerMetrics
	instances *kernel.Instances

	stateMu   sync.Mutex
	running   bool
	epoch     int64
	peerEpoch map[int]int64 // rank -> last epoch marker acknowledged
	outgoing  map[*sendRequest]struct{}

	kernelQueue []wire.RunKernel
	kernelDone  []wire.KernelDone

	deltaLogs map[int]*checkpoint.DeltaLog // table id -> open log for current epoch
}

// New constructs a worker for rank, bound to transport tr, and sends its
// RegisterWorker announcement to the master.
func New(rank int, cfg *config.Config, tr transport.Transport) *Worker {
	w := &Worker{
		rank:      rank,
		transport: tr,
		cfg:       cfg,
		metrics:   metrics.NewWorkerMetrics(rank),
		instances: kernel.NewInstances(),
		running:   true,
		peerEpoch: make(map[int]int64),
		outgoing:  make(map[*sendRequest]struct{}),
		deltaLogs: make(map[int]*checkpoint.DeltaLog),
	}
	w.register()
	return w
}

func (w *Worker) register() {
	env, err := wire.Encode(wire.TagRegisterWorker, &wire.RegisterWorker{ID: w.rank, Slots: 1})
	if err != nil {
		log.Fatal("encoding RegisterWorker", zap.Error(err))
	}
	if err := w.transport.Send(MasterRank, wire.TagRegisterWorker, env.Payload); err != nil {
		log.Fatal("sending RegisterWorker", zap.Error(err))
	}
}

// RegisterTable declares a table on this worker: builds its GlobalTable
// bound to this worker as table.Context and adds it to the process-wide
// registry.
func (w *Worker) RegisterTable(info table.Info) *table.GlobalTable {
	g := table.NewGlobalTable(info, w)
	table.Register(g)
	return g
}

// Config returns the worker's resolved configuration, for application code
// deciding shard counts at table-registration time.
func (w *Worker) Config() *config.Config { return w.cfg }

// Rank returns this worker's rank.
func (w *Worker) Rank() int { return w.rank }

func (w *Worker) isRunning() bool {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return w.running
}

// Run starts the table loop on a new goroutine and runs the kernel loop on
// the calling goroutine until shutdown, then waits for the table loop to
// exit.
func (w *Worker) Run() {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.tableLoop()
	}()
	w.kernelLoop()
	wg.Wait()
}

// tableLoop repeatedly drains pending GET requests; after ~1000
// consecutive empty checks it sleeps briefly to release the CPU.
func (w *Worker) tableLoop() {
	miss := 0
	for w.isRunning() {
		if w.handleGetRequests() {
			miss = 0
		} else {
			miss++
		}
		if miss > 1000 {
			time.Sleep(w.cfg.SleepTime)
			miss = 0
		}
	}
}

// kernelLoop services PUTs and master updates while idle, and runs
// dispatched kernels to completion, flushing and draining afterward.
func (w *Worker) kernelLoop() {
	for w.isRunning() {
		req, ok := w.dequeueKernel()
		if !ok {
			w.handlePutRequests()
			w.checkForMasterUpdates()
			time.Sleep(w.cfg.SleepTime)
			continue
		}
		w.runKernel(req)
	}
}

func (w *Worker) dequeueKernel() (wire.RunKernel, bool) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	if len(w.kernelQueue) == 0 {
		return wire.RunKernel{}, false
	}
	req := w.kernelQueue[0]
	w.kernelQueue = w.kernelQueue[1:]
	return req, true
}

func (w *Worker) runKernel(req wire.RunKernel) {
	t := table.Get(req.Table)
	if t == nil {
		log.Fatal("RUN_KERNEL for unknown table", zap.Int("table", req.Table))
	}
	if t.Owner(req.Shard) != w.rank {
		log.Fatal("received a shard this worker does not own",
			zap.String("kernel", req.KernelName), zap.Int("table", req.Table),
			zap.Int("shard", req.Shard), zap.Int("owner", t.Owner(req.Shard)))
	}

	info, err := kernel.Lookup(req.KernelName)
	if err != nil {
		log.Fatal("RUN_KERNEL for unregistered kernel", zap.Error(err))
	}
	id := kernel.InstanceID{Name: req.KernelName, Table: req.Table, Shard: req.Shard}
	inst := w.instances.Get(id, info)
	if err := info.Run(inst, req.Method); err != nil {
		log.Fatal("RUN_KERNEL for unregistered method", zap.Error(err))
	}

	for _, gt := range table.All() {
		gt.SendUpdates(w.currentEpoch())
	}
	for w.pendingNetworkBytes() > 0 {
		w.handlePutRequests()
		time.Sleep(w.cfg.SleepTime)
	}

	w.stateMu.Lock()
	w.kernelDone = append(w.kernelDone, wire.KernelDone{
		KernelName: req.KernelName, Method: req.Method, Table: req.Table, Shard: req.Shard,
	})
	w.stateMu.Unlock()
}

func (w *Worker) currentEpoch() int64 {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return w.epoch
}

// pendingNetworkBytes sums outstanding outgoing send payload sizes; zero
// means the network is idle.
func (w *Worker) pendingNetworkBytes() int64 {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	var n int64
	for r := range w.outgoing {
		n += int64(len(r.payload))
	}
	return n
}

func (w *Worker) networkIdle() bool { return w.pendingNetworkBytes() == 0 }

// Shutdown makes both loops exit after their current iteration, after
// which Run returns.
func (w *Worker) Shutdown() {
	w.stateMu.Lock()
	w.running = false
	w.stateMu.Unlock()
}
