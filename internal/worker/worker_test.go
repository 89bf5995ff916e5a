package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tablekernel/piccolo/internal/accum"
	"github.com/tablekernel/piccolo/internal/config"
	"github.com/tablekernel/piccolo/internal/kernel"
	"github.com/tablekernel/piccolo/internal/table"
	"github.com/tablekernel/piccolo/internal/transport"
	"github.com/tablekernel/piccolo/internal/wire"
)

const testTableID = 900

func init() {
	kernel.Register("testAddKernel",
		func(tableID, shard int) kernel.Kernel {
			return &addKernel{Base: kernel.Base{TableID: tableID, Shard: shard}}
		},
		map[string]func(kernel.Kernel){
			"Do": func(k kernel.Kernel) { k.(*addKernel).Do() },
		},
	)
}

type addKernel struct {
	kernel.Base
}

func (k *addKernel) KernelInit() {}
func (k *addKernel) Do()         { k.Table(k.TableID).Put(1, 5) }

func newTestCfg() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.NumWorkers = 1
	cfg.SleepTime = time.Millisecond
	return cfg
}

func sumInfo() table.Info {
	_, sum := accum.SumInt()
	return table.Info{ID: testTableID, NumShards: 1, Shard: accum.ModSharding, Accum: sum, AccumKind: accum.KindSum, KeyCodec: table.IntCodec, ValueCodec: table.IntCodec}
}

func TestWorkerRegistersWithMaster(t *testing.T) {
	table.ResetRegistry()
	defer table.ResetRegistry()

	fabric := transport.NewFabric(2)
	w := New(1, newTestCfg(), fabric.For(1))
	defer w.Shutdown()

	payload, _, ok := fabric.For(0).TryRecv(1, wire.TagRegisterWorker)
	assert.True(t, ok)
	var msg wire.RegisterWorker
	assert.NoError(t, wire.Decode(wire.Envelope{Tag: wire.TagRegisterWorker, Payload: payload}, &msg))
	assert.Equal(t, 1, msg.ID)
}

func TestRunKernelAppliesWritesAndReportsDone(t *testing.T) {
	table.ResetRegistry()
	defer table.ResetRegistry()

	fabric := transport.NewFabric(2)
	w := New(1, newTestCfg(), fabric.For(1))
	defer w.Shutdown()
	fabric.For(0).TryRecv(1, wire.TagRegisterWorker) // drain registration

	gt := w.RegisterTable(sumInfo())
	gt.SetOwner(0, 1)

	env, err := wire.Encode(wire.TagRunKernel, &wire.RunKernel{KernelName: "testAddKernel", Method: "Do", Table: testTableID, Shard: 0})
	assert.NoError(t, err)
	assert.NoError(t, fabric.For(0).Send(1, wire.TagRunKernel, env.Payload))

	w.checkForMasterUpdates()
	req, ok := w.dequeueKernel()
	assert.True(t, ok)
	w.runKernel(req)

	v, ok, err := gt.Get(1)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5, v)

	w.checkForMasterUpdates() // network idle, should flush KernelDone
	payload, _, ok := fabric.For(0).TryRecv(1, wire.TagKernelDone)
	assert.True(t, ok)
	var done wire.KernelDone
	assert.NoError(t, wire.Decode(wire.Envelope{Tag: wire.TagKernelDone, Payload: payload}, &done))
	assert.Equal(t, "testAddKernel", done.KernelName)
	assert.Equal(t, testTableID, done.Table)
}

func TestSendUpdatesFlushesRemoteWrites(t *testing.T) {
	table.ResetRegistry()
	defer table.ResetRegistry()

	// Two real workers so writes to a remote shard actually travel across
	// the transport and land on the owner.
	fabric := transport.NewFabric(3)
	cfg := newTestCfg()
	cfg.NumWorkers = 2

	w1 := New(1, cfg, fabric.For(1))
	defer w1.Shutdown()
	w2 := New(2, cfg, fabric.For(2))
	defer w2.Shutdown()
	fabric.For(0).TryRecv(1, wire.TagRegisterWorker)
	fabric.For(0).TryRecv(2, wire.TagRegisterWorker)

	info := table.Info{ID: testTableID + 1, NumShards: 2, Shard: accum.ModSharding, Accum: func(a, b interface{}) interface{} { return a.(int) + b.(int) }, AccumKind: accum.KindSum, KeyCodec: table.IntCodec, ValueCodec: table.IntCodec}
	g1 := w1.RegisterTable(info)
	g1.SetOwner(0, 1)
	g1.SetOwner(1, 2)
	g2 := w2.RegisterTable(info)
	g2.SetOwner(0, 1)
	g2.SetOwner(1, 2)

	// Key 3 (odd) shards to 1, owned by worker 2: this write must flush
	// over the wire during SendUpdates rather than land locally on worker 1.
	g1.Put(3, 42)
	g1.SendUpdates(0)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		w2.handlePutRequests()
		if v, ok := g2.Partition(1).Get(3); ok {
			assert.Equal(t, 42, v)
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("remote delta never arrived at the owning worker")
}
