package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tablekernel/piccolo/internal/accum"
	"github.com/tablekernel/piccolo/internal/wire"
)

type fakeContext struct {
	rank         int
	sent         []*wire.PutRequest
	remoteValues map[string][]byte
	drains       int
}

func (f *fakeContext) SelfRank() int { return f.rank }
func (f *fakeContext) Owner(table, shard int) int { return -1 }
func (f *fakeContext) SendDelta(peer int, req *wire.PutRequest) {
	f.sent = append(f.sent, req)
}
func (f *fakeContext) GetRemote(table, shard int, key []byte) ([]byte, bool, error) {
	v, ok := f.remoteValues[string(key)]
	return v, !ok, nil
}
func (f *fakeContext) DrainIncoming() { f.drains++ }

func newTestTable(t *testing.T, ctx Context) *GlobalTable {
	t.Helper()
	ResetRegistry()
	_, sum := accum.SumInt()
	info := Info{ID: 42, NumShards: 4, Shard: accum.ModSharding, Accum: sum, AccumKind: accum.KindSum, KeyCodec: IntCodec, ValueCodec: IntCodec}
	g := NewGlobalTable(info, ctx)
	Register(g)
	return g
}

func TestGlobalTablePutAndGetLocal(t *testing.T) {
	ctx := &fakeContext{rank: 0}
	g := newTestTable(t, ctx)

	// Claim every shard as locally owned so Put/Get never leave the process.
	for s := 0; s < g.info.NumShards; s++ {
		g.SetOwner(s, 0)
	}

	g.Put(4, 10)
	g.Put(4, 5)
	v, ok, err := g.Get(4)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 15, v)
	assert.Empty(t, ctx.sent)
}

func TestGlobalTablePutRemoteBuffersAndFlushes(t *testing.T) {
	ctx := &fakeContext{rank: 0}
	g := newTestTable(t, ctx)

	shard := g.info.Shard(4, g.info.NumShards)
	g.SetOwner(shard, 1) // owned by a different rank

	g.Put(4, 7)
	assert.True(t, g.Dirty(shard))

	g.SendUpdates(0)
	assert.Len(t, ctx.sent, 1)
	assert.Equal(t, 1, ctx.drains)
	assert.True(t, g.Partition(shard).Empty())
}

func TestGlobalTableGetRemote(t *testing.T) {
	ctx := &fakeContext{rank: 0, remoteValues: map[string][]byte{}}
	g := newTestTable(t, ctx)

	shard := g.info.Shard(4, g.info.NumShards)
	g.SetOwner(shard, 1)
	ctx.remoteValues[string(IntCodec.Encode(4))] = IntCodec.Encode(99)

	v, ok, err := g.Get(4)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 99, v)
}

func TestGlobalTableTaintedShardForcesRemoteGet(t *testing.T) {
	ctx := &fakeContext{rank: 0, remoteValues: map[string][]byte{}}
	g := newTestTable(t, ctx)

	shard := g.info.Shard(4, g.info.NumShards)
	g.SetOwner(shard, 0) // locally owned...
	g.Partition(shard).Put(4, 1)
	g.SetTainted(shard) // ...but taint means reads still go remote

	ctx.remoteValues[string(IntCodec.Encode(4))] = IntCodec.Encode(55)
	v, ok, err := g.Get(4)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 55, v)
}

func TestGlobalTableLocalEntries(t *testing.T) {
	ctx := &fakeContext{rank: 0}
	g := newTestTable(t, ctx)
	for s := 0; s < g.info.NumShards; s++ {
		g.SetOwner(s, 0)
	}
	g.Put(1, 10)
	g.Put(2, 20)

	entries := g.LocalEntries()
	assert.Len(t, entries, 2)
}

func TestGlobalTableApplyUpdatesToOwnedShard(t *testing.T) {
	ctx := &fakeContext{rank: 0}
	g := newTestTable(t, ctx)
	shard := g.info.Shard(4, g.info.NumShards)
	g.SetOwner(shard, 0) // owned locally, so ApplyUpdates is the normal case

	g.ApplyUpdates(&wire.PutRequest{Table: g.ID(), Shard: shard, Pairs: []wire.KV{{Key: IntCodec.Encode(4), Value: IntCodec.Encode(1)}}})
	v, ok, err := g.Get(4)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}
