package table

import (
	"sync"

	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"github.com/tablekernel/piccolo/internal/wire"
	"go.uber.org/zap"
)

// GlobalTable is the process-wide view of one table: a partition per
// shard, only some of which are locally owned. Operations
// route to local storage when the calling worker owns the shard, and to a
// write buffer (flushed later) or a synchronous RPC otherwise.
type GlobalTable struct {
	info       Info
	partitions []*LocalTable
	ctx        Context

	mu            sync.Mutex // guards cross-partition bookkeeping; each LocalTable also self-guards
	pendingWrites int64
}

// NewGlobalTable allocates the S local partitions declared by info and
// binds it to ctx, the worker's narrow callback surface.
func NewGlobalTable(info Info, ctx Context) *GlobalTable {
	g := &GlobalTable{info: info, ctx: ctx}
	g.partitions = make([]*LocalTable, info.NumShards)
	for i := range g.partitions {
		g.partitions[i] = newLocalTable(info, i)
	}
	return g
}

func (g *GlobalTable) ID() int { return g.info.ID }

func (g *GlobalTable) Info() Info { return g.info }

// Partition returns the local partition object for shard, present on every
// worker whether or not it is the canonical owner.
func (g *GlobalTable) Partition(shard int) *LocalTable { return g.partitions[shard] }

func (g *GlobalTable) isLocalShard(shard int) bool {
	return g.partitions[shard].getOwner() == g.ctx.SelfRank()
}

// IsLocalKey reports whether key's shard is owned by this worker.
func (g *GlobalTable) IsLocalKey(key interface{}) bool {
	return g.isLocalShard(g.info.Shard(key, g.info.NumShards))
}

// Owner returns the current owner of shard, or -1 if unassigned.
func (g *GlobalTable) Owner(shard int) int { return g.partitions[shard].getOwner() }

// SetOwner records a new owner for shard. Called by the worker's
// master-update handler when a SHARD_ASSIGNMENT arrives.
func (g *GlobalTable) SetOwner(shard, worker int) { g.partitions[shard].setOwner(worker) }

// Dirty reports whether shard has pending or uncommitted local changes:
// true if the local flag is set, or the partition (necessarily a buffer,
// if non-local) is non-empty.
func (g *GlobalTable) Dirty(shard int) bool {
	p := g.partitions[shard]
	return p.isDirty() || !p.Empty()
}

// SetDirty marks shard as dirty without touching its contents.
func (g *GlobalTable) SetDirty(shard int) { g.partitions[shard].setDirty(true) }

// Tainted reports whether shard is not yet safe to serve canonical reads
// from, because ownership just moved here and the previous owner's final
// delta has not arrived.
func (g *GlobalTable) Tainted(shard int) bool { return g.partitions[shard].isTainted() }

// SetTainted marks shard as newly-owned-but-not-yet-canonical.
func (g *GlobalTable) SetTainted(shard int) { g.partitions[shard].setTainted(true) }

// ClearTainted clears the taint once the previous owner's done fragment
// arrives.
func (g *GlobalTable) ClearTainted(shard int) { g.partitions[shard].setTainted(false) }

// Put routes a write to the owning shard: applied locally if owned, or
// accumulated into the shard's write buffer otherwise.
func (g *GlobalTable) Put(key, value interface{}) {
	shard := g.info.Shard(key, g.info.NumShards)
	p := g.partitions[shard]
	if g.isLocalShard(shard) {
		p.Put(key, value)
		return
	}
	p.Put(key, value)
	g.mu.Lock()
	g.pendingWrites++
	g.mu.Unlock()
}

// Get returns key's value, reading locally when this worker canonically
// owns the shard, or issuing a synchronous GET RPC to the owner otherwise.
// A tainted local shard is treated as non-canonical, so a Get during taint
// always goes remote even though the data may already be physically
// present.
func (g *GlobalTable) Get(key interface{}) (interface{}, bool, error) {
	shard := g.info.Shard(key, g.info.NumShards)
	p := g.partitions[shard]
	if g.isLocalShard(shard) && !p.isTainted() {
		v, ok := p.Get(key)
		return v, ok, nil
	}
	kb := g.info.KeyCodec.Encode(key)
	vb, missing, err := g.ctx.GetRemote(g.info.ID, shard, kb)
	if err != nil {
		return nil, false, err
	}
	if missing {
		return nil, false, nil
	}
	return g.info.ValueCodec.Decode(vb), true, nil
}

// Contains is a local-only membership check, intended for server-side GET
// request handling — it never triggers a remote RPC.
func (g *GlobalTable) Contains(key interface{}) bool {
	shard := g.info.Shard(key, g.info.NumShards)
	return g.partitions[shard].Contains(key)
}

// GetLocal returns the raw local value for an already-encoded key,
// assuming shard is locally owned; used by the worker's GET request
// handler.
func (g *GlobalTable) GetLocal(shard int, encodedKey []byte) (encodedValue []byte, missing bool) {
	p := g.partitions[shard]
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.values[string(encodedKey)]
	if !ok {
		return nil, true
	}
	return g.info.ValueCodec.Encode(v), false
}

// SendUpdates flushes every non-local shard's buffer to its owner as one
// or more delta fragments, then polls for inbound PUTs to relieve pressure.
func (g *GlobalTable) SendUpdates(epoch int64) {
	for shard, p := range g.partitions {
		if g.isLocalShard(shard) {
			continue
		}
		if !p.isDirty() && p.Empty() {
			continue
		}
		owner := p.getOwner()
		if owner < 0 {
			continue
		}
		for _, frag := range p.SerializePartial(g.ctx.SelfRank(), g.info.ID, shard, epoch) {
			g.ctx.SendDelta(owner, frag)
		}
		p.Clear()
	}
	g.ctx.DrainIncoming()
	g.mu.Lock()
	g.pendingWrites = 0
	g.mu.Unlock()
}

// ApplyUpdates applies an inbound delta to the local shard it targets.
// Receiving a delta for a shard this worker does not own is a routing bug
// and is fatal.
func (g *GlobalTable) ApplyUpdates(req *wire.PutRequest) {
	if !g.isLocalShard(req.Shard) {
		log.Fatal("received PUT for shard this worker does not own",
			zap.Int("table", g.info.ID), zap.Int("shard", req.Shard),
			zap.Int("owner", g.Owner(req.Shard)))
	}
	g.partitions[req.Shard].ApplyUpdates(req)
}

// PendingWriteBytes sums the buffer size of every non-local shard. This is
// the authoritative backpressure signal: an actual byte count rather than
// a pending-write counter.
func (g *GlobalTable) PendingWriteBytes() int64 {
	var n int64
	for shard, p := range g.partitions {
		if !g.isLocalShard(shard) {
			n += p.ByteSize()
		}
	}
	return n
}

// Clear empties every locally-owned partition. Buffered writes destined
// for remote shards are left untouched.
func (g *GlobalTable) Clear() {
	for shard, p := range g.partitions {
		if g.isLocalShard(shard) {
			p.Clear()
		}
	}
}

// Empty reports whether every locally-owned partition holds no keys.
func (g *GlobalTable) Empty() bool {
	for shard, p := range g.partitions {
		if g.isLocalShard(shard) && !p.Empty() {
			return false
		}
	}
	return true
}

// Size is not meaningful as a single global count without a cluster-wide
// reduction; kept for Table interface compatibility.
func (g *GlobalTable) Size() int64 { return 1 }

// Entry is one decoded (key, value) pair returned by LocalEntries.
type Entry struct {
	Key   interface{}
	Value interface{}
}

// LocalEntries decodes every key/value pair held in this worker's
// canonically owned shards, for kernels that need to scan their local
// partition rather than look up individual keys.
func (g *GlobalTable) LocalEntries() []Entry {
	var out []Entry
	for shard, p := range g.partitions {
		if !g.isLocalShard(shard) {
			continue
		}
		for _, kv := range p.Snapshot() {
			out = append(out, Entry{
				Key:   g.info.KeyCodec.Decode(kv.Key),
				Value: g.info.ValueCodec.Decode(kv.Value),
			})
		}
	}
	return out
}

// CheckpointSnapshot serializes every locally-owned shard for the on-disk
// snapshot format.
func (g *GlobalTable) CheckpointSnapshot() map[int][]wire.KV {
	out := make(map[int][]wire.KV)
	for shard, p := range g.partitions {
		if g.isLocalShard(shard) {
			out[shard] = p.Snapshot()
		}
	}
	return out
}

// RestoreSnapshot loads a previously checkpointed state for the shards
// this worker owns.
func (g *GlobalTable) RestoreSnapshot(bySh map[int][]wire.KV) error {
	for shard, pairs := range bySh {
		if shard < 0 || shard >= len(g.partitions) {
			return errors.Errorf("restore: shard %d out of range for table %d", shard, g.info.ID)
		}
		g.partitions[shard].LoadSnapshot(pairs)
	}
	return nil
}
