package table

import (
	"bytes"
	"sync"

	"github.com/google/btree"
	"github.com/tablekernel/piccolo/internal/wire"
)

// entry is the btree.Item wrapping one encoded key. The BTree gives
// SerializePartial a deterministic iteration order across fragments and
// across replays, which a plain Go map cannot.
type entry struct {
	key []byte
}

func (e entry) Less(than btree.Item) bool {
	return bytes.Compare(e.key, than.(entry).key) < 0
}

// LocalTable is one shard of a table: a keyed mapping, plus dirty and
// tainted flags. On the owning worker it is the canonical shard copy; on
// every other worker the same type is reused as a write buffer for
// updates destined for the owner.
type LocalTable struct {
	mu     sync.Mutex
	info   Info
	shard  int
	values map[string]interface{}
	order  *btree.BTree

	owner   int
	dirty   bool
	tainted bool
}

func newLocalTable(info Info, shard int) *LocalTable {
	return &LocalTable{
		info:   info,
		shard:  shard,
		values: make(map[string]interface{}),
		order:  btree.New(32),
		owner:  -1,
	}
}

// ID returns the id of the table this shard belongs to.
func (l *LocalTable) ID() int { return l.info.ID }

// Get returns the value stored for key, if present.
func (l *LocalTable) Get(key interface{}) (interface{}, bool) {
	kb := l.info.KeyCodec.Encode(key)
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.values[string(kb)]
	return v, ok
}

// Contains reports whether key has a value in this shard.
func (l *LocalTable) Contains(key interface{}) bool {
	_, ok := l.Get(key)
	return ok
}

// Put applies value for key, combining with any existing value via the
// table's accumulator on collision.
func (l *LocalTable) Put(key, value interface{}) {
	kb := l.info.KeyCodec.Encode(key)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.putLocked(kb, value)
}

func (l *LocalTable) putLocked(kb []byte, value interface{}) {
	sk := string(kb)
	if existing, ok := l.values[sk]; ok {
		value = l.info.Accum(existing, value)
	} else {
		l.order.ReplaceOrInsert(entry{key: kb})
	}
	l.values[sk] = value
	l.dirty = true
}

// Clear empties the shard and resets its dirty flag. On a non-owner the
// partition is the write buffer, so this discards the buffered writes;
// GlobalTable.SendUpdates calls it after flushing a buffer.
func (l *LocalTable) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values = make(map[string]interface{})
	l.order = btree.New(32)
	l.dirty = false
}

// Empty reports whether the shard currently holds no keys.
func (l *LocalTable) Empty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.values) == 0
}

// Size returns the number of keys held locally.
func (l *LocalTable) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.values))
}

// ByteSize estimates the serialized size of the shard's contents, used to
// drive backpressure.
func (l *LocalTable) ByteSize() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for kb, v := range l.values {
		n += int64(len(kb)) + int64(len(l.info.ValueCodec.Encode(v)))
	}
	return n
}

func (l *LocalTable) isDirty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dirty
}

func (l *LocalTable) isTainted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tainted
}

func (l *LocalTable) setTainted(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tainted = v
}

func (l *LocalTable) setDirty(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dirty = v
}

func (l *LocalTable) getOwner() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}

func (l *LocalTable) setOwner(w int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.owner = w
}

// defaultFragmentBudget is the byte budget per delta fragment
// SerializePartial drains before starting a new one.
const defaultFragmentBudget = 1 << 20

// SerializePartial drains up to defaultFragmentBudget bytes of (key,value)
// pairs into batches, returning one *wire.PutRequest per fragment with
// Done set only on the last one. The source shard's
// contents are left untouched; callers that mean to flush a buffer clear
// it afterward.
func (l *LocalTable) SerializePartial(source, tableID, shard int, epoch int64) []*wire.PutRequest {
	l.mu.Lock()
	defer l.mu.Unlock()

	var fragments []*wire.PutRequest
	var cur []wire.KV
	var curBytes int64

	flush := func(done bool) {
		fragments = append(fragments, &wire.PutRequest{
			Source: source,
			Table:  tableID,
			Shard:  shard,
			Pairs:  cur,
			Done:   done,
			Epoch:  epoch,
			Marker: -1,
		})
		cur = nil
		curBytes = 0
	}

	l.order.Ascend(func(it btree.Item) bool {
		kb := it.(entry).key
		v := l.values[string(kb)]
		vb := l.info.ValueCodec.Encode(v)
		cur = append(cur, wire.KV{Key: append([]byte(nil), kb...), Value: vb})
		curBytes += int64(len(kb) + len(vb))
		if curBytes >= defaultFragmentBudget {
			flush(false)
		}
		return true
	})

	if len(cur) > 0 || len(fragments) == 0 {
		flush(true)
	} else {
		fragments[len(fragments)-1].Done = true
	}
	return fragments
}

// ApplyUpdates deserializes a delta's pairs and accumulates them into this
// shard.
func (l *LocalTable) ApplyUpdates(req *wire.PutRequest) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, kv := range req.Pairs {
		v := l.info.ValueCodec.Decode(kv.Value)
		l.putLocked(kv.Key, v)
	}
}

// Snapshot returns every (encoded key, value) pair for checkpointing.
func (l *LocalTable) Snapshot() []wire.KV {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]wire.KV, 0, len(l.values))
	l.order.Ascend(func(it btree.Item) bool {
		kb := it.(entry).key
		out = append(out, wire.KV{Key: append([]byte(nil), kb...), Value: l.info.ValueCodec.Encode(l.values[string(kb)])})
		return true
	})
	return out
}

// LoadSnapshot replaces the shard's contents with pairs (used by restore),
// bypassing the accumulator since a snapshot holds already-folded values.
func (l *LocalTable) LoadSnapshot(pairs []wire.KV) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values = make(map[string]interface{}, len(pairs))
	l.order = btree.New(32)
	for _, kv := range pairs {
		l.order.ReplaceOrInsert(entry{key: kv.Key})
		l.values[string(kv.Key)] = l.info.ValueCodec.Decode(kv.Value)
	}
	l.dirty = false
}
