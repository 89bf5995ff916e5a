// Package table implements the partitioned-table runtime: sharding,
// ownership tracking, local buffering of remote writes, deferred flush
// with accumulators, and point remote-read RPCs.
package table

import (
	"sync"

	"github.com/tablekernel/piccolo/internal/accum"
	"github.com/tablekernel/piccolo/internal/wire"
)

// Context is the narrow set of worker operations a GlobalTable needs to
// reach a remote shard owner. Tables hold a Context instead of a pointer
// back to the worker engine, avoiding a table-to-worker back-pointer
// cycle: the worker hands each table a stable, small interface at
// registration time instead.
type Context interface {
	// SelfRank returns the local worker's rank.
	SelfRank() int
	// Owner returns the current owner of (table, shard), or -1 if unassigned.
	Owner(table, shard int) int
	// SendDelta hands a delta batch to the worker's outgoing-request
	// tracker, which owns retry-on-timeout.
	SendDelta(peer int, req *wire.PutRequest)
	// GetRemote issues a synchronous GET RPC to the shard's owner and
	// blocks for the response.
	GetRemote(table, shard int, key []byte) (value []byte, missing bool, err error)
	// DrainIncoming services any PUT/GET requests waiting for this worker,
	// giving buffered writes a chance to be delivered.
	DrainIncoming()
}

// Info declares a table: shard count, sharding function, accumulator, and
// the codecs used to move keys and values across the wire and into
// checkpoint files.
type Info struct {
	ID        int
	NumShards int
	Shard     accum.ShardFunc
	Accum     accum.Func
	AccumKind accum.Kind
	KeyCodec  Codec
	ValueCodec Codec
}

// Table is the common interface LocalTable and GlobalTable both satisfy,
// matching the generic string-keyed operations of the original C++ Table
// base class.
type Table interface {
	ID() int
	Empty() bool
	Size() int64
}

// registryMu guards the process-wide table registry: every worker process
// registers the same set of tables by id before entering its main loop.
var (
	registryMu sync.RWMutex
	registry   = map[int]*GlobalTable{}
)

// Register adds t to the process-wide table registry under t.Info().ID.
// Called once per table, on every rank, before workers start their loops.
func Register(t *GlobalTable) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t.info.ID] = t
}

// Get returns the table registered under id, or nil if none was registered.
func Get(id int) *GlobalTable {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[id]
}

// All returns every registered table, for iteration during flush,
// checkpoint, and shutdown.
func All() []*GlobalTable {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]*GlobalTable, 0, len(registry))
	for _, t := range registry {
		out = append(out, t)
	}
	return out
}

// ResetRegistry clears the process-wide registry; used by tests so
// independent test cases don't see each other's tables.
func ResetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = map[int]*GlobalTable{}
}
