package wire

// KV is one serialized (key, value) pair inside a delta batch.
type KV struct {
	Key   []byte
	Value []byte
}

// RegisterWorker announces a worker to the master.
type RegisterWorker struct {
	ID    int
	Slots int
}

// ShardAssign is one (table, shard) -> worker reassignment.
type ShardAssign struct {
	Table     int
	Shard     int
	NewWorker int
}

// ShardAssignment carries a batch of shard ownership changes.
type ShardAssignment struct {
	Assignments []ShardAssign
}

// RunKernel dispatches one kernel invocation to the worker owning the shard.
type RunKernel struct {
	KernelName string
	Method     string
	Table      int
	Shard      int
}

// KernelDone reports completion of a previously dispatched RunKernel; it
// carries the same identifying fields as the request so the master can
// match it to the outstanding task.
type KernelDone struct {
	KernelName string
	Method     string
	Table      int
	Shard      int
}

// GetRequest asks the owner of (Table, Shard) for the value of Key.
type GetRequest struct {
	Table int
	Shard int
	Key   []byte
}

// PutRequest is both an ordinary delta batch and, when Marker >= 0, an
// epoch marker. GetResponse reuses this envelope with a single KV pair
// and MissingKey set as appropriate.
type PutRequest struct {
	Source  int
	Table   int
	Shard   int
	Pairs   []KV
	Done    bool
	Epoch   int64
	Marker  int64 // -1 unless this is an epoch marker
	Missing bool  // GetResponse only: true if the requested key was absent
}

// IsMarker reports whether this PutRequest is an epoch marker rather than
// an ordinary delta batch.
func (p *PutRequest) IsMarker() bool { return p.Marker >= 0 }

// Checkpoint instructs every worker to cut a new epoch.
type Checkpoint struct {
	Epoch int64
}

// CheckpointDone acknowledges a worker finished flushing checkpoint epoch.
type CheckpointDone struct {
	Epoch int64
}

// Restore instructs every worker to reload state saved at Epoch.
type Restore struct {
	Epoch int64
}

// RestoreDone acknowledges a worker finished restoring.
type RestoreDone struct {
	Epoch int64
}

// WorkerShutdown tells a worker to exit its loops cleanly.
type WorkerShutdown struct{}
