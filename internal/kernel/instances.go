package kernel

// InstanceID identifies one lazily-created kernel instance.
type InstanceID struct {
	Name  string
	Table int
	Shard int
}

// Instances is the worker-owned (name, table, shard) -> Kernel cache:
// instances are created on first invocation and retained for the process
// lifetime so a kernel re-run on the same shard reuses its state.
type Instances struct {
	byID map[InstanceID]Kernel
}

// NewInstances returns an empty instance cache.
func NewInstances() *Instances {
	return &Instances{byID: make(map[InstanceID]Kernel)}
}

// Get returns the existing instance for id, creating and initializing one
// from info's factory if none exists yet.
func (in *Instances) Get(id InstanceID, info *Info) Kernel {
	if k, ok := in.byID[id]; ok {
		return k
	}
	k := info.Factory(id.Table, id.Shard)
	k.KernelInit()
	in.byID[id] = k
	return k
}
