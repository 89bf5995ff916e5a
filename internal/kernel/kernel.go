// Package kernel implements the registration and lazy-instantiation model
// for user kernels: a kernel is registered by name with a factory and a
// set of named methods; kernel instances are created lazily per (kernel
// name, table, shard) triple and retained for the process lifetime.
package kernel

import (
	"github.com/pkg/errors"
	"github.com/tablekernel/piccolo/internal/table"
)

// Base is embedded by every kernel implementation; it carries the identity
// (table, shard) the kernel was invoked against and exposes table access
// through the process-wide registry rather than a worker back-pointer.
type Base struct {
	TableID int
	Shard   int
}

// CurrentShard returns the shard this kernel instance was created for.
func (b *Base) CurrentShard() int { return b.Shard }

// Table looks a table up by id from the process-wide registry.
func (b *Base) Table(id int) *table.GlobalTable {
	return table.Get(id)
}

// Kernel is user code invoked on (table, shard) pairs. KernelInit runs once
// per lazily-created instance; user methods are looked up by name and
// invoked afterward.
type Kernel interface {
	KernelInit()
}

// Factory creates a fresh Kernel instance for one (name, table, shard)
// triple, already Init'd with its identity.
type Factory func(tableID, shard int) Kernel

// Info is a registered kernel: its factory plus the set of methods valid
// to dispatch by name.
type Info struct {
	Factory Factory
	Methods map[string]func(Kernel)
}

var registry = map[string]*Info{}

// Register adds a kernel under name with the given factory and named
// methods. Typically called from an init() in the package defining the
// kernel, mirroring the C++ KERNEL_REGISTER-style macros.
func Register(name string, factory Factory, methods map[string]func(Kernel)) {
	registry[name] = &Info{Factory: factory, Methods: methods}
}

// Lookup returns the registered Info for name, or an error if unknown.
func Lookup(name string) (*Info, error) {
	info, ok := registry[name]
	if !ok {
		return nil, errors.Errorf("kernel %q is not registered", name)
	}
	return info, nil
}

// Run invokes the named method on inst, or errors if the method is not
// registered for this kernel.
func (i *Info) Run(inst Kernel, method string) error {
	fn, ok := i.Methods[method]
	if !ok {
		return errors.Errorf("kernel has no method %q", method)
	}
	fn(inst)
	return nil
}
