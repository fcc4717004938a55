package rt

import "github.com/loamlang/loamgc/ir"

// Entry names a runtime entry point together with the argument count
// the lowering must emit. The lowering declares exactly the entries
// listed here; cmd/hookgen keeps its table in sync with this file.
type Entry struct {
	Name  string
	Arity int
}

// Runtime entry points callable from lowered code.
var (
	// PoolAllocEntry allocates from a size-class pool:
	// (ctx, class, osize, type) -> object.
	PoolAllocEntry = Entry{Name: "loam.rt.pool_alloc", Arity: 4}

	// BigAllocEntry allocates an oversized object:
	// (ctx, size incl. header, type) -> object.
	BigAllocEntry = Entry{Name: "loam.rt.big_alloc", Arity: 3}

	// AllocTypedEntry allocates a dynamically sized object:
	// (ctx, payload size, type) -> object.
	AllocTypedEntry = Entry{Name: "loam.rt.alloc_typed", Arity: 3}

	// QueueRootEntry reports a root to the collector: (root).
	QueueRootEntry = Entry{Name: "loam.rt.queue_root", Arity: 1}

	// Write barriers, by operand arity, with the slow variants called
	// when an inline pre-check has already fired.
	WriteBarrier1Entry     = Entry{Name: "loam.rt.write_barrier1", Arity: 1}
	WriteBarrier2Entry     = Entry{Name: "loam.rt.write_barrier2", Arity: 2}
	WriteBarrier1SlowEntry = Entry{Name: "loam.rt.write_barrier1_slow", Arity: 1}
	WriteBarrier2SlowEntry = Entry{Name: "loam.rt.write_barrier2_slow", Arity: 2}

	// PreserveBeginEntry pins the objects held in the given root
	// slots: (count, slot addresses...) -> token.
	PreserveBeginEntry = Entry{Name: "loam.rt.preserve_begin", Arity: ir.Variadic}

	// PreserveEndEntry releases the most recent preserve region: ().
	PreserveEndEntry = Entry{Name: "loam.rt.preserve_end", Arity: 0}
)
