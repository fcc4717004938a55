package rt

import (
	"fmt"

	"github.com/loamlang/loamgc/interp"
	"github.com/loamlang/loamgc/ir"
	"github.com/loamlang/loamgc/pinlog"
)

// NurseryBytes is the size of the bump region granted to each mutator.
const NurseryBytes = 1 << 15

// Object records one allocation served by the runtime entries.
type Object struct {
	Addr uintptr // object pointer, one word past the cell start
	Size int64   // cell size in bytes, header included
	Type uint64  // type word stored in the header
}

// World models one mutator thread and the collector state it talks to:
// a context block laid out per Layout, a nursery for bump allocation, a
// signal page, and the runtime entry points as host functions. Lowered
// code runs against a World through an interp.Env; tests and embedders
// then inspect what it did.
//
// A World is not safe for concurrent use. Cross-thread coordination
// happens in Registry.
type World struct {
	Mem    *interp.Memory
	Layout Layout

	// Log, when set, receives a pinning event for every object a
	// preserve region pins.
	Log *pinlog.Log

	mutator uintptr
	sigpage uintptr

	objects   []Object
	index     map[uintptr]int
	typeNames map[uint64]string

	// Queued holds roots reported through the queue-root entry.
	Queued []uintptr
	// Remembered1 and Remembered2 hold write barrier operands, fast
	// and slow variants folded together.
	Remembered1 []uintptr
	Remembered2 [][2]uintptr

	calls map[string]int
	pins  [][]uintptr
}

// NewWorld creates a mutator world on mem, or on a fresh memory if mem
// is nil. The context block and nursery are carved from the heap
// region and the context fields are initialized: empty shadow stack,
// nursery bump window, zero allocation counter.
func NewWorld(mem *interp.Memory, lay Layout) (*World, error) {
	if err := lay.Validate(); err != nil {
		return nil, err
	}
	if mem == nil {
		mem = interp.NewMemory(0)
	}
	w := &World{
		Mem:       mem,
		Layout:    lay,
		index:     make(map[uintptr]int),
		typeNames: make(map[uint64]string),
		calls:     make(map[string]int),
	}
	ctx, err := mem.HeapAlloc(lay.Words())
	if err != nil {
		return nil, fmt.Errorf("rt: allocating context block: %w", err)
	}
	w.mutator = ctx
	nursery, err := mem.HeapAlloc(NurseryBytes / WordBytes)
	if err != nil {
		return nil, fmt.Errorf("rt: allocating nursery: %w", err)
	}
	// The signal page must own a whole protection page so arming it
	// cannot catch neighboring data.
	sigBlock, err := mem.HeapAlloc(2 * interp.PageBytes / WordBytes)
	if err != nil {
		return nil, fmt.Errorf("rt: allocating signal page: %w", err)
	}
	w.sigpage = (sigBlock + interp.PageBytes - 1) &^ uintptr(interp.PageBytes-1)
	for off, v := range map[int64]uint64{
		lay.GCStack:    0,
		lay.Cursor:     uint64(nursery),
		lay.Limit:      uint64(nursery) + NurseryBytes,
		lay.AllocBytes: 0,
	} {
		if err := mem.Store(ctx+uintptr(off), v); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Mutator returns the address of the context block.
func (w *World) Mutator() uintptr { return w.mutator }

// PollAddr returns the signal page address safepoints poll.
func (w *World) PollAddr() uintptr { return w.sigpage }

// ArmSafepoints protects the signal page so the next poll faults.
func (w *World) ArmSafepoints() { w.Mem.Arm(w.sigpage) }

// DisarmSafepoints releases the signal page.
func (w *World) DisarmSafepoints() { w.Mem.Disarm(w.sigpage) }

// Field reads a context field by layout offset.
func (w *World) Field(off int64) (uint64, error) {
	return w.Mem.Load(w.mutator + uintptr(off))
}

// SetField writes a context field by layout offset.
func (w *World) SetField(off int64, v uint64) error {
	return w.Mem.Store(w.mutator+uintptr(off), v)
}

// Bind installs the runtime entry points and the context resolver into
// env.
func (w *World) Bind(env *interp.Env) {
	env.Bind(ir.MarkContext, func(e *interp.Env, args []uint64) (uint64, error) {
		return uint64(w.mutator), nil
	})
	env.Bind(PoolAllocEntry.Name, w.PoolAlloc)
	env.Bind(BigAllocEntry.Name, w.BigAlloc)
	env.Bind(AllocTypedEntry.Name, w.AllocTyped)
	env.Bind(QueueRootEntry.Name, w.QueueRoot)
	env.Bind(WriteBarrier1Entry.Name, w.WriteBarrier1)
	env.Bind(WriteBarrier2Entry.Name, w.WriteBarrier2)
	env.Bind(WriteBarrier1SlowEntry.Name, w.WriteBarrier1Slow)
	env.Bind(WriteBarrier2SlowEntry.Name, w.WriteBarrier2Slow)
	env.Bind(PreserveBeginEntry.Name, w.PreserveBegin)
	env.Bind(PreserveEndEntry.Name, w.PreserveEnd)
}

// count notes a call to the named entry for later inspection.
func (w *World) count(name string) { w.calls[name]++ }

// CallCount returns how many times the named entry ran.
func (w *World) CallCount(name string) int { return w.calls[name] }

// newObject carves a cell of osize bytes, writes the type header, and
// returns the object pointer.
func (w *World) newObject(osize int64, typ uint64) (uintptr, error) {
	words := int((osize + WordBytes - 1) / WordBytes)
	cell, err := w.Mem.HeapAlloc(words)
	if err != nil {
		return 0, err
	}
	if err := w.Mem.Store(cell, typ); err != nil {
		return 0, err
	}
	obj := cell + WordBytes
	w.index[obj] = len(w.objects)
	w.objects = append(w.objects, Object{Addr: obj, Size: osize, Type: typ})
	allocd, err := w.Field(w.Layout.AllocBytes)
	if err != nil {
		return 0, err
	}
	if err := w.SetField(w.Layout.AllocBytes, allocd+uint64(osize)); err != nil {
		return 0, err
	}
	return obj, nil
}

// PoolAlloc is the size-class pool entry: (ctx, class, osize, type).
func (w *World) PoolAlloc(e *interp.Env, args []uint64) (uint64, error) {
	w.count(PoolAllocEntry.Name)
	if uintptr(args[0]) != w.mutator {
		return 0, fmt.Errorf("rt: pool alloc for foreign context %#x", args[0])
	}
	class, osize := int(args[1]), int64(args[2])
	if class < 0 || class >= NumClasses {
		return 0, fmt.Errorf("rt: pool class %d out of range", class)
	}
	if ClassSize(class) != osize {
		return 0, fmt.Errorf("rt: class %d does not hold %d-byte cells", class, osize)
	}
	obj, err := w.newObject(osize, args[3])
	return uint64(obj), err
}

// BigAlloc is the big-object entry: (ctx, size incl. header, type).
func (w *World) BigAlloc(e *interp.Env, args []uint64) (uint64, error) {
	w.count(BigAllocEntry.Name)
	if uintptr(args[0]) != w.mutator {
		return 0, fmt.Errorf("rt: big alloc for foreign context %#x", args[0])
	}
	obj, err := w.newObject(int64(args[1]), args[2])
	return uint64(obj), err
}

// AllocTyped is the dynamic-size entry: (ctx, payload size, type). The
// header word is the runtime's to add.
func (w *World) AllocTyped(e *interp.Env, args []uint64) (uint64, error) {
	w.count(AllocTypedEntry.Name)
	if uintptr(args[0]) != w.mutator {
		return 0, fmt.Errorf("rt: typed alloc for foreign context %#x", args[0])
	}
	payload := (int64(args[1]) + WordBytes - 1) &^ (WordBytes - 1)
	obj, err := w.newObject(payload+WordBytes, args[2])
	return uint64(obj), err
}

// QueueRoot is the root-report entry: (root).
func (w *World) QueueRoot(e *interp.Env, args []uint64) (uint64, error) {
	w.count(QueueRootEntry.Name)
	w.Queued = append(w.Queued, uintptr(args[0]))
	return 0, nil
}

// WriteBarrier1 is the single-operand barrier entry: (parent).
func (w *World) WriteBarrier1(e *interp.Env, args []uint64) (uint64, error) {
	w.count(WriteBarrier1Entry.Name)
	w.Remembered1 = append(w.Remembered1, uintptr(args[0]))
	return 0, nil
}

// WriteBarrier2 is the two-operand barrier entry: (parent, child).
func (w *World) WriteBarrier2(e *interp.Env, args []uint64) (uint64, error) {
	w.count(WriteBarrier2Entry.Name)
	w.Remembered2 = append(w.Remembered2, [2]uintptr{uintptr(args[0]), uintptr(args[1])})
	return 0, nil
}

// WriteBarrier1Slow is the single-operand slow barrier: (parent). The
// caller's inline pre-check has already fired.
func (w *World) WriteBarrier1Slow(e *interp.Env, args []uint64) (uint64, error) {
	w.count(WriteBarrier1SlowEntry.Name)
	w.Remembered1 = append(w.Remembered1, uintptr(args[0]))
	return 0, nil
}

// WriteBarrier2Slow is the two-operand slow barrier: (parent, child).
func (w *World) WriteBarrier2Slow(e *interp.Env, args []uint64) (uint64, error) {
	w.count(WriteBarrier2SlowEntry.Name)
	w.Remembered2 = append(w.Remembered2, [2]uintptr{uintptr(args[0]), uintptr(args[1])})
	return 0, nil
}

// PreserveBegin is the pin entry: (count, slot addresses...). Each
// named slot's current referent is pinned for the region's duration,
// and the pinning site is recorded in the world's Log.
func (w *World) PreserveBegin(e *interp.Env, args []uint64) (uint64, error) {
	w.count(PreserveBeginEntry.Name)
	if len(args) == 0 || uint64(len(args)-1) != args[0] {
		return 0, fmt.Errorf("rt: preserve begin count %d does not match %d slots", args[0], len(args)-1)
	}
	group := make([]uintptr, 0, len(args)-1)
	for _, slot := range args[1:] {
		v, err := w.Mem.Load(uintptr(slot))
		if err != nil {
			return 0, err
		}
		obj := uintptr(v)
		group = append(group, obj)
		if w.Log != nil {
			pos := e.CallPos()
			w.Log.Record(obj, pos.File, pos.Line)
		}
	}
	w.pins = append(w.pins, group)
	return uint64(len(w.pins)), nil
}

// PreserveEnd releases the most recent preserve region: ().
func (w *World) PreserveEnd(e *interp.Env, args []uint64) (uint64, error) {
	w.count(PreserveEndEntry.Name)
	if len(w.pins) == 0 {
		return 0, fmt.Errorf("rt: preserve end without a region")
	}
	w.pins = w.pins[:len(w.pins)-1]
	return 0, nil
}

// Pinned reports whether obj is pinned by any open preserve region.
func (w *World) Pinned(obj uintptr) bool {
	for _, group := range w.pins {
		for _, p := range group {
			if p == obj {
				return true
			}
		}
	}
	return false
}

// OpenRegions returns the number of open preserve regions.
func (w *World) OpenRegions() int { return len(w.pins) }

// Objects returns every object allocated through the entries, in
// allocation order.
func (w *World) Objects() []Object { return w.objects }

// Alive reports whether obj is an object this world allocated. With no
// sweeping in the model, every allocation stays alive.
func (w *World) Alive(obj uintptr) bool {
	_, ok := w.index[obj]
	return ok
}

// NameType associates a display name with a type word for TypeName.
func (w *World) NameType(typ uint64, name string) {
	w.typeNames[typ] = name
}

// TypeName returns the display name of obj's type header, or "".
func (w *World) TypeName(obj uintptr) string {
	i, ok := w.index[obj]
	if !ok {
		return ""
	}
	return w.typeNames[w.objects[i].Type]
}

// AttachLog routes pinning events to log and installs this world's
// liveness and type oracles there.
func (w *World) AttachLog(log *pinlog.Log) {
	w.Log = log
	log.SetAliveFunc(w.Alive)
	log.SetTypeNameFunc(w.TypeName)
}
