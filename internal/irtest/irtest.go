// Package irtest builds the small marker-bearing functions that the
// lowering and runtime tests exercise, and wires them to a mutator
// world so they can run.
package irtest

import (
	"testing"

	"github.com/loamlang/loamgc/interp"
	"github.com/loamlang/loamgc/ir"
	"github.com/loamlang/loamgc/rt"
)

// A Builder accumulates one function under construction. Emission
// methods append to the current block and return the result register,
// so a test body reads like the function it is building. Marker calls
// are declared with their canonical arity; malformed calls for error
// tests go through Call.
type Builder struct {
	Mod *ir.Module
	F   *ir.Func
	B   *ir.Block

	line int
}

// New starts a module holding one function with an entry block. The
// function's source file is named after it.
func New(fname string, nparams int) *Builder {
	mod := ir.NewModule("t")
	f := mod.NewFunc(fname, fname+".loam", nparams)
	b := &Builder{Mod: mod, F: f, line: 1}
	b.B = f.NewBlock("entry")
	return b
}

// AtLine sets the source line attached to subsequently emitted
// instructions.
func (b *Builder) AtLine(n int) { b.line = n }

// Emit appends in to the current block with the builder's position.
func (b *Builder) Emit(in *ir.Instr) *ir.Instr {
	in.Pos = ir.Pos{File: b.F.File, Line: b.line}
	b.B.Append(in)
	return in
}

// Call emits a call to the external name with the given declared
// arity, result register and operands, exactly as written. NoReg
// leaves the result unused.
func (b *Builder) Call(name string, arity int, dst ir.Reg, args ...ir.Operand) *ir.Instr {
	return b.Emit(ir.CallTo(dst, b.Mod.Declare(name, arity), args...))
}

// Const emits a constant into a fresh register.
func (b *Builder) Const(v int64) ir.Reg {
	r := b.F.NewReg()
	b.Emit(ir.ConstWord(r, v))
	return r
}

// Load emits a word load into a fresh register.
func (b *Builder) Load(addr ir.Operand) ir.Reg {
	r := b.F.NewReg()
	b.Emit(ir.LoadWord(r, addr))
	return r
}

// Store emits a word store.
func (b *Builder) Store(addr, val ir.Operand) {
	b.Emit(ir.StoreWord(addr, val))
}

// Ret emits a return of op and terminates the current block.
func (b *Builder) Ret(op ir.Operand) {
	b.Emit(ir.Return(op))
}

// Context emits the context resolver and returns the context register.
func (b *Builder) Context() ir.Reg {
	r := b.F.NewReg()
	b.Call(ir.MarkContext, 0, r)
	return r
}

// NewFrame emits a frame allocation marker for n roots.
func (b *Builder) NewFrame(n int64) ir.Reg {
	r := b.F.NewReg()
	b.Call(ir.MarkNewFrame, 1, r, ir.Imm(n))
	return r
}

// PushFrame emits a frame push marker.
func (b *Builder) PushFrame(frame ir.Reg, n int64) {
	b.Call(ir.MarkPushFrame, 2, ir.NoReg, ir.R(frame), ir.Imm(n))
}

// PopFrame emits a frame pop marker.
func (b *Builder) PopFrame(frame ir.Reg) {
	b.Call(ir.MarkPopFrame, 1, ir.NoReg, ir.R(frame))
}

// FrameSlot emits a slot address marker for the given root index.
func (b *Builder) FrameSlot(frame ir.Reg, idx ir.Operand) ir.Reg {
	r := b.F.NewReg()
	b.Call(ir.MarkFrameSlot, 2, r, ir.R(frame), idx)
	return r
}

// AllocBytes emits an allocation marker.
func (b *Builder) AllocBytes(ctx ir.Reg, size ir.Operand, typ int64) ir.Reg {
	r := b.F.NewReg()
	b.Call(ir.MarkAllocBytes, 3, r, ir.R(ctx), size, ir.Imm(typ))
	return r
}

// Safepoint emits a safepoint marker polling page.
func (b *Builder) Safepoint(page ir.Operand) {
	b.Call(ir.MarkSafepoint, 1, ir.NoReg, page)
}

// QueueRoot emits a root-report marker.
func (b *Builder) QueueRoot(root ir.Operand) {
	b.Call(ir.MarkQueueRoot, 1, ir.NoReg, root)
}

// Barrier emits a write barrier marker of the given name.
func (b *Builder) Barrier(marker string, args ...ir.Operand) {
	b.Call(marker, len(args), ir.NoReg, args...)
}

// PreserveBegin emits a preserve-region marker over ops and returns
// the token register.
func (b *Builder) PreserveBegin(ops ...ir.Operand) ir.Reg {
	r := b.F.NewReg()
	b.Call(ir.MarkPreserveBegin, ir.Variadic, r, ops...)
	return r
}

// PreserveEnd emits the region-closing marker for token.
func (b *Builder) PreserveEnd(token ir.Reg) {
	b.Call(ir.MarkPreserveEnd, 1, ir.NoReg, ir.R(token))
}

// NewWorld creates a world over a fresh memory and an environment with
// the world's entries bound, failing the test on error.
func NewWorld(t testing.TB, lay rt.Layout) (*rt.World, *interp.Env) {
	t.Helper()
	w, err := rt.NewWorld(nil, lay)
	if err != nil {
		t.Fatalf("creating world: %v", err)
	}
	env := interp.NewEnv(w.Mem)
	w.Bind(env)
	return w, env
}

// FindCall returns the first call to the named external in f, or nil.
func FindCall(f *ir.Func, name string) *ir.Instr {
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if c := in.Callee(); c != nil && c.Name == name {
				return in
			}
		}
	}
	return nil
}

// CountCalls returns how many calls to the named external f contains.
func CountCalls(f *ir.Func, name string) int {
	n := 0
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if c := in.Callee(); c != nil && c.Name == name {
				n++
			}
		}
	}
	return n
}

// CountOp returns how many instructions of the given opcode f
// contains.
func CountOp(f *ir.Func, op ir.Op) int {
	n := 0
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if in.Op == op {
				n++
			}
		}
	}
	return n
}
