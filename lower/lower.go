//go:generate go run ../cmd/hookgen wellknown_gen.go
//go:generate gofmt -s -w wellknown_gen.go

// Package lower implements the final collector lowering pass. Earlier
// compiler stages speak in abstract markers: make me a frame, give me
// an object, poll for suspension, note this store. This pass rewrites
// every marker into the concrete protocol the runtime defined in
// package rt expects: shadow stack frames built and published in the
// prescribed order, allocations classified and routed to pool, bump,
// big or typed entries, safepoints turned into volatile signal page
// reads, barriers and preserve regions turned into runtime calls.
// After the pass, the only collector vocabulary left in a function is
// the context resolver and calls to declared runtime entries.
package lower

import (
	"fmt"

	"github.com/loamlang/loamgc/ir"
)

// An InvariantError reports a malformed marker: wrong operand count,
// an operand of the wrong kind, or a marker the active policy
// forbids. Lowering of the offending function aborts; emitting a
// guess would corrupt the mutator protocol.
type InvariantError struct {
	Func   string
	Block  string
	Marker string
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("lower: %s: block %s: %s: %s", e.Func, e.Block, e.Marker, e.Reason)
}

// Stats counts the rewrites a pass performed, for logs and tests.
type Stats struct {
	Funcs        int // functions lowered (skipped ones not counted)
	Frames       int
	Pushes       int
	Pops         int
	Slots        int
	PoolCalls    int
	InlineAllocs int
	BigAllocs    int
	TypedAllocs  int
	Safepoints   int
	QueuedRoots  int
	Barriers     int
	Preserves    int
}

// Pass rewrites the collector markers of one module under one policy.
type Pass struct {
	// Stats accumulates across every lowered function.
	Stats Stats

	mod   *ir.Module
	pol   Policy
	decls map[string]*ir.Extern
	names int
}

// New creates a pass over mod. The runtime entries lowered code can
// call are declared up front, so every emitted call site shares the
// module's one handle per entry.
func New(mod *ir.Module, pol Policy) (*Pass, error) {
	if err := pol.Validate(); err != nil {
		return nil, err
	}
	p := &Pass{mod: mod, pol: pol, decls: make(map[string]*ir.Extern, len(wellKnown))}
	for _, e := range wellKnown {
		p.decls[e.Name] = mod.Declare(e.Name, e.Arity)
	}
	return p, nil
}

// Policy returns the policy the pass was built with.
func (p *Pass) Policy() Policy { return p.pol }

// entry returns the declared extern for a well-known runtime entry.
func (p *Pass) entry(name string) *ir.Extern { return p.decls[name] }

// label makes a fresh block label for emitted control flow.
func (p *Pass) label(stem string) string {
	p.names++
	return fmt.Sprintf("%s.%d", stem, p.names)
}

// LowerModule lowers every function. numbering supplies each
// function's root numbering by name; functions absent from it lower
// with an empty numbering. The first malformed function aborts the
// whole run.
func (p *Pass) LowerModule(numbering map[string]RootNumbering) error {
	for _, f := range p.mod.Funcs {
		if err := p.LowerFunc(f, numbering[f.Name]); err != nil {
			return err
		}
	}
	return nil
}

// funcState carries per-function lowering context.
type funcState struct {
	fn        *ir.Func
	numbering RootNumbering
	ctx       ir.Reg
	frame     ir.Reg
	hasFrame  bool
}

// LowerFunc rewrites every marker in f. A function that never resolves
// the mutator context does not interact with the collector and is
// skipped whole; markers in such a function are malformed, since every
// lowered sequence needs the context.
func (p *Pass) LowerFunc(f *ir.Func, numbering RootNumbering) error {
	ctx, ok := findContext(f)
	if !ok {
		if b, in := findMarker(f); in != nil {
			return &InvariantError{Func: f.Name, Block: b.Label, Marker: in.Callee().Name, Reason: "marker without a context resolver"}
		}
		return nil
	}
	st := &funcState{fn: f, numbering: numbering, ctx: ctx}
	for bi := 0; bi < len(f.Blocks); bi++ {
		b := f.Blocks[bi]
		for ii := 0; ii < len(b.Instrs); ii++ {
			in := b.Instrs[ii]
			callee := in.Callee()
			if callee == nil {
				continue
			}
			var err error
			switch callee.Name {
			case ir.MarkNewFrame:
				err = p.lowerNewFrame(st, b, ii, in)
			case ir.MarkPushFrame:
				err = p.lowerPushFrame(st, b, ii, in)
			case ir.MarkPopFrame:
				err = p.lowerPopFrame(st, b, ii, in)
			case ir.MarkFrameSlot:
				err = p.lowerFrameSlot(st, b, ii, in)
			case ir.MarkAllocBytes:
				err = p.lowerAllocBytes(st, b, ii, in)
			case ir.MarkSafepoint:
				err = p.lowerSafepoint(st, b, ii, in)
			case ir.MarkQueueRoot:
				err = p.lowerQueueRoot(st, b, ii, in)
			case ir.MarkWB1, ir.MarkWB2, ir.MarkWB1Slow, ir.MarkWB2Slow:
				err = p.lowerWriteBarrier(st, b, ii, in, callee.Name)
			case ir.MarkPreserveBegin:
				err = p.lowerPreserveBegin(st, b, ii, in)
			case ir.MarkPreserveEnd:
				err = p.lowerPreserveEnd(st, b, ii, in)
			}
			if err != nil {
				return err
			}
		}
	}
	p.Stats.Funcs++
	return verifyClean(f)
}

// findContext locates the context resolver call and returns its result
// register.
func findContext(f *ir.Func) (ir.Reg, bool) {
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if c := in.Callee(); c != nil && c.Name == ir.MarkContext && in.Dst != ir.NoReg {
				return in.Dst, true
			}
		}
	}
	return ir.NoReg, false
}

// findMarker returns the first marker call in f, or nil.
func findMarker(f *ir.Func) (*ir.Block, *ir.Instr) {
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if c := in.Callee(); c != nil && isMarker(c.Name) {
				return b, in
			}
		}
	}
	return nil, nil
}

// verifyClean checks that no marker other than the context resolver
// survived.
func verifyClean(f *ir.Func) error {
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			c := in.Callee()
			if c == nil || c.Name == ir.MarkContext {
				continue
			}
			if isMarker(c.Name) {
				return &InvariantError{Func: f.Name, Block: b.Label, Marker: c.Name, Reason: "marker survived lowering"}
			}
		}
	}
	return nil
}

func isMarker(name string) bool {
	switch name {
	case ir.MarkNewFrame, ir.MarkPushFrame, ir.MarkPopFrame, ir.MarkFrameSlot,
		ir.MarkAllocBytes, ir.MarkSafepoint, ir.MarkQueueRoot,
		ir.MarkWB1, ir.MarkWB2, ir.MarkWB1Slow, ir.MarkWB2Slow,
		ir.MarkPreserveBegin, ir.MarkPreserveEnd:
		return true
	}
	return false
}

// invariant builds the fatal error for a malformed marker.
func invariant(st *funcState, b *ir.Block, marker, reason string) error {
	return &InvariantError{Func: st.fn.Name, Block: b.Label, Marker: marker, Reason: reason}
}
