package lower

import (
	"fmt"

	"github.com/loamlang/loamgc/ir"
	"github.com/loamlang/loamgc/rt"
)

// lowerSafepoint rewrites safepoint(page) into a volatile read of the
// signal page. The loaded value is discarded; the read exists so that
// an armed page traps the thread, and volatility keeps later stages
// from eliding it.
func (p *Pass) lowerSafepoint(st *funcState, b *ir.Block, ii int, in *ir.Instr) error {
	args := in.CallArgs()
	if len(args) != 1 {
		return invariant(st, b, ir.MarkSafepoint, "takes the signal page address")
	}
	if in.Dst != ir.NoReg {
		return invariant(st, b, ir.MarkSafepoint, "produces no result")
	}
	poll := ir.LoadVolatile(st.fn.NewReg(), args[0])
	poll.Pos = in.Pos
	b.ReplaceAt(ii, poll)
	p.Stats.Safepoints++
	return nil
}

// lowerQueueRoot retargets queue_root(root) at the runtime root queue.
func (p *Pass) lowerQueueRoot(st *funcState, b *ir.Block, ii int, in *ir.Instr) error {
	args := in.CallArgs()
	if len(args) != 1 {
		return invariant(st, b, ir.MarkQueueRoot, "takes one root operand")
	}
	in.Retarget(p.entry(rt.QueueRootEntry.Name), args...)
	p.Stats.QueuedRoots++
	return nil
}

// lowerWriteBarrier retargets a barrier marker at the entry of
// matching arity. Barriers only exist for moving collectors; a
// non-moving build emitting one is misconfigured.
func (p *Pass) lowerWriteBarrier(st *funcState, b *ir.Block, ii int, in *ir.Instr, marker string) error {
	if p.pol.Flavor != FlavorMoving {
		return invariant(st, b, marker, "write barriers require a moving collector")
	}
	var entry rt.Entry
	switch marker {
	case ir.MarkWB1:
		entry = rt.WriteBarrier1Entry
	case ir.MarkWB2:
		entry = rt.WriteBarrier2Entry
	case ir.MarkWB1Slow:
		entry = rt.WriteBarrier1SlowEntry
	case ir.MarkWB2Slow:
		entry = rt.WriteBarrier2SlowEntry
	}
	args := in.CallArgs()
	if len(args) != entry.Arity {
		return invariant(st, b, marker, fmt.Sprintf("takes %d operands, given %d", entry.Arity, len(args)))
	}
	in.Retarget(p.entry(entry.Name), args...)
	p.Stats.Barriers++
	return nil
}
