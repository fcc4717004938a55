package lower

import (
	"github.com/loamlang/loamgc/ir"
	"github.com/loamlang/loamgc/rt"
)

// RootNumbering is the output of the earlier root placement analysis
// for one function, consumed here as an oracle: which frame slot each
// collector-visible register was assigned, and which slots the
// references inside a composite value landed in.
type RootNumbering struct {
	// Slots maps a register holding a single reference to its root
	// index.
	Slots map[ir.Reg]int
	// Aggregates maps a register holding a composite value to the
	// root indices of every reference it transitively contains.
	Aggregates map[ir.Reg][]int
}

// rootsOf resolves an operand to the root indices it carries.
// Constants carry none, and registers the numbering never placed
// resolve to none.
func (rn RootNumbering) rootsOf(o ir.Operand) []int {
	if !o.IsReg() {
		return nil
	}
	if i, ok := rn.Slots[o.Reg]; ok {
		return []int{i}
	}
	return rn.Aggregates[o.Reg]
}

// lowerPreserveBegin resolves each protected operand to frame slots
// and rewrites the marker into a begin-preserve call passing a count
// followed by the slot addresses. Operands resolving to nothing are
// dropped without complaint: they hold no live root, so there is
// nothing to protect. The marker's token result stays in place for
// the matching end.
func (p *Pass) lowerPreserveBegin(st *funcState, b *ir.Block, ii int, in *ir.Instr) error {
	var idxs []int
	for _, o := range in.CallArgs() {
		idxs = append(idxs, st.numbering.rootsOf(o)...)
	}
	if len(idxs) > 0 && !st.hasFrame {
		return invariant(st, b, ir.MarkPreserveBegin, "roots to preserve but no frame in the function")
	}
	args := make([]ir.Operand, 0, len(idxs)+1)
	args = append(args, ir.Imm(int64(len(idxs))))
	slots := make([]*ir.Instr, 0, len(idxs))
	for _, idx := range idxs {
		r := st.fn.NewReg()
		slot := ir.SlotAddr(r, ir.R(st.frame), ir.Imm(int64(idx+rt.FrameRootBase)))
		slot.Pos = in.Pos
		slots = append(slots, slot)
		args = append(args, ir.R(r))
	}
	b.InsertAt(ii, slots...)
	in.Retarget(p.entry(rt.PreserveBeginEntry.Name), args...)
	p.Stats.Preserves++
	return nil
}

// lowerPreserveEnd drops the region token and calls the zero-argument
// end-preserve entry.
func (p *Pass) lowerPreserveEnd(st *funcState, b *ir.Block, ii int, in *ir.Instr) error {
	if len(in.CallArgs()) != 1 {
		return invariant(st, b, ir.MarkPreserveEnd, "takes the region token")
	}
	in.Retarget(p.entry(rt.PreserveEndEntry.Name))
	return nil
}
