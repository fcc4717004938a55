package lower

import (
	"github.com/loamlang/loamgc/ir"
	"github.com/loamlang/loamgc/rt"
)

// lowerNewFrame rewrites new_frame(nroots) into a zeroed 16-aligned
// stack allocation of nroots+2 slots: header, previous-frame link,
// then the root slots.
func (p *Pass) lowerNewFrame(st *funcState, b *ir.Block, ii int, in *ir.Instr) error {
	args := in.CallArgs()
	if len(args) != 1 {
		return invariant(st, b, ir.MarkNewFrame, "takes one operand")
	}
	if !args[0].IsImm() || args[0].Imm < 0 {
		return invariant(st, b, ir.MarkNewFrame, "root count must be a nonnegative constant")
	}
	if in.Dst == ir.NoReg {
		return invariant(st, b, ir.MarkNewFrame, "result unused")
	}
	alloc := ir.AllocWords(in.Dst, args[0].Imm+rt.FrameRootBase)
	alloc.Pos = in.Pos
	b.ReplaceAt(ii, alloc)
	st.frame = in.Dst
	st.hasFrame = true
	p.Stats.Frames++
	return nil
}

// lowerPushFrame rewrites push_frame(frame, nroots): write the header,
// link the current stack head into the frame, then publish the frame
// as the new head. Publication comes last, so a concurrent walker that
// observes the new head always finds a fully formed frame.
func (p *Pass) lowerPushFrame(st *funcState, b *ir.Block, ii int, in *ir.Instr) error {
	args := in.CallArgs()
	if len(args) != 2 {
		return invariant(st, b, ir.MarkPushFrame, "takes two operands")
	}
	frame := args[0]
	if !frame.IsReg() {
		return invariant(st, b, ir.MarkPushFrame, "frame must be a register")
	}
	if !args[1].IsImm() || args[1].Imm < 0 {
		return invariant(st, b, ir.MarkPushFrame, "root count must be a nonnegative constant")
	}
	f := st.fn
	headAddr := f.NewReg()
	prev := f.NewReg()
	prevSlot := f.NewReg()
	seq := []*ir.Instr{
		ir.StoreWord(frame, ir.Imm(int64(rt.EncodeFrameHeader(int(args[1].Imm))))),
		ir.Binary(ir.Add, headAddr, ir.R(st.ctx), ir.Imm(p.pol.Layout.GCStack)),
		ir.LoadWord(prev, ir.R(headAddr)),
		ir.SlotAddr(prevSlot, frame, ir.Imm(rt.FramePrevSlot)),
		ir.StoreWord(ir.R(prevSlot), ir.R(prev)),
		ir.StoreWord(ir.R(headAddr), frame),
	}
	for _, s := range seq {
		s.Pos = in.Pos
	}
	b.RemoveAt(ii)
	b.InsertAt(ii, seq...)
	p.Stats.Pushes++
	return nil
}

// lowerPopFrame rewrites pop_frame(frame): restore the stack head from
// the frame's link slot.
func (p *Pass) lowerPopFrame(st *funcState, b *ir.Block, ii int, in *ir.Instr) error {
	args := in.CallArgs()
	if len(args) != 1 {
		return invariant(st, b, ir.MarkPopFrame, "takes one operand")
	}
	frame := args[0]
	if !frame.IsReg() {
		return invariant(st, b, ir.MarkPopFrame, "frame must be a register")
	}
	f := st.fn
	prevSlot := f.NewReg()
	prev := f.NewReg()
	headAddr := f.NewReg()
	seq := []*ir.Instr{
		ir.SlotAddr(prevSlot, frame, ir.Imm(rt.FramePrevSlot)),
		ir.LoadWord(prev, ir.R(prevSlot)),
		ir.Binary(ir.Add, headAddr, ir.R(st.ctx), ir.Imm(p.pol.Layout.GCStack)),
		ir.StoreWord(ir.R(headAddr), ir.R(prev)),
	}
	for _, s := range seq {
		s.Pos = in.Pos
	}
	b.RemoveAt(ii)
	b.InsertAt(ii, seq...)
	p.Stats.Pops++
	return nil
}

// lowerFrameSlot rewrites frame_slot(frame, index) into the slot
// address: frame + (index+2) words. The index may be dynamic.
func (p *Pass) lowerFrameSlot(st *funcState, b *ir.Block, ii int, in *ir.Instr) error {
	args := in.CallArgs()
	if len(args) != 2 {
		return invariant(st, b, ir.MarkFrameSlot, "takes two operands")
	}
	frame := args[0]
	if !frame.IsReg() {
		return invariant(st, b, ir.MarkFrameSlot, "frame must be a register")
	}
	if in.Dst == ir.NoReg {
		return invariant(st, b, ir.MarkFrameSlot, "result unused")
	}
	switch {
	case args[1].IsImm():
		if args[1].Imm < 0 {
			return invariant(st, b, ir.MarkFrameSlot, "root index must be nonnegative")
		}
		slot := ir.SlotAddr(in.Dst, frame, ir.Imm(args[1].Imm+rt.FrameRootBase))
		slot.Pos = in.Pos
		b.ReplaceAt(ii, slot)
	case args[1].IsReg():
		biased := st.fn.NewReg()
		add := ir.Binary(ir.Add, biased, args[1], ir.Imm(rt.FrameRootBase))
		slot := ir.SlotAddr(in.Dst, frame, ir.R(biased))
		add.Pos, slot.Pos = in.Pos, in.Pos
		b.RemoveAt(ii)
		b.InsertAt(ii, add, slot)
	default:
		return invariant(st, b, ir.MarkFrameSlot, "root index must be a register or constant")
	}
	p.Stats.Slots++
	return nil
}
