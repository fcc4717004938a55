package lower

import (
	"github.com/loamlang/loamgc/ir"
	"github.com/loamlang/loamgc/rt"
)

// lowerAllocBytes rewrites alloc_bytes(ctx, size, type) by size:
// constant pool-sized requests go to the pool entry or the inline bump
// sequence, constant oversized requests to the big-object entry with
// the header word added, and dynamic requests to the typed entry. The
// result carries word alignment always, and a dereferenceable range
// when the payload size is statically known and positive.
func (p *Pass) lowerAllocBytes(st *funcState, b *ir.Block, ii int, in *ir.Instr) error {
	args := in.CallArgs()
	if len(args) != 3 {
		return invariant(st, b, ir.MarkAllocBytes, "takes context, size and type operands")
	}
	ctxOp, sizeOp, typOp := args[0], args[1], args[2]
	if !ctxOp.IsReg() || ctxOp.Reg != st.ctx {
		return invariant(st, b, ir.MarkAllocBytes, "first operand must be the resolved context")
	}
	if in.Dst == ir.NoReg {
		return invariant(st, b, ir.MarkAllocBytes, "result unused")
	}
	switch {
	case sizeOp.IsImm():
		size := sizeOp.Imm
		if size < 0 {
			return invariant(st, b, ir.MarkAllocBytes, "negative size")
		}
		class, osize, small := rt.Classify(size)
		if !small {
			in.Retarget(p.entry(rt.BigAllocEntry.Name), ctxOp, ir.Imm(size+rt.WordBytes), typOp)
			in.RetAlign = rt.WordBytes
			in.RetDeref = size
			p.Stats.BigAllocs++
			return nil
		}
		if p.pol.InlineBump {
			p.emitInlineAlloc(st, b, ii, in, class, osize, typOp, size)
			p.Stats.InlineAllocs++
			return nil
		}
		in.Retarget(p.entry(rt.PoolAllocEntry.Name), ctxOp, ir.Imm(int64(class)), ir.Imm(osize), typOp)
		in.RetAlign = rt.WordBytes
		if size > 0 {
			in.RetDeref = size
		}
		p.Stats.PoolCalls++
		return nil
	case sizeOp.IsReg():
		in.Retarget(p.entry(rt.AllocTypedEntry.Name), ctxOp, sizeOp, typOp)
		in.RetAlign = rt.WordBytes
		in.RetDeref = rt.WordBytes
		p.Stats.TypedAllocs++
		return nil
	}
	return invariant(st, b, ir.MarkAllocBytes, "size must be a register or constant")
}

// emitInlineAlloc replaces the marker at b.Instrs[ii] with the bump
// fast path and a pool-calling slow path. Both paths assign the
// marker's original result register, so control just remerges in the
// continuation.
func (p *Pass) emitInlineAlloc(st *funcState, b *ir.Block, ii int, in *ir.Instr, class int, osize int64, typOp ir.Operand, size int64) {
	f := st.fn
	dst := in.Dst
	pos := in.Pos
	lay := p.pol.Layout

	cont := f.SplitBlock(b, ii+1, p.label("alloc.cont"))
	b.RemoveAt(ii)
	slow := f.InsertBlockAfter(b, p.label("alloc.slow"))
	fast := f.InsertBlockAfter(slow, p.label("alloc.fast"))

	cursorAddr := f.NewReg()
	cursor := f.NewReg()
	neg := f.NewReg()
	biased := f.NewReg()
	delta := f.NewReg()
	result := f.NewReg()
	newCursor := f.NewReg()
	limitAddr := f.NewReg()
	limit := f.NewReg()
	over := f.NewReg()
	head := []*ir.Instr{
		ir.Binary(ir.Add, cursorAddr, ir.R(st.ctx), ir.Imm(lay.Cursor)),
		ir.LoadWord(cursor, ir.R(cursorAddr)),
		// The object lands at the next 16-byte boundary past the
		// header: delta = (-(header+cursor)) & 15.
		ir.Binary(ir.Sub, neg, ir.Imm(0), ir.R(cursor)),
		ir.Binary(ir.Add, biased, ir.R(neg), ir.Imm(-rt.WordBytes)),
		ir.Binary(ir.And, delta, ir.R(biased), ir.Imm(15)),
		ir.Binary(ir.Add, result, ir.R(cursor), ir.R(delta)),
		ir.Binary(ir.Add, newCursor, ir.R(result), ir.Imm(osize)),
		ir.Binary(ir.Add, limitAddr, ir.R(st.ctx), ir.Imm(lay.Limit)),
		ir.LoadWord(limit, ir.R(limitAddr)),
		ir.Binary(ir.CmpGT, over, ir.R(newCursor), ir.R(limit)),
		ir.Branch(ir.R(over), slow, fast),
	}
	for _, s := range head {
		s.Pos = pos
	}
	b.Append(head...)

	slowCall := ir.CallTo(dst, p.entry(rt.PoolAllocEntry.Name), ir.R(st.ctx), ir.Imm(int64(class)), ir.Imm(osize), typOp)
	slowCall.RetAlign = rt.WordBytes
	if size > 0 {
		slowCall.RetDeref = size
	}
	slowBr := ir.Jump(cont)
	slowCall.Pos, slowBr.Pos = pos, pos
	slow.Append(slowCall, slowBr)

	allocdAddr := f.NewReg()
	allocd := f.NewReg()
	bumped := f.NewReg()
	fastSeq := []*ir.Instr{
		ir.StoreWord(ir.R(cursorAddr), ir.R(newCursor)),
		ir.Binary(ir.Add, allocdAddr, ir.R(st.ctx), ir.Imm(lay.AllocBytes)),
		ir.LoadWord(allocd, ir.R(allocdAddr)),
		ir.Binary(ir.Add, bumped, ir.R(allocd), ir.Imm(osize)),
		ir.StoreWord(ir.R(allocdAddr), ir.R(bumped)),
		ir.Binary(ir.Add, dst, ir.R(result), ir.Imm(rt.WordBytes)),
		ir.Jump(cont),
	}
	for _, s := range fastSeq {
		s.Pos = pos
	}
	fast.Append(fastSeq...)
}
