package lower_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loamlang/loamgc/internal/irtest"
	"github.com/loamlang/loamgc/ir"
	"github.com/loamlang/loamgc/lower"
	"github.com/loamlang/loamgc/rt"
)

func buildAlloc(fname string, size ir.Operand, typ int64) *irtest.Builder {
	b := irtest.New(fname, 1)
	ctx := b.Context()
	obj := b.AllocBytes(ctx, size, typ)
	b.Ret(ir.R(obj))
	return b
}

func mustLower(t *testing.T, b *irtest.Builder, pol lower.Policy) *lower.Pass {
	t.Helper()
	p, err := lower.New(b.Mod, pol)
	require.NoError(t, err)
	require.NoError(t, p.LowerFunc(b.F, lower.RootNumbering{}))
	require.NoError(t, b.F.Check())
	return p
}

func TestPoolAllocLowering(t *testing.T) {
	b := buildAlloc("mkpair", ir.Imm(24), 7)
	ctx := ir.Reg(1)
	p := mustLower(t, b, lower.DefaultPolicy())
	assert.Equal(t, 1, p.Stats.PoolCalls)

	class, osize, ok := rt.Classify(24)
	require.True(t, ok)
	call := irtest.FindCall(b.F, rt.PoolAllocEntry.Name)
	require.NotNil(t, call)
	assert.Equal(t, []ir.Operand{ir.R(ctx), ir.Imm(int64(class)), ir.Imm(osize), ir.Imm(7)}, call.CallArgs())
	assert.Equal(t, rt.WordBytes, call.RetAlign)
	assert.Equal(t, int64(24), call.RetDeref)

	w, env := irtest.NewWorld(t, rt.DefaultLayout())
	res, err := env.Run(b.F, 0)
	require.NoError(t, err)
	assert.Zero(t, res%rt.WordBytes)
	assert.Equal(t, 1, w.CallCount(rt.PoolAllocEntry.Name))
	objs := w.Objects()
	require.Len(t, objs, 1)
	assert.Equal(t, uintptr(res), objs[0].Addr)
	assert.Equal(t, osize, objs[0].Size)
	assert.Equal(t, uint64(7), objs[0].Type)
}

func TestBigAllocLowering(t *testing.T) {
	b := buildAlloc("mkpage", ir.Imm(4096), 3)
	ctx := ir.Reg(1)
	p := mustLower(t, b, lower.DefaultPolicy())
	assert.Equal(t, 1, p.Stats.BigAllocs)
	assert.Zero(t, p.Stats.PoolCalls)

	call := irtest.FindCall(b.F, rt.BigAllocEntry.Name)
	require.NotNil(t, call)
	assert.Equal(t, []ir.Operand{ir.R(ctx), ir.Imm(4096 + rt.WordBytes), ir.Imm(3)}, call.CallArgs())
	assert.Equal(t, rt.WordBytes, call.RetAlign)
	assert.Equal(t, int64(4096), call.RetDeref)

	w, env := irtest.NewWorld(t, rt.DefaultLayout())
	res, err := env.Run(b.F, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, w.CallCount(rt.BigAllocEntry.Name))
	objs := w.Objects()
	require.Len(t, objs, 1)
	assert.Equal(t, uintptr(res), objs[0].Addr)
	assert.Equal(t, int64(4096+rt.WordBytes), objs[0].Size)
}

func TestTypedAllocLowering(t *testing.T) {
	b := buildAlloc("mkbuf", ir.R(0), 9)
	ctx := ir.Reg(1)
	p := mustLower(t, b, lower.DefaultPolicy())
	assert.Equal(t, 1, p.Stats.TypedAllocs)

	call := irtest.FindCall(b.F, rt.AllocTypedEntry.Name)
	require.NotNil(t, call)
	assert.Equal(t, []ir.Operand{ir.R(ctx), ir.R(0), ir.Imm(9)}, call.CallArgs())
	assert.Equal(t, rt.WordBytes, call.RetAlign)
	assert.Equal(t, int64(rt.WordBytes), call.RetDeref)

	w, env := irtest.NewWorld(t, rt.DefaultLayout())
	res, err := env.Run(b.F, 13)
	require.NoError(t, err)
	assert.Equal(t, 1, w.CallCount(rt.AllocTypedEntry.Name))
	objs := w.Objects()
	require.Len(t, objs, 1)
	assert.Equal(t, uintptr(res), objs[0].Addr)
	assert.Equal(t, int64(24), objs[0].Size, "13-byte payload rounds to two words plus header")
}

func TestAllocSizeBoundaries(t *testing.T) {
	testCases := []struct {
		name  string
		size  int64
		entry string
		deref int64
	}{
		{
			name:  "zero size still allocates a cell",
			size:  0,
			entry: rt.PoolAllocEntry.Name,
			deref: 0,
		},
		{
			name:  "largest pool payload",
			size:  rt.MaxSmallSize,
			entry: rt.PoolAllocEntry.Name,
			deref: rt.MaxSmallSize,
		},
		{
			name:  "smallest big payload",
			size:  rt.MaxSmallSize + 1,
			entry: rt.BigAllocEntry.Name,
			deref: rt.MaxSmallSize + 1,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := buildAlloc("mk", ir.Imm(tc.size), 1)
			mustLower(t, b, lower.DefaultPolicy())
			call := irtest.FindCall(b.F, tc.entry)
			require.NotNil(t, call)
			assert.Equal(t, tc.deref, call.RetDeref)

			w, env := irtest.NewWorld(t, rt.DefaultLayout())
			res, err := env.Run(b.F, 0)
			require.NoError(t, err)
			assert.Zero(t, res%rt.WordBytes)
			assert.Equal(t, 1, w.CallCount(tc.entry))
		})
	}
}

func TestInlineBumpFastPath(t *testing.T) {
	pol := lower.DefaultPolicy()
	pol.InlineBump = true
	b := buildAlloc("bump", ir.Imm(24), 7)
	p := mustLower(t, b, pol)
	assert.Equal(t, 1, p.Stats.InlineAllocs)
	assert.Zero(t, p.Stats.PoolCalls)
	assert.Len(t, b.F.Blocks, 4, "head, slow, fast and continuation")
	assert.Equal(t, 1, irtest.CountCalls(b.F, rt.PoolAllocEntry.Name), "slow path falls back to the pool")
	assert.Equal(t, 1, irtest.CountOp(b.F, ir.CmpGT), "one limit check")

	lay := rt.DefaultLayout()
	w, env := irtest.NewWorld(t, lay)
	res, err := env.Run(b.F, 0)
	require.NoError(t, err)

	assert.Zero(t, res%16, "bump objects are 16-aligned")
	assert.Zero(t, w.CallCount(rt.PoolAllocEntry.Name), "fast path stays inline")
	cur, err := w.Field(lay.Cursor)
	require.NoError(t, err)
	assert.Equal(t, res-rt.WordBytes+32, cur, "cursor advances past the 32-byte cell")
	allocd, err := w.Field(lay.AllocBytes)
	require.NoError(t, err)
	assert.Equal(t, uint64(32), allocd)
}

func TestInlineBumpSlowPath(t *testing.T) {
	pol := lower.DefaultPolicy()
	pol.InlineBump = true
	b := buildAlloc("bump", ir.Imm(24), 7)
	mustLower(t, b, pol)

	lay := rt.DefaultLayout()
	w, env := irtest.NewWorld(t, lay)
	cur0, err := w.Field(lay.Cursor)
	require.NoError(t, err)
	require.NoError(t, w.SetField(lay.Limit, cur0), "exhaust the bump window")

	res, err := env.Run(b.F, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, w.CallCount(rt.PoolAllocEntry.Name))
	objs := w.Objects()
	require.Len(t, objs, 1)
	assert.Equal(t, uintptr(res), objs[0].Addr)
	assert.Equal(t, uint64(7), objs[0].Type)

	cur1, err := w.Field(lay.Cursor)
	require.NoError(t, err)
	assert.Equal(t, cur0, cur1, "the slow path leaves the cursor alone")
}

func TestInlineBumpExactFit(t *testing.T) {
	pol := lower.DefaultPolicy()
	pol.InlineBump = true
	b := buildAlloc("bump", ir.Imm(24), 7)
	mustLower(t, b, pol)

	lay := rt.DefaultLayout()
	w, env := irtest.NewWorld(t, lay)
	cur0, err := w.Field(lay.Cursor)
	require.NoError(t, err)
	obj := (cur0 + rt.WordBytes + 15) &^ 15
	end := obj - rt.WordBytes + 32
	require.NoError(t, w.SetField(lay.Limit, end), "window holds exactly one cell")

	res, err := env.Run(b.F, 0)
	require.NoError(t, err)
	assert.Equal(t, obj, res)
	assert.Zero(t, w.CallCount(rt.PoolAllocEntry.Name), "an exact fit is not an overflow")
	cur1, err := w.Field(lay.Cursor)
	require.NoError(t, err)
	assert.Equal(t, end, cur1)
}

func TestInlineBumpOnlySmallSizes(t *testing.T) {
	pol := lower.DefaultPolicy()
	pol.InlineBump = true

	big := buildAlloc("mkpage", ir.Imm(4096), 3)
	p := mustLower(t, big, pol)
	assert.Equal(t, 1, p.Stats.BigAllocs)
	assert.Zero(t, p.Stats.InlineAllocs)
	assert.Len(t, big.F.Blocks, 1, "big allocations stay a straight call")

	dyn := buildAlloc("mkbuf", ir.R(0), 9)
	p = mustLower(t, dyn, pol)
	assert.Equal(t, 1, p.Stats.TypedAllocs)
	assert.Zero(t, p.Stats.InlineAllocs)
	assert.Len(t, dyn.F.Blocks, 1)
}

func TestAllocStats(t *testing.T) {
	b := irtest.New("mixed", 1)
	ctx := b.Context()
	b.AllocBytes(ctx, ir.Imm(16), 1)
	b.AllocBytes(ctx, ir.Imm(136), 2)
	b.AllocBytes(ctx, ir.Imm(3000), 3)
	obj := b.AllocBytes(ctx, ir.R(0), 4)
	b.Ret(ir.R(obj))

	p := mustLower(t, b, lower.DefaultPolicy())
	assert.Equal(t, 2, p.Stats.PoolCalls)
	assert.Equal(t, 1, p.Stats.BigAllocs)
	assert.Equal(t, 1, p.Stats.TypedAllocs)
	assert.Zero(t, p.Stats.InlineAllocs)

	w, env := irtest.NewWorld(t, rt.DefaultLayout())
	_, err := env.Run(b.F, 48)
	require.NoError(t, err)
	assert.Len(t, w.Objects(), 4)
	allocd, err := w.Field(rt.DefaultLayout().AllocBytes)
	require.NoError(t, err)
	var want uint64
	for _, o := range w.Objects() {
		want += uint64(o.Size)
	}
	assert.Equal(t, want, allocd, "every entry maintains the allocation counter")
}
