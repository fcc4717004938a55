package loamgc_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/loamlang/loamgc"
	"github.com/loamlang/loamgc/internal/irtest"
	"github.com/loamlang/loamgc/ir"
	"github.com/loamlang/loamgc/lower"
	"github.com/loamlang/loamgc/pinlog"
	"github.com/loamlang/loamgc/rt"
)

func TestVersion(t *testing.T) {
	assert.NotEmpty(t, loamgc.Version)
}

func TestLowerModuleRejectsBadPolicy(t *testing.T) {
	pol := lower.DefaultPolicy()
	pol.Layout.Limit = pol.Layout.Cursor
	stats, err := loamgc.LowerModule(ir.NewModule("m"), pol, nil)
	require.Error(t, err)
	assert.Zero(t, stats)
}

// TestLowerAndRun drives one function through the whole marker
// vocabulary: frames, every allocation route, a safepoint, a barrier,
// a root report and a preserve region, then executes the lowered form
// and checks the runtime effects.
func TestLowerAndRun(t *testing.T) {
	b := irtest.New("churn", 1) // parameter 0 is the signal page address
	ctx := b.Context()
	fr := b.NewFrame(2)
	b.PushFrame(fr, 2)
	small := b.AllocBytes(ctx, ir.Imm(24), 1)
	s0 := b.FrameSlot(fr, ir.Imm(0))
	b.Store(ir.R(s0), ir.R(small))
	big := b.AllocBytes(ctx, ir.Imm(5000), 2)
	s1 := b.FrameSlot(fr, ir.Imm(1))
	b.Store(ir.R(s1), ir.R(big))
	b.Safepoint(ir.R(0))
	b.Barrier(ir.MarkWB2, ir.R(small), ir.R(big))
	b.QueueRoot(ir.R(small))
	b.AtLine(40)
	tok := b.PreserveBegin(ir.R(small))
	b.PreserveEnd(tok)
	b.PopFrame(fr)
	b.Ret(ir.R(small))

	pol := lower.DefaultPolicy()
	pol.Flavor = lower.FlavorMoving
	pol.InlineBump = true
	numbering := map[string]lower.RootNumbering{
		"churn": {Slots: map[ir.Reg]int{small: 0}},
	}
	stats, err := loamgc.LowerModule(b.Mod, pol, numbering)
	require.NoError(t, err)
	require.NoError(t, b.F.Check())
	assert.Equal(t, lower.Stats{
		Funcs:        1,
		Frames:       1,
		Pushes:       1,
		Pops:         1,
		Slots:        2,
		InlineAllocs: 1,
		BigAllocs:    1,
		Safepoints:   1,
		QueuedRoots:  1,
		Barriers:     1,
		Preserves:    1,
	}, stats)

	lay := pol.Layout
	w, env := irtest.NewWorld(t, lay)
	log := pinlog.New(1 << 10)
	log.Enable()
	w.AttachLog(log)
	w.NameType(1, "Pair")

	res, err := env.Run(b.F, uint64(w.PollAddr()))
	require.NoError(t, err)

	// The small allocation took the inline path, the big one called
	// out.
	assert.Zero(t, w.CallCount(rt.PoolAllocEntry.Name))
	assert.Equal(t, 1, w.CallCount(rt.BigAllocEntry.Name))
	assert.Zero(t, res%16, "bump objects are 16-aligned")
	require.Len(t, w.Objects(), 1)
	bigObj := w.Objects()[0]
	assert.Equal(t, int64(5008), bigObj.Size)

	allocd, err := w.Field(lay.AllocBytes)
	require.NoError(t, err)
	assert.Equal(t, uint64(32+5008), allocd, "both routes maintain the counter")

	assert.Equal(t, []uintptr{uintptr(res)}, w.Queued)
	require.Len(t, w.Remembered2, 1)
	assert.Equal(t, uintptr(res), w.Remembered2[0][0])
	assert.Equal(t, bigObj.Addr, w.Remembered2[0][1])
	assert.Zero(t, w.OpenRegions())

	depth, err := rt.StackDepth(w.Mem, lay, w.Mutator())
	require.NoError(t, err)
	assert.Zero(t, depth, "the frame was popped")

	var buf bytes.Buffer
	require.NoError(t, log.Report(&buf))
	rep := strings.SplitN(buf.String(), "\n=", 2)[0]
	require.Equal(t, int64(1), gjson.Get(rep, "#").Int())
	assert.Equal(t, "unknown", gjson.Get(rep, "0.type").String(),
		"bump objects are not in the model's index, so the oracle cannot name them")
	assert.Equal(t, "churn.loam", gjson.Get(rep, "0.pinning_sites.0.filename").String())
	assert.Equal(t, int64(40), gjson.Get(rep, "0.pinning_sites.0.lineno").Int())
	assert.Equal(t, int64(1), gjson.Get(rep, "0.pinning_sites.0.count").Int())
}
