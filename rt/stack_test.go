package rt_test

import (
	"strings"
	"testing"

	"github.com/loamlang/loamgc/interp"
	"github.com/loamlang/loamgc/rt"
)

// buildFrame writes a shadow stack frame by hand: header, link, then
// root values.
func buildFrame(t *testing.T, mem *interp.Memory, prev uintptr, roots ...uint64) uintptr {
	t.Helper()
	fr, err := mem.HeapAlloc(rt.FrameRootBase + len(roots))
	if err != nil {
		t.Fatal(err)
	}
	words := append([]uint64{rt.EncodeFrameHeader(len(roots)), uint64(prev)}, roots...)
	for i, v := range words {
		if err := mem.Store(fr+uintptr(i)*rt.WordBytes, v); err != nil {
			t.Fatal(err)
		}
	}
	return fr
}

// TestWalkEmpty tests walking a thread with no frames.
func TestWalkEmpty(t *testing.T) {
	w := newWorld(t)
	visits := 0
	err := rt.WalkStack(w.Mem, w.Layout, w.Mutator(), func(rt.Frame) bool {
		visits++
		return true
	})
	if err != nil || visits != 0 {
		t.Errorf("empty stack walk: %d visits, %v", visits, err)
	}
}

// TestWalkFrames tests order, root values and slot addresses across a
// two-frame stack.
func TestWalkFrames(t *testing.T) {
	w := newWorld(t)
	older := buildFrame(t, w.Mem, 0, 0xaaa)
	newer := buildFrame(t, w.Mem, older, 0xbbb, 0xccc)
	if err := w.SetField(w.Layout.GCStack, uint64(newer)); err != nil {
		t.Fatal(err)
	}
	var got []rt.Frame
	err := rt.WalkStack(w.Mem, w.Layout, w.Mutator(), func(fr rt.Frame) bool {
		got = append(got, fr)
		return true
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("visited %d frames", len(got))
	}
	if got[0].Addr != newer || got[1].Addr != older {
		t.Errorf("frames out of order: %#x, %#x", got[0].Addr, got[1].Addr)
	}
	if len(got[0].Roots) != 2 || got[0].Roots[0] != 0xbbb || got[0].Roots[1] != 0xccc {
		t.Errorf("newest frame roots %v", got[0].Roots)
	}
	if len(got[1].Roots) != 1 || got[1].Roots[0] != 0xaaa {
		t.Errorf("older frame roots %v", got[1].Roots)
	}
	wantSlot := newer + rt.FrameRootBase*rt.WordBytes
	if got[0].Slots[0] != wantSlot {
		t.Errorf("slot address %#x, want %#x", got[0].Slots[0], wantSlot)
	}
	if n, err := rt.StackDepth(w.Mem, w.Layout, w.Mutator()); n != 2 || err != nil {
		t.Errorf("StackDepth = %d, %v", n, err)
	}
}

// TestWalkEarlyStop tests that a false visit ends the walk cleanly.
func TestWalkEarlyStop(t *testing.T) {
	w := newWorld(t)
	older := buildFrame(t, w.Mem, 0)
	newer := buildFrame(t, w.Mem, older)
	if err := w.SetField(w.Layout.GCStack, uint64(newer)); err != nil {
		t.Fatal(err)
	}
	visits := 0
	err := rt.WalkStack(w.Mem, w.Layout, w.Mutator(), func(rt.Frame) bool {
		visits++
		return false
	})
	if err != nil || visits != 1 {
		t.Errorf("early stop: %d visits, %v", visits, err)
	}
}

// TestWalkCycle tests that a corrupt, looping chain is reported.
func TestWalkCycle(t *testing.T) {
	w := newWorld(t)
	a := buildFrame(t, w.Mem, 0)
	b := buildFrame(t, w.Mem, a)
	// Corrupt the older frame to point back at the newer one.
	if err := w.Mem.Store(a+rt.FramePrevSlot*rt.WordBytes, uint64(b)); err != nil {
		t.Fatal(err)
	}
	if err := w.SetField(w.Layout.GCStack, uint64(b)); err != nil {
		t.Fatal(err)
	}
	err := rt.WalkStack(w.Mem, w.Layout, w.Mutator(), func(rt.Frame) bool { return true })
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Errorf("looping chain walked without complaint: %v", err)
	}
}
