package rt

import (
	"fmt"

	"github.com/zephyrtronium/contains"

	"github.com/loamlang/loamgc/interp"
)

// Frame is one shadow stack frame as seen by a walker.
type Frame struct {
	Addr  uintptr   // frame base address
	Slots []uintptr // root slot addresses
	Roots []uint64  // root slot values, parallel to Slots
}

// WalkStack follows the shadow stack published in the context block at
// mutator, visiting frames newest first. The walk stops early when
// visit returns false. Frames link only toward older frames, so a
// chain that revisits a frame is corrupt and reported as an error.
func WalkStack(mem *interp.Memory, lay Layout, mutator uintptr, visit func(Frame) bool) error {
	head, err := mem.Load(mutator + uintptr(lay.GCStack))
	if err != nil {
		return err
	}
	var seen contains.Set
	cur := uintptr(head)
	for cur != 0 {
		if !seen.Add(cur) {
			return fmt.Errorf("rt: shadow stack cycles back to frame %#x", cur)
		}
		hdr, err := mem.Load(cur + FrameHeaderSlot*WordBytes)
		if err != nil {
			return err
		}
		n := DecodeFrameHeader(hdr)
		fr := Frame{Addr: cur, Slots: make([]uintptr, n), Roots: make([]uint64, n)}
		for i := 0; i < n; i++ {
			slot := cur + uintptr(FrameRootBase+i)*WordBytes
			v, err := mem.Load(slot)
			if err != nil {
				return err
			}
			fr.Slots[i] = slot
			fr.Roots[i] = v
		}
		if !visit(fr) {
			return nil
		}
		prev, err := mem.Load(cur + FramePrevSlot*WordBytes)
		if err != nil {
			return err
		}
		cur = uintptr(prev)
	}
	return nil
}

// StackDepth counts the frames currently on the shadow stack.
func StackDepth(mem *interp.Memory, lay Layout, mutator uintptr) (int, error) {
	n := 0
	err := WalkStack(mem, lay, mutator, func(Frame) bool {
		n++
		return true
	})
	return n, err
}
