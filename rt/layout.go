// Package rt models the runtime side of the collector protocol: the
// mutator context and its field layout, the shadow stack of frames
// published there, size classification for the segregated pool
// allocator, and the runtime entry points that lowered code calls. The
// models run against package interp's memory, so lowered programs can
// be executed and their heap effects checked, and embedders get one
// authoritative statement of the offsets and encodings the lowering
// bakes into generated code.
package rt

import "fmt"

// WordBytes is the width of a pointer and of every context field.
const WordBytes = 8

// Shadow stack frame shape: slot 0 holds the encoded root count, slot
// 1 links to the previous frame, roots start at slot 2.
const (
	FrameHeaderSlot = 0
	FramePrevSlot   = 1
	FrameRootBase   = 2
)

// EncodeFrameHeader encodes a frame's root count into its header word.
// The low bits are flag space, kept clear for frames built by the
// lowering.
func EncodeFrameHeader(nroots int) uint64 {
	return uint64(nroots) << 2
}

// DecodeFrameHeader recovers the root count from a header word.
func DecodeFrameHeader(header uint64) int {
	return int(header >> 2)
}

// Layout gives the byte offsets of the collector-visible fields inside
// a mutator context block. Lowered code hard-codes these offsets, so a
// Layout is fixed at build time and shared between the lowering and
// the runtime.
type Layout struct {
	// GCStack is the offset of the shadow stack head pointer.
	GCStack int64
	// Cursor and Limit bound the thread's bump allocation region.
	Cursor int64
	Limit  int64
	// AllocBytes is the offset of the thread's allocated-byte counter.
	AllocBytes int64
}

// DefaultLayout returns the layout used when no policy overrides it.
func DefaultLayout() Layout {
	return Layout{
		GCStack:    0,
		Cursor:     8,
		Limit:      16,
		AllocBytes: 24,
	}
}

// Validate checks that the offsets are word-aligned, non-negative and
// distinct.
func (l Layout) Validate() error {
	offs := map[string]int64{
		"gc_stack":    l.GCStack,
		"cursor":      l.Cursor,
		"limit":       l.Limit,
		"alloc_bytes": l.AllocBytes,
	}
	seen := make(map[int64]string, len(offs))
	for name, off := range offs {
		if off < 0 {
			return fmt.Errorf("rt: layout offset %s is negative", name)
		}
		if off%WordBytes != 0 {
			return fmt.Errorf("rt: layout offset %s is not word-aligned", name)
		}
		if prev, ok := seen[off]; ok {
			return fmt.Errorf("rt: layout offsets %s and %s collide at %d", prev, name, off)
		}
		seen[off] = name
	}
	return nil
}

// Words returns the context block size in words.
func (l Layout) Words() int {
	max := l.GCStack
	for _, off := range []int64{l.Cursor, l.Limit, l.AllocBytes} {
		if off > max {
			max = off
		}
	}
	return int(max/WordBytes) + 1
}
