package ir

// Collector operation markers. Earlier compiler stages emit these as
// ordinary calls; the final lowering rewrites every one of them into
// concrete loads, stores, arithmetic and runtime calls. Only
// MarkContext survives lowering: it stands for the current thread's
// mutator context and is resolved by the execution environment.
const (
	MarkContext       = "loam.gc.context"        // () -> mutator context address
	MarkNewFrame      = "loam.gc.new_frame"      // (nroots) -> frame address
	MarkPushFrame     = "loam.gc.push_frame"     // (frame, nroots)
	MarkPopFrame      = "loam.gc.pop_frame"      // (frame)
	MarkFrameSlot     = "loam.gc.frame_slot"     // (frame, index) -> slot address
	MarkAllocBytes    = "loam.gc.alloc_bytes"    // (ctx, size, type) -> object
	MarkSafepoint     = "loam.gc.safepoint"      // (signal page address)
	MarkQueueRoot     = "loam.gc.queue_root"     // (root)
	MarkWB1           = "loam.gc.wb1"            // (parent)
	MarkWB2           = "loam.gc.wb2"            // (parent, child)
	MarkWB1Slow       = "loam.gc.wb1_slow"       // (parent)
	MarkWB2Slow       = "loam.gc.wb2_slow"       // (parent, child)
	MarkPreserveBegin = "loam.gc.preserve_begin" // (operands...) -> token
	MarkPreserveEnd   = "loam.gc.preserve_end"   // (token)
)
