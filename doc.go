/*
Package loamgc bridges the Loam compiler back end to the runtime's
garbage collectors.

A compiler that wants precise garbage collection has two jobs it
cannot express portably: telling the collector where the roots of
every activation live, and making allocation, thread suspension and
pointer mutation visible to it. Loam's back end leaves both jobs to
this module. Earlier compiler stages speak in symbolic markers (make
me a frame, give me an object of this size, poll for suspension, note
this store, keep these values pinned) and the final lowering pass here
rewrites every marker into the concrete sequence the collector
expects.

The module splits along the compiler/runtime seam:

Package ir is the register-transfer form the back end hands over:
functions of basic blocks, virtual registers, declared external
symbols, and source positions. The lowering edits it in place.

Package lower is the final collector lowering pass. It is driven by a
Policy naming the collector flavor, whether constant small
allocations bump-allocate inline, and the layout of the
collector-visible fields in each thread's context block. Policies
load from YAML, so a build configuration is one small file rather
than a scatter of build conditionals.

Package rt is the runtime's half of the contract: the shadow stack
frame encoding, the allocator's size classes, the runtime entry
points lowered code calls, the safepoint signal page, and a walker
for the published frame chain. It also models a mutator world whose
entries can be bound into package interp, so lowered functions are
executable and the whole protocol is checkable in tests rather than
only on a live runtime.

Package pinlog stands apart from the compiler half. It is the
diagnostic log the runtime uses to answer which call sites pinned an
object and how often, with recording cheap enough to leave enabled
outside of debugging sessions.

Lowering a module is two calls:

	pol, err := lower.LoadPolicy(cfg)
	if err != nil {
		// ...
	}
	stats, err := loamgc.LowerModule(mod, pol, numbering)

where numbering carries the root placement oracle computed by the
back end's liveness analysis. After a successful pass the only
collector vocabulary left in a function is the context resolver and
calls to declared runtime entries.
*/
package loamgc
