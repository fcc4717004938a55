package pinlog

import "io"

// std is the process-wide log. Embedders that funnel every mutator
// through one diagnostic use the package-level functions; embedders
// with several independent heaps create their own Logs.
var std = New(DefaultCapacity)

// Default returns the process-wide log.
func Default() *Log { return std }

// Enable switches the process-wide log on. Like every enable, it is
// one-way.
func Enable() { std.Enable() }

// Enabled reports whether the process-wide log is on.
func Enabled() bool { return std.Enabled() }

// Record notes a pinning event in the process-wide log.
func Record(obj uintptr, file string, line int) { std.Record(obj, file, line) }

// Coalesce folds the process-wide log's pending events.
func Coalesce() { std.Coalesce() }

// CycleLog folds and prunes the process-wide log.
func CycleLog() { std.CycleLog() }

// SetAliveFunc installs the liveness oracle on the process-wide log.
func SetAliveFunc(alive func(uintptr) bool) { std.SetAliveFunc(alive) }

// SetTypeNameFunc installs the type-name oracle on the process-wide log.
func SetTypeNameFunc(name func(uintptr) string) { std.SetTypeNameFunc(name) }

// Report writes the process-wide log's report to w.
func Report(w io.Writer) error { return std.Report(w) }
