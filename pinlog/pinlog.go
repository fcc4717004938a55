// Package pinlog accumulates a diagnostic log of object pinning. Every
// time the runtime pins an object, the embedder records the object and
// the source site that pinned it; the collector folds the raw events
// into per-object, per-site counts at the end of each cycle and prunes
// objects that died. The resulting report answers "what is pinned, and
// which code keeps pinning it" for heaps where stray pins block
// compaction.
//
// Recording is designed for the pin fast path: one mutex acquisition,
// one slot claimed in a buffer allocated up front, no map work and no
// allocation. All folding, pruning and formatting happens off that
// path.
package pinlog

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the raw event buffer size used when no explicit
// capacity is given.
const DefaultCapacity = 1 << 20

// reportSeparator ends every report so successive reports on one
// stream can be split apart.
const reportSeparator = "========================="

// Site identifies a source location that pinned an object.
type Site struct {
	File string
	Line int
}

// OverflowError is the panic value raised when pinning events arrive
// faster than the embedder folds them and the raw buffer fills.
type OverflowError struct {
	Capacity int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("pinlog: event buffer overflow at capacity %d; coalesce more often", e.Capacity)
}

type event struct {
	obj  uintptr
	site Site
}

// Log is one pinning log. The zero value is not usable; create logs
// with New. All methods are safe for concurrent use.
type Log struct {
	mu        sync.Mutex
	enabled   atomic.Bool
	capacity  int
	events    []event
	n         int
	coalesced map[uintptr]map[Site]uint64
	alive     func(uintptr) bool
	typeName  func(uintptr) string
}

// New creates a disabled log whose raw buffer will hold capacity
// events; capacities below 1 get DefaultCapacity. The buffer itself is
// not allocated until Enable.
func New(capacity int) *Log {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Log{capacity: capacity}
}

// Enable switches the log on and claims its buffer storage. Enabling
// is one-way: there is no disable, so a racing Record never observes
// storage disappearing. Enabling an enabled log does nothing.
func (l *Log) Enable() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.enabled.Load() {
		return
	}
	l.events = make([]event, l.capacity)
	l.coalesced = make(map[uintptr]map[Site]uint64)
	l.enabled.Store(true)
}

// Enabled reports whether the log is on.
func (l *Log) Enabled() bool {
	return l.enabled.Load()
}

// Capacity returns the raw event buffer size.
func (l *Log) Capacity() int {
	return l.capacity
}

// Record notes that the code at file:line pinned obj. On a disabled
// log it is a no-op. If the raw buffer is full, Record panics with an
// *OverflowError rather than silently dropping events.
func (l *Log) Record(obj uintptr, file string, line int) {
	if !l.enabled.Load() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.n == l.capacity {
		panic(&OverflowError{Capacity: l.capacity})
	}
	l.events[l.n] = event{obj: obj, site: Site{File: file, Line: line}}
	l.n++
}

// SetAliveFunc installs the liveness oracle consulted when pruning.
// Install one before the first CycleLog; without an oracle, pruning
// retains everything.
func (l *Log) SetAliveFunc(alive func(obj uintptr) bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alive = alive
}

// SetTypeNameFunc installs the function used to name a live object's
// type in reports. Objects without a name, and dead objects, report as
// "unknown".
func (l *Log) SetTypeNameFunc(typeName func(obj uintptr) string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.typeName = typeName
}

// Coalesce folds buffered raw events into the per-object, per-site
// counts and empties the buffer. Folding an empty buffer changes
// nothing, so calling it twice is the same as calling it once.
func (l *Log) Coalesce() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fold()
}

// fold folds raw events into the coalesced map. Callers hold mu.
func (l *Log) fold() {
	for i := 0; i < l.n; i++ {
		ev := l.events[i]
		sites := l.coalesced[ev.obj]
		if sites == nil {
			sites = make(map[Site]uint64)
			l.coalesced[ev.obj] = sites
		}
		sites[ev.site]++
		l.events[i] = event{}
	}
	l.n = 0
}

// CycleLog folds pending events and drops every object the liveness
// oracle no longer recognizes. The collector calls this at the end of
// each cycle, when liveness is settled.
func (l *Log) CycleLog() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fold()
	if l.alive == nil {
		return
	}
	for obj := range l.coalesced {
		if !l.alive(obj) {
			delete(l.coalesced, obj)
		}
	}
}

type reportSite struct {
	File  string `json:"filename"`
	Line  int    `json:"lineno"`
	Count uint64 `json:"count"`
}

type reportEntry struct {
	Object string       `json:"pinned_object"`
	Type   string       `json:"type"`
	Sites  []reportSite `json:"pinning_sites"`
}

// Report folds pending events and writes the coalesced log to w as a
// JSON array: one entry per pinned object in address order, each
// naming the object, its type, and its pinning sites ordered by line
// then file. A separator line follows the JSON.
func (l *Log) Report(w io.Writer) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fold()
	objs := make([]uintptr, 0, len(l.coalesced))
	for obj := range l.coalesced {
		objs = append(objs, obj)
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i] < objs[j] })
	entries := make([]reportEntry, 0, len(objs))
	for _, obj := range objs {
		counts := l.coalesced[obj]
		sites := make([]Site, 0, len(counts))
		for s := range counts {
			sites = append(sites, s)
		}
		sort.Slice(sites, func(i, j int) bool {
			if sites[i].Line != sites[j].Line {
				return sites[i].Line < sites[j].Line
			}
			return sites[i].File < sites[j].File
		})
		e := reportEntry{
			Object: fmt.Sprintf("%#x", obj),
			Type:   "unknown",
			Sites:  make([]reportSite, 0, len(sites)),
		}
		if l.typeName != nil && (l.alive == nil || l.alive(obj)) {
			if name := l.typeName(obj); name != "" {
				e.Type = name
			}
		}
		for _, s := range sites {
			e.Sites = append(e.Sites, reportSite{File: s.File, Line: s.Line, Count: counts[s]})
		}
		entries = append(entries, e)
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n"+reportSeparator+"\n")
	return err
}
