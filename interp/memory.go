package interp

import "fmt"

// WordBytes is the machine word size of evaluated programs.
const WordBytes = 8

// PageBytes is the protection granularity of Memory.
const PageBytes = 4096

// DefaultWords is the default memory size in words.
const DefaultWords = 1 << 18

// memBase is the byte address of word 0. Nonzero so that a null address
// is never a valid access, and 16-aligned so stack and heap carving
// stays aligned.
const memBase uintptr = 1 << 20

// FaultError reports an access to a protected page.
type FaultError struct {
	Addr uintptr
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("interp: fault at %#x", e.Addr)
}

// Memory is a flat word-granular memory shared by evaluated code and
// the host model. The low end holds function stack allocations, which
// grow upward and are released when their activation returns; the high
// end holds host heap allocations, which grow downward and are never
// released. All accesses are word-sized and word-aligned.
type Memory struct {
	words     []uint64
	stackNext int // next free word index, grows up
	heapNext  int // first used word index, grows down
	protected map[uintptr]bool
}

// NewMemory creates a memory of the given size in words; sizes below 1
// get DefaultWords.
func NewMemory(words int) *Memory {
	if words < 1 {
		words = DefaultWords
	}
	return &Memory{
		words:     make([]uint64, words),
		heapNext:  words,
		protected: make(map[uintptr]bool),
	}
}

// Base returns the lowest valid address.
func (m *Memory) Base() uintptr { return memBase }

// Contains reports whether addr falls inside the memory.
func (m *Memory) Contains(addr uintptr) bool {
	return addr >= memBase && addr < memBase+uintptr(len(m.words))*WordBytes
}

func (m *Memory) index(addr uintptr) (int, error) {
	if !m.Contains(addr) {
		return 0, fmt.Errorf("interp: address %#x out of range", addr)
	}
	if addr%WordBytes != 0 {
		return 0, fmt.Errorf("interp: misaligned access at %#x", addr)
	}
	return int((addr - memBase) / WordBytes), nil
}

// Load reads the word at addr. Reads from an armed page return a
// *FaultError.
func (m *Memory) Load(addr uintptr) (uint64, error) {
	i, err := m.index(addr)
	if err != nil {
		return 0, err
	}
	if m.protected[addr&^uintptr(PageBytes-1)] {
		return 0, &FaultError{Addr: addr}
	}
	return m.words[i], nil
}

// Store writes the word at addr. Writes to an armed page return a
// *FaultError.
func (m *Memory) Store(addr uintptr, v uint64) error {
	i, err := m.index(addr)
	if err != nil {
		return err
	}
	if m.protected[addr&^uintptr(PageBytes-1)] {
		return &FaultError{Addr: addr}
	}
	m.words[i] = v
	return nil
}

// StackAlloc carves words fresh zeroed words from the stack region and
// returns their address, 16-byte aligned.
func (m *Memory) StackAlloc(words int) (uintptr, error) {
	next := (m.stackNext + 1) &^ 1
	if next+words > m.heapNext {
		return 0, fmt.Errorf("interp: out of stack memory (%d words requested)", words)
	}
	for i := next; i < next+words; i++ {
		m.words[i] = 0
	}
	m.stackNext = next + words
	return memBase + uintptr(next)*WordBytes, nil
}

// Mark returns the current stack position for a later ReleaseTo.
func (m *Memory) Mark() int { return m.stackNext }

// ReleaseTo pops the stack region back to a position from Mark.
func (m *Memory) ReleaseTo(mark int) {
	if mark >= 0 && mark <= m.stackNext {
		m.stackNext = mark
	}
}

// HeapAlloc carves words zeroed words from the heap region and returns
// their address, 16-byte aligned. Heap allocations are permanent.
func (m *Memory) HeapAlloc(words int) (uintptr, error) {
	next := (m.heapNext - words) &^ 1
	if next < m.stackNext {
		return 0, fmt.Errorf("interp: out of heap memory (%d words requested)", words)
	}
	for i := next; i < m.heapNext; i++ {
		m.words[i] = 0
	}
	m.heapNext = next
	return memBase + uintptr(next)*WordBytes, nil
}

// Arm protects the page containing addr; subsequent loads and stores
// within it fault.
func (m *Memory) Arm(addr uintptr) {
	m.protected[addr&^uintptr(PageBytes-1)] = true
}

// Disarm unprotects the page containing addr.
func (m *Memory) Disarm(addr uintptr) {
	delete(m.protected, addr&^uintptr(PageBytes-1))
}

// Armed reports whether the page containing addr is protected.
func (m *Memory) Armed(addr uintptr) bool {
	return m.protected[addr&^uintptr(PageBytes-1)]
}
