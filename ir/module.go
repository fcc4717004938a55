package ir

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Variadic marks an external symbol that accepts any argument count.
const Variadic = -1

// Extern is a symbol external to the module, usually a runtime entry
// point. Instructions reference externs by pointer, so two calls to the
// same declared name share one handle.
type Extern struct {
	Name  string
	Arity int // argument count, or Variadic
}

// Module is a translation unit: a set of functions plus the external
// symbols they reference. The symbol table is safe for concurrent
// declaration, so separate goroutines may lower separate functions of
// one module.
type Module struct {
	Name  string
	Funcs []*Func

	em      sync.Mutex
	externs map[string]*Extern
}

// NewModule creates an empty module.
func NewModule(name string) *Module {
	return &Module{Name: name, externs: make(map[string]*Extern)}
}

// Declare returns the extern for name, creating it with the given arity
// on first use. Later calls return the same handle regardless of arity,
// mirroring symbol resolution: the first declaration wins.
func (m *Module) Declare(name string, arity int) *Extern {
	m.em.Lock()
	defer m.em.Unlock()
	if e, ok := m.externs[name]; ok {
		return e
	}
	e := &Extern{Name: name, Arity: arity}
	m.externs[name] = e
	return e
}

// Lookup returns the extern declared under name, or nil.
func (m *Module) Lookup(name string) *Extern {
	m.em.Lock()
	defer m.em.Unlock()
	return m.externs[name]
}

// Externs returns the declared externs sorted by name.
func (m *Module) Externs() []*Extern {
	m.em.Lock()
	es := make([]*Extern, 0, len(m.externs))
	for _, e := range m.externs {
		es = append(es, e)
	}
	m.em.Unlock()
	sort.Slice(es, func(i, j int) bool { return es[i].Name < es[j].Name })
	return es
}

// NewFunc creates a function with the given name, source file and
// parameter count and appends it to the module. Parameters arrive in
// registers 0..nparams-1.
func (m *Module) NewFunc(name, file string, nparams int) *Func {
	f := &Func{Name: name, File: file, NParams: nparams, Mod: m, nreg: Reg(nparams)}
	m.Funcs = append(m.Funcs, f)
	return f
}

// Func is a single function: an ordered list of basic blocks. The first
// block is the entry.
type Func struct {
	Name    string
	File    string
	NParams int
	Blocks  []*Block
	Mod     *Module

	nreg Reg
}

// NewReg allocates a fresh virtual register.
func (f *Func) NewReg() Reg {
	r := f.nreg
	f.nreg++
	return r
}

// NumRegs returns the number of registers allocated so far.
func (f *Func) NumRegs() int { return int(f.nreg) }

// Entry returns the entry block, or nil for a function with no body.
func (f *Func) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// NewBlock creates a block with the given label and appends it to the
// function.
func (f *Func) NewBlock(label string) *Block {
	b := &Block{Label: label, fn: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

// InsertBlockAfter creates a block with the given label and inserts it
// immediately after the given block.
func (f *Func) InsertBlockAfter(after *Block, label string) *Block {
	b := &Block{Label: label, fn: f}
	for i, x := range f.Blocks {
		if x == after {
			f.Blocks = append(f.Blocks, nil)
			copy(f.Blocks[i+2:], f.Blocks[i+1:])
			f.Blocks[i+1] = b
			return b
		}
	}
	f.Blocks = append(f.Blocks, b)
	return b
}

// SplitBlock moves the instructions of b from index i onward into a new
// block inserted immediately after b, and returns the new block. b is
// left without a terminator; the caller appends one.
func (f *Func) SplitBlock(b *Block, i int, label string) *Block {
	nb := f.InsertBlockAfter(b, label)
	nb.Instrs = append(nb.Instrs, b.Instrs[i:]...)
	b.Instrs = b.Instrs[:i]
	return nb
}

// Check verifies structural well-formedness: every block ends in a
// terminator, terminators appear only at block ends, branch targets
// belong to the function, and register references are in range.
func (f *Func) Check() error {
	member := make(map[*Block]bool, len(f.Blocks))
	for _, b := range f.Blocks {
		member[b] = true
	}
	for _, b := range f.Blocks {
		if len(b.Instrs) == 0 {
			return fmt.Errorf("ir: %s: block %s is empty", f.Name, b.Label)
		}
		for i, in := range b.Instrs {
			last := i == len(b.Instrs)-1
			if in.IsTerminator() != last {
				return fmt.Errorf("ir: %s: block %s: instruction %d: misplaced terminator", f.Name, b.Label, i)
			}
			if in.Dst != NoReg && (in.Dst < 0 || in.Dst >= f.nreg) {
				return fmt.Errorf("ir: %s: block %s: instruction %d: register r%d out of range", f.Name, b.Label, i, in.Dst)
			}
			for _, a := range in.Args {
				if a.Mode == AReg && (a.Reg < 0 || a.Reg >= f.nreg) {
					return fmt.Errorf("ir: %s: block %s: instruction %d: register r%d out of range", f.Name, b.Label, i, a.Reg)
				}
			}
			for _, t := range []*Block{in.Target, in.Else} {
				if t != nil && !member[t] {
					return fmt.Errorf("ir: %s: block %s: instruction %d: branch to foreign block %s", f.Name, b.Label, i, t.Label)
				}
			}
		}
	}
	return nil
}

func (f *Func) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "func %s(%d):\n", f.Name, f.NParams)
	for _, b := range f.Blocks {
		sb.WriteString(b.String())
	}
	return sb.String()
}

// Block is a basic block: straight-line instructions ended by a single
// terminator.
type Block struct {
	Label  string
	Instrs []*Instr

	fn *Func
}

// Func returns the function the block belongs to.
func (b *Block) Func() *Func { return b.fn }

// Append adds instructions at the end of the block.
func (b *Block) Append(ins ...*Instr) {
	b.Instrs = append(b.Instrs, ins...)
}

// InsertAt inserts instructions before index i.
func (b *Block) InsertAt(i int, ins ...*Instr) {
	b.Instrs = append(b.Instrs, ins...)
	copy(b.Instrs[i+len(ins):], b.Instrs[i:])
	copy(b.Instrs[i:], ins)
}

// RemoveAt removes the instruction at index i.
func (b *Block) RemoveAt(i int) {
	b.Instrs = append(b.Instrs[:i], b.Instrs[i+1:]...)
}

// ReplaceAt replaces the instruction at index i.
func (b *Block) ReplaceAt(i int, in *Instr) {
	b.Instrs[i] = in
}

// Terminator returns the block's final instruction if it is a
// terminator, else nil.
func (b *Block) Terminator() *Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	if in := b.Instrs[len(b.Instrs)-1]; in.IsTerminator() {
		return in
	}
	return nil
}

func (b *Block) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s:\n", b.Label)
	for _, in := range b.Instrs {
		fmt.Fprintf(&sb, "\t%s\n", in)
	}
	return sb.String()
}
