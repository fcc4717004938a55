// Package interp evaluates the compiler's register-transfer form
// against a simulated flat memory. The lowering stage's output is plain
// loads, stores, arithmetic and calls, so a small evaluator is enough
// to execute lowered functions and observe the heap, stack and page
// protection effects they are supposed to have.
package interp

import (
	"fmt"

	"github.com/loamlang/loamgc/ir"
)

// HostFunc is a host-side implementation of an external symbol. It
// receives the evaluated argument words and returns the result word.
type HostFunc func(env *Env, args []uint64) (uint64, error)

// maxSteps bounds a single Run so that a miscompiled loop fails a test
// instead of hanging it.
const maxSteps = 1 << 20

// Env binds external symbol names to host functions over a shared
// memory. One Env can run any number of functions in sequence.
type Env struct {
	Mem *Memory

	// OnFault is consulted when an access faults on an armed page.
	// It may disarm the page and return nil to let the access resume,
	// mirroring a thread released from a safepoint. A nil OnFault
	// makes faults fatal to the Run.
	OnFault func(env *Env, addr uintptr) error

	host map[string]HostFunc
	pos  ir.Pos
}

// NewEnv creates an environment over mem, or over a fresh default
// memory if mem is nil.
func NewEnv(mem *Memory) *Env {
	if mem == nil {
		mem = NewMemory(0)
	}
	return &Env{Mem: mem, host: make(map[string]HostFunc)}
}

// Bind installs fn as the implementation of the external symbol name,
// replacing any previous binding.
func (e *Env) Bind(name string, fn HostFunc) {
	e.host[name] = fn
}

// Bound reports whether name has a host implementation.
func (e *Env) Bound(name string) bool {
	_, ok := e.host[name]
	return ok
}

// CallPos returns the source position of the call instruction currently
// dispatched to a host function. It is meaningful only while a HostFunc
// invoked by this Env is on the stack.
func (e *Env) CallPos() ir.Pos { return e.pos }

// Run evaluates f with the given argument words and returns the word it
// returns. Stack allocations made by f are released when Run returns.
func (e *Env) Run(f *ir.Func, args ...uint64) (uint64, error) {
	if len(args) != f.NParams {
		return 0, fmt.Errorf("interp: %s takes %d arguments, given %d", f.Name, f.NParams, len(args))
	}
	b := f.Entry()
	if b == nil {
		return 0, fmt.Errorf("interp: %s has no body", f.Name)
	}
	regs := make([]uint64, f.NumRegs())
	copy(regs, args)
	mark := e.Mem.Mark()
	defer e.Mem.ReleaseTo(mark)

	ev := func(o ir.Operand) (uint64, error) {
		switch o.Mode {
		case ir.AReg:
			return regs[o.Reg], nil
		case ir.AImm:
			return uint64(o.Imm), nil
		}
		return 0, fmt.Errorf("interp: %s: unusable operand %v", f.Name, o)
	}
	set := func(dst ir.Reg, v uint64) {
		if dst != ir.NoReg {
			regs[dst] = v
		}
	}

	steps := 0
	i := 0
	for {
		if steps++; steps > maxSteps {
			return 0, fmt.Errorf("interp: %s: step limit exceeded", f.Name)
		}
		if i >= len(b.Instrs) {
			return 0, fmt.Errorf("interp: %s: fell off the end of block %s", f.Name, b.Label)
		}
		in := b.Instrs[i]
		switch in.Op {
		case ir.Nop:
		case ir.Const:
			v, err := ev(in.Args[0])
			if err != nil {
				return 0, err
			}
			set(in.Dst, v)
		case ir.Load:
			addr, err := ev(in.Args[0])
			if err != nil {
				return 0, err
			}
			v, err := e.load(uintptr(addr))
			if err != nil {
				return 0, fmt.Errorf("interp: %s: %v: %w", f.Name, in, err)
			}
			set(in.Dst, v)
		case ir.Store:
			addr, err := ev(in.Args[0])
			if err != nil {
				return 0, err
			}
			v, err := ev(in.Args[1])
			if err != nil {
				return 0, err
			}
			if err := e.Mem.Store(uintptr(addr), v); err != nil {
				return 0, fmt.Errorf("interp: %s: %v: %w", f.Name, in, err)
			}
		case ir.Add, ir.Sub, ir.And, ir.CmpGT:
			x, err := ev(in.Args[0])
			if err != nil {
				return 0, err
			}
			y, err := ev(in.Args[1])
			if err != nil {
				return 0, err
			}
			var v uint64
			switch in.Op {
			case ir.Add:
				v = x + y
			case ir.Sub:
				v = x - y
			case ir.And:
				v = x & y
			case ir.CmpGT:
				if int64(x) > int64(y) {
					v = 1
				}
			}
			set(in.Dst, v)
		case ir.StackAlloc:
			n, err := ev(in.Args[0])
			if err != nil {
				return 0, err
			}
			addr, err := e.Mem.StackAlloc(int(n))
			if err != nil {
				return 0, fmt.Errorf("interp: %s: %v: %w", f.Name, in, err)
			}
			set(in.Dst, uint64(addr))
		case ir.Slot:
			base, err := ev(in.Args[0])
			if err != nil {
				return 0, err
			}
			idx, err := ev(in.Args[1])
			if err != nil {
				return 0, err
			}
			set(in.Dst, base+idx*WordBytes)
		case ir.Call:
			v, err := e.call(f, in, ev)
			if err != nil {
				return 0, err
			}
			set(in.Dst, v)
		case ir.Br:
			b, i = in.Target, 0
			continue
		case ir.CondBr:
			c, err := ev(in.Args[0])
			if err != nil {
				return 0, err
			}
			if c != 0 {
				b = in.Target
			} else {
				b = in.Else
			}
			i = 0
			continue
		case ir.Ret:
			if len(in.Args) == 0 || in.Args[0].IsNone() {
				return 0, nil
			}
			return ev(in.Args[0])
		default:
			return 0, fmt.Errorf("interp: %s: unimplemented opcode %v", f.Name, in.Op)
		}
		i++
	}
}

// load performs a word read, routing faults on armed pages through
// OnFault and retrying once if the handler clears them.
func (e *Env) load(addr uintptr) (uint64, error) {
	v, err := e.Mem.Load(addr)
	if err == nil {
		return v, nil
	}
	fault, ok := err.(*FaultError)
	if !ok || e.OnFault == nil {
		return 0, err
	}
	if err := e.OnFault(e, fault.Addr); err != nil {
		return 0, err
	}
	return e.Mem.Load(addr)
}

func (e *Env) call(f *ir.Func, in *ir.Instr, ev func(ir.Operand) (uint64, error)) (uint64, error) {
	callee := in.Callee()
	if callee == nil {
		return 0, fmt.Errorf("interp: %s: call without callable target", f.Name)
	}
	fn, ok := e.host[callee.Name]
	if !ok {
		return 0, fmt.Errorf("interp: %s: unbound external %q", f.Name, callee.Name)
	}
	args := in.CallArgs()
	if callee.Arity != ir.Variadic && len(args) != callee.Arity {
		return 0, fmt.Errorf("interp: %s: %q takes %d arguments, given %d", f.Name, callee.Name, callee.Arity, len(args))
	}
	argv := make([]uint64, len(args))
	for i, a := range args {
		v, err := ev(a)
		if err != nil {
			return 0, err
		}
		argv[i] = v
	}
	saved := e.pos
	e.pos = in.Pos
	v, err := fn(e, argv)
	e.pos = saved
	if err != nil {
		return 0, fmt.Errorf("interp: %s: %q: %w", f.Name, callee.Name, err)
	}
	return v, nil
}
