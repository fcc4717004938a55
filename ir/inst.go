package ir

import (
	"fmt"
	"strings"
)

// Reg names a virtual register. Registers hold one machine word and are
// assigned at most once per instruction but freely overwritten across
// instructions; the form is not SSA.
type Reg int32

// NoReg marks an instruction that produces no result.
const NoReg Reg = -1

// Operand addressing modes.
const (
	AXXX byte = iota // unused slot
	AReg             // virtual register
	AImm             // immediate word
	AExt             // external symbol (call target)
)

// Operand is a single instruction operand.
type Operand struct {
	Mode byte    // AReg, AImm, AExt, AXXX
	Reg  Reg     // AReg: register number
	Imm  int64   // AImm: immediate value
	Ext  *Extern // AExt: call target
}

// NoOperand is a sentinel for unused operand slots.
var NoOperand = Operand{Mode: AXXX}

// R creates a register operand.
func R(r Reg) Operand {
	return Operand{Mode: AReg, Reg: r}
}

// Imm creates an immediate operand.
func Imm(v int64) Operand {
	return Operand{Mode: AImm, Imm: v}
}

// Sym creates an external-symbol operand.
func Sym(e *Extern) Operand {
	return Operand{Mode: AExt, Ext: e}
}

// IsReg returns true if the operand is a register.
func (o Operand) IsReg() bool { return o.Mode == AReg }

// IsImm returns true if the operand is an immediate.
func (o Operand) IsImm() bool { return o.Mode == AImm }

// IsNone returns true if the operand slot is unused.
func (o Operand) IsNone() bool { return o.Mode == AXXX }

func (o Operand) String() string {
	switch o.Mode {
	case AXXX:
		return "-"
	case AReg:
		return fmt.Sprintf("r%d", o.Reg)
	case AImm:
		return fmt.Sprintf("$%d", o.Imm)
	case AExt:
		return "@" + o.Ext.Name
	default:
		return "???"
	}
}

// Pos is a source position attached to an instruction.
type Pos struct {
	File string
	Line int
}

// IsValid reports whether the position carries real source information.
func (p Pos) IsValid() bool { return p.File != "" && p.Line > 0 }

func (p Pos) String() string {
	if !p.IsValid() {
		return "?"
	}
	return fmt.Sprintf("%s:%d", p.File, p.Line)
}

// Instr is a single instruction. Branch targets are held as block
// pointers rather than labels so that passes can split and reorder
// blocks without a relabeling step.
type Instr struct {
	Op   Op
	Dst  Reg       // NoReg if the instruction produces no value
	Args []Operand // operand order is opcode-specific, documented per constructor

	// Volatile marks a Load that must not be elided or reordered by
	// later stages. Safepoint polls rely on it.
	Volatile bool

	// Result attributes for Call and StackAlloc. RetAlign is a minimum
	// alignment of the returned address in bytes; RetDeref is a byte
	// count known to be dereferenceable from it. Zero means unknown.
	RetAlign int
	RetDeref int64

	// Target and Else are branch successors: Br uses Target only,
	// CondBr branches to Target when the condition is nonzero and to
	// Else otherwise.
	Target *Block
	Else   *Block

	Pos Pos
}

// ConstWord creates dst = v.
func ConstWord(dst Reg, v int64) *Instr {
	return &Instr{Op: Const, Dst: dst, Args: []Operand{Imm(v)}}
}

// LoadWord creates dst = mem[addr].
func LoadWord(dst Reg, addr Operand) *Instr {
	return &Instr{Op: Load, Dst: dst, Args: []Operand{addr}}
}

// LoadVolatile creates a volatile dst = mem[addr].
func LoadVolatile(dst Reg, addr Operand) *Instr {
	return &Instr{Op: Load, Dst: dst, Args: []Operand{addr}, Volatile: true}
}

// StoreWord creates mem[addr] = val.
func StoreWord(addr, val Operand) *Instr {
	return &Instr{Op: Store, Dst: NoReg, Args: []Operand{addr, val}}
}

// Binary creates dst = x op y for Add, Sub, And and CmpGT.
func Binary(op Op, dst Reg, x, y Operand) *Instr {
	return &Instr{Op: op, Dst: dst, Args: []Operand{x, y}}
}

// AllocWords creates dst = address of words fresh zeroed stack words.
// The address is 16-byte aligned and valid until the function returns.
func AllocWords(dst Reg, words int64) *Instr {
	return &Instr{Op: StackAlloc, Dst: dst, Args: []Operand{Imm(words)}, RetAlign: 16}
}

// SlotAddr creates dst = base + index*WordBytes.
func SlotAddr(dst Reg, base, index Operand) *Instr {
	return &Instr{Op: Slot, Dst: dst, Args: []Operand{base, index}}
}

// CallTo creates dst = callee(args...). Pass NoReg for calls whose
// result is unused.
func CallTo(dst Reg, callee *Extern, args ...Operand) *Instr {
	ops := make([]Operand, 0, len(args)+1)
	ops = append(ops, Sym(callee))
	ops = append(ops, args...)
	return &Instr{Op: Call, Dst: dst, Args: ops}
}

// Jump creates an unconditional branch to target.
func Jump(target *Block) *Instr {
	return &Instr{Op: Br, Dst: NoReg, Target: target}
}

// Branch creates a conditional branch: to then if cond is nonzero,
// to els otherwise.
func Branch(cond Operand, then, els *Block) *Instr {
	return &Instr{Op: CondBr, Dst: NoReg, Args: []Operand{cond}, Target: then, Else: els}
}

// Return creates a return of val; pass NoOperand for a bare return.
func Return(val Operand) *Instr {
	return &Instr{Op: Ret, Dst: NoReg, Args: []Operand{val}}
}

// Callee returns the called symbol of a Call instruction, or nil.
func (in *Instr) Callee() *Extern {
	if in.Op != Call || len(in.Args) == 0 || in.Args[0].Mode != AExt {
		return nil
	}
	return in.Args[0].Ext
}

// CallArgs returns the argument operands of a Call instruction.
func (in *Instr) CallArgs() []Operand {
	if in.Op != Call {
		return nil
	}
	return in.Args[1:]
}

// Retarget swaps the callee of a Call instruction in place, keeping the
// destination register and replacing the arguments.
func (in *Instr) Retarget(callee *Extern, args ...Operand) {
	ops := make([]Operand, 0, len(args)+1)
	ops = append(ops, Sym(callee))
	ops = append(ops, args...)
	in.Args = ops
}

// IsTerminator returns true for instructions that end a block.
func (in *Instr) IsTerminator() bool {
	switch in.Op {
	case Br, CondBr, Ret:
		return true
	}
	return false
}

func (in *Instr) String() string {
	var sb strings.Builder
	if in.Dst != NoReg {
		fmt.Fprintf(&sb, "r%d = ", in.Dst)
	}
	sb.WriteString(in.Op.String())
	if in.Volatile {
		sb.WriteString(".v")
	}
	for i, a := range in.Args {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(" " + a.String())
	}
	if in.Target != nil {
		sb.WriteString(" ->" + in.Target.Label)
	}
	if in.Else != nil {
		sb.WriteString(" ->" + in.Else.Label)
	}
	return sb.String()
}
