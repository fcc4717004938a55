// Package ir defines the register-transfer form that the Loam compiler's
// middle end hands to its final lowering stage. Programs are modules of
// functions; a function is a list of basic blocks over an unbounded set of
// virtual word registers. The form is deliberately small: it carries only
// the operations that survive to late lowering, plus call markers that
// stand in for collector operations until package lower rewrites them.
package ir

// Op is an instruction opcode.
type Op byte

// Opcodes of the late register-transfer form.
const (
	Nop        Op = iota
	Const         // dst = immediate
	Load          // dst = mem[src], optionally volatile
	Store         // mem[dst operand] = src
	Add           // dst = x + y
	Sub           // dst = x - y
	And           // dst = x & y
	CmpGT         // dst = 1 if x > y (signed), else 0
	StackAlloc    // dst = address of n fresh zeroed stack words
	Slot          // dst = base + index*WordBytes
	Call          // dst = callee(args...)
	Br            // unconditional branch
	CondBr        // conditional branch on a register
	Ret           // return, with optional value
)

var opNames = [...]string{
	Nop:        "nop",
	Const:      "const",
	Load:       "load",
	Store:      "store",
	Add:        "add",
	Sub:        "sub",
	And:        "and",
	CmpGT:      "cmpgt",
	StackAlloc: "stackalloc",
	Slot:       "slot",
	Call:       "call",
	Br:         "br",
	CondBr:     "condbr",
	Ret:        "ret",
}

func (op Op) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return "op?"
}
