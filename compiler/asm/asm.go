package asm

type (
	Reg   int8
	Cond  uint8
	Label int

	SymKind uint8

	// Sym is a relocation target: a module function or data object.
	Sym struct {
		Kind SymKind
		ID   int
	}

	Func struct {
		Name string
		Body []Instr

		Labels int
	}

	Instr any

	// Mem addresses Base+Disp.
	Mem struct {
		Base Reg
		Disp int32
	}

	Bind struct {
		Label Label
	}

	MovRR struct {
		Dst, Src Reg
	}

	MovRI struct {
		Dst Reg
		Imm int64
	}

	// Load reads Size bytes zero-extended into Dst.
	Load struct {
		Dst  Reg
		Mem  Mem
		Size int
	}

	Store struct {
		Mem  Mem
		Src  Reg
		Size int
	}

	Lea struct {
		Dst Reg
		Mem Mem
	}

	// LeaSym loads the address of Sym plus Addend, rip relative.
	LeaSym struct {
		Dst    Reg
		Sym    Sym
		Addend int32
	}

	AddRR struct {
		Dst, Src Reg
	}

	SubRR struct {
		Dst, Src Reg
	}

	AddRI struct {
		Dst Reg
		Imm int32
	}

	CmpRI struct {
		Reg  Reg
		Imm  int32
		Size int
	}

	TestRR struct {
		A, B Reg
		Size int
	}

	Setcc struct {
		Cond Cond
		Dst  Reg
	}

	// Movzx zero-extends the low From bytes of Src into Dst.
	Movzx struct {
		Dst, Src Reg
		From     int
	}

	Call struct {
		Sym Sym
	}

	Jmp struct {
		Label Label
	}

	Jcc struct {
		Cond  Cond
		Label Label
	}

	Push struct {
		Reg Reg
	}

	Pop struct {
		Reg Reg
	}

	Ret struct{}
)

const (
	SymFunc SymKind = iota
	SymData
)

// Registers in hardware encoding order.
const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// Condition codes in hardware encoding order.
const (
	CondE  Cond = 0x4
	CondNE Cond = 0x5
)

var regNames = [...]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

func (r Reg) String() string {
	if r >= 0 && int(r) < len(regNames) {
		return regNames[r]
	}

	return "reg?"
}

func (c Cond) String() string {
	switch c {
	case CondE:
		return "e"
	case CondNE:
		return "ne"
	}

	return "cc?"
}

func (c Cond) Invert() Cond { return c ^ 1 }

func (f *Func) NewLabel() Label {
	f.Labels++

	return Label(f.Labels - 1)
}

func (f *Func) Add(x ...Instr) {
	f.Body = append(f.Body, x...)
}
