package ir

import "tlog.app/go/tlog/tlwire"

type (
	Value int
	Block int
	Type  uint8
	Cond  string

	// FuncRef and DataRef index Func.FuncRefs and Func.DataRefs.
	FuncRef int
	DataRef int

	// FuncID and DataID are module level symbol ids.
	FuncID int
	DataID int

	CallConv uint8

	Signature struct {
		CallConv CallConv

		Params  []Type
		Returns []Type
	}

	ExtFunc struct {
		ID   FuncID
		Name string
		Sig  Signature
	}

	ExtData struct {
		ID   DataID
		Name string
	}

	Func struct {
		Name string
		Sig  Signature

		FuncRefs []ExtFunc
		DataRefs []ExtData

		// Value id -> instruction, result type and owning block.
		Exprs  []any   `tlog:"-"`
		EType  []Type  `tlog:"-"`
		EBlock []Block `tlog:"-"`

		Blocks []BlockData
		Layout []Block
	}

	BlockData struct {
		Preds []Block
		Code  []Value

		Sealed bool
	}

	Iconst struct {
		Imm int64
	}

	Iadd struct {
		L, R Value
	}

	Isub struct {
		L, R Value
	}

	IaddImm struct {
		X   Value
		Imm int64
	}

	// IcmpImm yields I8 1 if X Cond Imm holds, 0 otherwise.
	IcmpImm struct {
		Cond Cond
		X    Value
		Imm  int64
	}

	Uextend struct {
		X Value
	}

	Ireduce struct {
		X Value
	}

	Load struct {
		Ptr Value
		Off int32
	}

	Store struct {
		X   Value
		Ptr Value
		Off int32
	}

	Call struct {
		Func FuncRef
		Args []Value
	}

	GlobalValue struct {
		Data DataRef
	}

	Phi []PhiBranch

	PhiBranch struct {
		B    Block
		Expr Value
	}

	// Alias replaces a removed value.
	Alias Value

	Jump struct {
		Block Block
	}

	Brnz struct {
		X    Value
		Then Block
		Else Block
	}

	Return struct {
		Values []Value
	}

	DataDesc struct {
		Size  int
		Init  []byte `tlog:",omitempty"`
		Align int

		Relocs []DataReloc `tlog:",omitempty"`
	}

	DataReloc struct {
		Off    int
		Data   DataID
		Addend int64
	}
)

const (
	Void Type = iota
	I8
	I32
	I64
)

const (
	SystemV CallConv = iota
)

const (
	Eq Cond = "=="
	Ne Cond = "!="
)

const (
	Nil     Value = -1
	NoBlock Block = -1
)

func (t Type) Bits() int {
	switch t {
	case I8:
		return 8
	case I32:
		return 32
	case I64:
		return 64
	}

	return 0
}

func (t Type) Bytes() int { return t.Bits() / 8 }

func (t Type) String() string {
	switch t {
	case Void:
		return "void"
	case I8:
		return "i8"
	case I32:
		return "i32"
	case I64:
		return "i64"
	}

	return "type?"
}

// Wrap truncates x to the width of t and sign extends it back.
func (t Type) Wrap(x int64) int64 {
	switch t {
	case I8:
		return int64(int8(x))
	case I32:
		return int64(int32(x))
	}

	return x
}

func (s Signature) Equal(x Signature) bool {
	if s.CallConv != x.CallConv || len(s.Params) != len(x.Params) || len(s.Returns) != len(x.Returns) {
		return false
	}

	for i, p := range s.Params {
		if x.Params[i] != p {
			return false
		}
	}

	for i, r := range s.Returns {
		if x.Returns[i] != r {
			return false
		}
	}

	return true
}

// ZeroInit describes n zero bytes.
func ZeroInit(n int) *DataDesc {
	return &DataDesc{Size: n, Align: 1}
}

// WriteDataAddr makes the word at off hold the address of data plus addend.
func (d *DataDesc) WriteDataAddr(off int, data DataID, addend int64) {
	d.Relocs = append(d.Relocs, DataReloc{Off: off, Data: data, Addend: addend})
}

// IsZero reports whether the data is all zeros with nothing to relocate.
func (d *DataDesc) IsZero() bool {
	if len(d.Relocs) != 0 {
		return false
	}

	for _, b := range d.Init {
		if b != 0 {
			return false
		}
	}

	return true
}

func (p PhiBranch) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 2)
	b = e.AppendKeyInt64(b, "b", int64(p.B))
	b = e.AppendKeyInt64(b, "id", int64(p.Expr))

	return b
}
