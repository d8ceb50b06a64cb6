package ir

func NewFunc(name string, sig Signature) *Func {
	return &Func{
		Name: name,
		Sig:  sig,
	}
}

func (f *Func) NewBlock() Block {
	f.Blocks = append(f.Blocks, BlockData{})

	return Block(len(f.Blocks) - 1)
}

func (f *Func) Block(b Block) *BlockData {
	return &f.Blocks[b]
}

// Alloc adds a value not yet placed in any block.
func (f *Func) Alloc(x any, tp Type) Value {
	f.Exprs = append(f.Exprs, x)
	f.EType = append(f.EType, tp)
	f.EBlock = append(f.EBlock, NoBlock)

	return Value(len(f.Exprs) - 1)
}

// Append adds an instruction to the end of block b.
func (f *Func) Append(b Block, x any, tp Type) Value {
	id := f.Alloc(x, tp)

	f.EBlock[id] = b
	f.Blocks[b].Code = append(f.Blocks[b].Code, id)

	return id
}

// Prepend places a phi at the start of block b.
func (f *Func) Prepend(b Block, x any, tp Type) Value {
	id := f.Alloc(x, tp)

	f.EBlock[id] = b

	code := f.Blocks[b].Code
	code = append(code, 0)
	copy(code[1:], code)
	code[0] = id

	f.Blocks[b].Code = code

	return id
}

// Remove drops id from its block and turns it into an alias of to.
func (f *Func) Remove(id, to Value) {
	b := f.EBlock[id]

	if b != NoBlock {
		code := f.Blocks[b].Code

		for i, x := range code {
			if x == id {
				f.Blocks[b].Code = append(code[:i], code[i+1:]...)
				break
			}
		}
	}

	f.Exprs[id] = Alias(to)
	f.EBlock[id] = NoBlock
}

// Resolve follows aliases.
func (f *Func) Resolve(v Value) Value {
	for v >= 0 {
		a, ok := f.Exprs[v].(Alias)
		if !ok {
			break
		}

		v = Value(a)
	}

	return v
}

func (f *Func) ImportFunc(x ExtFunc) FuncRef {
	for i, r := range f.FuncRefs {
		if r.ID == x.ID {
			return FuncRef(i)
		}
	}

	f.FuncRefs = append(f.FuncRefs, x)

	return FuncRef(len(f.FuncRefs) - 1)
}

func (f *Func) ImportData(x ExtData) DataRef {
	for i, r := range f.DataRefs {
		if r.ID == x.ID {
			return DataRef(i)
		}
	}

	f.DataRefs = append(f.DataRefs, x)

	return DataRef(len(f.DataRefs) - 1)
}

// Terminator returns the last instruction of b if it ends the block.
func (f *Func) Terminator(b Block) (Value, bool) {
	code := f.Blocks[b].Code
	if len(code) == 0 {
		return Nil, false
	}

	id := code[len(code)-1]

	return id, IsTerminator(f.Exprs[id])
}

// Succs returns the successors of b in branch order.
func (f *Func) Succs(b Block) []Block {
	id, ok := f.Terminator(b)
	if !ok {
		return nil
	}

	return Successors(f.Exprs[id])
}

func IsTerminator(x any) bool {
	switch x.(type) {
	case Jump, Brnz, Return:
		return true
	}

	return false
}

func Successors(x any) []Block {
	switch x := x.(type) {
	case Jump:
		return []Block{x.Block}
	case Brnz:
		return []Block{x.Then, x.Else}
	}

	return nil
}

// Args returns the operands of x without resolving aliases.
// Phi operands are not included, they are used on the incoming edges.
func Args(x any) []Value {
	switch x := x.(type) {
	case Iadd:
		return []Value{x.L, x.R}
	case Isub:
		return []Value{x.L, x.R}
	case IaddImm:
		return []Value{x.X}
	case IcmpImm:
		return []Value{x.X}
	case Uextend:
		return []Value{x.X}
	case Ireduce:
		return []Value{x.X}
	case Load:
		return []Value{x.Ptr}
	case Store:
		return []Value{x.X, x.Ptr}
	case Call:
		return x.Args
	case Brnz:
		return []Value{x.X}
	case Return:
		return x.Values
	}

	return nil
}

// Bytes returns the initial contents padded to Size.
func (d *DataDesc) Bytes() []byte {
	b := make([]byte, d.Size)
	copy(b, d.Init)

	return b
}
