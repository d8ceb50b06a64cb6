package ssa

import (
	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slowlang/brainheck/compiler/ir"
)

type (
	// Var is a mutable variable tracked through SSA construction.
	Var int

	// Builder fills an ir.Func block by block.
	//
	// Variables are resolved on the fly: reading a variable in a block
	// that has no local definition looks it up in the predecessors,
	// placing phis where control flow merges. A block may only get
	// new predecessors until it is sealed, reads in unsealed blocks
	// produce incomplete phis completed by SealBlock.
	Builder struct {
		f *ir.Func

		cur ir.Block

		vars   []ir.Type
		blocks []blockState

		err error
	}

	blockState struct {
		defs       map[Var]ir.Value
		incomplete []pending

		filled   bool
		switched bool

		from loc.PC
	}

	pending struct {
		v   Var
		phi ir.Value
	}
)

func New(f *ir.Func) *Builder {
	b := &Builder{
		f:   f,
		cur: ir.NoBlock,
	}

	for range f.Blocks {
		b.blocks = append(b.blocks, blockState{})
	}

	return b
}

func (b *Builder) Func() *ir.Func { return b.f }

func (b *Builder) Current() ir.Block { return b.cur }

func (b *Builder) CreateBlock() ir.Block {
	blk := b.f.NewBlock()

	b.blocks = append(b.blocks, blockState{
		from: loc.Caller(1),
	})

	return blk
}

// SwitchToBlock makes blk the insertion point.
// The block left must be either empty or terminated.
func (b *Builder) SwitchToBlock(blk ir.Block) {
	if b.cur != ir.NoBlock && !b.blocks[b.cur].filled && len(b.f.Blocks[b.cur].Code) != 0 {
		b.fail(errors.New("switch to block %d: block %d is not terminated", blk, b.cur))
	}

	b.cur = blk

	bs := &b.blocks[blk]
	if !bs.switched {
		bs.switched = true
		b.f.Layout = append(b.f.Layout, blk)
	}
}

// SealBlock declares that all predecessors of blk are known.
func (b *Builder) SealBlock(blk ir.Block) {
	bd := b.f.Block(blk)
	if bd.Sealed {
		b.fail(errors.New("block %d: sealed twice", blk))
		return
	}

	bd.Sealed = true

	bs := &b.blocks[blk]

	for _, p := range bs.incomplete {
		x := b.addPhiOperands(p.v, p.phi)

		b.writeVar(p.v, blk, x)
	}

	bs.incomplete = nil

	if tlog.If("seal") {
		tlog.Printw("seal block", "block", blk, "preds", bd.Preds, "from", bs.from)
	}
}

func (b *Builder) SealAllBlocks() {
	for blk := range b.f.Blocks {
		if !b.f.Blocks[blk].Sealed {
			b.SealBlock(ir.Block(blk))
		}
	}
}

func (b *Builder) DeclareVar(tp ir.Type) Var {
	b.vars = append(b.vars, tp)

	return Var(len(b.vars) - 1)
}

func (b *Builder) DefVar(v Var, x ir.Value) {
	if b.cur == ir.NoBlock {
		b.fail(errors.New("define var %d: no current block", v))
		return
	}

	if tp := b.f.EType[x]; tp != b.vars[v] {
		b.fail(errors.New("define var %d: type mismatch: %v, declared %v", v, tp, b.vars[v]))
		return
	}

	b.writeVar(v, b.cur, x)
}

func (b *Builder) UseVar(v Var) ir.Value {
	if b.cur == ir.NoBlock {
		b.fail(errors.New("use var %d: no current block", v))
		return ir.Nil
	}

	return b.readVar(v, b.cur)
}

// Finalize checks that the function is complete and returns it.
func (b *Builder) Finalize() (*ir.Func, error) {
	if b.err != nil {
		return nil, b.err
	}

	for _, blk := range b.f.Layout {
		if !b.f.Blocks[blk].Sealed {
			return nil, errors.New("block %d is not sealed", blk)
		}

		if !b.blocks[blk].filled {
			return nil, errors.New("block %d is not terminated", blk)
		}
	}

	return b.f, nil
}

func (b *Builder) Err() error { return b.err }

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}

	tlog.Printw("builder misuse", "err", err, "from", loc.Callers(2, 3))
}

func (b *Builder) writeVar(v Var, blk ir.Block, x ir.Value) {
	bs := &b.blocks[blk]

	if bs.defs == nil {
		bs.defs = make(map[Var]ir.Value)
	}

	bs.defs[v] = x
}

func (b *Builder) readVar(v Var, blk ir.Block) (x ir.Value) {
	if tlog.If("vars") {
		defer func() {
			tlog.Printw("read var", "var", v, "block", blk, "val", x, "from", loc.Callers(1, 3))
		}()
	}

	if x, ok := b.blocks[blk].defs[v]; ok {
		return b.f.Resolve(x)
	}

	bd := b.f.Block(blk)
	tp := b.vars[v]

	switch {
	case !bd.Sealed:
		x = b.f.Prepend(blk, ir.Phi(nil), tp)

		bs := &b.blocks[blk]
		bs.incomplete = append(bs.incomplete, pending{v: v, phi: x})
	case len(bd.Preds) == 0:
		x = b.zero(blk, tp)
	case len(bd.Preds) == 1:
		x = b.readVar(v, bd.Preds[0])
	default:
		x = b.f.Prepend(blk, ir.Phi(nil), tp)

		b.writeVar(v, blk, x)

		x = b.addPhiOperands(v, x)
	}

	b.writeVar(v, blk, x)

	return x
}

func (b *Builder) addPhiOperands(v Var, phi ir.Value) ir.Value {
	blk := b.f.EBlock[phi]
	preds := b.f.Blocks[blk].Preds

	ops := make(ir.Phi, len(preds))

	for i, p := range preds {
		ops[i] = ir.PhiBranch{
			B:    p,
			Expr: b.readVar(v, p),
		}
	}

	b.f.Exprs[phi] = ops

	return b.removeTrivialPhi(phi)
}

// removeTrivialPhi replaces a phi merging a single value (besides itself)
// with that value.
func (b *Builder) removeTrivialPhi(phi ir.Value) ir.Value {
	same := ir.Nil

	for _, op := range b.f.Exprs[phi].(ir.Phi) {
		x := b.f.Resolve(op.Expr)

		if x == same || x == phi {
			continue
		}

		if same != ir.Nil {
			return phi
		}

		same = x
	}

	if same == ir.Nil {
		same = b.zero(b.f.EBlock[phi], b.f.EType[phi])
	}

	b.f.Remove(phi, same)

	if tlog.If("phi") {
		tlog.Printw("trivial phi removed", "phi", phi, "to", same)
	}

	return same
}

func (b *Builder) zero(blk ir.Block, tp ir.Type) ir.Value {
	code := b.f.Blocks[blk].Code

	i := 0
	for i < len(code) {
		if _, ok := b.f.Exprs[code[i]].(ir.Phi); !ok {
			break
		}

		i++
	}

	id := b.f.Alloc(ir.Iconst{}, tp)
	b.f.EBlock[id] = blk

	code = append(code, 0)
	copy(code[i+1:], code[i:])
	code[i] = id

	b.f.Blocks[blk].Code = code

	return id
}
