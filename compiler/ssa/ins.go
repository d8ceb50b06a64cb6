package ssa

import (
	"tlog.app/go/errors"

	"github.com/slowlang/brainheck/compiler/ir"
)

func (b *Builder) ImportFunc(x ir.ExtFunc) ir.FuncRef { return b.f.ImportFunc(x) }

func (b *Builder) ImportData(x ir.ExtData) ir.DataRef { return b.f.ImportData(x) }

func (b *Builder) Iconst(tp ir.Type, imm int64) ir.Value {
	return b.ins(ir.Iconst{Imm: tp.Wrap(imm)}, tp)
}

func (b *Builder) Iadd(l, r ir.Value) ir.Value {
	return b.ins(ir.Iadd{L: l, R: r}, b.binType("iadd", l, r))
}

func (b *Builder) Isub(l, r ir.Value) ir.Value {
	return b.ins(ir.Isub{L: l, R: r}, b.binType("isub", l, r))
}

func (b *Builder) IaddImm(x ir.Value, imm int64) ir.Value {
	tp := b.typeOf(x)

	return b.ins(ir.IaddImm{X: x, Imm: tp.Wrap(imm)}, tp)
}

func (b *Builder) IcmpImm(cond ir.Cond, x ir.Value, imm int64) ir.Value {
	return b.ins(ir.IcmpImm{Cond: cond, X: x, Imm: imm}, ir.I8)
}

func (b *Builder) Uextend(tp ir.Type, x ir.Value) ir.Value {
	if from := b.typeOf(x); from.Bits() >= tp.Bits() {
		b.fail(errors.New("uextend %v to %v", from, tp))
	}

	return b.ins(ir.Uextend{X: x}, tp)
}

func (b *Builder) Ireduce(tp ir.Type, x ir.Value) ir.Value {
	if from := b.typeOf(x); from.Bits() <= tp.Bits() {
		b.fail(errors.New("ireduce %v to %v", from, tp))
	}

	return b.ins(ir.Ireduce{X: x}, tp)
}

func (b *Builder) Load(tp ir.Type, ptr ir.Value, off int32) ir.Value {
	return b.ins(ir.Load{Ptr: ptr, Off: off}, tp)
}

func (b *Builder) Store(x, ptr ir.Value, off int32) {
	b.ins(ir.Store{X: x, Ptr: ptr, Off: off}, ir.Void)
}

func (b *Builder) GlobalValue(tp ir.Type, data ir.DataRef) ir.Value {
	return b.ins(ir.GlobalValue{Data: data}, tp)
}

// Call returns the result of the call or ir.Nil for routines returning nothing.
func (b *Builder) Call(fn ir.FuncRef, args ...ir.Value) ir.Value {
	sig := b.f.FuncRefs[fn].Sig

	if len(args) != len(sig.Params) {
		b.fail(errors.New("call %v: %d args, want %d", b.f.FuncRefs[fn].Name, len(args), len(sig.Params)))
	}

	for i, a := range args {
		if i < len(sig.Params) && b.typeOf(a) != sig.Params[i] {
			b.fail(errors.New("call %v: arg %d: %v, want %v", b.f.FuncRefs[fn].Name, i, b.typeOf(a), sig.Params[i]))
		}
	}

	tp := ir.Void

	switch len(sig.Returns) {
	case 0:
	case 1:
		tp = sig.Returns[0]
	default:
		b.fail(errors.New("call %v: multiple returns are not supported", b.f.FuncRefs[fn].Name))
	}

	id := b.ins(ir.Call{Func: fn, Args: args}, tp)
	if tp == ir.Void {
		return ir.Nil
	}

	return id
}

func (b *Builder) Jump(to ir.Block) {
	b.ins(ir.Jump{Block: to}, ir.Void)
	b.branchTo(to)
	b.terminate()
}

// Brnz branches to then if x is not zero and to els otherwise.
func (b *Builder) Brnz(x ir.Value, then, els ir.Block) {
	b.ins(ir.Brnz{X: x, Then: then, Else: els}, ir.Void)
	b.branchTo(then)
	b.branchTo(els)
	b.terminate()
}

func (b *Builder) Return(vals ...ir.Value) {
	sig := b.f.Sig

	if len(vals) != len(sig.Returns) {
		b.fail(errors.New("return: %d values, want %d", len(vals), len(sig.Returns)))
	}

	b.ins(ir.Return{Values: vals}, ir.Void)
	b.terminate()
}

func (b *Builder) ins(x any, tp ir.Type) ir.Value {
	if b.cur == ir.NoBlock {
		b.fail(errors.New("%T: no current block", x))
		return ir.Nil
	}

	if b.blocks[b.cur].filled {
		b.fail(errors.New("%T: block %d is already terminated", x, b.cur))
		return ir.Nil
	}

	return b.f.Append(b.cur, x, tp)
}

func (b *Builder) branchTo(to ir.Block) {
	if b.cur == ir.NoBlock || b.blocks[b.cur].filled {
		return
	}

	bd := b.f.Block(to)
	if bd.Sealed {
		b.fail(errors.New("branch from %d to sealed block %d", b.cur, to))
		return
	}

	bd.Preds = append(bd.Preds, b.cur)
}

func (b *Builder) terminate() {
	if b.cur == ir.NoBlock {
		return
	}

	b.blocks[b.cur].filled = true
}

func (b *Builder) typeOf(x ir.Value) ir.Type {
	if x < 0 || int(x) >= len(b.f.EType) {
		b.fail(errors.New("bad value: %d", x))
		return ir.Void
	}

	return b.f.EType[x]
}

func (b *Builder) binType(op string, l, r ir.Value) ir.Type {
	lt, rt := b.typeOf(l), b.typeOf(r)
	if lt != rt {
		b.fail(errors.New("%s: type mismatch: %v and %v", op, lt, rt))
	}

	return lt
}
