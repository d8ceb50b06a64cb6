package amd64

import (
	"context"
	"math"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/brainheck/compiler/asm"
	"github.com/slowlang/brainheck/compiler/ir"
)

type (
	lowerer struct {
		f  *ir.Func
		fr *frame
		a  *asm.Func

		labels []asm.Label
		next   ir.Block
	}

	move struct {
		dst, src place
	}
)

// System V integer argument registers.
var argRegs = []asm.Reg{asm.RDI, asm.RSI, asm.RDX, asm.RCX, asm.R8, asm.R9}

// lower selects instructions for f.
// Every instruction loads its operands into scratch registers rax and rcx,
// computes into rax and stores the result to its place.
func lower(ctx context.Context, f *ir.Func) (_ *asm.Func, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "amd64: lower", "name", f.Name)
	defer tr.Finish("err", &err)

	if len(f.Layout) == 0 {
		return nil, errors.New("empty function")
	}

	n := number(f)
	in, out := liveness(f)

	if tr.If("dump_live") {
		for _, b := range f.Layout {
			tr.Printw("liveness", "block", b, "in", in[b], "out", out[b])
		}
	}

	ivs := intervals(f, n, in, out)
	fr := allocate(ctx, f, ivs)

	tr.V("regalloc").Printw("frame", "slots", fr.slots, "saved", fr.saved)

	l := &lowerer{
		f:  f,
		fr: fr,
		a:  &asm.Func{Name: f.Name},

		labels: make([]asm.Label, len(f.Blocks)),
	}

	for b := range l.labels {
		l.labels[b] = -1
	}

	for _, b := range f.Layout {
		l.labels[b] = l.a.NewLabel()
	}

	for _, b := range f.Layout {
		for _, s := range f.Succs(b) {
			if l.labels[s] < 0 {
				return nil, errors.New("block %d: branch to block %d out of layout", b, s)
			}
		}
	}

	l.prologue()

	for i, b := range f.Layout {
		l.next = ir.NoBlock
		if i+1 < len(f.Layout) {
			l.next = f.Layout[i+1]
		}

		l.a.Add(asm.Bind{Label: l.labels[b]})

		for _, id := range f.Blocks[b].Code {
			err = l.instr(b, id)
			if err != nil {
				return nil, errors.Wrap(err, "block %d: value %d", b, id)
			}
		}
	}

	return l.a, nil
}

func (l *lowerer) prologue() {
	l.a.Add(
		asm.Push{Reg: asm.RBP},
		asm.MovRR{Dst: asm.RBP, Src: asm.RSP},
	)

	for _, r := range l.fr.saved {
		l.a.Add(asm.Push{Reg: r})
	}

	if s := l.fr.size(); s != 0 {
		l.a.Add(asm.AddRI{Dst: asm.RSP, Imm: int32(-s)})
	}
}

func (l *lowerer) epilogue() {
	if len(l.fr.saved) != 0 || l.fr.size() != 0 {
		l.a.Add(asm.Lea{Dst: asm.RSP, Mem: asm.Mem{Base: asm.RBP, Disp: int32(-8 * len(l.fr.saved))}})
	}

	for i := len(l.fr.saved) - 1; i >= 0; i-- {
		l.a.Add(asm.Pop{Reg: l.fr.saved[i]})
	}

	l.a.Add(
		asm.Pop{Reg: asm.RBP},
		asm.Ret{},
	)
}

func (l *lowerer) instr(b ir.Block, id ir.Value) error {
	f := l.f

	switch x := f.Exprs[id].(type) {
	case ir.Phi:
		// materialized by edge moves
	case ir.Iconst:
		l.a.Add(asm.MovRI{Dst: asm.RAX, Imm: x.Imm})
		l.store(id, asm.RAX)
	case ir.Iadd:
		l.load(asm.RAX, x.L)
		l.load(asm.RCX, x.R)
		l.a.Add(asm.AddRR{Dst: asm.RAX, Src: asm.RCX})
		l.store(id, asm.RAX)
	case ir.Isub:
		l.load(asm.RAX, x.L)
		l.load(asm.RCX, x.R)
		l.a.Add(asm.SubRR{Dst: asm.RAX, Src: asm.RCX})
		l.store(id, asm.RAX)
	case ir.IaddImm:
		l.load(asm.RAX, x.X)

		if x.Imm >= math.MinInt32 && x.Imm <= math.MaxInt32 {
			l.a.Add(asm.AddRI{Dst: asm.RAX, Imm: int32(x.Imm)})
		} else {
			l.a.Add(
				asm.MovRI{Dst: asm.RCX, Imm: x.Imm},
				asm.AddRR{Dst: asm.RAX, Src: asm.RCX},
			)
		}

		l.store(id, asm.RAX)
	case ir.IcmpImm:
		cc, err := cond(x.Cond)
		if err != nil {
			return err
		}

		tp := l.typeOf(x.X)

		imm := tp.Wrap(x.Imm)
		if imm < math.MinInt32 || imm > math.MaxInt32 {
			return errors.New("icmp imm out of range: %d", x.Imm)
		}

		l.load(asm.RAX, x.X)
		l.a.Add(
			asm.CmpRI{Reg: asm.RAX, Imm: int32(imm), Size: tp.Bytes()},
			asm.Setcc{Cond: cc, Dst: asm.RAX},
			asm.Movzx{Dst: asm.RAX, Src: asm.RAX, From: 1},
		)
		l.store(id, asm.RAX)
	case ir.Uextend:
		l.load(asm.RAX, x.X)
		l.a.Add(asm.Movzx{Dst: asm.RAX, Src: asm.RAX, From: l.typeOf(x.X).Bytes()})
		l.store(id, asm.RAX)
	case ir.Ireduce:
		// upper bits of narrow values are ignored by their users
		l.load(asm.RAX, x.X)
		l.store(id, asm.RAX)
	case ir.Load:
		l.load(asm.RAX, x.Ptr)
		l.a.Add(asm.Load{Dst: asm.RAX, Mem: asm.Mem{Base: asm.RAX, Disp: x.Off}, Size: f.EType[id].Bytes()})
		l.store(id, asm.RAX)
	case ir.Store:
		l.load(asm.RAX, x.Ptr)
		l.load(asm.RCX, x.X)
		l.a.Add(asm.Store{Mem: asm.Mem{Base: asm.RAX, Disp: x.Off}, Src: asm.RCX, Size: l.typeOf(x.X).Bytes()})
	case ir.GlobalValue:
		l.a.Add(asm.LeaSym{Dst: asm.RAX, Sym: asm.Sym{Kind: asm.SymData, ID: int(f.DataRefs[x.Data].ID)}})
		l.store(id, asm.RAX)
	case ir.Call:
		if len(x.Args) > len(argRegs) {
			return errors.New("call %v: too many args: %d", f.FuncRefs[x.Func].Name, len(x.Args))
		}

		for i, a := range x.Args {
			r := argRegs[i]

			l.load(r, a)

			if tp := l.typeOf(a); tp != ir.I64 {
				l.a.Add(asm.Movzx{Dst: r, Src: r, From: tp.Bytes()})
			}
		}

		l.a.Add(asm.Call{Sym: asm.Sym{Kind: asm.SymFunc, ID: int(f.FuncRefs[x.Func].ID)}})

		if f.EType[id] != ir.Void {
			l.store(id, asm.RAX)
		}
	case ir.Jump:
		l.moves(b, x.Block)
		l.jump(x.Block)
	case ir.Brnz:
		l.load(asm.RAX, x.X)
		l.a.Add(asm.TestRR{A: asm.RAX, B: asm.RAX, Size: l.typeOf(x.X).Bytes()})

		elseMoves := l.edgeMoves(b, x.Else)

		stub := l.labels[x.Else]
		if len(elseMoves) != 0 {
			stub = l.a.NewLabel()
		}

		l.a.Add(asm.Jcc{Cond: asm.CondE, Label: stub})

		l.moves(b, x.Then)

		if len(elseMoves) == 0 {
			l.jump(x.Then)
			break
		}

		l.a.Add(asm.Jmp{Label: l.labels[x.Then]})
		l.a.Add(asm.Bind{Label: stub})
		l.emitMoves(elseMoves)
		l.jump(x.Else)
	case ir.Return:
		switch len(x.Values) {
		case 0:
		case 1:
			l.load(asm.RAX, x.Values[0])
		default:
			return errors.New("multiple return values are not supported")
		}

		l.epilogue()
	default:
		return errors.New("unsupported instruction: %T", x)
	}

	return nil
}

func (l *lowerer) jump(to ir.Block) {
	if to == l.next {
		return
	}

	l.a.Add(asm.Jmp{Label: l.labels[to]})
}

func (l *lowerer) moves(from, to ir.Block) {
	l.emitMoves(l.edgeMoves(from, to))
}

// edgeMoves returns copies from phi operands into phi results of to.
func (l *lowerer) edgeMoves(from, to ir.Block) (ms []move) {
	for _, id := range l.f.Blocks[to].Code {
		phi, ok := l.f.Exprs[id].(ir.Phi)
		if !ok {
			break
		}

		for _, br := range phi {
			if br.B != from {
				continue
			}

			dst := l.fr.place[id]
			src := l.fr.place[l.f.Resolve(br.Expr)]

			if dst != src {
				ms = append(ms, move{dst: dst, src: src})
			}

			break
		}
	}

	return ms
}

// emitMoves performs moves in parallel going through the stack.
func (l *lowerer) emitMoves(ms []move) {
	if len(ms) == 1 {
		l.loadPlace(asm.RAX, ms[0].src)
		l.storePlace(ms[0].dst, asm.RAX)

		return
	}

	for _, m := range ms {
		l.loadPlace(asm.RAX, m.src)
		l.a.Add(asm.Push{Reg: asm.RAX})
	}

	for i := len(ms) - 1; i >= 0; i-- {
		l.a.Add(asm.Pop{Reg: asm.RAX})
		l.storePlace(ms[i].dst, asm.RAX)
	}
}

func (l *lowerer) load(r asm.Reg, v ir.Value) {
	l.loadPlace(r, l.fr.place[l.f.Resolve(v)])
}

func (l *lowerer) store(v ir.Value, r asm.Reg) {
	l.storePlace(l.fr.place[v], r)
}

func (l *lowerer) loadPlace(r asm.Reg, p place) {
	if p.isReg() {
		l.a.Add(asm.MovRR{Dst: r, Src: p.reg})
		return
	}

	l.a.Add(asm.Load{Dst: r, Mem: l.fr.slotMem(p.slot), Size: 8})
}

func (l *lowerer) storePlace(p place, r asm.Reg) {
	if p.isReg() {
		l.a.Add(asm.MovRR{Dst: p.reg, Src: r})
		return
	}

	l.a.Add(asm.Store{Mem: l.fr.slotMem(p.slot), Src: r, Size: 8})
}

func (l *lowerer) typeOf(v ir.Value) ir.Type {
	return l.f.EType[l.f.Resolve(v)]
}

func cond(c ir.Cond) (asm.Cond, error) {
	switch c {
	case ir.Eq:
		return asm.CondE, nil
	case ir.Ne:
		return asm.CondNE, nil
	}

	return 0, errors.New("unsupported condition: %v", c)
}
