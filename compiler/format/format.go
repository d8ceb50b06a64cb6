package format

import (
	"strings"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"

	"github.com/slowlang/brainheck/compiler/asm"
	"github.com/slowlang/brainheck/compiler/ast"
	"github.com/slowlang/brainheck/compiler/ir"
)

// SymNamer names relocation targets in asm listings.
type SymNamer func(asm.Sym) string

// Source prints the program back using only the meaningful characters.
// Lines are wrapped at width if it's positive.
func Source(b []byte, prog []ast.Node, width int) ([]byte, error) {
	st := len(b)

	b, err := source(b, prog)
	if err != nil {
		return nil, err
	}

	if width > 0 {
		text := string(b[st:])
		b = b[:st]

		for len(text) > width {
			b = append(b, text[:width]...)
			b = append(b, '\n')
			text = text[width:]
		}

		b = append(b, text...)
	}

	return append(b, '\n'), nil
}

func source(b []byte, nodes []ast.Node) (_ []byte, err error) {
	for _, n := range nodes {
		switch n.Kind {
		case ast.Loop:
			b = append(b, '[')

			b, err = source(b, n.Body)
			if err != nil {
				return nil, err
			}

			b = append(b, ']')
		default:
			c := n.Kind.Char()
			if c == 0 {
				return nil, errors.New("unsupported node %v at %d", n.Kind, n.Pos)
			}

			b = append(b, c)
		}
	}

	return b, nil
}

// Func prints the function blocks in layout order.
func Func(b []byte, f *ir.Func) (_ []byte, err error) {
	b = app(b, 0, "func %s(", f.Name)

	for i, p := range f.Sig.Params {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = hfmt.Appendf(b, "%v", p)
	}

	b = append(b, ')')

	for i, r := range f.Sig.Returns {
		if i == 0 {
			b = append(b, ' ')
		} else {
			b = append(b, ", "...)
		}

		b = hfmt.Appendf(b, "%v", r)
	}

	b = append(b, " {\n"...)

	for _, blk := range f.Layout {
		b = app(b, 0, "b%d:", blk)

		if preds := f.Blocks[blk].Preds; len(preds) != 0 {
			b = append(b, "  // preds"...)

			for _, p := range preds {
				b = hfmt.Appendf(b, " b%d", p)
			}
		}

		b = append(b, '\n')

		for _, id := range f.Blocks[blk].Code {
			b, err = instr(b, f, id)
			if err != nil {
				return nil, errors.Wrap(err, "block %d", blk)
			}
		}
	}

	b = append(b, "}\n"...)

	return b, nil
}

func instr(b []byte, f *ir.Func, id ir.Value) ([]byte, error) {
	v := func(x ir.Value) string {
		return "v" + itoa(int(f.Resolve(x)))
	}

	if tp := f.EType[id]; tp != ir.Void {
		b = app(b, 1, "v%d %v = ", id, tp)
	} else {
		b = app(b, 1, "")
	}

	switch x := f.Exprs[id].(type) {
	case ir.Iconst:
		b = hfmt.Appendf(b, "iconst %d", x.Imm)
	case ir.Iadd:
		b = hfmt.Appendf(b, "iadd %s, %s", v(x.L), v(x.R))
	case ir.Isub:
		b = hfmt.Appendf(b, "isub %s, %s", v(x.L), v(x.R))
	case ir.IaddImm:
		b = hfmt.Appendf(b, "iadd_imm %s, %d", v(x.X), x.Imm)
	case ir.IcmpImm:
		b = hfmt.Appendf(b, "icmp_imm %s %s, %d", x.Cond, v(x.X), x.Imm)
	case ir.Uextend:
		b = hfmt.Appendf(b, "uextend %s", v(x.X))
	case ir.Ireduce:
		b = hfmt.Appendf(b, "ireduce %s", v(x.X))
	case ir.Load:
		b = hfmt.Appendf(b, "load [%s%+d]", v(x.Ptr), x.Off)
	case ir.Store:
		b = hfmt.Appendf(b, "store [%s%+d], %s", v(x.Ptr), x.Off, v(x.X))
	case ir.GlobalValue:
		b = hfmt.Appendf(b, "global_value %s", dataName(f.DataRefs[x.Data]))
	case ir.Call:
		b = hfmt.Appendf(b, "call %s(", f.FuncRefs[x.Func].Name)

		for i, a := range x.Args {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = append(b, v(a)...)
		}

		b = append(b, ')')
	case ir.Phi:
		b = append(b, "phi"...)

		for i, br := range x {
			if i != 0 {
				b = append(b, ',')
			}

			b = hfmt.Appendf(b, " [b%d: %s]", br.B, v(br.Expr))
		}
	case ir.Jump:
		b = hfmt.Appendf(b, "jump b%d", x.Block)
	case ir.Brnz:
		b = hfmt.Appendf(b, "brnz %s, b%d, b%d", v(x.X), x.Then, x.Else)
	case ir.Return:
		b = append(b, "return"...)

		for i, r := range x.Values {
			if i == 0 {
				b = append(b, ' ')
			} else {
				b = append(b, ", "...)
			}

			b = append(b, v(r)...)
		}
	default:
		return nil, errors.New("unsupported instruction %T", x)
	}

	return append(b, '\n'), nil
}

// Asm prints machine instructions in Intel syntax.
// sym may be nil.
func Asm(b []byte, f *asm.Func, sym SymNamer) ([]byte, error) {
	if sym == nil {
		sym = defaultSym
	}

	b = app(b, 0, "%s:\n", f.Name)

	for i, x := range f.Body {
		if l, ok := x.(asm.Bind); ok {
			b = app(b, 0, ".L%d:\n", l.Label)
			continue
		}

		b = append(b, '\t')

		switch x := x.(type) {
		case asm.MovRR:
			b = hfmt.Appendf(b, "mov %v, %v", x.Dst, x.Src)
		case asm.MovRI:
			b = hfmt.Appendf(b, "mov %v, %d", x.Dst, x.Imm)
		case asm.Load:
			op := "mov"
			if x.Size < 4 {
				op = "movzx"
			}

			b = hfmt.Appendf(b, "%s %s, %s %s", op, reg(x.Dst, max(x.Size, 4)), ptrSize(x.Size), mem(x.Mem))
		case asm.Store:
			b = hfmt.Appendf(b, "mov %s %s, %s", ptrSize(x.Size), mem(x.Mem), reg(x.Src, x.Size))
		case asm.Lea:
			b = hfmt.Appendf(b, "lea %v, %s", x.Dst, mem(x.Mem))
		case asm.LeaSym:
			b = hfmt.Appendf(b, "lea %v, [rip + %s%+d]", x.Dst, sym(x.Sym), x.Addend)
		case asm.AddRR:
			b = hfmt.Appendf(b, "add %v, %v", x.Dst, x.Src)
		case asm.SubRR:
			b = hfmt.Appendf(b, "sub %v, %v", x.Dst, x.Src)
		case asm.AddRI:
			b = hfmt.Appendf(b, "add %v, %d", x.Dst, x.Imm)
		case asm.CmpRI:
			b = hfmt.Appendf(b, "cmp %s, %d", reg(x.Reg, x.Size), x.Imm)
		case asm.TestRR:
			b = hfmt.Appendf(b, "test %s, %s", reg(x.A, x.Size), reg(x.B, x.Size))
		case asm.Setcc:
			b = hfmt.Appendf(b, "set%v %s", x.Cond, reg(x.Dst, 1))
		case asm.Movzx:
			src := reg(x.Src, x.From)

			if x.From == 4 {
				b = hfmt.Appendf(b, "mov %s, %s", reg(x.Dst, 4), src)
			} else {
				b = hfmt.Appendf(b, "movzx %v, %s", x.Dst, src)
			}
		case asm.Call:
			b = hfmt.Appendf(b, "call %s", sym(x.Sym))
		case asm.Jmp:
			b = hfmt.Appendf(b, "jmp .L%d", x.Label)
		case asm.Jcc:
			b = hfmt.Appendf(b, "j%v .L%d", x.Cond, x.Label)
		case asm.Push:
			b = hfmt.Appendf(b, "push %v", x.Reg)
		case asm.Pop:
			b = hfmt.Appendf(b, "pop %v", x.Reg)
		case asm.Ret:
			b = append(b, "ret"...)
		default:
			return nil, errors.New("instruction %d: unsupported %T", i, x)
		}

		b = append(b, '\n')
	}

	return b, nil
}

func mem(m asm.Mem) string {
	if m.Disp == 0 {
		return "[" + m.Base.String() + "]"
	}

	if m.Disp < 0 {
		return "[" + m.Base.String() + " - " + itoa(-int(m.Disp)) + "]"
	}

	return "[" + m.Base.String() + " + " + itoa(int(m.Disp)) + "]"
}

func ptrSize(size int) string {
	switch size {
	case 1:
		return "byte ptr"
	case 2:
		return "word ptr"
	case 4:
		return "dword ptr"
	}

	return "qword ptr"
}

var (
	regs8  = [...]string{"al", "cl", "dl", "bl", "spl", "bpl", "sil", "dil"}
	regs32 = [...]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}
)

// reg returns the name of the low size bytes of r.
func reg(r asm.Reg, size int) string {
	if r < 0 || r > asm.R15 {
		return r.String()
	}

	switch size {
	case 1:
		if r >= asm.R8 {
			return r.String() + "b"
		}

		return regs8[r]
	case 4:
		if r >= asm.R8 {
			return r.String() + "d"
		}

		return regs32[r]
	}

	return r.String()
}

func defaultSym(s asm.Sym) string {
	if s.Kind == asm.SymFunc {
		return "func" + itoa(s.ID)
	}

	return "data" + itoa(s.ID)
}

func dataName(d ir.ExtData) string {
	if d.Name != "" {
		return d.Name
	}

	return "anon." + itoa(int(d.ID))
}

func itoa(x int) string {
	return string(hfmt.Appendf(nil, "%d", x))
}

func app(b []byte, d int, f string, args ...any) []byte {
	b = append(b, strings.Repeat("\t", d)...)
	b = hfmt.Appendf(b, f, args...)
	return b
}
