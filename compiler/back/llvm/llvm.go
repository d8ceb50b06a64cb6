package llvm

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/brainheck/compiler/back"
	bir "github.com/slowlang/brainheck/compiler/ir"
)

type (
	// Module collects definitions and prints them as textual LLVM IR on Finish.
	Module struct {
		back.Decls

		name   string
		triple string

		funcs map[bir.FuncID]*bir.Func
		data  map[bir.DataID]*bir.DataDesc
	}

	// unit is one Finish run.
	unit struct {
		m *ir.Module

		funcs []*ir.Func
		data  []*ir.Global
	}

	// fn translates one function body.
	fn struct {
		*unit

		f *bir.Func

		vals   []value.Value
		blocks []*ir.Block
	}
)

var _ back.Module = &Module{}

func New(name string) *Module {
	return &Module{
		name:   name,
		triple: HostTriple(runtime.GOOS, runtime.GOARCH),
		funcs:  map[bir.FuncID]*bir.Func{},
		data:   map[bir.DataID]*bir.DataDesc{},
	}
}

// HostTriple returns the target triple for a Go host.
// Unknown parts are left to the LLVM defaults.
func HostTriple(goos, goarch string) string {
	arch := map[string]string{
		"amd64":   "x86_64",
		"arm64":   "aarch64",
		"riscv64": "riscv64",
	}[goarch]

	if arch == "" {
		return ""
	}

	switch goos {
	case "linux":
		return arch + "-unknown-linux-gnu"
	case "darwin":
		if arch == "aarch64" {
			arch = "arm64"
		}

		return arch + "-apple-macosx"
	case "freebsd":
		return arch + "-unknown-freebsd"
	}

	return ""
}

func (m *Module) Name() string { return m.name }

func (m *Module) PointerType() bir.Type { return bir.I64 }

func (m *Module) CallConv() bir.CallConv { return bir.SystemV }

func (m *Module) DefineFunc(ctx context.Context, id bir.FuncID, f *bir.Func) error {
	if id >= 0 && int(id) < len(m.Funcs) && !m.Funcs[id].Sig.Equal(f.Sig) {
		return back.IncompatibleDeclarationError{Name: m.Funcs[id].Name, Reason: "definition signature mismatch"}
	}

	if len(f.Sig.Returns) > 1 {
		return errors.New("%v: multiple return values", f.Name)
	}

	err := m.Decls.DefineFunc(id)
	if err != nil {
		return err
	}

	m.funcs[id] = f

	return nil
}

func (m *Module) DefineData(id bir.DataID, d *bir.DataDesc) error {
	err := m.Decls.DefineData(id)
	if err != nil {
		return err
	}

	if len(d.Init) > d.Size {
		return errors.New("data %v: init is larger than size", m.Data[id].DisplayName(id))
	}

	rs := append([]bir.DataReloc{}, d.Relocs...)
	sort.Slice(rs, func(i, j int) bool { return rs[i].Off < rs[j].Off })

	end := 0

	for _, r := range rs {
		if r.Off < end || r.Off+8 > d.Size {
			return errors.New("data %v: reloc at %d out of bounds or overlapping", m.Data[id].DisplayName(id), r.Off)
		}

		end = r.Off + 8
	}

	m.data[id] = &bir.DataDesc{Size: d.Size, Init: d.Init, Align: d.Align, Relocs: rs}

	return nil
}

// Finish prints the module as textual LLVM IR.
func (m *Module) Finish(ctx context.Context) (_ []byte, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "llvm: finish", "name", m.name, "triple", m.triple)
	defer tr.Finish("err", &err)

	err = m.Check()
	if err != nil {
		return nil, err
	}

	u := &unit{m: ir.NewModule()}

	u.m.SourceFilename = m.name
	u.m.TargetTriple = m.triple

	for id, decl := range m.Data {
		g := u.m.NewGlobal(decl.DisplayName(bir.DataID(id)), types.I8)
		g.Immutable = !decl.Writable

		if decl.Linkage == back.Local {
			g.Linkage = enum.LinkageInternal
		}

		u.data = append(u.data, g)
	}

	for id, d := range m.data {
		g := u.data[id]

		c, err := u.dataInit(d)
		if err != nil {
			return nil, errors.Wrap(err, "data %v", g.Name())
		}

		g.ContentType = c.Type()
		g.Typ = types.NewPointer(g.ContentType)
		g.Init = c

		if d.Align > 1 {
			g.Align = ir.Align(d.Align)
		}
	}

	for _, decl := range m.Funcs {
		f, err := u.declare(decl)
		if err != nil {
			return nil, errors.Wrap(err, "declare %v", decl.Name)
		}

		u.funcs = append(u.funcs, f)
	}

	for id := range m.Funcs {
		f, ok := m.funcs[bir.FuncID(id)]
		if !ok {
			continue
		}

		err = u.define(ctx, u.funcs[id], f)
		if err != nil {
			return nil, errors.Wrap(err, "define %v", f.Name)
		}
	}

	tr.Printw("module", "funcs", len(u.funcs), "globals", len(u.data))

	return []byte(u.m.String()), nil
}

func (u *unit) declare(decl back.FuncDecl) (*ir.Func, error) {
	ret, err := retType(decl.Sig)
	if err != nil {
		return nil, err
	}

	var params []*ir.Param

	for _, p := range decl.Sig.Params {
		t, err := llType(p)
		if err != nil {
			return nil, err
		}

		param := ir.NewParam("", t)

		if p == bir.I8 {
			param.Attrs = append(param.Attrs, enum.ParamAttrZeroExt)
		}

		params = append(params, param)
	}

	f := u.m.NewFunc(decl.Name, ret, params...)

	if decl.Linkage == back.Local {
		f.Linkage = enum.LinkageInternal
	}

	return f, nil
}

// dataInit builds the initializer of d.
// Relocated words become pointer to integer casts of the referenced global.
func (u *unit) dataInit(d *bir.DataDesc) (constant.Constant, error) {
	if len(d.Relocs) == 0 {
		if d.IsZero() {
			return constant.NewZeroInitializer(types.NewArray(uint64(d.Size), types.I8)), nil
		}

		return constant.NewCharArray(d.Bytes()), nil
	}

	b := d.Bytes()

	var (
		fields []types.Type
		vals   []constant.Constant
	)

	bytes := func(p []byte) {
		if len(p) == 0 {
			return
		}

		c := constant.NewCharArray(p)

		fields = append(fields, c.Type())
		vals = append(vals, c)
	}

	off := 0

	for _, r := range d.Relocs {
		if int(r.Data) < 0 || int(r.Data) >= len(u.data) {
			return nil, errors.New("reloc to unknown data %d", r.Data)
		}

		bytes(b[off:r.Off])

		var ptr constant.Constant = constant.NewBitCast(u.data[r.Data], types.I8Ptr)
		ptr = constant.NewGetElementPtr(types.I8, ptr, constant.NewInt(types.I64, r.Addend))

		fields = append(fields, types.I64)
		vals = append(vals, constant.NewPtrToInt(ptr, types.I64))

		off = r.Off + 8
	}

	bytes(b[off:])

	st := types.NewStruct(fields...)
	st.Packed = true

	return constant.NewStruct(st, vals...), nil
}

func (u *unit) define(ctx context.Context, lf *ir.Func, f *bir.Func) (err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "llvm: define func", "name", f.Name, "blocks", len(f.Layout))
	defer tr.Finish("err", &err)

	s := &fn{
		unit:   u,
		f:      f,
		vals:   make([]value.Value, len(f.Exprs)),
		blocks: make([]*ir.Block, len(f.Blocks)),
	}

	for _, b := range f.Layout {
		s.blocks[b] = lf.NewBlock(fmt.Sprintf("b%d", b))
	}

	var phis []bir.Value

	for _, b := range f.Layout {
		blk := s.blocks[b]

		for _, id := range f.Blocks[b].Code {
			if _, ok := f.Exprs[id].(bir.Phi); ok {
				phis = append(phis, id)
			}

			err = s.instr(blk, id)
			if err != nil {
				return errors.Wrap(err, "block %d: value %d", b, id)
			}
		}
	}

	for _, id := range phis {
		err = s.phiIncoming(id)
		if err != nil {
			return errors.Wrap(err, "phi %d", id)
		}
	}

	if tr.If("dump_ll") {
		tr.Printw("function", "ll", lf.LLString())
	}

	return nil
}

func (s *fn) instr(blk *ir.Block, id bir.Value) (err error) {
	f := s.f
	tp := f.EType[id]

	var v value.Value

	switch x := f.Exprs[id].(type) {
	case bir.Iconst:
		t, err := intType(tp)
		if err != nil {
			return err
		}

		v = constant.NewInt(t, x.Imm)
	case bir.Iadd:
		l, r, err := s.args2(x.L, x.R)
		if err != nil {
			return err
		}

		v = blk.NewAdd(l, r)
	case bir.Isub:
		l, r, err := s.args2(x.L, x.R)
		if err != nil {
			return err
		}

		v = blk.NewSub(l, r)
	case bir.IaddImm:
		a, err := s.arg(x.X)
		if err != nil {
			return err
		}

		t, err := intType(tp)
		if err != nil {
			return err
		}

		v = blk.NewAdd(a, constant.NewInt(t, x.Imm))
	case bir.IcmpImm:
		a, err := s.arg(x.X)
		if err != nil {
			return err
		}

		at, err := intType(f.EType[f.Resolve(x.X)])
		if err != nil {
			return err
		}

		pred := enum.IPredEQ
		if x.Cond == bir.Ne {
			pred = enum.IPredNE
		}

		c := blk.NewICmp(pred, a, constant.NewInt(at, x.Imm))
		v = blk.NewZExt(c, types.I8)
	case bir.Uextend, bir.Ireduce:
		a, err := s.arg(bir.Args(x)[0])
		if err != nil {
			return err
		}

		t, err := llType(tp)
		if err != nil {
			return err
		}

		if _, ok := x.(bir.Uextend); ok {
			v = blk.NewZExt(a, t)
		} else {
			v = blk.NewTrunc(a, t)
		}
	case bir.Load:
		t, err := llType(tp)
		if err != nil {
			return err
		}

		p, err := s.addr(blk, x.Ptr, x.Off, t)
		if err != nil {
			return err
		}

		v = blk.NewLoad(t, p)
	case bir.Store:
		a, err := s.arg(x.X)
		if err != nil {
			return err
		}

		p, err := s.addr(blk, x.Ptr, x.Off, a.Type())
		if err != nil {
			return err
		}

		blk.NewStore(a, p)
	case bir.GlobalValue:
		ref := f.DataRefs[x.Data]

		v = blk.NewPtrToInt(s.data[ref.ID], types.I64)
	case bir.Call:
		ref := f.FuncRefs[x.Func]

		args := make([]value.Value, len(x.Args))

		for i, a := range x.Args {
			args[i], err = s.arg(a)
			if err != nil {
				return err
			}
		}

		call := blk.NewCall(s.funcs[ref.ID], args...)

		if tp != bir.Void {
			v = call
		}
	case bir.Phi:
		t, err := llType(tp)
		if err != nil {
			return err
		}

		if len(f.Blocks[f.EBlock[id]].Preds) == 0 {
			return errors.New("phi in block without predecessors")
		}

		pred := s.blocks[f.Blocks[f.EBlock[id]].Preds[0]]

		v = blk.NewPhi(ir.NewIncoming(constant.NewUndef(t), pred))
	case bir.Jump:
		blk.NewBr(s.blocks[x.Block])
	case bir.Brnz:
		a, err := s.arg(x.X)
		if err != nil {
			return err
		}

		at, ok := a.Type().(*types.IntType)
		if !ok {
			return errors.New("branch on %v", a.Type())
		}

		c := blk.NewICmp(enum.IPredNE, a, constant.NewInt(at, 0))
		blk.NewCondBr(c, s.blocks[x.Then], s.blocks[x.Else])
	case bir.Return:
		if len(x.Values) == 0 {
			blk.NewRet(nil)
			break
		}

		a, err := s.arg(x.Values[0])
		if err != nil {
			return err
		}

		blk.NewRet(a)
	default:
		return errors.New("unsupported instruction %T", x)
	}

	s.vals[id] = v

	return nil
}

func (s *fn) phiIncoming(id bir.Value) error {
	phi := s.vals[id].(*ir.InstPhi)
	x := s.f.Exprs[id].(bir.Phi)

	incs := make([]*ir.Incoming, len(x))

	for i, br := range x {
		a, err := s.arg(br.Expr)
		if err != nil {
			return err
		}

		incs[i] = ir.NewIncoming(a, s.blocks[br.B])
	}

	phi.Incs = incs

	return nil
}

// addr converts the integer pointer plus offset into a typed pointer.
func (s *fn) addr(blk *ir.Block, ptr bir.Value, off int32, elem types.Type) (value.Value, error) {
	p, err := s.arg(ptr)
	if err != nil {
		return nil, err
	}

	if off != 0 {
		p = blk.NewAdd(p, constant.NewInt(types.I64, int64(off)))
	}

	return blk.NewIntToPtr(p, types.NewPointer(elem)), nil
}

func (s *fn) arg(v bir.Value) (value.Value, error) {
	r := s.f.Resolve(v)
	if r < 0 || int(r) >= len(s.vals) || s.vals[r] == nil {
		return nil, errors.New("use of undefined value %d", v)
	}

	return s.vals[r], nil
}

func (s *fn) args2(l, r bir.Value) (x, y value.Value, err error) {
	x, err = s.arg(l)
	if err != nil {
		return
	}

	y, err = s.arg(r)

	return
}

func retType(sig bir.Signature) (types.Type, error) {
	switch len(sig.Returns) {
	case 0:
		return types.Void, nil
	case 1:
		return llType(sig.Returns[0])
	}

	return nil, errors.New("multiple return values")
}

func llType(t bir.Type) (types.Type, error) {
	it, err := intType(t)
	if err != nil {
		return nil, err
	}

	return it, nil
}

func intType(t bir.Type) (*types.IntType, error) {
	switch t {
	case bir.I8:
		return types.I8, nil
	case bir.I32:
		return types.I32, nil
	case bir.I64:
		return types.I64, nil
	}

	return nil, errors.New("unsupported type %v", t)
}
