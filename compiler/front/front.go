package front

import (
	"context"
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/brainheck/compiler/ast"
	"github.com/slowlang/brainheck/compiler/back"
	"github.com/slowlang/brainheck/compiler/ir"
	"github.com/slowlang/brainheck/compiler/ssa"
)

type (
	// EOF is what Input stores when the input stream is exhausted.
	EOF uint8

	Options struct {
		TapeSize   int
		EOF        EOF
		NoCoalesce bool
	}

	// Front emits a program into a back end module.
	// It is used once per module.
	Front struct {
		Options

		m back.Module

		f    *ir.Func
		done bool
	}
)

const (
	// KeepEOF stores whatever the input routine returned truncated to a byte,
	// which is 255 for the C EOF.
	KeepEOF EOF = iota
	ZeroOnEOF
	UnchangedOnEOF
)

const DefaultTapeSize = 30000

func New(m back.Module, opts Options) *Front {
	if opts.TapeSize == 0 {
		opts.TapeSize = DefaultTapeSize
	}

	return &Front{
		Options: opts,
		m:       m,
	}
}

// Emit declares the module symbols and defines main from prog.
// The module is left to be finished by the caller.
func (fc *Front) Emit(ctx context.Context, prog []ast.Node) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "front: emit", "module", fc.m.Name(), "nodes", len(prog))
	defer tr.Finish("err", &err)

	if fc.done {
		return errors.New("module is already emitted")
	}

	fc.done = true

	if fc.TapeSize <= 0 {
		return errors.New("bad tape size: %d", fc.TapeSize)
	}

	m := fc.m
	ptrType := m.PointerType()
	cc := m.CallConv()

	mainSig := ir.Signature{CallConv: cc, Returns: []ir.Type{ir.I32}}

	mainID, err := m.DeclareFunc("main", back.Export, mainSig)
	if err != nil {
		return errors.Wrap(err, "declare main")
	}

	tape, err := m.DeclareData("data", back.Local, true)
	if err != nil {
		return errors.Wrap(err, "declare tape")
	}

	td := ir.ZeroInit(fc.TapeSize)
	td.Align = 16

	err = m.DefineData(tape, td)
	if err != nil {
		return errors.Wrap(err, "define tape")
	}

	anon, err := m.DeclareAnonymousData(true)
	if err != nil {
		return errors.Wrap(err, "declare tape pointer")
	}

	pd := &ir.DataDesc{Size: ptrType.Bytes(), Align: ptrType.Bytes()}
	pd.WriteDataAddr(0, tape, 0)

	err = m.DefineData(anon, pd)
	if err != nil {
		return errors.Wrap(err, "define tape pointer")
	}

	putchar, err := m.DeclareFunc("putchar", back.Import, ir.Signature{CallConv: cc, Params: []ir.Type{ir.I8}})
	if err != nil {
		return errors.Wrap(err, "declare putchar")
	}

	getcharRet := ir.I8
	if fc.EOF != KeepEOF {
		getcharRet = ir.I32
	}

	getchar, err := m.DeclareFunc("getchar", back.Import, ir.Signature{CallConv: cc, Returns: []ir.Type{getcharRet}})
	if err != nil {
		return errors.Wrap(err, "declare getchar")
	}

	b := ssa.New(ir.NewFunc("main", mainSig))

	s := &funcState{
		Builder: b,
		ptrType: ptrType,
		putchar: m.ExtFunc(putchar),
		getchar: m.ExtFunc(getchar),
	}

	entry := b.CreateBlock()
	b.SwitchToBlock(entry)
	b.SealBlock(entry)

	s.ptr = b.DeclareVar(ptrType)

	addr := b.GlobalValue(ptrType, b.ImportData(m.ExtData(anon)))
	b.DefVar(s.ptr, b.Load(ptrType, addr, 0))

	err = fc.compileSeq(ctx, s, prog)
	if err != nil {
		return errors.Wrap(err, "compile")
	}

	b.Return(b.Iconst(ir.I32, 0))
	b.SealAllBlocks()

	f, err := b.Finalize()
	if err != nil {
		return errors.Wrap(err, "finalize main")
	}

	if tr.If("dump_ir") {
		for _, blk := range f.Layout {
			tr.Printw("block", "block", blk, "preds", f.Blocks[blk].Preds)

			for _, id := range f.Blocks[blk].Code {
				tr.Printw("code", "id", id, "tp", f.EType[id], "typ", tlog.NextAsType, f.Exprs[id], "val", f.Exprs[id])
			}
		}
	}

	fc.f = f

	err = m.DefineFunc(ctx, mainID, f)
	if err != nil {
		return errors.Wrap(err, "define main")
	}

	return nil
}

// Func returns the emitted main function.
func (fc *Front) Func() *ir.Func { return fc.f }

func (e EOF) String() string {
	switch e {
	case KeepEOF:
		return "keep255"
	case ZeroOnEOF:
		return "zero"
	case UnchangedOnEOF:
		return "unchanged"
	}

	return fmt.Sprintf("EOF(%d)", int(e))
}

func ParseEOF(s string) (EOF, error) {
	for _, e := range []EOF{KeepEOF, ZeroOnEOF, UnchangedOnEOF} {
		if e.String() == s {
			return e, nil
		}
	}

	return 0, errors.New("unknown eof policy: %q", s)
}
