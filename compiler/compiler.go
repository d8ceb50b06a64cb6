package compiler

import (
	"context"
	"os"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/brainheck/compiler/analyze"
	"github.com/slowlang/brainheck/compiler/asm"
	"github.com/slowlang/brainheck/compiler/back"
	"github.com/slowlang/brainheck/compiler/back/amd64"
	"github.com/slowlang/brainheck/compiler/back/llvm"
	"github.com/slowlang/brainheck/compiler/format"
	"github.com/slowlang/brainheck/compiler/front"
	"github.com/slowlang/brainheck/compiler/ir"
	"github.com/slowlang/brainheck/compiler/parse"
)

type (
	Options struct {
		Backend string
		Emit    string

		Strict     bool
		EOF        front.EOF
		TapeSize   int
		NoCoalesce bool
	}

	Result struct {
		Output []byte
		Stats  analyze.Stats
	}
)

const (
	Native = "native"
	LLVM   = "llvm"
)

const (
	EmitObj = "obj"
	EmitLL  = "ll"
	EmitIR  = "ir"
	EmitAsm = "asm"
	EmitAST = "ast"
)

const sourceWidth = 80

func CompileFile(ctx context.Context, name string, opts Options) (*Result, error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(text), "name", name)

	return Compile(ctx, name, text, opts)
}

func Compile(ctx context.Context, name string, text []byte, opts Options) (res *Result, err error) {
	opts, err = opts.normalize()
	if err != nil {
		return nil, err
	}

	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile", "name", name, "backend", opts.Backend, "emit", opts.Emit)
	defer tr.Finish("err", &err)

	st := parse.New(name, text)
	st.Strict = opts.Strict

	prog, err := st.Parse(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "parse")
	}

	res = &Result{}

	res.Stats, err = analyze.Analyze(ctx, prog)
	if err != nil {
		return nil, errors.Wrap(err, "analyze")
	}

	if opts.Emit == EmitAST {
		res.Output, err = format.Source(nil, prog, sourceWidth)
		if err != nil {
			return nil, errors.Wrap(err, "format source")
		}

		return res, nil
	}

	m, err := newModule(opts.Backend, name)
	if err != nil {
		return nil, errors.Wrap(err, "%v back end", opts.Backend)
	}

	fc := front.New(m, front.Options{
		TapeSize:   opts.TapeSize,
		EOF:        opts.EOF,
		NoCoalesce: opts.NoCoalesce,
	})

	err = fc.Emit(ctx, prog)
	if err != nil {
		return nil, errors.Wrap(err, "emit")
	}

	switch opts.Emit {
	case EmitIR:
		res.Output, err = format.Func(nil, fc.Func())
	case EmitAsm:
		res.Output, err = listAsm(m.(*amd64.Module))
	default:
		res.Output, err = m.Finish(ctx)
	}

	if err != nil {
		return nil, errors.Wrap(err, "%v", opts.Emit)
	}

	return res, nil
}

func (o Options) normalize() (Options, error) {
	if o.Backend == "" {
		o.Backend = Native
	}

	switch o.Backend {
	case Native, LLVM:
	default:
		return o, errors.New("unknown back end: %q", o.Backend)
	}

	if o.Emit == "" {
		o.Emit = EmitObj

		if o.Backend == LLVM {
			o.Emit = EmitLL
		}
	}

	switch {
	case o.Emit == EmitIR || o.Emit == EmitAST:
	case o.Emit == EmitObj && o.Backend == Native:
	case o.Emit == EmitAsm && o.Backend == Native:
	case o.Emit == EmitLL && o.Backend == LLVM:
	default:
		return o, errors.New("%v back end can't emit %q", o.Backend, o.Emit)
	}

	if o.TapeSize < 0 {
		return o, errors.New("bad tape size: %d", o.TapeSize)
	}

	return o, nil
}

func newModule(backend, name string) (back.Module, error) {
	switch backend {
	case LLVM:
		return llvm.New(name), nil
	default:
		return amd64.New(name)
	}
}

func listAsm(m *amd64.Module) (b []byte, err error) {
	sym := func(s asm.Sym) string {
		if s.Kind == asm.SymFunc {
			return m.Funcs[s.ID].Name
		}

		return m.Data[s.ID].DisplayName(ir.DataID(s.ID))
	}

	for i, f := range m.Asm() {
		if i != 0 {
			b = append(b, '\n')
		}

		b, err = format.Asm(b, f, sym)
		if err != nil {
			return nil, errors.Wrap(err, "%v", f.Name)
		}
	}

	return b, nil
}
