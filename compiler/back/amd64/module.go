package amd64

import (
	"context"
	"debug/elf"
	"fmt"
	"runtime"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/brainheck/compiler/asm"
	x86 "github.com/slowlang/brainheck/compiler/asm/amd64"
	"github.com/slowlang/brainheck/compiler/back"
	"github.com/slowlang/brainheck/compiler/ir"
	"github.com/slowlang/brainheck/compiler/obj"
)

type (
	// Module compiles functions to x86-64 as they are defined
	// and writes an ELF relocatable object on Finish.
	Module struct {
		back.Decls

		name string

		funcs []defined
		data  map[ir.DataID]*ir.DataDesc
	}

	defined struct {
		id   ir.FuncID
		code *asm.Func
	}

	UnsupportedHostError struct {
		GOOS, GOARCH string
	}
)

const textAlign = 16

var _ back.Module = &Module{}

// New creates a module for the host, which must be linux/amd64.
func New(name string) (*Module, error) {
	err := CheckHost(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return nil, err
	}

	return newModule(name), nil
}

func CheckHost(goos, goarch string) error {
	if goos != "linux" || goarch != "amd64" {
		return UnsupportedHostError{GOOS: goos, GOARCH: goarch}
	}

	return nil
}

func newModule(name string) *Module {
	return &Module{
		name: name,
		data: map[ir.DataID]*ir.DataDesc{},
	}
}

func (m *Module) Name() string { return m.name }

func (m *Module) PointerType() ir.Type { return ir.I64 }

func (m *Module) CallConv() ir.CallConv { return ir.SystemV }

func (m *Module) DefineFunc(ctx context.Context, id ir.FuncID, f *ir.Func) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "amd64: define func", "id", id, "name", f.Name)
	defer tr.Finish("err", &err)

	if id >= 0 && int(id) < len(m.Funcs) && !m.Funcs[id].Sig.Equal(f.Sig) {
		return back.IncompatibleDeclarationError{Name: m.Funcs[id].Name, Reason: "definition signature mismatch"}
	}

	err = m.Decls.DefineFunc(id)
	if err != nil {
		return err
	}

	code, err := lower(ctx, f)
	if err != nil {
		return errors.Wrap(err, "lower %v", f.Name)
	}

	if tr.If("dump_asm") {
		for i, x := range code.Body {
			tr.Printw("asm", "i", i, "typ", tlog.NextAsType, x, "x", x)
		}
	}

	m.funcs = append(m.funcs, defined{id: id, code: code})

	return nil
}

func (m *Module) DefineData(id ir.DataID, d *ir.DataDesc) error {
	err := m.Decls.DefineData(id)
	if err != nil {
		return err
	}

	if len(d.Init) > d.Size {
		return errors.New("data %v: init is larger than size", m.Data[id].DisplayName(id))
	}

	for _, r := range d.Relocs {
		if r.Off < 0 || r.Off+8 > d.Size {
			return errors.New("data %v: reloc at %d out of bounds", m.Data[id].DisplayName(id), r.Off)
		}
	}

	m.data[id] = d

	return nil
}

// Asm returns the machine code of defined functions in definition order.
func (m *Module) Asm() []*asm.Func {
	r := make([]*asm.Func, len(m.funcs))

	for i, f := range m.funcs {
		r[i] = f.code
	}

	return r
}

// Finish encodes all definitions into an ELF object.
func (m *Module) Finish(ctx context.Context) (_ []byte, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "amd64: finish", "name", m.name)
	defer tr.Finish("err", &err)

	err = m.Check()
	if err != nil {
		return nil, err
	}

	var o obj.Object

	funcSym := make([]int, len(m.Funcs))
	dataSym := make([]int, len(m.Data))

	type encoded struct {
		off  int
		code *x86.Code
	}

	enc := make(map[ir.FuncID]encoded, len(m.funcs))

	for _, f := range m.funcs {
		code, err := x86.Encode(f.code)
		if err != nil {
			return nil, errors.Wrap(err, "encode %v", f.code.Name)
		}

		for len(o.Text)%textAlign != 0 {
			o.Text = append(o.Text, 0xcc)
		}

		enc[f.id] = encoded{off: len(o.Text), code: code}

		o.Text = append(o.Text, code.Text...)
	}

	for id, decl := range m.Funcs {
		s := obj.Symbol{
			Name:   decl.Name,
			Global: decl.Linkage != back.Local,
		}

		if e, ok := enc[ir.FuncID(id)]; ok {
			s.Section = obj.Text
			s.Value = uint64(e.off)
			s.Size = uint64(len(e.code.Text))
			s.Func = true
		}

		funcSym[id] = len(o.Symbols)
		o.Symbols = append(o.Symbols, s)
	}

	dataOff := make([]int, len(m.Data))

	for id, decl := range m.Data {
		s := obj.Symbol{
			Name:   decl.Name,
			Global: decl.Linkage != back.Local,
		}

		if d, ok := m.data[ir.DataID(id)]; ok {
			align := d.Align
			if align < 1 {
				align = 1
			}

			if d.IsZero() {
				o.BSS = alignUp(o.BSS, align)

				s.Section = obj.BSS
				s.Value = uint64(o.BSS)

				o.BSS += d.Size
			} else {
				for len(o.Data)%align != 0 {
					o.Data = append(o.Data, 0)
				}

				s.Section = obj.Data
				s.Value = uint64(len(o.Data))

				o.Data = append(o.Data, d.Bytes()...)
			}

			s.Size = uint64(d.Size)

			dataOff[id] = int(s.Value)
		}

		dataSym[id] = len(o.Symbols)
		o.Symbols = append(o.Symbols, s)
	}

	for _, f := range m.funcs {
		e := enc[f.id]

		for _, r := range e.code.Relocs {
			var sym int

			switch r.Sym.Kind {
			case asm.SymFunc:
				sym = funcSym[r.Sym.ID]
			case asm.SymData:
				sym = dataSym[r.Sym.ID]
			default:
				return nil, errors.New("%v: bad reloc symbol: %v", f.code.Name, r.Sym)
			}

			typ := elf.R_X86_64_PC32
			if r.Kind == x86.PLT32 {
				typ = elf.R_X86_64_PLT32
			}

			o.TextRelocs = append(o.TextRelocs, obj.Reloc{
				Off:    uint64(e.off + r.Off),
				Sym:    sym,
				Type:   typ,
				Addend: r.Addend,
			})
		}
	}

	for id := range m.Data {
		d, ok := m.data[ir.DataID(id)]
		if !ok {
			continue
		}

		for _, r := range d.Relocs {
			if int(r.Data) < 0 || int(r.Data) >= len(m.Data) {
				return nil, errors.New("data %v: reloc to unknown data %d", m.Data[id].DisplayName(ir.DataID(id)), r.Data)
			}

			o.DataRelocs = append(o.DataRelocs, obj.Reloc{
				Off:    uint64(dataOff[id] + r.Off),
				Sym:    dataSym[r.Data],
				Type:   elf.R_X86_64_64,
				Addend: r.Addend,
			})
		}
	}

	tr.Printw("object", "text", len(o.Text), "data", len(o.Data), "bss", o.BSS, "symbols", len(o.Symbols))

	return obj.Write(&o)
}

func (e UnsupportedHostError) Error() string {
	return fmt.Sprintf("native back end supports linux/amd64 only, host is %s/%s", e.GOOS, e.GOARCH)
}

func alignUp(x, a int) int {
	return (x + a - 1) / a * a
}
