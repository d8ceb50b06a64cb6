package back

import (
	"fmt"

	"tlog.app/go/errors"

	"github.com/slowlang/brainheck/compiler/ir"
)

type (
	// Decls is the symbol table shared by Module implementations.
	Decls struct {
		Funcs []FuncDecl
		Data  []DataDecl

		names map[string]symbol
	}

	FuncDecl struct {
		Name    string
		Linkage Linkage
		Sig     ir.Signature

		Defined bool
	}

	DataDecl struct {
		Name     string
		Linkage  Linkage
		Writable bool

		Defined bool
	}

	symbol struct {
		data bool
		id   int
	}
)

func (d *Decls) DeclareFunc(name string, l Linkage, sig ir.Signature) (ir.FuncID, error) {
	if s, ok := d.names[name]; ok {
		if s.data {
			return -1, IncompatibleDeclarationError{Name: name, Reason: "declared as data"}
		}

		f := &d.Funcs[s.id]

		if !f.Sig.Equal(sig) {
			return -1, IncompatibleDeclarationError{Name: name, Reason: "signature mismatch"}
		}

		ml, err := mergeLinkage(name, f.Linkage, l)
		if err != nil {
			return -1, err
		}

		f.Linkage = ml

		return ir.FuncID(s.id), nil
	}

	d.Funcs = append(d.Funcs, FuncDecl{
		Name:    name,
		Linkage: l,
		Sig:     sig,
	})

	id := len(d.Funcs) - 1
	d.setName(name, symbol{id: id})

	return ir.FuncID(id), nil
}

func (d *Decls) DeclareData(name string, l Linkage, writable bool) (ir.DataID, error) {
	if s, ok := d.names[name]; ok {
		if !s.data {
			return -1, IncompatibleDeclarationError{Name: name, Reason: "declared as function"}
		}

		x := &d.Data[s.id]

		if x.Writable != writable {
			return -1, IncompatibleDeclarationError{Name: name, Reason: "writability mismatch"}
		}

		ml, err := mergeLinkage(name, x.Linkage, l)
		if err != nil {
			return -1, err
		}

		x.Linkage = ml

		return ir.DataID(s.id), nil
	}

	d.Data = append(d.Data, DataDecl{
		Name:     name,
		Linkage:  l,
		Writable: writable,
	})

	id := len(d.Data) - 1
	d.setName(name, symbol{data: true, id: id})

	return ir.DataID(id), nil
}

// DeclareAnonymousData declares local data without a name.
func (d *Decls) DeclareAnonymousData(writable bool) (ir.DataID, error) {
	d.Data = append(d.Data, DataDecl{
		Linkage:  Local,
		Writable: writable,
	})

	return ir.DataID(len(d.Data) - 1), nil
}

func (d *Decls) DefineFunc(id ir.FuncID) error {
	if id < 0 || int(id) >= len(d.Funcs) {
		return errors.New("bad func id: %d", id)
	}

	f := &d.Funcs[id]

	switch {
	case !f.Linkage.IsDefinition():
		return DefineImportError{Name: f.Name}
	case f.Defined:
		return DuplicateDefinitionError{Name: f.Name}
	}

	f.Defined = true

	return nil
}

func (d *Decls) DefineData(id ir.DataID) error {
	if id < 0 || int(id) >= len(d.Data) {
		return errors.New("bad data id: %d", id)
	}

	x := &d.Data[id]

	switch {
	case !x.Linkage.IsDefinition():
		return DefineImportError{Name: x.Name}
	case x.Defined:
		return DuplicateDefinitionError{Name: x.DisplayName(id)}
	}

	x.Defined = true

	return nil
}

// Check verifies every symbol which must be defined in the module is.
func (d *Decls) Check() error {
	for _, f := range d.Funcs {
		if f.Linkage.IsDefinition() && !f.Defined {
			return UndefinedError{Name: f.Name}
		}
	}

	for id, x := range d.Data {
		if x.Linkage.IsDefinition() && !x.Defined {
			return UndefinedError{Name: x.DisplayName(ir.DataID(id))}
		}
	}

	return nil
}

func (d *Decls) ExtFunc(id ir.FuncID) ir.ExtFunc {
	f := d.Funcs[id]

	return ir.ExtFunc{ID: id, Name: f.Name, Sig: f.Sig}
}

func (d *Decls) ExtData(id ir.DataID) ir.ExtData {
	return ir.ExtData{ID: id, Name: d.Data[id].Name}
}

func (x DataDecl) DisplayName(id ir.DataID) string {
	if x.Name != "" {
		return x.Name
	}

	return fmt.Sprintf("anon.%d", id)
}

func (d *Decls) setName(name string, s symbol) {
	if d.names == nil {
		d.names = make(map[string]symbol)
	}

	d.names[name] = s
}

func mergeLinkage(name string, was, now Linkage) (Linkage, error) {
	switch {
	case was == now:
		return was, nil
	case was == Import:
		return now, nil
	case now == Import:
		return was, nil
	}

	return was, IncompatibleDeclarationError{Name: name, Reason: fmt.Sprintf("linkage %v and %v", was, now)}
}
