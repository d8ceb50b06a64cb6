package back

import (
	"context"
	"fmt"

	"github.com/slowlang/brainheck/compiler/ir"
)

type (
	Linkage uint8

	// Module collects declared and defined functions and data
	// and serializes them when finished.
	Module interface {
		Name() string

		PointerType() ir.Type
		CallConv() ir.CallConv

		DeclareFunc(name string, l Linkage, sig ir.Signature) (ir.FuncID, error)
		DeclareData(name string, l Linkage, writable bool) (ir.DataID, error)
		DeclareAnonymousData(writable bool) (ir.DataID, error)

		// ExtFunc and ExtData describe declared symbols
		// for referencing them from a function body.
		ExtFunc(id ir.FuncID) ir.ExtFunc
		ExtData(id ir.DataID) ir.ExtData

		DefineFunc(ctx context.Context, id ir.FuncID, f *ir.Func) error
		DefineData(id ir.DataID, d *ir.DataDesc) error

		Finish(ctx context.Context) ([]byte, error)
	}

	DuplicateDefinitionError struct {
		Name string
	}

	IncompatibleDeclarationError struct {
		Name   string
		Reason string
	}

	UndefinedError struct {
		Name string
	}

	DefineImportError struct {
		Name string
	}
)

const (
	Import Linkage = iota
	Local
	Export
)

func (l Linkage) String() string {
	switch l {
	case Import:
		return "import"
	case Local:
		return "local"
	case Export:
		return "export"
	}

	return fmt.Sprintf("linkage(%d)", int(l))
}

// IsDefinition reports whether the symbol must be defined in the module.
func (l Linkage) IsDefinition() bool { return l != Import }

func (e DuplicateDefinitionError) Error() string {
	return fmt.Sprintf("duplicate definition of %q", e.Name)
}

func (e IncompatibleDeclarationError) Error() string {
	return fmt.Sprintf("incompatible declaration of %q: %s", e.Name, e.Reason)
}

func (e UndefinedError) Error() string {
	return fmt.Sprintf("%q declared but not defined", e.Name)
}

func (e DefineImportError) Error() string {
	return fmt.Sprintf("definition of imported %q", e.Name)
}
