package back

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tlog.app/go/errors"

	"github.com/slowlang/brainheck/compiler/ir"
)

func TestDeclareFunc(t *testing.T) {
	var d Decls

	putchar := ir.Signature{Params: []ir.Type{ir.I8}}

	id, err := d.DeclareFunc("putchar", Import, putchar)
	require.NoError(t, err)

	again, err := d.DeclareFunc("putchar", Import, putchar)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	_, err = d.DeclareFunc("putchar", Import, ir.Signature{Returns: []ir.Type{ir.I8}})
	var ie IncompatibleDeclarationError
	assert.True(t, errors.As(err, &ie), "err: %v", err)

	_, err = d.DeclareData("putchar", Local, true)
	assert.True(t, errors.As(err, &ie), "err: %v", err)

	assert.Equal(t, ir.ExtFunc{ID: id, Name: "putchar", Sig: putchar}, d.ExtFunc(id))
}

func TestLinkageMerge(t *testing.T) {
	var d Decls

	sig := ir.Signature{Returns: []ir.Type{ir.I32}}

	id, err := d.DeclareFunc("main", Import, sig)
	require.NoError(t, err)

	_, err = d.DeclareFunc("main", Export, sig)
	require.NoError(t, err)
	assert.Equal(t, Export, d.Funcs[id].Linkage)

	_, err = d.DeclareFunc("main", Local, sig)
	assert.Error(t, err)
}

func TestDefine(t *testing.T) {
	var d Decls

	main, err := d.DeclareFunc("main", Export, ir.Signature{Returns: []ir.Type{ir.I32}})
	require.NoError(t, err)

	getchar, err := d.DeclareFunc("getchar", Import, ir.Signature{Returns: []ir.Type{ir.I8}})
	require.NoError(t, err)

	tape, err := d.DeclareData("data", Local, true)
	require.NoError(t, err)

	anon, err := d.DeclareAnonymousData(true)
	require.NoError(t, err)
	assert.NotEqual(t, tape, anon)

	var ue UndefinedError
	assert.True(t, errors.As(d.Check(), &ue))

	require.NoError(t, d.DefineFunc(main))
	require.NoError(t, d.DefineData(tape))
	require.NoError(t, d.DefineData(anon))

	assert.NoError(t, d.Check())

	var de DuplicateDefinitionError
	assert.True(t, errors.As(d.DefineFunc(main), &de))
	assert.True(t, errors.As(d.DefineData(anon), &de))
	assert.Equal(t, "anon.1", de.Name)

	var di DefineImportError
	assert.True(t, errors.As(d.DefineFunc(getchar), &di))

	assert.Error(t, d.DefineFunc(10))
}
