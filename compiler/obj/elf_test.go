package obj

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite(t *testing.T) {
	o := &Object{
		Text: []byte{0xe8, 0, 0, 0, 0, 0xc3},
		TextRelocs: []Reloc{
			{Off: 1, Sym: 3, Type: elf.R_X86_64_PLT32, Addend: -4},
		},
		Data: make([]byte, 8),
		DataRelocs: []Reloc{
			{Off: 0, Sym: 1, Type: elf.R_X86_64_64},
		},
		BSS: 48,
		Symbols: []Symbol{
			{Name: "main", Section: Text, Size: 6, Func: true, Global: true},
			{Name: "data", Section: BSS, Value: 16, Size: 32},
			{Name: "", Section: Data, Size: 8},
			{Name: "putchar", Global: true},
		},
	}

	b, err := Write(o)
	require.NoError(t, err)

	f, err := elf.NewFile(bytes.NewReader(b))
	require.NoError(t, err)

	assert.Equal(t, elf.ET_REL, f.Type)
	assert.Equal(t, elf.EM_X86_64, f.Machine)
	assert.Equal(t, elf.ELFCLASS64, f.Class)

	text, err := f.Section(".text").Data()
	require.NoError(t, err)
	assert.Equal(t, o.Text, text)

	assert.Equal(t, uint64(48), f.Section(".bss").Size)
	assert.Equal(t, elf.SHT_NOBITS, f.Section(".bss").Type)
	assert.NotNil(t, f.Section(".note.GNU-stack"))

	syms, err := f.Symbols()
	require.NoError(t, err)

	byName := map[string]elf.Symbol{}
	for _, s := range syms {
		if s.Name != "" {
			byName[s.Name] = s
		}
	}

	main := byName["main"]
	assert.Equal(t, elf.STB_GLOBAL, elf.ST_BIND(main.Info))
	assert.Equal(t, elf.STT_FUNC, elf.ST_TYPE(main.Info))
	assert.Equal(t, uint64(6), main.Size)

	data := byName["data"]
	assert.Equal(t, elf.STB_LOCAL, elf.ST_BIND(data.Info))
	assert.Equal(t, elf.STT_OBJECT, elf.ST_TYPE(data.Info))
	assert.Equal(t, ".bss", f.Sections[data.Section].Name)

	putchar := byName["putchar"]
	assert.Equal(t, elf.SHN_UNDEF, putchar.Section)

	// locals precede globals
	symtab := f.Section(".symtab")
	require.NotNil(t, symtab)
	assert.Equal(t, uint32(6), symtab.Info)

	for i, s := range syms {
		global := elf.ST_BIND(s.Info) == elf.STB_GLOBAL
		assert.Equal(t, i+1 >= int(symtab.Info), global, "sym %d %q", i+1, s.Name)
	}

	rt := readRela(t, f, ".rela.text")
	require.Len(t, rt, 1)
	assert.Equal(t, elf.R_X86_64_PLT32, elf.R_X86_64(elf.R_TYPE64(rt[0].Info)))
	assert.Equal(t, "putchar", syms[elf.R_SYM64(rt[0].Info)-1].Name)
	assert.Equal(t, int64(-4), rt[0].Addend)

	rd := readRela(t, f, ".rela.data")
	require.Len(t, rd, 1)
	assert.Equal(t, elf.R_X86_64_64, elf.R_X86_64(elf.R_TYPE64(rd[0].Info)))

	target := syms[elf.R_SYM64(rd[0].Info)-1]
	assert.Equal(t, elf.STT_SECTION, elf.ST_TYPE(target.Info))
	assert.Equal(t, ".bss", f.Sections[target.Section].Name)
	assert.Equal(t, int64(16), rd[0].Addend)
}

func TestWriteErrors(t *testing.T) {
	_, err := Write(&Object{
		Symbols: []Symbol{{Name: "x"}},
	})
	assert.Error(t, err)

	_, err = Write(&Object{
		BSS:     4,
		Symbols: []Symbol{{Name: "x", Section: BSS, Size: 8}},
	})
	assert.Error(t, err)

	_, err = Write(&Object{
		TextRelocs: []Reloc{{Sym: 5}},
	})
	assert.Error(t, err)
}

func readRela(t *testing.T, f *elf.File, name string) []elf.Rela64 {
	t.Helper()

	s := f.Section(name)
	require.NotNil(t, s, name)

	b, err := s.Data()
	require.NoError(t, err)

	r := make([]elf.Rela64, len(b)/24)

	err = binary.Read(bytes.NewReader(b), binary.LittleEndian, r)
	require.NoError(t, err)

	return r
}
