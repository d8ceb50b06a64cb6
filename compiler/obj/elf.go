package obj

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"tlog.app/go/errors"
)

type (
	Section uint8

	// Object is a relocatable x86-64 object file.
	Object struct {
		Text       []byte
		TextRelocs []Reloc

		Data       []byte
		DataRelocs []Reloc

		BSS int

		Symbols []Symbol
	}

	Symbol struct {
		Name    string
		Section Section
		Value   uint64
		Size    uint64
		Func    bool
		Global  bool
	}

	// Reloc refers to Object.Symbols by index.
	Reloc struct {
		Off    uint64
		Sym    int
		Type   elf.R_X86_64
		Addend int64
	}

	writer struct {
		bytes.Buffer

		shstr strtab
		str   strtab

		symidx []uint32
	}

	strtab struct {
		b   []byte
		off map[string]uint32
	}
)

const (
	Undef Section = iota
	Text
	Data
	BSS
)

// Section header indexes in the written file.
const (
	shText = 1 + iota
	shRelaText
	shData
	shRelaData
	shBSS
	shNote
	shSymtab
	shStrtab
	shShstrtab
	shNum
)

func (s Section) String() string {
	switch s {
	case Undef:
		return "undef"
	case Text:
		return ".text"
	case Data:
		return ".data"
	case BSS:
		return ".bss"
	}

	return "section?"
}

func (s Section) index() elf.SectionIndex {
	switch s {
	case Text:
		return shText
	case Data:
		return shData
	case BSS:
		return shBSS
	}

	return elf.SHN_UNDEF
}

// Write encodes o as an ELF64 little-endian relocatable object.
func Write(o *Object) ([]byte, error) {
	err := o.check()
	if err != nil {
		return nil, err
	}

	w := &writer{}

	w.shstr.add("")
	w.str.add("")

	symtab := w.symtab(o)

	relaText, err := w.relocs(o, o.TextRelocs)
	if err != nil {
		return nil, errors.Wrap(err, ".rela.text")
	}

	relaData, err := w.relocs(o, o.DataRelocs)
	if err != nil {
		return nil, errors.Wrap(err, ".rela.data")
	}

	firstGlobal := uint32(len(symtab) / 24)
	for i, s := range o.Symbols {
		if s.Global && w.symidx[i] < firstGlobal {
			firstGlobal = w.symidx[i]
		}
	}

	var shdr [shNum]elf.Section64

	w.Write(make([]byte, 64))

	w.section(&shdr[shText], ".text", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR, 16, 0, o.Text)
	w.section(&shdr[shRelaText], ".rela.text", elf.SHT_RELA, elf.SHF_INFO_LINK, 8, 24, relaText)
	w.section(&shdr[shData], ".data", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_WRITE, 8, 0, o.Data)
	w.section(&shdr[shRelaData], ".rela.data", elf.SHT_RELA, elf.SHF_INFO_LINK, 8, 24, relaData)
	w.section(&shdr[shBSS], ".bss", elf.SHT_NOBITS, elf.SHF_ALLOC|elf.SHF_WRITE, 16, 0, nil)
	w.section(&shdr[shNote], ".note.GNU-stack", elf.SHT_PROGBITS, 0, 1, 0, nil)
	w.section(&shdr[shSymtab], ".symtab", elf.SHT_SYMTAB, 0, 8, 24, symtab)
	w.section(&shdr[shStrtab], ".strtab", elf.SHT_STRTAB, 0, 1, 0, w.str.b)

	name := w.shstr.add(".shstrtab")
	w.section(&shdr[shShstrtab], "", elf.SHT_STRTAB, 0, 1, 0, w.shstr.b)
	shdr[shShstrtab].Name = name

	shdr[shBSS].Size = uint64(o.BSS)

	shdr[shRelaText].Link = shSymtab
	shdr[shRelaText].Info = shText
	shdr[shRelaData].Link = shSymtab
	shdr[shRelaData].Info = shData

	shdr[shSymtab].Link = shStrtab
	shdr[shSymtab].Info = firstGlobal

	w.align(8)
	shoff := w.Len()

	for _, sh := range shdr {
		_ = binary.Write(w, binary.LittleEndian, sh)
	}

	h := elf.Header64{
		Type:      uint16(elf.ET_REL),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     uint64(shoff),
		Ehsize:    64,
		Shentsize: 64,
		Shnum:     shNum,
		Shstrndx:  shShstrtab,
	}

	copy(h.Ident[:], elf.ELFMAG)
	h.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	h.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	h.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	h.Ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	var hb bytes.Buffer
	_ = binary.Write(&hb, binary.LittleEndian, h)

	b := w.Bytes()
	copy(b, hb.Bytes())

	return b, nil
}

func (o *Object) check() error {
	for i, s := range o.Symbols {
		var size int

		switch s.Section {
		case Undef:
			if !s.Global {
				return errors.New("symbol %d %q: undefined local", i, s.Name)
			}

			continue
		case Text:
			size = len(o.Text)
		case Data:
			size = len(o.Data)
		case BSS:
			size = o.BSS
		default:
			return errors.New("symbol %d %q: bad section %d", i, s.Name, s.Section)
		}

		if s.Value+s.Size > uint64(size) {
			return errors.New("symbol %d %q: out of %v bounds", i, s.Name, s.Section)
		}
	}

	return nil
}

// symtab emits section symbols, then locals, then globals.
func (w *writer) symtab(o *Object) []byte {
	var buf bytes.Buffer

	add := func(s elf.Sym64) uint32 {
		idx := uint32(buf.Len() / 24)

		_ = binary.Write(&buf, binary.LittleEndian, s)

		return idx
	}

	add(elf.Sym64{})

	for _, sh := range []elf.SectionIndex{shText, shData, shBSS} {
		add(elf.Sym64{
			Info:  elf.ST_INFO(elf.STB_LOCAL, elf.STT_SECTION),
			Shndx: uint16(sh),
		})
	}

	w.symidx = make([]uint32, len(o.Symbols))

	for _, global := range []bool{false, true} {
		for i, s := range o.Symbols {
			if s.Global != global {
				continue
			}

			bind := elf.STB_LOCAL
			if s.Global {
				bind = elf.STB_GLOBAL
			}

			typ := elf.STT_NOTYPE
			switch {
			case s.Func:
				typ = elf.STT_FUNC
			case s.Section != Undef:
				typ = elf.STT_OBJECT
			}

			var name uint32
			if s.Name != "" {
				name = w.str.add(s.Name)
			}

			w.symidx[i] = add(elf.Sym64{
				Name:  name,
				Info:  elf.ST_INFO(bind, typ),
				Shndx: uint16(s.Section.index()),
				Value: s.Value,
				Size:  s.Size,
			})
		}
	}

	return buf.Bytes()
}

// relocs encodes RELA entries.
// Defined locals are referenced through their section symbol.
func (w *writer) relocs(o *Object, rs []Reloc) ([]byte, error) {
	var buf bytes.Buffer

	for _, r := range rs {
		if r.Sym < 0 || r.Sym >= len(o.Symbols) {
			return nil, errors.New("reloc at %#x: bad symbol %d", r.Off, r.Sym)
		}

		s := o.Symbols[r.Sym]
		idx := w.symidx[r.Sym]
		add := r.Addend

		if !s.Global && s.Section != Undef {
			idx = sectionSym(s.Section)
			add += int64(s.Value)
		}

		_ = binary.Write(&buf, binary.LittleEndian, elf.Rela64{
			Off:    r.Off,
			Info:   elf.R_INFO(idx, uint32(r.Type)),
			Addend: add,
		})
	}

	return buf.Bytes(), nil
}

func sectionSym(s Section) uint32 {
	return uint32(s)
}

func (w *writer) section(sh *elf.Section64, name string, typ elf.SectionType, flags elf.SectionFlag, align, entsize uint64, data []byte) {
	w.align(int(align))

	if name != "" {
		sh.Name = w.shstr.add(name)
	}

	sh.Type = uint32(typ)
	sh.Flags = uint64(flags)
	sh.Off = uint64(w.Len())
	sh.Size = uint64(len(data))
	sh.Addralign = align
	sh.Entsize = entsize

	w.Write(data)
}

func (w *writer) align(n int) {
	for w.Len()%n != 0 {
		w.WriteByte(0)
	}
}

func (t *strtab) add(s string) uint32 {
	if off, ok := t.off[s]; ok {
		return off
	}

	if t.off == nil {
		t.off = map[string]uint32{}
	}

	off := uint32(len(t.b))

	t.b = append(t.b, s...)
	t.b = append(t.b, 0)

	t.off[s] = off

	return off
}
