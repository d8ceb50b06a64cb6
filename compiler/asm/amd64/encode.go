package amd64

import (
	"encoding/binary"
	"math"

	"tlog.app/go/errors"

	"github.com/slowlang/brainheck/compiler/asm"
)

type (
	RelocKind uint8

	// Reloc asks the linker to put the address of Sym+Addend
	// at Off in the text, relative to the field for PC32 and PLT32.
	Reloc struct {
		Off    int
		Kind   RelocKind
		Sym    asm.Sym
		Addend int64
	}

	Code struct {
		Text   []byte
		Relocs []Reloc

		// Labels holds the text offset of every bound label.
		Labels []int
	}

	encoder struct {
		b      []byte
		relocs []Reloc
		labels []int
		fixups []fixup
	}

	fixup struct {
		off   int
		label asm.Label
	}
)

const (
	PC32 RelocKind = iota
	PLT32
)

const unbound = -1

func (k RelocKind) String() string {
	switch k {
	case PC32:
		return "pc32"
	case PLT32:
		return "plt32"
	}

	return "reloc?"
}

// Encode assembles f into x86-64 machine code.
// Branches always use 32-bit displacements.
func Encode(f *asm.Func) (*Code, error) {
	e := &encoder{
		labels: make([]int, f.Labels),
	}

	for i := range e.labels {
		e.labels[i] = unbound
	}

	for i, x := range f.Body {
		err := e.encode(x)
		if err != nil {
			return nil, errors.Wrap(err, "instr %d: %T", i, x)
		}
	}

	for _, fx := range e.fixups {
		dst := e.labels[fx.label]
		if dst == unbound {
			return nil, errors.New("label %d is not bound", fx.label)
		}

		rel := dst - (fx.off + 4)

		binary.LittleEndian.PutUint32(e.b[fx.off:], uint32(int32(rel)))
	}

	return &Code{
		Text:   e.b,
		Relocs: e.relocs,
		Labels: e.labels,
	}, nil
}

func (e *encoder) encode(x asm.Instr) error {
	switch x := x.(type) {
	case asm.Bind:
		if int(x.Label) >= len(e.labels) {
			return errors.New("bad label %d", x.Label)
		}

		if e.labels[x.Label] != unbound {
			return errors.New("label %d bound twice", x.Label)
		}

		e.labels[x.Label] = len(e.b)
	case asm.MovRR:
		e.rex(true, x.Src, x.Dst, false)
		e.b = append(e.b, 0x89)
		e.modrmReg(x.Src, x.Dst)
	case asm.MovRI:
		e.movRI(x.Dst, x.Imm)
	case asm.Load:
		switch x.Size {
		case 1, 2:
			e.rex(true, x.Dst, x.Mem.Base, false)
			e.b = append(e.b, 0x0f, 0xb6|byte(x.Size-1))
		case 4:
			e.rex(false, x.Dst, x.Mem.Base, false)
			e.b = append(e.b, 0x8b)
		case 8:
			e.rex(true, x.Dst, x.Mem.Base, false)
			e.b = append(e.b, 0x8b)
		default:
			return errors.New("bad load size: %d", x.Size)
		}

		e.modrmMem(x.Dst, x.Mem)
	case asm.Store:
		switch x.Size {
		case 1:
			e.rex(false, x.Src, x.Mem.Base, true)
			e.b = append(e.b, 0x88)
		case 2:
			e.b = append(e.b, 0x66)
			e.rex(false, x.Src, x.Mem.Base, false)
			e.b = append(e.b, 0x89)
		case 4:
			e.rex(false, x.Src, x.Mem.Base, false)
			e.b = append(e.b, 0x89)
		case 8:
			e.rex(true, x.Src, x.Mem.Base, false)
			e.b = append(e.b, 0x89)
		default:
			return errors.New("bad store size: %d", x.Size)
		}

		e.modrmMem(x.Src, x.Mem)
	case asm.Lea:
		e.rex(true, x.Dst, x.Mem.Base, false)
		e.b = append(e.b, 0x8d)
		e.modrmMem(x.Dst, x.Mem)
	case asm.LeaSym:
		e.rex(true, x.Dst, 0, false)
		e.b = append(e.b, 0x8d, 0<<6|byte(x.Dst&7)<<3|5)
		e.reloc(PC32, x.Sym, int64(x.Addend)-4)
	case asm.AddRR:
		e.rex(true, x.Src, x.Dst, false)
		e.b = append(e.b, 0x01)
		e.modrmReg(x.Src, x.Dst)
	case asm.SubRR:
		e.rex(true, x.Src, x.Dst, false)
		e.b = append(e.b, 0x29)
		e.modrmReg(x.Src, x.Dst)
	case asm.AddRI:
		e.rex(true, 0, x.Dst, false)
		e.aluImm(0, x.Dst, x.Imm)
	case asm.CmpRI:
		switch x.Size {
		case 1:
			if x.Imm < math.MinInt8 || x.Imm > math.MaxUint8 {
				return errors.New("cmp imm8 out of range: %d", x.Imm)
			}

			e.rex(false, 0, x.Reg, true)
			e.b = append(e.b, 0x80)
			e.modrmReg(7, x.Reg)
			e.b = append(e.b, byte(x.Imm))
		case 4, 8:
			e.rex(x.Size == 8, 0, x.Reg, false)
			e.aluImm(7, x.Reg, x.Imm)
		default:
			return errors.New("bad cmp size: %d", x.Size)
		}
	case asm.TestRR:
		switch x.Size {
		case 1:
			e.rex(false, x.B, x.A, true)
			e.b = append(e.b, 0x84)
		case 4, 8:
			e.rex(x.Size == 8, x.B, x.A, false)
			e.b = append(e.b, 0x85)
		default:
			return errors.New("bad test size: %d", x.Size)
		}

		e.modrmReg(x.B, x.A)
	case asm.Setcc:
		e.rex(false, 0, x.Dst, true)
		e.b = append(e.b, 0x0f, 0x90|byte(x.Cond))
		e.modrmReg(0, x.Dst)
	case asm.Movzx:
		switch x.From {
		case 1, 2:
			e.rex(true, x.Dst, x.Src, false)
			e.b = append(e.b, 0x0f, 0xb6|byte(x.From-1))
			e.modrmReg(x.Dst, x.Src)
		case 4:
			e.rex(false, x.Src, x.Dst, false)
			e.b = append(e.b, 0x89)
			e.modrmReg(x.Src, x.Dst)
		default:
			return errors.New("bad movzx size: %d", x.From)
		}
	case asm.Call:
		e.b = append(e.b, 0xe8)
		e.reloc(PLT32, x.Sym, -4)
	case asm.Jmp:
		e.b = append(e.b, 0xe9)
		e.fixup(x.Label)
	case asm.Jcc:
		e.b = append(e.b, 0x0f, 0x80|byte(x.Cond))
		e.fixup(x.Label)
	case asm.Push:
		e.rex(false, 0, x.Reg, false)
		e.b = append(e.b, 0x50|byte(x.Reg&7))
	case asm.Pop:
		e.rex(false, 0, x.Reg, false)
		e.b = append(e.b, 0x58|byte(x.Reg&7))
	case asm.Ret:
		e.b = append(e.b, 0xc3)
	default:
		return errors.New("unsupported instruction: %T", x)
	}

	return nil
}

func (e *encoder) movRI(dst asm.Reg, imm int64) {
	switch {
	case imm >= math.MinInt32 && imm <= math.MaxInt32:
		e.rex(true, 0, dst, false)
		e.b = append(e.b, 0xc7)
		e.modrmReg(0, dst)
		e.b = binary.LittleEndian.AppendUint32(e.b, uint32(int32(imm)))
	case imm >= 0 && imm <= math.MaxUint32:
		e.rex(false, 0, dst, false)
		e.b = append(e.b, 0xb8|byte(dst&7))
		e.b = binary.LittleEndian.AppendUint32(e.b, uint32(imm))
	default:
		e.rex(true, 0, dst, false)
		e.b = append(e.b, 0xb8|byte(dst&7))
		e.b = binary.LittleEndian.AppendUint64(e.b, uint64(imm))
	}
}

// aluImm emits group 1 op /ext with an immediate, REX already written.
func (e *encoder) aluImm(ext byte, rm asm.Reg, imm int32) {
	if imm >= math.MinInt8 && imm <= math.MaxInt8 {
		e.b = append(e.b, 0x83)
		e.modrmReg(asm.Reg(ext), rm)
		e.b = append(e.b, byte(int8(imm)))

		return
	}

	e.b = append(e.b, 0x81)
	e.modrmReg(asm.Reg(ext), rm)
	e.b = binary.LittleEndian.AppendUint32(e.b, uint32(imm))
}

// rex writes a REX prefix if needed.
// byteRegs forces it when a register operand is spl, bpl, sil or dil.
func (e *encoder) rex(w bool, reg, rm asm.Reg, byteRegs bool) {
	var p byte

	if w {
		p |= 0x8
	}

	if reg >= 8 {
		p |= 0x4
	}

	if rm >= 8 {
		p |= 0x1
	}

	if p == 0 && byteRegs && (reg >= 4 && reg < 8 || rm >= 4 && rm < 8) {
		p = 0x40
	}

	if p != 0 {
		e.b = append(e.b, 0x40|p)
	}
}

func (e *encoder) modrmReg(reg, rm asm.Reg) {
	e.b = append(e.b, 3<<6|byte(reg&7)<<3|byte(rm&7))
}

func (e *encoder) modrmMem(reg asm.Reg, m asm.Mem) {
	base := byte(m.Base & 7)

	var mod byte

	switch {
	case m.Disp == 0 && base != 5:
		mod = 0
	case m.Disp >= math.MinInt8 && m.Disp <= math.MaxInt8:
		mod = 1
	default:
		mod = 2
	}

	e.b = append(e.b, mod<<6|byte(reg&7)<<3|base)

	if base == 4 {
		e.b = append(e.b, 0x24)
	}

	switch mod {
	case 1:
		e.b = append(e.b, byte(int8(m.Disp)))
	case 2:
		e.b = binary.LittleEndian.AppendUint32(e.b, uint32(m.Disp))
	}
}

func (e *encoder) reloc(kind RelocKind, sym asm.Sym, addend int64) {
	e.relocs = append(e.relocs, Reloc{
		Off:    len(e.b),
		Kind:   kind,
		Sym:    sym,
		Addend: addend,
	})

	e.b = append(e.b, 0, 0, 0, 0)
}

func (e *encoder) fixup(l asm.Label) {
	e.fixups = append(e.fixups, fixup{off: len(e.b), label: l})

	e.b = append(e.b, 0, 0, 0, 0)
}
