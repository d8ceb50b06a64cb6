package amd64

import (
	"context"

	"nikand.dev/go/heap"
	"tlog.app/go/tlog"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/brainheck/compiler/asm"
	"github.com/slowlang/brainheck/compiler/ir"
)

type (
	// place is where a value lives: a register or a frame slot.
	place struct {
		reg  asm.Reg
		slot int
	}

	frame struct {
		place []place

		slots int
		saved []asm.Reg
	}
)

const noReg asm.Reg = -1

// allocatable registers survive calls, so values never need saving around them.
var allocatable = []asm.Reg{asm.RBX, asm.R12, asm.R13, asm.R14, asm.R15}

// allocate assigns places with linear scan.
// Intervals must be ordered by start. The active set is ordered by end.
func allocate(ctx context.Context, f *ir.Func, ivs []interval) *frame {
	tr := tlog.SpanFromContext(ctx)

	fr := &frame{
		place: make([]place, len(f.Exprs)),
	}

	for i := range fr.place {
		fr.place[i] = place{reg: noReg, slot: -1}
	}

	free := make([]asm.Reg, len(allocatable))
	for i, r := range allocatable {
		free[len(free)-1-i] = r
	}

	var used [16]bool

	active := heap.Heap[interval]{Less: func(d []interval, i, j int) bool {
		return d[i].end < d[j].end
	}}

	for _, iv := range ivs {
		for active.Len() != 0 && active.Data[0].end < iv.start {
			x := active.Pop()

			free = append(free, fr.place[x.v].reg)
		}

		if len(free) == 0 {
			fr.place[iv.v] = place{reg: noReg, slot: fr.slots}
			fr.slots++

			tr.V("regalloc").Printw("spill", "iv", iv, "slot", fr.place[iv.v].slot)

			continue
		}

		r := free[len(free)-1]
		free = free[:len(free)-1]

		fr.place[iv.v] = place{reg: r, slot: -1}
		used[r] = true

		active.Push(iv)

		tr.V("regalloc").Printw("assign", "iv", iv, "reg", r)
	}

	for _, r := range allocatable {
		if used[r] {
			fr.saved = append(fr.saved, r)
		}
	}

	return fr
}

// slotMem addresses frame slot i below the saved registers.
func (fr *frame) slotMem(i int) asm.Mem {
	return asm.Mem{
		Base: asm.RBP,
		Disp: int32(-8*len(fr.saved) - 8*(i+1)),
	}
}

// size is the stack space to reserve after pushing saved registers,
// keeping calls 16 bytes aligned.
func (fr *frame) size() int {
	s := 8 * fr.slots

	if (8*len(fr.saved)+s)%16 != 0 {
		s += 8
	}

	return s
}

func (p place) isReg() bool { return p.reg != noReg }

func (p place) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	if p.isReg() {
		return e.AppendString(b, p.reg.String())
	}

	return e.AppendFormat(b, "slot%d", p.slot)
}
