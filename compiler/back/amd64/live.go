package amd64

import (
	"sort"

	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/brainheck/compiler/ir"
	"github.com/slowlang/brainheck/compiler/set"
)

type (
	BitsValue = set.Bits[ir.Value]

	// numbering assigns linear positions in layout order.
	// Every block gets a start and an end position around its code.
	numbering struct {
		start []int
		end   []int
		pos   []int
	}

	// interval is the single live range of a value, both ends inclusive.
	interval struct {
		v     ir.Value
		start int
		end   int
	}
)

func number(f *ir.Func) numbering {
	n := numbering{
		start: make([]int, len(f.Blocks)),
		end:   make([]int, len(f.Blocks)),
		pos:   make([]int, len(f.Exprs)),
	}

	p := 0

	for _, b := range f.Layout {
		n.start[b] = p
		p++

		for _, id := range f.Blocks[b].Code {
			n.pos[id] = p
			p++
		}

		n.end[b] = p
		p++
	}

	return n
}

// liveness computes block live-in and live-out sets.
// Phi operands are live out of the corresponding predecessor,
// phi results are defined at the start of their block.
func liveness(f *ir.Func) (in, out []BitsValue) {
	nb := len(f.Blocks)

	use := make([]BitsValue, nb)
	def := make([]BitsValue, nb)
	phiUse := make([]BitsValue, nb)

	for _, b := range f.Layout {
		for _, id := range f.Blocks[b].Code {
			x := f.Exprs[id]

			if phi, ok := x.(ir.Phi); ok {
				for _, br := range phi {
					phiUse[br.B].Set(f.Resolve(br.Expr))
				}

				def[b].Set(id)

				continue
			}

			for _, a := range ir.Args(x) {
				a = f.Resolve(a)

				if !def[b].IsSet(a) {
					use[b].Set(a)
				}
			}

			def[b].Set(id)
		}
	}

	in = make([]BitsValue, nb)
	out = make([]BitsValue, nb)

	for changed := true; changed; {
		changed = false

		for i := len(f.Layout) - 1; i >= 0; i-- {
			b := f.Layout[i]

			o := phiUse[b].Copy()

			for _, s := range f.Succs(b) {
				o.Merge(in[s])
			}

			l := o.Copy()
			l.Substract(def[b])
			l.Merge(use[b])

			if !l.Equal(in[b]) || !o.Equal(out[b]) {
				changed = true
			}

			in[b] = l
			out[b] = o
		}
	}

	return in, out
}

// intervals returns live intervals of all values ordered by start.
func intervals(f *ir.Func, n numbering, in, out []BitsValue) []interval {
	ivs := make([]interval, len(f.Exprs))

	for i := range ivs {
		ivs[i] = interval{v: ir.Value(i), start: -1, end: -1}
	}

	extend := func(v ir.Value, p int) {
		iv := &ivs[v]

		if iv.start < 0 || p < iv.start {
			iv.start = p
		}

		if p > iv.end {
			iv.end = p
		}
	}

	for _, b := range f.Layout {
		in[b].Range(func(v ir.Value) bool {
			extend(v, n.start[b])
			return true
		})

		out[b].Range(func(v ir.Value) bool {
			extend(v, n.end[b])
			return true
		})

		for _, id := range f.Blocks[b].Code {
			x := f.Exprs[id]

			if f.EType[id] != ir.Void {
				extend(id, n.pos[id])
			}

			if phi, ok := x.(ir.Phi); ok {
				for _, br := range phi {
					extend(id, n.end[br.B])
					extend(f.Resolve(br.Expr), n.end[br.B])
				}

				continue
			}

			for _, a := range ir.Args(x) {
				extend(f.Resolve(a), n.pos[id])
			}
		}
	}

	r := ivs[:0]

	for _, iv := range ivs {
		if iv.start >= 0 && f.EType[iv.v] != ir.Void {
			r = append(r, iv)
		}
	}

	sort.SliceStable(r, func(i, j int) bool {
		return r[i].start < r[j].start
	})

	return r
}

func (iv interval) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 3)
	b = e.AppendKeyInt64(b, "v", int64(iv.v))
	b = e.AppendKeyInt64(b, "start", int64(iv.start))
	b = e.AppendKeyInt64(b, "end", int64(iv.end))

	return b
}
