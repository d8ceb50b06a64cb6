package analyze

import (
	"context"
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/brainheck/compiler/ast"
)

type (
	// Stats describes a program tree.
	Stats struct {
		// Count is the number of instructions per kind.
		Count [ast.Loop + 1]int

		Loops    int
		MaxDepth int

		// Runs is the number of maximal runs of the same coalescible kind.
		// Ops is the number of instructions left after merging them.
		Runs int
		Ops  int
	}

	UnsupportedNodeError struct {
		Kind ast.Kind
		Pos  int
	}
)

func Analyze(ctx context.Context, prog []ast.Node) (st Stats, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "analyze", "nodes", len(prog))
	defer tr.Finish("err", &err)

	err = st.seq(prog, 0)
	if err != nil {
		return Stats{}, err
	}

	tr.V("stats").Printw("stats", "stats", st)

	return st, nil
}

func (st *Stats) seq(nodes []ast.Node, d int) error {
	if d > st.MaxDepth {
		st.MaxDepth = d
	}

	var prev ast.Kind

	for _, n := range nodes {
		switch n.Kind {
		case ast.IncData, ast.DecData, ast.IncPtr, ast.DecPtr, ast.Output, ast.Input:
		case ast.Loop:
			st.Loops++

			err := st.seq(n.Body, d+1)
			if err != nil {
				return errors.Wrap(err, "loop at %d", n.Pos)
			}
		default:
			return UnsupportedNodeError{Kind: n.Kind, Pos: n.Pos}
		}

		st.Count[n.Kind]++

		if !n.Kind.Coalescible() || n.Kind != prev {
			st.Ops++
		}

		if n.Kind.Coalescible() && n.Kind != prev {
			st.Runs++
		}

		prev = n.Kind
	}

	return nil
}

// Total is the number of instructions in the tree.
func (st Stats) Total() (n int) {
	for _, c := range st.Count {
		n += c
	}

	return n
}

func (st Stats) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, int(ast.Loop)+4)

	for k := ast.IncData; k <= ast.Loop; k++ {
		b = e.AppendKeyInt64(b, k.String(), int64(st.Count[k]))
	}

	b = e.AppendKeyInt64(b, "loops", int64(st.Loops))
	b = e.AppendKeyInt64(b, "max_depth", int64(st.MaxDepth))
	b = e.AppendKeyInt64(b, "runs", int64(st.Runs))
	b = e.AppendKeyInt64(b, "ops", int64(st.Ops))

	return b
}

func (e UnsupportedNodeError) Error() string {
	return fmt.Sprintf("unsupported node %v at %d", e.Kind, e.Pos)
}
