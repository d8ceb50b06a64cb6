package front

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/brainheck/compiler/ast"
	"github.com/slowlang/brainheck/compiler/ir"
	"github.com/slowlang/brainheck/compiler/ssa"
)

type (
	// funcState is the function being built and the cursor variable in it.
	funcState struct {
		*ssa.Builder

		ptr     ssa.Var
		ptrType ir.Type

		putchar ir.ExtFunc
		getchar ir.ExtFunc

		depth int
	}

	// cursor walks a sequence with one step lookahead.
	cursor struct {
		nodes []ast.Node
		i     int
	}
)

func (fc *Front) compileSeq(ctx context.Context, s *funcState, nodes []ast.Node) (err error) {
	c := &cursor{nodes: nodes}

	for {
		n, ok := c.next()
		if !ok {
			return nil
		}

		err = fc.compileNode(ctx, s, c, n)
		if err != nil {
			return errors.Wrap(err, "%v at %d", n.Kind, n.Pos)
		}
	}
}

func (fc *Front) compileNode(ctx context.Context, s *funcState, c *cursor, n ast.Node) (err error) {
	switch n.Kind {
	case ast.IncData, ast.DecData:
		cnt := 1 + fc.run(c, n.Kind)

		imm := int64(cnt)
		if n.Kind == ast.DecData {
			imm = -imm
		}

		ptr := s.UseVar(s.ptr)
		x := s.Load(ir.I8, ptr, 0)
		x = s.IaddImm(x, imm)
		s.Store(x, ptr, 0)

		tlog.V("coalesce").Printw("data", "kind", n.Kind, "pos", n.Pos, "run", cnt)
	case ast.IncPtr, ast.DecPtr:
		cnt := 1 + fc.run(c, n.Kind)

		imm := int64(cnt)
		if n.Kind == ast.DecPtr {
			imm = -imm
		}

		ptr := s.UseVar(s.ptr)
		s.DefVar(s.ptr, s.IaddImm(ptr, imm))

		tlog.V("coalesce").Printw("ptr", "kind", n.Kind, "pos", n.Pos, "run", cnt)
	case ast.Output:
		ptr := s.UseVar(s.ptr)
		x := s.Load(ir.I8, ptr, 0)

		s.Call(s.ImportFunc(s.putchar), x)
	case ast.Input:
		fc.compileInput(s)
	case ast.Loop:
		err = fc.compileLoop(ctx, s, n)
	default:
		err = errors.New("unsupported node")
	}

	if err != nil {
		return err
	}

	return s.Err()
}

// compileLoop emits header, body and exit blocks.
// Body and exit have their only predecessor once the header branch is emitted,
// the header is complete after the back edge.
func (fc *Front) compileLoop(ctx context.Context, s *funcState, n ast.Node) (err error) {
	header := s.CreateBlock()
	body := s.CreateBlock()
	exit := s.CreateBlock()

	s.Jump(header)

	s.SwitchToBlock(header)

	ptr := s.UseVar(s.ptr)
	x := s.Load(ir.I8, ptr, 0)
	s.Brnz(x, body, exit)

	s.SwitchToBlock(body)
	s.SealBlock(body)

	s.depth++

	err = fc.compileSeq(ctx, s, n.Body)
	if err != nil {
		return err
	}

	s.depth--

	s.Jump(header)
	s.SealBlock(header)

	s.SwitchToBlock(exit)
	s.SealBlock(exit)

	if tlog.If("loop") {
		tlog.Printw("loop", "pos", n.Pos, "depth", s.depth, "header", header, "body", body, "exit", exit, "nodes", len(n.Body))
	}

	return nil
}

func (fc *Front) compileInput(s *funcState) {
	ptr := s.UseVar(s.ptr)
	x := s.Call(s.ImportFunc(s.getchar))

	if fc.EOF == KeepEOF {
		s.Store(x, ptr, 0)
		return
	}

	ok := s.CreateBlock()
	eof := s.CreateBlock()
	cont := s.CreateBlock()

	s.Brnz(s.IcmpImm(ir.Ne, x, -1), ok, eof)

	s.SwitchToBlock(ok)
	s.SealBlock(ok)
	s.Store(s.Ireduce(ir.I8, x), ptr, 0)
	s.Jump(cont)

	s.SwitchToBlock(eof)
	s.SealBlock(eof)

	if fc.EOF == ZeroOnEOF {
		s.Store(s.Iconst(ir.I8, 0), ptr, 0)
	}

	s.Jump(cont)

	s.SwitchToBlock(cont)
	s.SealBlock(cont)
}

// run consumes the following nodes of kind k and returns how many there were.
func (fc *Front) run(c *cursor, k ast.Kind) (n int) {
	if fc.NoCoalesce {
		return 0
	}

	for {
		x, ok := c.peek()
		if !ok || x.Kind != k {
			return n
		}

		c.i++
		n++
	}
}

func (c *cursor) next() (ast.Node, bool) {
	x, ok := c.peek()
	if ok {
		c.i++
	}

	return x, ok
}

func (c *cursor) peek() (ast.Node, bool) {
	if c.i >= len(c.nodes) {
		return ast.Node{}, false
	}

	return c.nodes[c.i], true
}
