package parse

import (
	"context"
	"fmt"
	"os"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/brainheck/compiler/ast"
)

type (
	// State parses one program text into an instruction tree.
	//
	// Unknown characters are comments. By default unbalanced brackets are
	// tolerated: a stray ']' is dropped and a '[' left open at the end of
	// input closes there. Strict turns both into UnmatchedError.
	State struct {
		Strict bool

		b    []byte
		name string
	}

	UnmatchedError struct {
		Pos  int
		Char byte
	}

	// frame is a sequence being built at one nesting depth.
	frame struct {
		pos  int
		body []ast.Node
	}
)

func ParseFile(ctx context.Context, name string) ([]ast.Node, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	s := New(name, data)

	return s.Parse(ctx)
}

func Parse(ctx context.Context, text []byte) ([]ast.Node, error) {
	return New("", text).Parse(ctx)
}

func New(name string, text []byte) *State {
	return &State{
		b:    text,
		name: name,
	}
}

func (s *State) Parse(ctx context.Context) (prog []ast.Node, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "parse", "name", s.name, "size", len(s.b), "strict", s.Strict)
	defer tr.Finish("err", &err)

	stack := []frame{{pos: -1}}

	for i, c := range s.b {
		switch c {
		case '[':
			stack = append(stack, frame{pos: i})
		case ']':
			last := len(stack) - 1

			if last == 0 {
				if s.Strict {
					return nil, UnmatchedError{Pos: i, Char: c}
				}

				tr.V("unmatched").Printw("stray closing bracket dropped", "pos", i)

				continue
			}

			stack = closeFrame(stack)
		default:
			k := ast.KindOf(c)
			if k == 0 {
				continue
			}

			top := &stack[len(stack)-1]
			top.body = append(top.body, ast.Node{Kind: k, Pos: i})
		}
	}

	for len(stack) > 1 {
		open := stack[len(stack)-1].pos

		if s.Strict {
			return nil, UnmatchedError{Pos: open, Char: '['}
		}

		tr.V("unmatched").Printw("unclosed loop truncated at end of input", "pos", open)

		stack = closeFrame(stack)
	}

	prog = stack[0].body

	if tr.If("dump_ast") {
		tr.Printw("parsed", "instructions", len(prog), "ast", prog)
	}

	return prog, nil
}

func closeFrame(stack []frame) []frame {
	last := len(stack) - 1
	f := stack[last]

	stack = stack[:last]

	top := &stack[last-1]
	top.body = append(top.body, ast.Node{Kind: ast.Loop, Body: f.body, Pos: f.pos})

	return stack
}

func (e UnmatchedError) Error() string {
	if e.Char == '[' {
		return fmt.Sprintf("unclosed '[' at offset %d", e.Pos)
	}

	return fmt.Sprintf("unmatched %q at offset %d", e.Char, e.Pos)
}
