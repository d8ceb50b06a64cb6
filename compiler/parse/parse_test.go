package parse

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tlog.app/go/errors"

	"github.com/slowlang/brainheck/compiler/ast"
)

var (
	inc  = ast.Leaf(ast.IncData)
	dec  = ast.Leaf(ast.DecData)
	next = ast.Leaf(ast.IncPtr)
	prev = ast.Leaf(ast.DecPtr)
	out  = ast.Leaf(ast.Output)
	in   = ast.Leaf(ast.Input)
	loop = ast.NewLoop
)

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		name string
		text string
		exp  []ast.Node
	}{
		{"empty", "", nil},
		{"comments_only", "hello world\n", nil},
		{"leaves", "+-><.,", []ast.Node{inc, dec, next, prev, out, in}},
		{"comments_between", "+ a - b\n>", []ast.Node{inc, dec, next}},
		{"loop", "[-]", []ast.Node{loop(dec)}},
		{"empty_loop", "[]", []ast.Node{loop()}},
		{"nested", "+[>[-]<]", []ast.Node{inc, loop(next, loop(dec), prev)}},
		{"siblings", "[+][-]", []ast.Node{loop(inc), loop(dec)}},
		{"stray_close", "+]-", []ast.Node{inc, dec}},
		{"stray_close_after_loop", "[+]]-", []ast.Node{loop(inc), dec}},
		{"unclosed", "+[->", []ast.Node{inc, loop(dec, next)}},
		{"unclosed_nested", "[[+", []ast.Node{loop(loop(inc))}},
		{"unclosed_inner", "[+[-]", []ast.Node{loop(inc, loop(dec))}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			prog, err := Parse(context.Background(), []byte(tc.text))
			require.NoError(t, err)

			assert.True(t, ast.Equal(tc.exp, prog), "exp %v\ngot %v", tc.exp, prog)
		})
	}
}

func TestParsePositions(t *testing.T) {
	prog, err := Parse(context.Background(), []byte("x+ [.]"))
	require.NoError(t, err)
	require.Len(t, prog, 2)

	assert.Equal(t, 1, prog[0].Pos)
	assert.Equal(t, 3, prog[1].Pos)
	assert.Equal(t, 4, prog[1].Body[0].Pos)
}

func TestParseStrict(t *testing.T) {
	for _, tc := range []struct {
		text string
		err  UnmatchedError
	}{
		{"+]", UnmatchedError{Pos: 1, Char: ']'}},
		{"[+", UnmatchedError{Pos: 0, Char: '['}},
		{"[[+]", UnmatchedError{Pos: 0, Char: '['}},
		{"[+]  [", UnmatchedError{Pos: 5, Char: '['}},
	} {
		s := New("strict.b", []byte(tc.text))
		s.Strict = true

		_, err := s.Parse(context.Background())
		require.Error(t, err, "text %q", tc.text)

		var ue UnmatchedError
		require.True(t, errors.As(err, &ue), "text %q: %v", tc.text, err)
		assert.Equal(t, tc.err, ue, "text %q", tc.text)
	}

	s := New("ok.b", []byte("+[-[>]<]"))
	s.Strict = true

	prog, err := s.Parse(context.Background())
	require.NoError(t, err)
	assert.Len(t, prog, 2)
}

func TestParseDeepNesting(t *testing.T) {
	const depth = 100000

	text := make([]byte, 0, 2*depth+1)

	for i := 0; i < depth; i++ {
		text = append(text, '[')
	}

	text = append(text, '+')

	for i := 0; i < depth; i++ {
		text = append(text, ']')
	}

	prog, err := Parse(context.Background(), text)
	require.NoError(t, err)

	d := 0
	for x := prog; len(x) != 0; x = x[0].Body {
		if x[0].Kind != ast.Loop {
			break
		}

		d++
	}

	assert.Equal(t, depth, d)
}

func TestParseFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "prog.b")

	err := os.WriteFile(name, []byte("++[>+<-]"), 0o644)
	require.NoError(t, err)

	prog, err := ParseFile(context.Background(), name)
	require.NoError(t, err)
	assert.True(t, ast.Equal([]ast.Node{inc, inc, loop(next, inc, prev, dec)}, prog))

	_, err = ParseFile(context.Background(), filepath.Join(t.TempDir(), "missing.b"))
	assert.Error(t, err)
}
