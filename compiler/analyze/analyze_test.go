package analyze

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/brainheck/compiler/ast"
	"github.com/slowlang/brainheck/compiler/parse"
)

func TestAnalyze(t *testing.T) {
	for _, tc := range []struct {
		Src string

		Total, Loops, Depth, Runs, Ops int
	}{
		{Src: ""},
		{Src: "+++", Total: 3, Runs: 1, Ops: 1},
		{Src: "+-+", Total: 3, Runs: 3, Ops: 3},
		{Src: "..,,", Total: 4, Ops: 4},
		{Src: ">>+[-]<<", Total: 7, Loops: 1, Depth: 1, Runs: 4, Ops: 5},
		{Src: "++[>+++[>+<-]<-]>>.", Total: 17, Loops: 2, Depth: 2, Runs: 10, Ops: 13},
		{Src: "[[[]]]", Total: 3, Loops: 3, Depth: 3, Ops: 3},
	} {
		prog, err := parse.Parse(context.Background(), []byte(tc.Src))
		require.NoError(t, err)

		st, err := Analyze(context.Background(), prog)
		require.NoError(t, err)

		assert.Equal(t, tc.Total, st.Total(), "%q", tc.Src)
		assert.Equal(t, tc.Loops, st.Loops, "%q", tc.Src)
		assert.Equal(t, tc.Depth, st.MaxDepth, "%q", tc.Src)
		assert.Equal(t, tc.Runs, st.Runs, "%q", tc.Src)
		assert.Equal(t, tc.Ops, st.Ops, "%q", tc.Src)
	}
}

func TestAnalyzeCounts(t *testing.T) {
	prog, err := parse.Parse(context.Background(), []byte("+-><.,[]+"))
	require.NoError(t, err)

	st, err := Analyze(context.Background(), prog)
	require.NoError(t, err)

	assert.Equal(t, 2, st.Count[ast.IncData])
	assert.Equal(t, 1, st.Count[ast.Loop])
	assert.Equal(t, 1, st.Count[ast.Input])
}

func TestAnalyzeUnsupported(t *testing.T) {
	_, err := Analyze(context.Background(), []ast.Node{ast.NewLoop(ast.Node{Kind: 42, Pos: 7})})

	var ue UnsupportedNodeError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, 7, ue.Pos)
}
