package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"

	"github.com/slowlang/brainheck/compiler/analyze"
)

func TestArity(t *testing.T) {
	dir := t.TempDir()

	for _, args := range [][]string{
		nil,
		{"in.bf"},
		{"in.bf", filepath.Join(dir, "out.o"), "extra"},
	} {
		err := compileAct(&cli.Command{Args: args})

		var ue UsageError
		require.True(t, errors.As(err, &ue), "args %q: %v", args, err)
		assert.Equal(t, len(args), ue.Args)
	}

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestRun(t *testing.T) {
	dir := t.TempDir()

	in := filepath.Join(dir, "prog.bf")
	out := filepath.Join(dir, "prog.txt")

	require.NoError(t, os.WriteFile(in, []byte("read me: ,[.,]\n"), 0o644))

	err := cli.Run(newApp(), []string{"brainheck", "--emit=ast", in, out}, nil)
	require.NoError(t, err)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, ",[.,]\n", string(b))

	err = cli.Run(newApp(), []string{"brainheck", "--emit=ast", in + ".missing", out + ".2"}, nil)
	assert.Error(t, err)

	_, err = os.Stat(out + ".2")
	assert.True(t, os.IsNotExist(err))

	err = cli.Run(newApp(), []string{"brainheck", "--eof=sometimes", in, out + ".3"}, nil)
	assert.Error(t, err)
}

func TestWriteOutput(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "x.o")

	require.NoError(t, os.WriteFile(name, []byte("old"), 0o644))
	require.NoError(t, writeOutput(name, []byte("new")))

	b, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "new", string(b))

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 1)

	err = writeOutput(filepath.Join(dir, "missing", "x.o"), []byte("x"))
	assert.Error(t, err)
}

func TestAppendStats(t *testing.T) {
	st := analyze.Stats{Loops: 2, MaxDepth: 1, Runs: 3, Ops: 4}
	st.Count[1] = 5

	assert.Equal(t, "a.bf: 5 instructions, 2 loops, max depth 1, 3 runs, 4 ops after coalescing\n", string(appendStats(nil, "a.bf", st)))
}
