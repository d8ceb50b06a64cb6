package compiler

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tlog.app/go/errors"

	"github.com/slowlang/brainheck/compiler/front"
	"github.com/slowlang/brainheck/compiler/parse"
)

const helloWorld = `++++++++[>++++[>++>+++>+++>+<<<<-]>+>+>->>+[<]<-]>>.>---.+++++++..+++.>>.<-.<.+++.------.--------.>>+.>++.`

func TestCompileHelloWorld(t *testing.T) {
	for _, opts := range []Options{{}, {NoCoalesce: true}} {
		out, code := compileAndRun(t, helloWorld, opts, "")

		assert.Equal(t, "Hello World!\n", out)
		assert.Equal(t, 0, code)
	}
}

func TestCompileRuns(t *testing.T) {
	for _, tc := range []struct {
		Name, Src, In, Out string
		Opts              Options
	}{
		{Name: "letter", Src: strings.Repeat("+", 65) + ".", Out: "A"},
		{Name: "wrap", Src: "-.", Out: "\xff"},
		{Name: "wrap_run", Src: strings.Repeat("+", 300) + ".", Out: "\x2c"},
		{Name: "echo", Src: ",[.,]", In: "brainheck", Out: "brainheck", Opts: Options{EOF: front.ZeroOnEOF}},
		{Name: "keep255", Src: ",.", Out: "\xff"},
		{Name: "zero", Src: "+,.", Out: "\x00", Opts: Options{EOF: front.ZeroOnEOF}},
		{Name: "unchanged", Src: "+++,.", Out: "\x03", Opts: Options{EOF: front.UnchangedOnEOF}},
		{Name: "far", Src: strings.Repeat(">", 29999) + "+++[<+>-]<" + strings.Repeat("<", 29998) + "[.[-]]", Out: ""},
		{Name: "unbalanced", Src: "]+.+[-.", Out: "\x01\x01\x00"},
		{Name: "small_tape", Src: ">>+[<+>-]<.", Out: "\x01", Opts: Options{TapeSize: 3}},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			out, code := compileAndRun(t, tc.Src, tc.Opts, tc.In)

			assert.Equal(t, tc.Out, out)
			assert.Equal(t, 0, code)
		})
	}
}

func TestCompileStrict(t *testing.T) {
	_, err := Compile(context.Background(), "strict.bf", []byte("+]"), Options{Strict: true, Emit: EmitAST})

	var ue parse.UnmatchedError
	require.True(t, errors.As(err, &ue), "err: %v", err)
	assert.Equal(t, 1, ue.Pos)

	res, err := Compile(context.Background(), "tolerant.bf", []byte("+]"), Options{Emit: EmitAST})
	require.NoError(t, err)
	assert.Equal(t, "+\n", string(res.Output))
}

func TestCompileListings(t *testing.T) {
	ctx := context.Background()

	res, err := Compile(ctx, "a.bf", []byte("+++[->+<]"), Options{Backend: LLVM, Emit: EmitIR})
	require.NoError(t, err)

	assert.Contains(t, string(res.Output), "func main() i32 {")
	assert.Contains(t, string(res.Output), "iadd_imm")
	assert.Equal(t, 1, res.Stats.Loops)
	assert.Equal(t, 6, res.Stats.Ops)

	res, err = Compile(ctx, "a.bf", []byte("+++[->+<]"), Options{Backend: LLVM})
	require.NoError(t, err)

	assert.Contains(t, string(res.Output), "define i32 @main()")
	assert.Contains(t, string(res.Output), "declare i8 @getchar()")

	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		return
	}

	res, err = Compile(ctx, "a.bf", []byte("+++[->+<]."), Options{Emit: EmitAsm})
	require.NoError(t, err)

	assert.Contains(t, string(res.Output), "main:\n")
	assert.Contains(t, string(res.Output), "call putchar")
	assert.Contains(t, string(res.Output), "[rip + anon.1+0]")
}

func TestCompileOptions(t *testing.T) {
	for _, opts := range []Options{
		{Backend: "jvm"},
		{Backend: LLVM, Emit: EmitObj},
		{Backend: Native, Emit: EmitLL},
		{Emit: "exe"},
		{TapeSize: -1},
	} {
		_, err := Compile(context.Background(), "x.bf", []byte("+"), opts)
		assert.Error(t, err, "%+v", opts)
	}
}

func TestCompileFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "x.bf")
	require.NoError(t, os.WriteFile(name, []byte("comment +[-] done"), 0o644))

	res, err := CompileFile(context.Background(), name, Options{Emit: EmitAST})
	require.NoError(t, err)
	assert.Equal(t, "+[-]\n", string(res.Output))

	_, err = CompileFile(context.Background(), name+".missing", Options{Emit: EmitAST})
	assert.Error(t, err)
}

func compileAndRun(t *testing.T, src string, opts Options, input string) (string, int) {
	t.Helper()

	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skipf("host is %s/%s", runtime.GOOS, runtime.GOARCH)
	}

	cc, err := exec.LookPath("cc")
	if err != nil {
		t.Skip("no C compiler")
	}

	res, err := Compile(context.Background(), "prog.bf", []byte(src), opts)
	require.NoError(t, err)

	dir := t.TempDir()

	o := filepath.Join(dir, "prog.o")
	exe := filepath.Join(dir, "prog")

	require.NoError(t, os.WriteFile(o, res.Output, 0o644))

	ld, err := exec.Command(cc, "-o", exe, o).CombinedOutput()
	require.NoError(t, err, "link: %s", ld)

	var stdout bytes.Buffer

	cmd := exec.Command(exe)
	cmd.Stdin = strings.NewReader(input)
	cmd.Stdout = &stdout

	err = cmd.Run()

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return stdout.String(), ee.ExitCode()
	}

	require.NoError(t, err)

	return stdout.String(), 0
}
