package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/nikandfor/hacked/hfmt"
	"github.com/tebeka/atexit"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
	"tlog.app/go/tlog/ext/tlflag"

	"github.com/slowlang/brainheck/compiler"
	"github.com/slowlang/brainheck/compiler/analyze"
	"github.com/slowlang/brainheck/compiler/front"
)

const usage = "usage: brainheck [flags] <input> <output>"

type UsageError struct {
	Args int
}

func main() {
	err := cli.Run(newApp(), os.Args, os.Environ())
	if err != nil {
		_, _ = os.Stderr.Write(hfmt.Appendf(nil, "error: %v\n", err))

		if errors.As(err, &UsageError{}) {
			_, _ = os.Stderr.Write([]byte(usage + "\n"))
		}

		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:        "brainheck",
		Description: "brainheck compiles an eight symbol tape language into a native relocatable object",
		Before:      before,
		Action:      compileAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("backend", compiler.Native, "back end: native or llvm"),
			cli.NewFlag("emit", "", "output kind: obj, ll, ir, asm or ast (default obj for native, ll for llvm)"),
			cli.NewFlag("strict", false, "reject unbalanced brackets"),
			cli.NewFlag("eof", front.KeepEOF.String(), "input at end of stream: keep255, zero or unchanged"),
			cli.NewFlag("tape", front.DefaultTapeSize, "tape size in cells"),
			cli.NewFlag("no-coalesce", false, "compile every instruction separately"),
			cli.NewFlag("stats", false, "print program statistics to stderr"),
			cli.NewFlag("log", "stderr", "log output file (or stderr)"),
			cli.NewFlag("verbosity,v", "", "logger verbosity topics"),
			cli.HelpFlag,
		},
	}
}

func before(c *cli.Command) error {
	w, err := tlflag.OpenWriter(c.String("log"))
	if err != nil {
		return errors.Wrap(err, "open log file")
	}

	tlog.DefaultLogger = tlog.New(w)

	tlog.SetVerbosity(c.String("verbosity"))

	atexit.Register(func() {
		if c, ok := w.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	})

	return nil
}

func compileAct(c *cli.Command) (err error) {
	if len(c.Args) != 2 {
		return UsageError{Args: len(c.Args)}
	}

	eof, err := front.ParseEOF(c.String("eof"))
	if err != nil {
		return err
	}

	opts := compiler.Options{
		Backend:    c.String("backend"),
		Emit:       c.String("emit"),
		Strict:     c.Bool("strict"),
		EOF:        eof,
		TapeSize:   c.Int("tape"),
		NoCoalesce: c.Bool("no-coalesce"),
	}

	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	in, out := c.Args[0], c.Args[1]

	res, err := compiler.CompileFile(ctx, in, opts)
	if err != nil {
		return errors.Wrap(err, "compile %v", in)
	}

	if c.Bool("stats") {
		_, _ = os.Stderr.Write(appendStats(nil, in, res.Stats))
	}

	err = writeOutput(out, res.Output)
	if err != nil {
		return errors.Wrap(err, "write %v", out)
	}

	return nil
}

// writeOutput replaces name with data.
// The file appears only once it's completely written.
func writeOutput(name string, data []byte) (err error) {
	f, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}

	tmp := f.Name()
	done := false

	cleanup := func() {
		if !done {
			_ = os.Remove(tmp)
		}
	}

	atexit.Register(cleanup)
	defer cleanup()

	_, err = f.Write(data)
	if err != nil {
		_ = f.Close()
		return errors.Wrap(err, "write")
	}

	err = f.Close()
	if err != nil {
		return errors.Wrap(err, "close")
	}

	err = os.Chmod(tmp, 0o644)
	if err != nil {
		return errors.Wrap(err, "chmod")
	}

	err = os.Rename(tmp, name)
	if err != nil {
		return errors.Wrap(err, "rename")
	}

	done = true

	return nil
}

func appendStats(b []byte, name string, st analyze.Stats) []byte {
	b = hfmt.Appendf(b, "%s: %d instructions, %d loops, max depth %d, %d runs, %d ops after coalescing\n",
		name, st.Total(), st.Loops, st.MaxDepth, st.Runs, st.Ops)

	return b
}

func (e UsageError) Error() string {
	return string(hfmt.Appendf(nil, "expected 2 arguments, got %d", e.Args))
}
