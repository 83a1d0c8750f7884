package buildsys

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// Result is the outcome of a single command
type Result struct {
	ExitCode int
	// Output contains everything the command wrote to stdout and stderr
	Output   string
	Duration time.Duration
}

// Executor runs commands. The error is reserved for commands that couldn't be run at all (or were
// cancelled); a non-zero exit status is reported through Result.ExitCode.
type Executor interface {
	Run(ctx context.Context, cmd *Command) (*Result, error)
}

// ShellRunner executes commands with the mvdan.cc/sh interpreter. Cancelling the context interrupts the
// running process and kills it after KillTimeout.
type ShellRunner struct {
	// Stdout and Stderr receive the live output. Nil means the output is only captured.
	Stdout io.Writer
	Stderr io.Writer
	// DryRun only logs the commands
	DryRun      bool
	KillTimeout time.Duration
}

// NewShellRunner returns a runner with the default kill timeout
func NewShellRunner(stdout, stderr io.Writer) *ShellRunner {
	return &ShellRunner{
		Stdout:      stdout,
		Stderr:      stderr,
		KillTimeout: 2 * time.Second,
	}
}

// lockedBuffer collects the output of both streams. os/exec copies each pipe in its own goroutine.
type lockedBuffer struct {
	lock   sync.Mutex
	buffer strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buffer.Write(p)
}

func (b *lockedBuffer) String() string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buffer.String()
}

func teeWriter(capture io.Writer, live io.Writer) io.Writer {
	if live == nil {
		return capture
	}
	return io.MultiWriter(capture, live)
}

// buildCallExpr converts an argument vector into a shell call without going through the parser so that
// nothing in the arguments gets expanded.
func buildCallExpr(args []string) *syntax.CallExpr {
	cmd := new(syntax.CallExpr)
	cmd.Args = make([]*syntax.Word, len(args))
	for idx, arg := range args {
		var wordPart syntax.WordPart

		if strings.ContainsAny(arg, " $'\"\\*?[~") {
			node := new(syntax.SglQuoted)
			node.Value = arg
			wordPart = node
		} else {
			node := new(syntax.Lit)
			node.Value = arg
			wordPart = node
		}

		cmd.Args[idx] = &syntax.Word{Parts: []syntax.WordPart{wordPart}}
	}

	return cmd
}

// Run implements Executor
func (r *ShellRunner) Run(ctx context.Context, cmd *Command) (*Result, error) {
	if len(cmd.Args) == 0 {
		return nil, eris.Errorf("command %s has no arguments", cmd.Name)
	}

	Log(ctx).Info().
		Str("job", cmd.Name).
		Bool("command", true).
		Msg(cmd.String())

	if r.DryRun {
		return &Result{}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	killTimeout := r.KillTimeout
	if killTimeout <= 0 {
		killTimeout = 2 * time.Second
	}

	capture := new(lockedBuffer)
	options := []interp.RunnerOption{
		interp.Env(expand.ListEnviron(getEnvVars(cmd.Env)...)),
		interp.ExecHandler(interp.DefaultExecHandler(killTimeout)),
		interp.StdIO(nil, teeWriter(capture, r.Stdout), teeWriter(capture, r.Stderr)),
		interp.Params("-e"),
	}
	if cmd.Dir != "" {
		options = append(options, interp.Dir(cmd.Dir))
	}

	runner, err := interp.New(options...)
	if err != nil {
		return nil, eris.Wrap(err, "failed to initialize runner")
	}

	start := time.Now()
	err = runner.Run(ctx, buildCallExpr(cmd.Args))
	result := &Result{
		Output:   capture.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if status, ok := interp.IsExitStatus(err); ok {
			result.ExitCode = int(status)
			return result, nil
		}

		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return result, eris.Wrapf(err, "failed to run %s", cmd.Args[0])
	}

	return result, nil
}
