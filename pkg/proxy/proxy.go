// Package proxy turns the toolchain resolver into a drop-in linker: it forwards all arguments to the
// resolved compiler and exits with the compiler's exit code.
package proxy

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/rotisserie/eris"

	"github.com/soundsend/build-tools/pkg/toolchain"
)

// TargetEnv names the variable the standalone linker helper reads its target triple from
const TargetEnv = "XBUILD_LINKER_TARGET"

// ExitNotRunnable is returned when the compiler couldn't be started at all (mirrors the shell convention)
const ExitNotRunnable = 127

// Resolver is implemented by *toolchain.Resolver
type Resolver interface {
	Resolve(ctx context.Context, host toolchain.HostPlatform, target toolchain.TargetTriple) (toolchain.Compiler, error)
}

// Proxy runs a compiler with the caller's stdio
type Proxy struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Env defaults to the current process' environment
	Env []string
	// WaitDelay is how long an interrupted compiler gets before it's killed
	WaitDelay time.Duration
}

// New returns a proxy wired to the current process' stdio
func New() *Proxy {
	return &Proxy{
		Stdin:     os.Stdin,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
		WaitDelay: 2 * time.Second,
	}
}

// Run invokes compiler with args and returns its exit code. The error is only set if the compiler
// couldn't be started or was interrupted; a non-zero exit is reported through the code alone. A compiler
// killed by a signal exits with 128+signal like it would in a shell.
func (p *Proxy) Run(ctx context.Context, compiler toolchain.Compiler, args []string) (int, error) {
	argv := compiler.Argv(args...)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = p.Stdin
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr
	cmd.Env = p.Env
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = p.WaitDelay

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code, nil
		}

		status, ok := exitErr.Sys().(syscall.WaitStatus)
		if ok && status.Signaled() && ctx.Err() == nil {
			return 128 + int(status.Signal()), nil
		}
	}

	if ctx.Err() != nil {
		return 1, ctx.Err()
	}

	return ExitNotRunnable, eris.Wrapf(err, "failed to run %s", argv[0])
}

// Link resolves the linker for target on host and forwards args to it
func (p *Proxy) Link(ctx context.Context, resolver Resolver, host toolchain.HostPlatform, target toolchain.TargetTriple, args []string) (int, error) {
	compiler, err := resolver.Resolve(ctx, host, target)
	if err != nil {
		return ExitNotRunnable, err
	}

	return p.Run(ctx, compiler, args)
}
