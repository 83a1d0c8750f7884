package toolchain

import (
	"context"
	"io"
	"os/exec"

	"github.com/rotisserie/eris"
)

// Prober checks whether a command exists and actually runs. It returns the full path to the command.
type Prober interface {
	Probe(ctx context.Context, name string) (string, error)
}

// ProbeFunc adapts a plain function to the Prober interface
type ProbeFunc func(ctx context.Context, name string) (string, error)

// Probe implements Prober
func (f ProbeFunc) Probe(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}

// ExecProber looks the command up on PATH and runs it once with --version. A stale alias (broken symlink,
// wrapper script pointing at an uninstalled compiler, ...) fails the second check.
type ExecProber struct {
	// LookPath defaults to exec.LookPath
	LookPath func(file string) (string, error)
	// VersionArgs defaults to --version
	VersionArgs []string
}

// Probe implements Prober
func (p ExecProber) Probe(ctx context.Context, name string) (string, error) {
	lookPath := p.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	path, err := lookPath(name)
	if err != nil {
		return "", eris.Wrapf(err, "%s is not on PATH", name)
	}

	args := p.VersionArgs
	if args == nil {
		args = []string{"--version"}
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	err = cmd.Run()
	if err != nil {
		return "", eris.Wrapf(err, "%s failed to run", path)
	}

	return path, nil
}
