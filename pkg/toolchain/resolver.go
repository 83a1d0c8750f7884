package toolchain

import (
	"context"
	"strings"
)

// DefaultCompiler is used for native builds
const DefaultCompiler = "cc"

// Compiler is the result of a successful resolution
type Compiler struct {
	Name string
	// Path is the absolute path found during probing. It's empty for the default compiler since that one
	// is never probed.
	Path string
	// Args are prepended to every invocation
	Args []string
	// Default is true if this is the host's default compiler
	Default bool
}

// Executable returns the command that should be invoked
func (c Compiler) Executable() string {
	if c.Path != "" {
		return c.Path
	}
	return c.Name
}

// Argv returns the full argument vector for invoking the compiler with the given arguments
func (c Compiler) Argv(args ...string) []string {
	argv := make([]string, 0, 1+len(c.Args)+len(args))
	argv = append(argv, c.Executable())
	argv = append(argv, c.Args...)
	return append(argv, args...)
}

func (c Compiler) String() string {
	if len(c.Args) == 0 {
		return c.Executable()
	}
	return c.Executable() + " " + strings.Join(c.Args, " ")
}

// Resolver picks the compiler / linker for a (host, target) pair
type Resolver struct {
	Prober          Prober
	Candidates      map[TargetTriple]CandidateList
	DefaultCompiler string
}

// NewResolver returns a resolver with the built-in candidate lists
func NewResolver(prober Prober) *Resolver {
	return &Resolver{
		Prober:          prober,
		Candidates:      DefaultCandidates(),
		DefaultCompiler: DefaultCompiler,
	}
}

// Resolve returns the compiler that produces working binaries for target on host.
//
// Native targets always get the host's default compiler without probing since cross-prefixed
// compilers may be missing or mis-targeted on a true native host. Everything else walks the target's
// candidate list and fails with a *NotFoundError if nothing runs.
func (r *Resolver) Resolve(ctx context.Context, host HostPlatform, target TargetTriple) (Compiler, error) {
	if host.Matches(target) {
		name := r.DefaultCompiler
		if name == "" {
			name = DefaultCompiler
		}

		return Compiler{Name: name, Default: true}, nil
	}

	candidates := r.Candidates[target]
	compiler, attempts, ok := candidates.First(ctx, r.Prober, target)
	if !ok {
		return Compiler{}, &NotFoundError{
			Target:   target,
			Host:     host,
			Attempts: attempts,
		}
	}

	return compiler, nil
}
