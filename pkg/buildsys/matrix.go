package buildsys

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/soundsend/build-tools/pkg/toolchain"
)

// ReleaseOptions names the pieces of the canonical release matrix that depend on the project
type ReleaseOptions struct {
	AudioFeature   string
	Receiver       string
	ReceiverTarget toolchain.TargetTriple
	Sender         string
	SenderTarget   toolchain.TargetTriple
}

// DefaultReleaseOptions matches the sound_send project layout
func DefaultReleaseOptions() ReleaseOptions {
	return ReleaseOptions{
		AudioFeature:   "cpal",
		Receiver:       "udp_reciever",
		ReceiverTarget: toolchain.LinuxX86_64,
		Sender:         "udp_sender",
		SenderTarget:   toolchain.WindowsX86_64,
	}
}

// ReleaseMatrix returns the full {debug, release} x {no features, audio feature} cross product for the native
// target plus one release build of the receiver for Linux and one of the sender for Windows. Only those two
// binaries are expected to run on the foreign platforms.
func ReleaseMatrix(opts ReleaseOptions) Matrix {
	matrix := make(Matrix, 0, 6)
	for _, profile := range []Profile{ProfileDebug, ProfileRelease} {
		matrix = append(matrix, JobSpec{Target: toolchain.Native, Profile: profile})
		if opts.AudioFeature != "" {
			matrix = append(matrix, JobSpec{
				Target:   toolchain.Native,
				Profile:  profile,
				Features: []string{opts.AudioFeature},
			})
		}
	}

	if opts.Receiver != "" {
		matrix = append(matrix, JobSpec{Target: opts.ReceiverTarget, Profile: ProfileRelease, Binary: opts.Receiver})
	}
	if opts.Sender != "" {
		matrix = append(matrix, JobSpec{Target: opts.SenderTarget, Profile: ProfileRelease, Binary: opts.Sender})
	}

	return matrix
}

// Command is a fully resolved process invocation
type Command struct {
	// Name shows up in logs, usually the job ID or verification step
	Name string
	Dir  string
	Args []string
	Env  map[string]string
}

// String renders the command as a shell line including its environment overrides
func (c *Command) String() string {
	parts := make([]string, 0, len(c.Env)+len(c.Args))
	keys := make([]string, 0, len(c.Env))
	for key := range c.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		parts = append(parts, key+"="+shellquote.Join(c.Env[key]))
	}

	return strings.TrimSpace(strings.Join(parts, " ") + " " + shellquote.Join(c.Args...))
}

// Resolver is implemented by *toolchain.Resolver
type Resolver interface {
	Resolve(ctx context.Context, host toolchain.HostPlatform, target toolchain.TargetTriple) (toolchain.Compiler, error)
}

// Planner turns job specs into cargo invocations
type Planner struct {
	Resolver    Resolver
	Host        toolchain.HostPlatform
	ProjectRoot string
	// Cargo defaults to "cargo"
	Cargo string
	// TargetDir is the parent of each job's private target directory. Relative paths are resolved
	// against ProjectRoot.
	TargetDir string
	ExtraArgs []string
}

func (p *Planner) cargo() string {
	if p.Cargo == "" {
		return "cargo"
	}
	return p.Cargo
}

// JobDir returns the target directory the given job builds into
func (p *Planner) JobDir(job JobSpec) string {
	base := p.TargetDir
	if base == "" {
		base = filepath.Join("target", "xbuild")
	}
	if !filepath.IsAbs(base) {
		base = filepath.Join(p.ProjectRoot, base)
	}

	return filepath.Join(base, job.Slug())
}

// ArtifactDir returns the directory cargo writes the job's binaries to
func (p *Planner) ArtifactDir(job JobSpec) string {
	dir := p.JobDir(job)
	if !job.Target.IsNative() {
		dir = filepath.Join(dir, job.Target.String())
	}
	return filepath.Join(dir, string(job.Profile))
}

// LinkerEnv resolves the linker for target and returns the cargo environment that selects it. Native targets
// are built without --target and need no overrides.
func (p *Planner) LinkerEnv(ctx context.Context, target toolchain.TargetTriple) (map[string]string, toolchain.Compiler, error) {
	compiler, err := p.Resolver.Resolve(ctx, p.Host, target)
	if err != nil {
		return nil, compiler, err
	}

	env := map[string]string{}
	if target.IsNative() {
		return env, compiler, nil
	}

	prefix := "CARGO_TARGET_" + target.EnvName() + "_"
	env[prefix+"LINKER"] = compiler.Executable()
	if len(compiler.Args) > 0 {
		flags := make([]string, 0, len(compiler.Args)*2)
		for _, arg := range compiler.Args {
			flags = append(flags, "-C", "link-arg="+arg)
		}
		env[prefix+"RUSTFLAGS"] = strings.Join(flags, " ")
	}

	return env, compiler, nil
}

// Plan resolves the job's toolchain and builds the cargo command. Resolution happens on every call; jobs for
// different triples must never share a result.
func (p *Planner) Plan(ctx context.Context, job JobSpec) (*Command, toolchain.Compiler, error) {
	env, compiler, err := p.LinkerEnv(ctx, job.Target)
	if err != nil {
		return nil, compiler, err
	}

	args := []string{p.cargo(), "build", "--target-dir", p.JobDir(job)}
	if job.Profile == ProfileRelease {
		args = append(args, "--release")
	}
	if !job.Target.IsNative() {
		args = append(args, "--target", job.Target.String())
	}
	if features := job.FeatureList(); len(features) > 0 {
		args = append(args, "--features", strings.Join(features, ","))
	}
	if job.Binary != "" {
		args = append(args, "--bin", job.Binary)
	}
	args = append(args, p.ExtraArgs...)

	return &Command{
		Name: job.ID(),
		Dir:  p.ProjectRoot,
		Args: args,
		Env:  env,
	}, compiler, nil
}
