// Package verify implements the checks that gate a release: formatting, lint and tests.
package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"

	"github.com/soundsend/build-tools/pkg/buildsys"
	"github.com/soundsend/build-tools/pkg/toolchain"
)

// ErrVerificationFailed is matched by every *StepError
var ErrVerificationFailed = eris.New("verification failed")

// StepError carries the first failing step and its diagnostic output
type StepError struct {
	Step     string
	ExitCode int
	Output   string
	Err      error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verification step %s failed: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("verification step %s failed with exit code %d", e.Step, e.ExitCode)
}

func (e *StepError) Unwrap() error {
	return ErrVerificationFailed
}

// Step is a single check. Either Command is run or Check is called.
type Step struct {
	Name    string
	Command *buildsys.Command
	Check   func(ctx context.Context) (string, error)
}

// StepResult records one step that ran
type StepResult struct {
	Name     string
	ExitCode int
	Output   string
}

// Result is the verdict of a pipeline run
type Result struct {
	Passed bool
	// Step names the first failing step
	Step   string
	Output string
	Steps  []StepResult
	Err    error
}

// Pipeline runs its steps in order and stops at the first failure
type Pipeline struct {
	Steps    []Step
	Executor buildsys.Executor
}

// Verify runs every step until one fails
func (p *Pipeline) Verify(ctx context.Context) *Result {
	result := &Result{Passed: true}

	for _, step := range p.Steps {
		log := buildsys.Log(ctx).With().Str("job", "verify:"+step.Name).Logger()
		log.Info().Msg("running")

		stepResult, err := p.runStep(ctx, step)
		result.Steps = append(result.Steps, stepResult)

		if err == nil && stepResult.ExitCode != 0 {
			err = &StepError{Step: step.Name, ExitCode: stepResult.ExitCode, Output: stepResult.Output}
		} else if err != nil {
			err = &StepError{Step: step.Name, ExitCode: stepResult.ExitCode, Output: stepResult.Output, Err: err}
		}

		if err != nil {
			result.Passed = false
			result.Step = step.Name
			result.Output = stepResult.Output
			result.Err = err
			return result
		}
	}

	return result
}

func (p *Pipeline) runStep(ctx context.Context, step Step) (StepResult, error) {
	result := StepResult{Name: step.Name}

	if step.Check != nil {
		output, err := step.Check(ctx)
		result.Output = output
		if err != nil {
			result.ExitCode = 1
			if result.Output == "" {
				result.Output = err.Error()
			}
		}
		return result, err
	}

	if step.Command == nil {
		return result, eris.Errorf("step %s has nothing to run", step.Name)
	}

	cmdResult, err := p.Executor.Run(ctx, step.Command)
	if cmdResult != nil {
		result.ExitCode = cmdResult.ExitCode
		result.Output = cmdResult.Output
	}
	return result, err
}

// Options configures the standard cargo pipeline
type Options struct {
	ProjectRoot string
	Cargo       string
	// MaxWidth is passed to rustfmt as max_width
	MaxWidth   int
	ClippyArgs []string
	// TestTarget is the triple the test binaries are built for
	TestTarget toolchain.TargetTriple
	// RustVersion enables the MSRV preflight when set (the manifest's rust-version)
	RustVersion string
	Rustc       string
}

// NewCargoPipeline builds the standard pipeline: optional rust-version preflight, fmt check, clippy and tests.
// If the test target isn't native to the planner's host the test build links with the resolved cross linker.
func NewCargoPipeline(ctx context.Context, opts Options, planner *buildsys.Planner, executor buildsys.Executor) (*Pipeline, error) {
	cargo := opts.Cargo
	if cargo == "" {
		cargo = "cargo"
	}

	steps := make([]Step, 0, 4)
	if opts.RustVersion != "" {
		steps = append(steps, Step{
			Name:  "rust-version",
			Check: rustVersionCheck(executor, opts),
		})
	}

	fmtConfig := "error_on_line_overflow=true,error_on_unformatted=true"
	if opts.MaxWidth > 0 {
		fmtConfig += fmt.Sprintf(",max_width=%d", opts.MaxWidth)
	}
	steps = append(steps, Step{
		Name: "fmt",
		Command: &buildsys.Command{
			Name: "verify:fmt",
			Dir:  opts.ProjectRoot,
			Args: []string{cargo, "fmt", "--all", "--", "--check", "--config", fmtConfig},
		},
	})

	lintArgs := []string{cargo, "clippy", "--workspace", "--all-targets"}
	if len(opts.ClippyArgs) > 0 {
		lintArgs = append(append(lintArgs, "--"), opts.ClippyArgs...)
	}
	steps = append(steps, Step{
		Name: "lint",
		Command: &buildsys.Command{
			Name: "verify:lint",
			Dir:  opts.ProjectRoot,
			Args: lintArgs,
		},
	})

	testCmd := &buildsys.Command{
		Name: "verify:test",
		Dir:  opts.ProjectRoot,
		Args: []string{cargo, "test", "--workspace"},
		Env:  map[string]string{},
	}
	if !planner.Host.Matches(opts.TestTarget) {
		env, compiler, err := planner.LinkerEnv(ctx, opts.TestTarget)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve the linker for test target %s", opts.TestTarget)
		}

		buildsys.Log(ctx).Debug().Str("linker", compiler.String()).Msgf("tests link for %s", opts.TestTarget)
		testCmd.Args = append(testCmd.Args, "--target", opts.TestTarget.String())
		testCmd.Env = env
	}
	steps = append(steps, Step{Name: "test", Command: testCmd})

	return &Pipeline{Steps: steps, Executor: executor}, nil
}

// rustVersionCheck compares `rustc --version` against the manifest's rust-version
func rustVersionCheck(executor buildsys.Executor, opts Options) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		constraint, err := semver.NewConstraint(">= " + opts.RustVersion)
		if err != nil {
			return "", eris.Wrapf(err, "invalid rust-version %q", opts.RustVersion)
		}

		rustc := opts.Rustc
		if rustc == "" {
			rustc = "rustc"
		}

		result, err := executor.Run(ctx, &buildsys.Command{
			Name: "verify:rust-version",
			Dir:  opts.ProjectRoot,
			Args: []string{rustc, "--version"},
		})
		if err != nil {
			return "", err
		}
		if result.ExitCode != 0 {
			return result.Output, eris.Errorf("%s --version exited with %d", rustc, result.ExitCode)
		}

		version, err := ParseRustcVersion(result.Output)
		if err != nil {
			return result.Output, err
		}

		if !constraint.Check(version) {
			return result.Output, eris.Errorf("rustc %s is older than the required rust-version %s", version, opts.RustVersion)
		}

		return result.Output, nil
	}
}

// ParseRustcVersion extracts the version from `rustc --version` output (i.e. "rustc 1.75.0 (82e1608df 2023-12-21)").
// Pre-release tags are dropped so nightly and beta toolchains compare like their release counterpart.
func ParseRustcVersion(output string) (*semver.Version, error) {
	fields := strings.Fields(output)
	if len(fields) < 2 || fields[0] != "rustc" {
		return nil, eris.Errorf("unexpected rustc version output %q", strings.TrimSpace(output))
	}

	version, err := semver.NewVersion(fields[1])
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse rustc version %s", fields[1])
	}

	if version.Prerelease() != "" {
		stripped, err := version.SetPrerelease("")
		if err != nil {
			return nil, err
		}
		version = &stripped
	}

	return version, nil
}
