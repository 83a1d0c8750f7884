package orchestrator

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/soundsend/build-tools/pkg/buildsys"
	"github.com/soundsend/build-tools/pkg/verify"
)

// JobResult is the outcome of one matrix entry
type JobResult struct {
	Job         buildsys.JobSpec `yaml:"-"`
	ID          string           `yaml:"id"`
	Target      string           `yaml:"target"`
	Profile     string           `yaml:"profile"`
	Features    []string         `yaml:"features,omitempty"`
	Binary      string           `yaml:"binary,omitempty"`
	Compiler    string           `yaml:"compiler,omitempty"`
	Command     string           `yaml:"command,omitempty"`
	ArtifactDir string           `yaml:"artifact_dir"`
	ExitCode    int              `yaml:"exit_code"`
	Duration    time.Duration    `yaml:"duration"`
	Error       string           `yaml:"error,omitempty"`
	// Output is only kept in the report for failed jobs
	Output string `yaml:"output,omitempty"`
	Err    error  `yaml:"-"`
}

func (r *JobResult) fail(err error) {
	r.Err = err
	r.Error = err.Error()
}

// Succeeded reports whether the job ran and exited cleanly
func (r *JobResult) Succeeded() bool {
	return r.Err == nil
}

// VerificationSummary is the serializable form of a verify.Result
type VerificationSummary struct {
	Passed bool     `yaml:"passed"`
	Steps  []string `yaml:"steps"`
	Failed string   `yaml:"failed,omitempty"`
	Output string   `yaml:"output,omitempty"`
	Err    error    `yaml:"-"`
}

func newVerificationSummary(result *verify.Result) *VerificationSummary {
	summary := &VerificationSummary{
		Passed: result.Passed,
		Failed: result.Step,
		Output: result.Output,
		Err:    result.Err,
	}
	for _, step := range result.Steps {
		summary.Steps = append(summary.Steps, step.Name)
	}
	return summary
}

// Report collects everything a run did
type Report struct {
	RunID        string               `yaml:"run_id"`
	Revision     string               `yaml:"revision,omitempty"`
	Host         string               `yaml:"host"`
	StartedAt    time.Time            `yaml:"started_at"`
	Duration     time.Duration        `yaml:"duration"`
	Verification *VerificationSummary `yaml:"verification,omitempty"`
	Jobs         []JobResult          `yaml:"jobs"`
}

// VerificationFailed is true if the verification pipeline ran and failed
func (r *Report) VerificationFailed() bool {
	return r.Verification != nil && !r.Verification.Passed
}

// FailedJobs returns the IDs of every failed job in matrix order
func (r *Report) FailedJobs() []string {
	failed := make([]string, 0)
	for _, job := range r.Jobs {
		if !job.Succeeded() {
			failed = append(failed, job.ID)
		}
	}
	return failed
}

// Succeeded returns the jobs that completed cleanly
func (r *Report) Succeeded() []JobResult {
	result := make([]JobResult, 0, len(r.Jobs))
	for _, job := range r.Jobs {
		if job.Succeeded() {
			result = append(result, job)
		}
	}
	return result
}

// Failed is true if verification failed or any job failed
func (r *Report) Failed() bool {
	return r.VerificationFailed() || len(r.FailedJobs()) > 0
}

// Err summarizes the run as a *RunError or returns nil on success
func (r *Report) Err() error {
	if r.VerificationFailed() {
		return &RunError{
			Step:   r.Verification.Failed,
			Errors: []error{r.Verification.Err},
		}
	}

	runErr := &RunError{Total: len(r.Jobs)}
	for _, job := range r.Jobs {
		if !job.Succeeded() {
			runErr.FailedJobs = append(runErr.FailedJobs, job.ID)
			runErr.Errors = append(runErr.Errors, job.Err)
		}
	}

	if len(runErr.FailedJobs) == 0 {
		return nil
	}
	return runErr
}

// RunError is returned for a failed run. It unwraps to the individual job errors or the verification error,
// so errors.Is(err, buildsys.ErrBuildJobFailed) and errors.Is(err, verify.ErrVerificationFailed) work.
type RunError struct {
	// Step is set if the verification pipeline failed
	Step       string
	FailedJobs []string
	Total      int
	Errors     []error
}

func (e *RunError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("verification failed at step %s; no jobs were run", e.Step)
	}
	return fmt.Sprintf("%d of %d jobs failed: %s", len(e.FailedJobs), e.Total, strings.Join(e.FailedJobs, ", "))
}

func (e *RunError) Unwrap() []error {
	return e.Errors
}

// WriteYAML serializes the report
func (r *Report) WriteYAML(w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)

	err := encoder.Encode(r)
	if err != nil {
		return eris.Wrap(err, "failed to encode report")
	}
	return encoder.Close()
}

// WriteFile writes the YAML report to path
func (r *Report) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", path)
	}
	defer f.Close()

	return r.WriteYAML(f)
}
