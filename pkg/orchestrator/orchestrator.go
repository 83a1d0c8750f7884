// Package orchestrator runs the verification pipeline followed by every job of a build matrix.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aidarkhanov/nanoid"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/soundsend/build-tools/pkg/buildsys"
	"github.com/soundsend/build-tools/pkg/verify"
)

// Verifier is implemented by *verify.Pipeline
type Verifier interface {
	Verify(ctx context.Context) *verify.Result
}

// Orchestrator drives a release run
type Orchestrator struct {
	Planner  *buildsys.Planner
	Executor buildsys.Executor
	// Parallel is the maximum number of jobs running at the same time. Values below 1 mean sequential.
	Parallel int
	// Progress receives the progress bar. Nil hides it.
	Progress io.Writer
	// Revision is recorded in the report
	Revision string
}

func (o *Orchestrator) progressBar(jobs int) *progressbar.ProgressBar {
	if o.Progress == nil {
		return progressbar.NewOptions(jobs, progressbar.OptionSetVisibility(false))
	}

	out := o.Progress
	return progressbar.NewOptions(jobs,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription("building"),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(out, "\n")
		}),
	)
}

// Run verifies the project and, if that passed, runs every job in the matrix. A failing job doesn't stop the
// others. The report lists the jobs in matrix order regardless of the order they finished in.
func (o *Orchestrator) Run(ctx context.Context, matrix buildsys.Matrix, verifier Verifier) *Report {
	report := &Report{
		RunID:     nanoid.New(),
		Revision:  o.Revision,
		Host:      o.Planner.Host.String(),
		StartedAt: time.Now(),
	}
	defer func() {
		report.Duration = time.Since(report.StartedAt)
	}()

	logger := buildsys.Log(ctx).With().Str("run", report.RunID).Logger()
	ctx = buildsys.WithLogger(ctx, &logger)

	if verifier != nil {
		result := verifier.Verify(ctx)
		report.Verification = newVerificationSummary(result)

		if !result.Passed {
			logger.Error().Err(result.Err).Msgf("verification failed, skipping %d jobs", len(matrix))
			return report
		}
		logger.Info().Msg("verification passed")
	}

	report.Jobs = make([]JobResult, len(matrix))
	bar := o.progressBar(len(matrix))

	limit := o.Parallel
	if limit < 1 {
		limit = 1
	}

	var group errgroup.Group
	group.SetLimit(limit)
	for idx, job := range matrix {
		idx, job := idx, job
		group.Go(func() error {
			report.Jobs[idx] = o.runJob(ctx, job)
			_ = bar.Add(1)
			return nil
		})
	}
	_ = group.Wait()
	_ = bar.Finish()

	return report
}

func (o *Orchestrator) runJob(ctx context.Context, job buildsys.JobSpec) JobResult {
	result := JobResult{
		Job:         job,
		ID:          job.ID(),
		Target:      job.Target.String(),
		Profile:     string(job.Profile),
		Features:    job.FeatureList(),
		Binary:      job.Binary,
		ArtifactDir: o.Planner.ArtifactDir(job),
	}

	logger := buildsys.Log(ctx).With().Str("job", result.ID).Logger()

	if err := ctx.Err(); err != nil {
		result.fail(err)
		return result
	}

	cmd, compiler, err := o.Planner.Plan(ctx, job)
	if err != nil {
		logger.Error().Err(err).Msg("could not plan job")
		result.fail(err)
		return result
	}
	result.Compiler = compiler.String()
	result.Command = cmd.String()

	start := time.Now()
	cmdResult, err := o.Executor.Run(ctx, cmd)
	result.Duration = time.Since(start)
	if cmdResult != nil {
		result.ExitCode = cmdResult.ExitCode
		result.Output = cmdResult.Output
	}

	switch {
	case err != nil:
		logger.Error().Err(err).Msg("could not run job")
		result.fail(err)
	case result.ExitCode != 0:
		jobErr := &buildsys.JobError{Job: result.ID, ExitCode: result.ExitCode, Output: result.Output}
		logger.Error().Int("exit_code", result.ExitCode).Msg("failed")
		result.fail(jobErr)
	default:
		result.Output = ""
		logger.Info().Dur("duration", result.Duration).Msg("done")
	}

	return result
}
