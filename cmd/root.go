package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/soundsend/build-tools/pkg"
	"github.com/soundsend/build-tools/pkg/buildsys"
	"github.com/soundsend/build-tools/pkg/config"
	"github.com/soundsend/build-tools/pkg/dist"
	"github.com/soundsend/build-tools/pkg/manifest"
	"github.com/soundsend/build-tools/pkg/orchestrator"
	"github.com/soundsend/build-tools/pkg/toolchain"
	"github.com/soundsend/build-tools/pkg/verify"
)

var rootCmd = &cobra.Command{
	Use:   "xbuild",
	Short: "Verifies and cross-compiles sound_send",
	Long: `Runs the verification pipeline (rustfmt, clippy, tests) and then builds every entry of the
release matrix: debug and release builds for the host with and without the audio feature plus the
receiver for Linux and the sender for Windows. The matrix can be replaced with a matrix.star script.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}

		return s.release()
	},
}

// release verifies the project, builds the matrix and optionally packs the results. The returned error is a
// *orchestrator.RunError if verification or any job failed.
func (s *session) release() error {
	matrix, err := s.loadMatrix()
	if err != nil {
		return err
	}

	var verifier orchestrator.Verifier
	if !s.cfg.Verify.Skip {
		pipeline, err := s.verifyPipeline()
		if err != nil {
			return err
		}
		verifier = pipeline
	}

	revision, err := pkg.GetRevision(s.root)
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not determine the revision")
	}

	orch := &orchestrator.Orchestrator{
		Planner:  s.planner,
		Executor: s.executor,
		Parallel: s.cfg.Parallel,
		Revision: revision,
	}
	if s.cfg.Parallel > 1 && !s.cfg.Log.JSON && os.Getenv("CI") != "true" {
		orch.Progress = s.stderr
	}

	pkg.PrintTask(fmt.Sprintf("Building %d jobs for %s", len(matrix), s.host))
	report := orch.Run(s.ctx, matrix, verifier)
	s.printReport(report)

	if s.cfg.Report != "" {
		err = report.WriteFile(s.cfg.Report)
		if err != nil {
			return err
		}
		pkg.PrintSubtask("Report written to " + s.cfg.Report)
	}

	if report.Failed() {
		return report.Err()
	}

	if s.cfg.Dist != "" && !s.cfg.DryRun {
		return s.pack(report)
	}
	return nil
}

// session bundles everything the subcommands share
type session struct {
	ctx      context.Context
	cfg      *config.Config
	logger   *zerolog.Logger
	root     string
	host     toolchain.HostPlatform
	manifest *manifest.Manifest
	planner  *buildsys.Planner
	executor buildsys.Executor
	// stderr receives failures and the output of failed commands
	stderr io.Writer
}

func newSession(cmd *cobra.Command) (*session, error) {
	flags := cmd.Flags()

	project, err := flags.GetString("project")
	if err != nil {
		return nil, err
	}

	root, err := pkg.GetProjectRoot(project)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	err = applyFlags(cmd, cfg)
	if err != nil {
		return nil, err
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	var logger zerolog.Logger
	if cfg.Log.JSON {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(NewConsoleWriter(os.Stderr))
	}
	logger = logger.Level(cfg.LogLevel())

	ctx := buildsys.WithLogger(cmd.Context(), &logger)

	host, err := toolchain.DetectHost(ctx, cfg.Toolchain.Host)
	if err != nil {
		return nil, err
	}
	logger.Debug().Msgf("host platform is %s", host)

	man, err := manifest.Load(root)
	if err != nil {
		return nil, err
	}

	resolver := toolchain.NewResolver(toolchain.ExecProber{})
	resolver.Candidates = cfg.Candidates()
	resolver.DefaultCompiler = cfg.Toolchain.DefaultCompiler

	extraArgs, err := cfg.ExtraCargoArgs()
	if err != nil {
		return nil, err
	}

	s := &session{
		ctx:      ctx,
		cfg:      cfg,
		logger:   &logger,
		root:     root,
		host:     host,
		manifest: man,
		planner: &buildsys.Planner{
			Resolver:    resolver,
			Host:        host,
			ProjectRoot: root,
			Cargo:       cfg.Cargo,
			TargetDir:   cfg.TargetDir,
			ExtraArgs:   extraArgs,
		},
	}

	// stdout is reserved for progress lines; everything cargo prints (including fmt diffs) is diagnostics
	runner := buildsys.NewShellRunner(nil, nil)
	runner.DryRun = cfg.DryRun
	if s.streaming() {
		runner.Stdout = os.Stderr
		runner.Stderr = os.Stderr
	}
	s.executor = runner
	s.stderr = os.Stderr

	return s, nil
}

// streaming is true if command output goes straight to the terminal. Parallel jobs only print the output of
// failed jobs once everything finished.
func (s *session) streaming() bool {
	return s.cfg.Parallel <= 1 && !s.cfg.Log.JSON
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()

	var err error
	if flags.Changed("dry-run") {
		cfg.DryRun, err = flags.GetBool("dry-run")
		if err != nil {
			return err
		}
	}
	if flags.Changed("parallel") {
		cfg.Parallel, err = flags.GetInt("parallel")
		if err != nil {
			return err
		}
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, err = flags.GetBool("log-json")
		if err != nil {
			return err
		}
	}

	stringFlags := map[string]*string{
		"report":      &cfg.Report,
		"dist":        &cfg.Dist,
		"dist-format": &cfg.DistFormat,
		"log-level":   &cfg.Log.Level,
		"host":        &cfg.Toolchain.Host,
		"matrix":      &cfg.Matrix,
	}
	for name, target := range stringFlags {
		if flags.Lookup(name) == nil || !flags.Changed(name) {
			continue
		}

		*target, err = flags.GetString(name)
		if err != nil {
			return err
		}
	}

	return nil
}

// loadMatrix returns the jobs declared by matrix.star or the release matrix if there is no script
func (s *session) loadMatrix() (buildsys.Matrix, error) {
	var matrix buildsys.Matrix

	script := s.cfg.Matrix
	if script != "" && !filepath.IsAbs(script) {
		script = filepath.Join(s.root, script)
	}

	_, err := os.Stat(script)
	switch {
	case script != "" && err == nil:
		matrix, err = buildsys.LoadMatrix(s.ctx, script, s.root, s.host)
		if err != nil {
			return nil, err
		}
	case script == "" || errors.Is(err, os.ErrNotExist):
		opts, err := s.cfg.ReleaseOptions()
		if err != nil {
			return nil, err
		}
		matrix = buildsys.ReleaseMatrix(opts)
	default:
		return nil, eris.Wrapf(err, "failed to check %s", script)
	}

	for idx, job := range matrix {
		matrix[idx] = job.WithManifest(s.manifest)
	}

	err = matrix.Validate(s.manifest)
	if err != nil {
		return nil, err
	}
	return matrix, nil
}

func (s *session) verifyPipeline() (*verify.Pipeline, error) {
	testTarget, err := s.cfg.TestTarget()
	if err != nil {
		return nil, err
	}

	clippyArgs, err := s.cfg.ClippyArgs()
	if err != nil {
		return nil, err
	}

	opts := verify.Options{
		ProjectRoot: s.root,
		Cargo:       s.cfg.Cargo,
		MaxWidth:    s.cfg.Verify.MaxWidth,
		ClippyArgs:  clippyArgs,
		TestTarget:  testTarget,
	}
	// a dry run has no rustc output to compare
	if s.cfg.Verify.RustVersion && !s.cfg.DryRun {
		opts.RustVersion = s.manifest.Package.RustVersion
	}

	return verify.NewCargoPipeline(s.ctx, opts, s.planner, s.executor)
}

func (s *session) pack(report *orchestrator.Report) error {
	format, err := dist.ParseFormat(s.cfg.DistFormat)
	if err != nil {
		return err
	}

	archive := s.cfg.Dist
	if info, err := os.Stat(archive); err == nil && info.IsDir() {
		archive = filepath.Join(archive, dist.DefaultName(s.manifest.Package.Name, s.manifest.Package.Version, s.host, format))
	}

	entries := dist.Collect(report, s.planner, s.manifest)
	pkg.PrintTask(fmt.Sprintf("Packing %d binaries into %s", len(entries), archive))
	return dist.Pack(s.ctx, archive, format, entries)
}

func (s *session) printReport(report *orchestrator.Report) {
	streamed := s.streaming()

	if report.VerificationFailed() {
		pkg.FprintError(s.stderr, fmt.Sprintf("verification failed at step %s", report.Verification.Failed))
		if !streamed && report.Verification.Output != "" {
			fmt.Fprintln(s.stderr, report.Verification.Output)
		}
		return
	}

	for _, job := range report.Jobs {
		if job.Succeeded() {
			pkg.PrintSubtask(fmt.Sprintf("%s (%s)", job.ID, job.Duration.Round(time.Millisecond)))
			continue
		}

		pkg.FprintError(s.stderr, fmt.Sprintf("%s: %s", job.ID, job.Error))
		if !streamed && job.Output != "" {
			fmt.Fprintln(s.stderr, job.Output)
		}
	}

	failed := report.FailedJobs()
	if len(failed) == 0 {
		pkg.PrintTask(fmt.Sprintf("All %d jobs succeeded in %s", len(report.Jobs), report.Duration.Round(time.Second)))
	} else {
		pkg.PrintTask(fmt.Sprintf("%d of %d jobs failed", len(failed), len(report.Jobs)))
	}
}

func init() {
	setupRootFlags(rootCmd)
}

func setupRootFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringP("project", "C", ".", "Project directory (or any directory below it)")
	flags.BoolP("dry-run", "n", false, "dry run; only print the commands, don't execute anything")
	flags.IntP("parallel", "j", 1, "Number of jobs to run at the same time")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "Output JSONND instead of pretty console messages")
	flags.String("host", "", "Override the detected host platform (i.e. linux/aarch64)")

	cmd.Flags().String("report", "", "Write a YAML run report to this file")
	cmd.Flags().String("dist", "", "Pack the built binaries into this archive (or directory)")
	cmd.Flags().String("dist-format", "tar.xz", "Archive format (tar.xz or tar.br)")
	cmd.Flags().String("matrix", "matrix.star", "Starlark script that declares the build matrix")
}

// exitError hands a child process' exit code to Execute. The child already reported why it failed.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}

	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	return 1
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the running job.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	var exit *exitError
	if err != nil && !errors.As(err, &exit) {
		pkg.PrintError(err.Error())
	}
	os.Exit(exitCode(err))
}
