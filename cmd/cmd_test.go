package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundsend/build-tools/pkg/buildsys"
	"github.com/soundsend/build-tools/pkg/config"
	"github.com/soundsend/build-tools/pkg/orchestrator"
	"github.com/soundsend/build-tools/pkg/toolchain"
	"github.com/soundsend/build-tools/pkg/verify"
)

const soundSendManifest = `
[package]
name = "sound_send"

[dependencies]
cpal = { version = "0.15", optional = true }

[[bin]]
name = "udp_sender"

[[bin]]
name = "udp_reciever"
`

func TestConsoleWriterPrefixesJob(t *testing.T) {
	out := new(bytes.Buffer)
	logger := zerolog.New(NewConsoleWriter(out))

	logger.Error().Str("job", "native/release+cpal").Msg("failed")
	logger.Info().Msg("verification passed")

	lines := out.String()
	assert.Contains(t, lines, "native/release+cpal: Error: failed")
	assert.Contains(t, lines, "verification passed")
}

func TestConsoleWriterRendersJobFields(t *testing.T) {
	out := new(bytes.Buffer)
	logger := zerolog.New(NewConsoleWriter(out)).With().Str("run", "V1StGXR8").Logger()

	logger.Error().Str("job", "x86_64-pc-windows-gnu/release/udp_sender").Int("exit_code", 101).Msg("failed")
	logger.Info().Str("job", "native/debug").Dur("duration", 1500*time.Millisecond).Msg("done")

	lines := out.String()
	assert.Contains(t, lines, "x86_64-pc-windows-gnu/release/udp_sender: Error: failed (exit code 101)")
	assert.Contains(t, lines, "native/debug: done in 1.5s")
	assert.NotContains(t, lines, "V1StGXR8")
}

func TestConsoleWriterDebugShowsExtraFields(t *testing.T) {
	out := new(bytes.Buffer)
	writer := NewConsoleWriter(out)
	writer.Debug = true
	logger := zerolog.New(writer)

	logger.Debug().Str("run", "V1StGXR8").Str("linker", "/usr/bin/x86_64-w64-mingw32-gcc").Msg("resolved")

	lines := out.String()
	assert.Contains(t, lines, "resolved\n  linker: /usr/bin/x86_64-w64-mingw32-gcc\n  run: V1StGXR8")
	assert.NotContains(t, lines, "level:")
}

func TestApplyFlagsOverridesConfig(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	cmd := &cobra.Command{Use: "test"}
	setupRootFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"-j", "4", "--report", "out.yml", "--host", "linux/aarch64"}))

	require.NoError(t, applyFlags(cmd, cfg))
	assert.Equal(t, 4, cfg.Parallel)
	assert.Equal(t, "out.yml", cfg.Report)
	assert.Equal(t, "linux/aarch64", cfg.Toolchain.Host)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.DryRun)
}

func TestLoadMatrixFallsBackToReleaseMatrix(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "Cargo.toml"), []byte(soundSendManifest), 0o644))

	cmd := &cobra.Command{Use: "test"}
	setupRootFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--project", root, "--host", "linux/x86_64", "--log-level", "error"}))
	cmd.SetContext(context.Background())

	s, err := newSession(cmd)
	require.NoError(t, err)

	matrix, err := s.loadMatrix()
	require.NoError(t, err)
	assert.Len(t, matrix, 6)
}

// recordingExecutor fails every command whose name is listed in failing
type recordingExecutor struct {
	lock    sync.Mutex
	failing map[string]bool
	ran     []string
}

func (e *recordingExecutor) Run(_ context.Context, cmd *buildsys.Command) (*buildsys.Result, error) {
	e.lock.Lock()
	e.ran = append(e.ran, cmd.Name)
	e.lock.Unlock()

	if e.failing[cmd.Name] {
		return &buildsys.Result{ExitCode: 101, Output: "error: could not compile `sound_send`"}, nil
	}
	return &buildsys.Result{}, nil
}

func (e *recordingExecutor) builds() []string {
	builds := make([]string, 0, len(e.ran))
	for _, name := range e.ran {
		if !strings.HasPrefix(name, "verify:") {
			builds = append(builds, name)
		}
	}
	return builds
}

// testSession runs against a fake executor and pretends every cross compiler is installed
func testSession(t *testing.T, failing ...string) (*session, *recordingExecutor, *bytes.Buffer) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "Cargo.toml"), []byte(soundSendManifest), 0o644))

	cmd := &cobra.Command{Use: "test"}
	setupRootFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--project", root, "--host", "linux/x86_64", "--log-level", "error"}))
	cmd.SetContext(context.Background())

	s, err := newSession(cmd)
	require.NoError(t, err)

	s.planner.Resolver = toolchain.NewResolver(toolchain.ProbeFunc(func(_ context.Context, name string) (string, error) {
		return "/usr/bin/" + name, nil
	}))

	executor := &recordingExecutor{failing: map[string]bool{}}
	for _, name := range failing {
		executor.failing[name] = true
	}
	s.executor = executor

	stderr := new(bytes.Buffer)
	s.stderr = stderr
	return s, executor, stderr
}

func TestReleaseStopsAfterFailedVerification(t *testing.T) {
	s, executor, stderr := testSession(t, "verify:lint")

	err := s.release()
	require.Error(t, err)
	assert.True(t, errors.Is(err, verify.ErrVerificationFailed))
	assert.Equal(t, 1, exitCode(err))

	var runErr *orchestrator.RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, "lint", runErr.Step)

	assert.Empty(t, executor.builds())
	assert.NotContains(t, executor.ran, "verify:test")
	assert.Contains(t, stderr.String(), "verification failed at step lint")
}

func TestReleaseReportsFailedJobOnStderr(t *testing.T) {
	failed := "x86_64-pc-windows-gnu/release/udp_sender"
	s, executor, stderr := testSession(t, failed)

	err := s.release()
	require.Error(t, err)
	assert.True(t, errors.Is(err, buildsys.ErrBuildJobFailed))
	assert.Equal(t, 1, exitCode(err))

	var runErr *orchestrator.RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, []string{failed}, runErr.FailedJobs)
	assert.Equal(t, 6, runErr.Total)

	assert.Len(t, executor.builds(), 6)
	assert.Contains(t, stderr.String(), failed)
	assert.NotContains(t, stderr.String(), "native/debug:")
}

func TestReleaseSucceeds(t *testing.T) {
	s, executor, stderr := testSession(t)
	s.cfg.Report = filepath.Join(t.TempDir(), "report.yml")

	require.NoError(t, s.release())
	assert.Equal(t, []string{"verify:fmt", "verify:lint", "verify:test"}, executor.ran[:3])
	assert.Len(t, executor.builds(), 6)
	assert.Empty(t, stderr.String())
	assert.FileExists(t, s.cfg.Report)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 1, exitCode(errors.New("no Cargo.toml")))
	assert.Equal(t, 143, exitCode(&exitError{code: 143}))
}

func TestLinkerArgs(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		triple string
		rest   []string
	}{
		{
			name:   "target flag",
			args:   []string{"--target", "x86_64-pc-windows-gnu", "--", "-o", "out.exe", "--target=ignored"},
			triple: "x86_64-pc-windows-gnu",
			rest:   []string{"-o", "out.exe", "--target=ignored"},
		},
		{
			name:   "target with equals sign",
			args:   []string{"--target=x86_64-pc-windows-gnu", "--", "main.o"},
			triple: "x86_64-pc-windows-gnu",
			rest:   []string{"main.o"},
		},
		{
			name: "linker arguments only",
			args: []string{"-m64", "-o", "udp_sender", "--help"},
			rest: []string{"-m64", "-o", "udp_sender", "--help"},
		},
		{
			name: "target without separator belongs to the linker",
			args: []string{"--target=x86_64-pc-windows-gnu", "main.o"},
			rest: []string{"--target=x86_64-pc-windows-gnu", "main.o"},
		},
		{
			name: "no arguments",
			args: []string{},
			rest: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			triple, rest := linkerArgs(tt.args)
			assert.Equal(t, tt.triple, triple)
			assert.Equal(t, tt.rest, rest)
		})
	}
}

func TestLinkerCommandDoesNotParseFlags(t *testing.T) {
	assert.True(t, linkerCmd.DisableFlagParsing)
}
