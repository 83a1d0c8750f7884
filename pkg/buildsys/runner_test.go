package buildsys

import (
	"bytes"
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() context.Context {
	logger := zerolog.Nop()
	return WithLogger(context.Background(), &logger)
}

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX sh")
	}
}

func TestShellRunnerCapturesOutput(t *testing.T) {
	skipOnWindows(t)
	live := new(bytes.Buffer)
	runner := NewShellRunner(live, nil)

	result, err := runner.Run(testContext(), &Command{
		Name: "echo",
		Dir:  t.TempDir(),
		Args: []string{"sh", "-c", `echo "$GREETING $1"; echo warning >&2`, "sh", "it's $HOME"},
		Env:  map[string]string{"GREETING": "hello"},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Output, "hello it's $HOME\n")
	assert.Contains(t, result.Output, "warning\n")
	assert.Equal(t, "hello it's $HOME\n", live.String())
}

func TestShellRunnerReportsExitCode(t *testing.T) {
	skipOnWindows(t)
	runner := NewShellRunner(nil, nil)

	result, err := runner.Run(testContext(), &Command{
		Name: "fail",
		Args: []string{"sh", "-c", "echo 'error[E0425]: cannot find value' >&2; exit 101"},
	})
	require.NoError(t, err)
	assert.Equal(t, 101, result.ExitCode)
	assert.Contains(t, result.Output, "E0425")
}

func TestShellRunnerMissingCommand(t *testing.T) {
	runner := NewShellRunner(nil, nil)

	result, err := runner.Run(testContext(), &Command{Name: "missing", Args: []string{"definitely-not-cargo-xyz"}})
	require.NoError(t, err)
	assert.Equal(t, 127, result.ExitCode)
}

func TestShellRunnerDryRun(t *testing.T) {
	runner := NewShellRunner(nil, nil)
	runner.DryRun = true

	result, err := runner.Run(testContext(), &Command{Name: "dry", Args: []string{"definitely-not-cargo-xyz"}})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
}

func TestShellRunnerCancellation(t *testing.T) {
	skipOnWindows(t)
	runner := NewShellRunner(nil, nil)
	runner.KillTimeout = 100 * time.Millisecond

	ctx, cancel := context.WithTimeout(testContext(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := runner.Run(ctx, &Command{Name: "sleep", Args: []string{"sleep", "30"}})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestShellRunnerRejectsEmptyCommand(t *testing.T) {
	_, err := NewShellRunner(nil, nil).Run(testContext(), &Command{Name: "empty"})
	assert.Error(t, err)
}
