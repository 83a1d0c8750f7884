package buildsys

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/soundsend/build-tools/pkg/toolchain"
)

// MatrixFile is the default name of the matrix script inside the project root
const MatrixFile = "matrix.star"

func init() {
	// matrix scripts are flat lists of job() calls; allow loops and conditions at the top level
	resolve.AllowGlobalReassign = true
}

type parserCtx struct {
	ctx         context.Context
	filepath    string
	projectRoot string
	jobs        Matrix
}

func getCtx(thread *starlark.Thread) *parserCtx {
	return thread.Local("parserCtx").(*parserCtx)
}

func info(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	Log(ctx.ctx).Info().
		Msgf("%s:%d:%d: %s", simplifyPath(ctx.projectRoot, ctx.filepath), pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

func warn(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	Log(ctx.ctx).Warn().
		Msgf("%s:%d:%d: %s", simplifyPath(ctx.projectRoot, ctx.filepath), pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

// LoadMatrix executes a matrix script and returns the jobs it declared. The script sees the host platform as
// OS and ARCH and declares jobs by calling job().
func LoadMatrix(ctx context.Context, filename, projectRoot string, host toolchain.HostPlatform) (Matrix, error) {
	projectRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, err
	}

	filename, err = filepath.Abs(filename)
	if err != nil {
		return nil, err
	}

	script, err := os.ReadFile(filename)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read file")
	}

	builtins := starlark.StringDict{
		"OS":     starlark.String(host.OS),
		"ARCH":   starlark.String(host.Arch),
		"info":   starlark.NewBuiltin("info", starInfo),
		"warn":   starlark.NewBuiltin("warn", starWarn),
		"error":  starlark.NewBuiltin("error", starError),
		"getenv": starlark.NewBuiltin("getenv", getenv),
		"job":    starlark.NewBuiltin("job", job),
	}

	thread := &starlark.Thread{
		Name: "matrix",
		Print: func(thread *starlark.Thread, msg string) {
			Log(ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}
	threadCtx := parserCtx{
		ctx:         ctx,
		filepath:    filename,
		projectRoot: projectRoot,
		jobs:        make(Matrix, 0),
	}
	thread.SetLocal("parserCtx", &threadCtx)

	displayName := simplifyPath(projectRoot, filename)
	_, err = starlark.ExecFile(thread, displayName, script, builtins)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, eris.Errorf("failed to execute %s:\n%s", displayName, evalError.Backtrace())
		}
		return nil, eris.Wrapf(err, "failed to execute %s", displayName)
	}

	if len(threadCtx.jobs) == 0 {
		return nil, eris.Errorf("%s did not declare any jobs", displayName)
	}

	return threadCtx.jobs, nil
}
