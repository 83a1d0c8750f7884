package buildsys

import (
	"os"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"

	"github.com/soundsend/build-tools/pkg/toolchain"
)

func starInfo(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	info(thread, "%s", message)
	return starlark.None, nil
}

func starWarn(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	warn(thread, "%s", message)
	return starlark.None, nil
}

func starError(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	return nil, eris.New(message)
}

func getenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var defaultValue string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "key", &key, "default?", &defaultValue)
	if err != nil {
		return nil, err
	}

	value, ok := os.LookupEnv(key)
	if !ok {
		value = defaultValue
	}

	return starlark.String(value), nil
}

// job(target="native", profile="debug", features=[], bin="")
func job(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var target string
	var profile string
	var features starlark.Value
	var bin string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "target?", &target, "profile?", &profile,
		"features?", &features, "bin?", &bin)
	if err != nil {
		return nil, err
	}

	newJob := JobSpec{Binary: bin}
	newJob.Target, err = toolchain.ParseTriple(target)
	if err != nil {
		return nil, eris.Wrapf(err, "%s", fn.Name())
	}

	newJob.Profile, err = ParseProfile(profile)
	if err != nil {
		return nil, eris.Wrapf(err, "%s", fn.Name())
	}

	switch value := features.(type) {
	case nil, starlark.NoneType:
	case starlark.String:
		newJob.Features = []string{value.GoString()}
	case starlarkIterable:
		newJob.Features, err = starlarkIterable2stringSlice(value, "features")
		if err != nil {
			return nil, eris.Wrapf(err, "%s", fn.Name())
		}
	default:
		return nil, eris.Errorf("%s: features must be a list of strings, got %s", fn.Name(), features.Type())
	}

	ctx := getCtx(thread)
	ctx.jobs = append(ctx.jobs, newJob)

	return starlark.String(newJob.ID()), nil
}
