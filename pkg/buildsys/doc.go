// Package buildsys describes build jobs and the release matrix, turns them into compiler invocations and
// runs those through mvdan.cc/sh so commands behave the same on every host.
// A project can replace the built-in release matrix with a small Starlark script (matrix.star).
package buildsys
