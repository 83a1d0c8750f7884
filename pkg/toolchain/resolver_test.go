package toolchain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	linuxX64   = HostPlatform{OS: OSLinux, Arch: ArchX86_64}
	linuxArm64 = HostPlatform{OS: OSLinux, Arch: ArchAarch64}
)

// fakeProber only knows the commands in installed. Every probe is recorded.
type fakeProber struct {
	installed map[string]bool
	probed    []string
}

func (p *fakeProber) Probe(_ context.Context, name string) (string, error) {
	p.probed = append(p.probed, name)
	if p.installed[name] {
		return "/usr/bin/" + name, nil
	}
	return "", errors.New("not found")
}

func TestResolveNativeSkipsProbing(t *testing.T) {
	cases := []struct {
		host   HostPlatform
		target TargetTriple
	}{
		{linuxX64, Native},
		{linuxArm64, Native},
		{linuxX64, LinuxX86_64},
		{linuxArm64, LinuxAarch64},
	}

	for _, tc := range cases {
		t.Run(tc.host.String()+"->"+tc.target.String(), func(t *testing.T) {
			prober := &fakeProber{installed: map[string]bool{"cc": true}}
			resolver := NewResolver(prober)

			compiler, err := resolver.Resolve(context.Background(), tc.host, tc.target)
			require.NoError(t, err)
			assert.True(t, compiler.Default)
			assert.Equal(t, "cc", compiler.Executable())
			assert.Empty(t, compiler.Args)
			assert.Empty(t, prober.probed, "native resolution must not probe any candidate")
		})
	}
}

func TestResolveNativeUsesConfiguredDefault(t *testing.T) {
	resolver := NewResolver(&fakeProber{})
	resolver.DefaultCompiler = "gcc"

	compiler, err := resolver.Resolve(context.Background(), linuxX64, Native)
	require.NoError(t, err)
	assert.Equal(t, "gcc", compiler.Name)
}

func TestResolvePriorityOrder(t *testing.T) {
	prober := &fakeProber{installed: map[string]bool{
		"aarch64-linux-gnu-gcc": true,
		"aarch64-linux-gcc":     true,
		"clang":                 true,
	}}
	resolver := NewResolver(prober)

	compiler, err := resolver.Resolve(context.Background(), linuxX64, LinuxAarch64)
	require.NoError(t, err)
	assert.Equal(t, "aarch64-linux-gnu-gcc", compiler.Name)
	assert.Equal(t, "/usr/bin/aarch64-linux-gnu-gcc", compiler.Path)
	assert.Equal(t, []string{"aarch64-linux-gnu-gcc"}, prober.probed)
}

func TestResolveFallsBackToLastCandidate(t *testing.T) {
	prober := &fakeProber{installed: map[string]bool{"clang": true}}
	resolver := NewResolver(prober)

	compiler, err := resolver.Resolve(context.Background(), linuxX64, WindowsX86_64)
	require.NoError(t, err)
	assert.Equal(t, "clang", compiler.Name)
	assert.Equal(t, []string{"--target=x86_64-pc-windows-gnu"}, compiler.Args)
	assert.Equal(t, []string{"x86_64-w64-mingw32-gcc", "x86_64-w64-mingw32-cc", "clang"}, prober.probed)
}

func TestResolveNotFound(t *testing.T) {
	prober := &fakeProber{installed: map[string]bool{"cc": true}}
	resolver := NewResolver(prober)

	_, err := resolver.Resolve(context.Background(), linuxArm64, LinuxX86_64)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrToolchainNotFound))

	var notFound *NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, LinuxX86_64, notFound.Target)
	assert.Equal(t, []string{"x86_64-linux-gnu-gcc", "x86_64-linux-gcc", "clang"}, notFound.Candidates())
	for _, name := range notFound.Candidates() {
		assert.Contains(t, err.Error(), name)
	}
}

func TestResolveWithoutCandidates(t *testing.T) {
	resolver := NewResolver(&fakeProber{})
	resolver.Candidates = map[TargetTriple]CandidateList{}

	_, err := resolver.Resolve(context.Background(), linuxX64, WindowsX86_64)
	assert.True(t, errors.Is(err, ErrToolchainNotFound))
	assert.Contains(t, err.Error(), "no candidates configured")
}

func TestParseTriple(t *testing.T) {
	for _, triple := range KnownTriples() {
		parsed, err := ParseTriple(triple.String())
		require.NoError(t, err)
		assert.Equal(t, triple, parsed)
	}

	parsed, err := ParseTriple("native")
	require.NoError(t, err)
	assert.True(t, parsed.IsNative())

	_, err = ParseTriple("riscv64gc-unknown-linux-gnu")
	assert.Error(t, err)
}

func TestTripleHelpers(t *testing.T) {
	assert.Equal(t, "X86_64_PC_WINDOWS_GNU", WindowsX86_64.EnvName())
	assert.Equal(t, ".exe", WindowsX86_64.ExeSuffix(linuxX64))
	assert.Equal(t, "", LinuxAarch64.ExeSuffix(linuxX64))
	assert.Equal(t, ".exe", Native.ExeSuffix(HostPlatform{OS: OSWindows, Arch: ArchX86_64}))
}

func TestParseHost(t *testing.T) {
	host, err := ParseHost("linux/arm64")
	require.NoError(t, err)
	assert.Equal(t, linuxArm64, host)
	assert.Equal(t, LinuxAarch64, host.Triple())

	_, err = ParseHost("linux")
	assert.Error(t, err)
}

func TestDetectHostOverride(t *testing.T) {
	host, err := DetectHost(context.Background(), "linux/amd64")
	require.NoError(t, err)
	assert.Equal(t, linuxX64, host)
}

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"+body+"\n"), 0o755)
	require.NoError(t, err)
}

func TestExecProberSkipsStaleAlias(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub compilers are shell scripts")
	}

	dir := t.TempDir()
	writeScript(t, dir, "x86_64-w64-mingw32-gcc", "exit 1")
	writeScript(t, dir, "x86_64-w64-mingw32-cc", "echo 'mingw 12.0'")
	t.Setenv("PATH", dir)

	resolver := NewResolver(ExecProber{})
	compiler, err := resolver.Resolve(context.Background(), linuxX64, WindowsX86_64)
	require.NoError(t, err)
	assert.Equal(t, "x86_64-w64-mingw32-cc", compiler.Name)
	assert.Equal(t, filepath.Join(dir, "x86_64-w64-mingw32-cc"), compiler.Path)
}

func TestExecProberMissingCommand(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	_, err := ExecProber{}.Probe(context.Background(), "definitely-not-a-compiler")
	assert.Error(t, err)
}
