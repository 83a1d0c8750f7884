package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundsend/build-tools/pkg/buildsys"
	"github.com/soundsend/build-tools/pkg/toolchain"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "cargo", cfg.Cargo)
	assert.Equal(t, 1, cfg.Parallel)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel())
	assert.Equal(t, 100, cfg.Verify.MaxWidth)

	opts, err := cfg.ReleaseOptions()
	require.NoError(t, err)
	assert.Equal(t, buildsys.DefaultReleaseOptions(), opts)

	args, err := cfg.ClippyArgs()
	require.NoError(t, err)
	assert.Equal(t, []string{"-D", "warnings"}, args)

	target, err := cfg.TestTarget()
	require.NoError(t, err)
	assert.True(t, target.IsNative())
}

func TestLoadFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte(`
parallel = 3

[verify]
max_width = 120
`), 0o644))

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Parallel)
	assert.Equal(t, 120, cfg.Verify.MaxWidth)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("XBUILD_PARALLEL", "4")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Parallel)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(cfg *Config){
		"log level":      func(cfg *Config) { cfg.Log.Level = "verbose" },
		"parallel":       func(cfg *Config) { cfg.Parallel = 0 },
		"dist format":    func(cfg *Config) { cfg.DistFormat = "zip" },
		"sender target":  func(cfg *Config) { cfg.Release.SenderTarget = "x86_64-apple-darwin" },
		"test target":    func(cfg *Config) { cfg.Verify.TestTarget = "wasm32-unknown-unknown" },
		"host":           func(cfg *Config) { cfg.Toolchain.Host = "plan9" },
		"clippy args":    func(cfg *Config) { cfg.Verify.ClippyArgs = `-D "warnings` },
		"cargo args":     func(cfg *Config) { cfg.CargoArgs = `--config 'x` },
		"negative width": func(cfg *Config) { cfg.Verify.MaxWidth = -1 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(t.TempDir())
			require.NoError(t, err)

			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestCandidateOverrides(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	cfg.Toolchain.Candidates.WindowsX86_64 = []string{"clang-17", "x86_64-w64-mingw32-gcc"}

	candidates := cfg.Candidates()
	assert.Equal(t, []string{"clang-17", "x86_64-w64-mingw32-gcc"}, candidates[toolchain.WindowsX86_64].Names())
	assert.True(t, candidates[toolchain.WindowsX86_64][0].PassTarget)
	assert.Equal(t, toolchain.DefaultCandidates()[toolchain.LinuxX86_64], candidates[toolchain.LinuxX86_64])
}
