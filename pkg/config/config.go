package config

import (
	"path/filepath"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/kballard/go-shellquote"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/soundsend/build-tools/pkg/buildsys"
	"github.com/soundsend/build-tools/pkg/dist"
	"github.com/soundsend/build-tools/pkg/toolchain"
)

// FileName is looked up in the project root
const FileName = "xbuild.toml"

// Config describes all configuration options
type Config struct {
	Cargo      string `default:"cargo" toml:"cargo" usage:"cargo executable"`
	CargoArgs  string `toml:"cargo_args" usage:"Extra arguments for every cargo build (shell quoted)"`
	TargetDir  string `default:"target/xbuild" toml:"target_dir" usage:"Parent of the per-job target directories"`
	Matrix     string `default:"matrix.star" toml:"matrix" usage:"Starlark script that replaces the release matrix if it exists"`
	Parallel   int    `default:"1" toml:"parallel" usage:"Number of jobs to run at the same time"`
	DryRun     bool   `toml:"dry_run" usage:"Only print the commands"`
	Report     string `toml:"report" usage:"Write a YAML run report to this path"`
	Dist       string `toml:"dist" usage:"Pack the built binaries into this archive"`
	DistFormat string `default:"tar.xz" toml:"dist_format" usage:"Archive format (tar.xz or tar.br)"`
	Log        struct {
		Level string `default:"info" toml:"level"`
		JSON  bool   `default:"false" toml:"json" usage:"Output JSONND instead of pretty console messages"`
	} `toml:"log"`
	Release struct {
		AudioFeature   string `default:"cpal" toml:"audio_feature" usage:"Feature that enables audio capture"`
		Receiver       string `default:"udp_reciever" toml:"receiver"`
		ReceiverTarget string `default:"x86_64-unknown-linux-gnu" toml:"receiver_target"`
		Sender         string `default:"udp_sender" toml:"sender"`
		SenderTarget   string `default:"x86_64-pc-windows-gnu" toml:"sender_target"`
	} `toml:"release"`
	Verify struct {
		Skip        bool   `default:"false" toml:"skip"`
		MaxWidth    int    `default:"100" toml:"max_width" usage:"rustfmt max_width"`
		ClippyArgs  string `default:"-D warnings" toml:"clippy_args" usage:"Arguments passed to clippy after -- (shell quoted)"`
		TestTarget  string `default:"native" toml:"test_target" usage:"Triple the tests are built for"`
		RustVersion bool   `default:"true" toml:"rust_version" usage:"Check rustc against the manifest's rust-version"`
	} `toml:"verify"`
	Toolchain struct {
		Host            string `toml:"host" usage:"Override the detected host (i.e. linux/x86_64)"`
		DefaultCompiler string `default:"cc" toml:"default_compiler"`
		Candidates      struct {
			LinuxX86_64   []string `toml:"x86_64-unknown-linux-gnu"`
			LinuxAarch64  []string `toml:"aarch64-unknown-linux-gnu"`
			WindowsX86_64 []string `toml:"x86_64-pc-windows-gnu"`
		} `toml:"candidates"`
	} `toml:"toolchain"`
}

var logLevels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object. Command line flags are
// handled by cobra and applied after loading.
func Loader(projectRoot string) (*Config, *aconfig.Loader) {
	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix:        "XBUILD",
		SkipFlags:        true,
		AllowUnknownEnvs: true,
		Files:            []string{filepath.Join(projectRoot, FileName)},
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads defaults, xbuild.toml and the environment
func Load(projectRoot string) (*Config, error) {
	cfg, loader := Loader(projectRoot)
	err := loader.Load()
	if err != nil {
		return nil, eris.Wrap(err, "failed to load config")
	}
	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	if cfg.Parallel < 1 {
		return eris.Errorf(`Invalid value for parallel: %d (must be at least 1)`, cfg.Parallel)
	}

	if cfg.Verify.MaxWidth < 0 {
		return eris.Errorf(`Invalid value for verify.max_width: %d`, cfg.Verify.MaxWidth)
	}

	_, err := dist.ParseFormat(cfg.DistFormat)
	if err != nil {
		return eris.Wrap(err, `Invalid value for dist_format`)
	}

	_, err = cfg.ReleaseOptions()
	if err != nil {
		return err
	}

	_, err = cfg.TestTarget()
	if err != nil {
		return err
	}

	if cfg.Toolchain.Host != "" {
		_, err = toolchain.ParseHost(cfg.Toolchain.Host)
		if err != nil {
			return eris.Wrap(err, `Invalid value for toolchain.host`)
		}
	}

	_, err = cfg.ClippyArgs()
	if err != nil {
		return err
	}

	_, err = cfg.ExtraCargoArgs()
	return err
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// ReleaseOptions returns the parameters of the canonical release matrix
func (cfg *Config) ReleaseOptions() (buildsys.ReleaseOptions, error) {
	opts := buildsys.ReleaseOptions{
		AudioFeature: cfg.Release.AudioFeature,
		Receiver:     cfg.Release.Receiver,
		Sender:       cfg.Release.Sender,
	}

	var err error
	opts.ReceiverTarget, err = toolchain.ParseTriple(cfg.Release.ReceiverTarget)
	if err != nil {
		return opts, eris.Wrap(err, `Invalid value for release.receiver_target`)
	}

	opts.SenderTarget, err = toolchain.ParseTriple(cfg.Release.SenderTarget)
	if err != nil {
		return opts, eris.Wrap(err, `Invalid value for release.sender_target`)
	}

	return opts, nil
}

// TestTarget returns the triple the verification tests are built for
func (cfg *Config) TestTarget() (toolchain.TargetTriple, error) {
	target, err := toolchain.ParseTriple(cfg.Verify.TestTarget)
	if err != nil {
		return target, eris.Wrap(err, `Invalid value for verify.test_target`)
	}
	return target, nil
}

// ClippyArgs splits verify.clippy_args like a shell would
func (cfg *Config) ClippyArgs() ([]string, error) {
	args, err := shellquote.Split(cfg.Verify.ClippyArgs)
	if err != nil {
		return nil, eris.Wrap(err, `Invalid value for verify.clippy_args`)
	}
	return args, nil
}

// ExtraCargoArgs splits cargo_args like a shell would
func (cfg *Config) ExtraCargoArgs() ([]string, error) {
	args, err := shellquote.Split(cfg.CargoArgs)
	if err != nil {
		return nil, eris.Wrap(err, `Invalid value for cargo_args`)
	}
	return args, nil
}

// Candidates returns the configured candidate lists merged over the defaults
func (cfg *Config) Candidates() map[toolchain.TargetTriple]toolchain.CandidateList {
	candidates := toolchain.DefaultCandidates()

	overrides := map[toolchain.TargetTriple][]string{
		toolchain.LinuxX86_64:   cfg.Toolchain.Candidates.LinuxX86_64,
		toolchain.LinuxAarch64:  cfg.Toolchain.Candidates.LinuxAarch64,
		toolchain.WindowsX86_64: cfg.Toolchain.Candidates.WindowsX86_64,
	}
	for triple, names := range overrides {
		if len(names) > 0 {
			candidates[triple] = toolchain.ParseCandidates(names)
		}
	}

	return candidates
}
