package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/soundsend/build-tools/pkg"
	"github.com/soundsend/build-tools/pkg/buildsys"
	"github.com/soundsend/build-tools/pkg/config"
	"github.com/soundsend/build-tools/pkg/toolchain"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve triple",
	Short: "Prints the compiler that links for the given target on this host",
	Long: `Walks the candidate list for the target triple and prints the first compiler that runs.
Pass "native" to see the host's default compiler.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := toolchain.ParseTriple(args[0])
		if err != nil {
			return err
		}

		ctx, host, resolver, err := toolchainSetup(cmd)
		if err != nil {
			return err
		}

		compiler, err := resolver.Resolve(ctx, host, target)
		if err != nil {
			var notFound *toolchain.NotFoundError
			if errors.As(err, &notFound) {
				for _, attempt := range notFound.Attempts {
					pkg.PrintError(attempt.String())
				}
			}
			return err
		}

		fmt.Println(compiler)
		return nil
	},
}

// toolchainSetup prepares host detection and resolution without requiring a Cargo project. The project's
// xbuild.toml still applies if the working directory belongs to one.
func toolchainSetup(cmd *cobra.Command) (context.Context, toolchain.HostPlatform, *toolchain.Resolver, error) {
	var host toolchain.HostPlatform

	project, err := cmd.Flags().GetString("project")
	if err != nil {
		return nil, host, nil, err
	}

	root, err := pkg.GetProjectRoot(project)
	if err != nil {
		root = project
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, host, nil, err
	}

	err = applyFlags(cmd, cfg)
	if err != nil {
		return nil, host, nil, err
	}

	err = cfg.Validate()
	if err != nil {
		return nil, host, nil, err
	}

	// stdout belongs to the compiler; keep logging on stderr
	logger := zerolog.New(NewConsoleWriter(os.Stderr)).Level(cfg.LogLevel())
	ctx := buildsys.WithLogger(cmd.Context(), &logger)

	host, err = toolchain.DetectHost(ctx, cfg.Toolchain.Host)
	if err != nil {
		return nil, host, nil, err
	}

	resolver := toolchain.NewResolver(toolchain.ExecProber{})
	resolver.Candidates = cfg.Candidates()
	resolver.DefaultCompiler = cfg.Toolchain.DefaultCompiler

	return ctx, host, resolver, nil
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
