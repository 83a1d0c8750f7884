package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soundsend/build-tools/pkg/buildsys"
	"github.com/soundsend/build-tools/pkg/proxy"
	"github.com/soundsend/build-tools/pkg/toolchain"
)

var linkerCmd = &cobra.Command{
	Use:   "linker [--target triple --] [linker arguments]",
	Short: "Forwards the arguments to the resolved linker",
	Long: `Resolves the linker for the target and runs it with the remaining arguments unchanged. The exit code
is the linker's exit code.

Flags are not parsed so the command can stand in for a linker. The target comes from $` + proxy.TargetEnv + `
unless the arguments start with --target triple followed by --.`,
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		triple, args := linkerArgs(args)
		if triple == "" {
			triple = os.Getenv(proxy.TargetEnv)
		}

		target, err := toolchain.ParseTriple(triple)
		if err != nil {
			return err
		}

		ctx, host, resolver, err := toolchainSetup(cmd)
		if err != nil {
			return err
		}

		code, err := proxy.New().Link(ctx, resolver, host, target, args)
		if err != nil {
			buildsys.Log(ctx).Error().Err(err).Msgf("failed to link for %s", target)
		}
		if code != 0 {
			return &exitError{code: code}
		}
		return nil
	},
}

// linkerArgs splits off a leading "--target triple --" (or "--target=triple --"). Without the separator
// everything belongs to the linker.
func linkerArgs(args []string) (string, []string) {
	if len(args) < 2 {
		return "", args
	}

	var triple string
	rest := args[1:]
	switch {
	case args[0] == "--target":
		triple = args[1]
		rest = args[2:]
	case strings.HasPrefix(args[0], "--target="):
		triple = strings.TrimPrefix(args[0], "--target=")
	default:
		return "", args
	}

	if len(rest) == 0 || rest[0] != "--" {
		return "", args
	}
	return triple, rest[1:]
}

func init() {
	rootCmd.AddCommand(linkerCmd)
}
