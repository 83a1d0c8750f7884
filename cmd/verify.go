package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soundsend/build-tools/pkg"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Runs only the verification pipeline",
	Long:  `Checks formatting with rustfmt, lints with clippy and runs the test suite. Nothing is built for release.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}

		pipeline, err := s.verifyPipeline()
		if err != nil {
			return err
		}

		pkg.PrintTask("Verifying " + s.manifest.Package.Name)
		result := pipeline.Verify(s.ctx)
		for _, step := range result.Steps {
			if step.Name == result.Step && !result.Passed {
				pkg.FprintError(s.stderr, step.Name)
			} else {
				pkg.PrintSubtask(step.Name)
			}
		}

		if !result.Passed {
			if !s.streaming() && result.Output != "" {
				fmt.Fprintln(s.stderr, result.Output)
			}
			return result.Err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
