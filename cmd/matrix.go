package cmd

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/soundsend/build-tools/pkg"
)

var matrixCmd = &cobra.Command{
	Use:   "matrix",
	Short: "Lists the jobs with their toolchain and command",
	Long: `Resolves the toolchain for every job of the build matrix and prints the cargo command that would
run. Nothing is executed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}

		matrix, err := s.loadMatrix()
		if err != nil {
			return err
		}

		pkg.PrintTask(fmt.Sprintf("%d jobs for %s", len(matrix), s.host))
		unresolved := make([]string, 0)
		for _, job := range matrix {
			command, compiler, err := s.planner.Plan(s.ctx, job)
			if err != nil {
				pkg.PrintError(fmt.Sprintf("%s: %s", job.ID(), err))
				unresolved = append(unresolved, job.ID())
				continue
			}

			pkg.PrintSubtask(job.ID())
			fmt.Printf("     linker:  %s\n", compiler)
			fmt.Printf("     output:  %s\n", s.planner.ArtifactDir(job))
			fmt.Printf("     command: %s\n", command)
		}

		if len(unresolved) > 0 {
			return eris.Errorf("no toolchain for %s", strings.Join(unresolved, ", "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(matrixCmd)
	matrixCmd.Flags().String("matrix", "matrix.star", "Starlark script that declares the build matrix")
}
