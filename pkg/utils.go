package pkg

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"

	"github.com/soundsend/build-tools/pkg/manifest"
)

// GetProjectRoot walks up from start until it finds a Cargo.toml
func GetProjectRoot(start string) (string, error) {
	mypath, err := filepath.Abs(start)
	if err != nil {
		return "", eris.Wrap(err, "Failed to determine the absolute path")
	}

	for {
		_, err := os.Stat(filepath.Join(mypath, manifest.FileName))
		if err == nil {
			return mypath, nil
		}

		if !errors.Is(err, os.ErrNotExist) {
			return "", eris.Wrap(err, "Error ocurred while searching for project root")
		}

		nextPath := filepath.Dir(mypath)
		if mypath == nextPath {
			break
		}
		mypath = nextPath
	}

	return "", eris.Errorf("Project root not found (no %s in %s or any parent)", manifest.FileName, start)
}

// GetRevision returns the commit checked out in the repository containing projectRoot. Projects outside of a git
// repository have no revision.
func GetRevision(projectRoot string) (string, error) {
	repo, err := git.PlainOpenWithOptions(projectRoot, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", nil
		}
		return "", eris.Wrapf(err, "Failed to open repository at %s", projectRoot)
	}

	head, err := repo.Head()
	if err != nil {
		return "", eris.Wrap(err, "Failed to resolve HEAD")
	}

	return head.Hash().String(), nil
}

func PrintTask(msg string) {
	colorstring.Printf("[blue][bold]==>[default] %s\n", msg)
}

func PrintSubtask(msg string) {
	colorstring.Printf("[green][bold]  ->[reset] %s\n", msg)
}

// PrintError writes to stderr so failures stay visible when stdout is redirected
func PrintError(msg string) {
	FprintError(os.Stderr, msg)
}

func FprintError(w io.Writer, msg string) {
	colorstring.Fprintf(w, "[red][bold]  ->[reset] %s\n", msg)
}
