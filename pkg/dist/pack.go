// Package dist packs the binaries of a release run into a single compressed tarball.
package dist

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	"github.com/ulikunitz/xz"

	"github.com/soundsend/build-tools/pkg/buildsys"
	"github.com/soundsend/build-tools/pkg/manifest"
	"github.com/soundsend/build-tools/pkg/orchestrator"
	"github.com/soundsend/build-tools/pkg/toolchain"
)

// Format selects the compression of the archive
type Format string

const (
	FormatXZ     Format = "tar.xz"
	FormatBrotli Format = "tar.br"
)

// ParseFormat validates a format name
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case FormatXZ, FormatBrotli:
		return Format(value), nil
	case "":
		return FormatXZ, nil
	}
	return "", eris.Errorf("unknown archive format %s (expected %s or %s)", value, FormatXZ, FormatBrotli)
}

// Entry is a single file inside the archive
type Entry struct {
	// Name is the slash separated path inside the archive
	Name   string
	Source string
}

// Collect lists the binaries produced by every successful job. Each job gets its own directory named after its
// slug. Jobs without a binary filter contribute every binary in the manifest whose required features they enable.
func Collect(report *orchestrator.Report, planner *buildsys.Planner, man *manifest.Manifest) []Entry {
	entries := make([]Entry, 0)
	for _, result := range report.Succeeded() {
		job := result.Job

		binaries := []string{job.Binary}
		if job.Binary == "" {
			binaries = make([]string, 0)
			for _, name := range man.BinaryNames() {
				if bin, _ := man.Binary(name); hasFeatures(job, bin.RequiredFeatures) {
					binaries = append(binaries, name)
				}
			}
		}

		dir := planner.ArtifactDir(job)
		suffix := job.Target.ExeSuffix(planner.Host)
		for _, name := range binaries {
			entries = append(entries, Entry{
				Name:   job.Slug() + "/" + name + suffix,
				Source: filepath.Join(dir, name+suffix),
			})
		}
	}

	return entries
}

// without --bin cargo silently skips binaries whose required features aren't enabled
func hasFeatures(job buildsys.JobSpec, required []string) bool {
	enabled := make(map[string]bool, len(job.Features))
	for _, feature := range job.Features {
		enabled[feature] = true
	}
	for _, feature := range required {
		if !enabled[feature] {
			return false
		}
	}
	return true
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func compressor(w io.Writer, format Format) (io.WriteCloser, error) {
	switch format {
	case FormatXZ:
		return xz.NewWriter(w)
	case FormatBrotli:
		return brotli.NewWriterLevel(w, brotli.BestCompression), nil
	}
	return nopCloser{w}, eris.Errorf("unknown archive format %s", format)
}

// Pack writes the entries into a compressed tarball at filename
func Pack(ctx context.Context, filename string, format Format, entries []Entry) error {
	if len(entries) == 0 {
		return eris.New("there are no artifacts to pack")
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	err := os.MkdirAll(filepath.Dir(filename), 0o770)
	if err != nil {
		return eris.Wrapf(err, "failed to create directory for %s", filename)
	}

	hdl, err := os.Create(filename)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", filename)
	}
	defer hdl.Close()

	cw, err := compressor(hdl, format)
	if err != nil {
		return err
	}

	tw := tar.NewWriter(cw)
	buffer := make([]byte, 32*1024)
	for _, entry := range sorted {
		if err := ctx.Err(); err != nil {
			return err
		}

		buildsys.Log(ctx).Debug().Str("source", entry.Source).Msgf("packing %s", entry.Name)
		err = writeEntry(tw, entry, buffer)
		if err != nil {
			return err
		}
	}

	err = tw.Close()
	if err != nil {
		return eris.Wrap(err, "failed to finish tar stream")
	}

	err = cw.Close()
	if err != nil {
		return eris.Wrap(err, "failed to finish compression")
	}

	return hdl.Close()
}

func writeEntry(tw *tar.Writer, entry Entry, buffer []byte) error {
	f, err := os.Open(entry.Source)
	if err != nil {
		return eris.Wrapf(err, "failed to open artifact %s", entry.Source)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return eris.Wrapf(err, "failed to stat %s", entry.Source)
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return eris.Wrapf(err, "failed to build tar header for %s", entry.Source)
	}
	header.Name = strings.TrimPrefix(filepath.ToSlash(entry.Name), "/")
	header.Mode = 0o755

	err = tw.WriteHeader(header)
	if err != nil {
		return eris.Wrapf(err, "failed to write header for %s", entry.Name)
	}

	_, err = io.CopyBuffer(tw, f, buffer)
	if err != nil {
		return eris.Wrapf(err, "failed to write %s", entry.Name)
	}
	return nil
}

// DefaultName returns the archive name for a release of the given package
func DefaultName(pkg, version string, host toolchain.HostPlatform, format Format) string {
	name := pkg
	if version != "" {
		name += "-" + version
	}
	return name + "-" + strings.ReplaceAll(host.String(), "/", "-") + "." + string(format)
}
