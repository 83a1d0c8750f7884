package buildsys

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/soundsend/build-tools/pkg/manifest"
	"github.com/soundsend/build-tools/pkg/toolchain"
)

// Profile is a cargo build profile
type Profile string

const (
	ProfileDebug   Profile = "debug"
	ProfileRelease Profile = "release"
)

// ParseProfile validates a profile name
func ParseProfile(value string) (Profile, error) {
	switch Profile(value) {
	case ProfileDebug, ProfileRelease:
		return Profile(value), nil
	case "":
		return ProfileDebug, nil
	}

	return "", eris.Errorf("unknown profile %s (expected debug or release)", value)
}

// JobSpec describes a single compiler invocation. Specs are built once at startup and never modified.
type JobSpec struct {
	Target   toolchain.TargetTriple
	Profile  Profile
	Features []string
	// Binary restricts the job to a single binary. Empty means all binaries.
	Binary string
}

// FeatureList returns the deduplicated, sorted feature names
func (j JobSpec) FeatureList() []string {
	seen := make(map[string]bool, len(j.Features))
	result := make([]string, 0, len(j.Features))
	for _, feature := range j.Features {
		if feature != "" && !seen[feature] {
			seen[feature] = true
			result = append(result, feature)
		}
	}

	sort.Strings(result)
	return result
}

// ID identifies the job in logs and reports, i.e. "native/release+cpal" or "x86_64-pc-windows-gnu/release/udp_sender"
func (j JobSpec) ID() string {
	id := fmt.Sprintf("%s/%s", j.Target, j.Profile)
	if features := j.FeatureList(); len(features) > 0 {
		id += "+" + strings.Join(features, ",")
	}
	if j.Binary != "" {
		id += "/" + j.Binary
	}
	return id
}

var slugReplacer = strings.NewReplacer("/", "-", "+", "-", ",", "-")

// Slug is a filesystem-safe version of the ID. Each job builds into its own target directory named after it.
func (j JobSpec) Slug() string {
	return slugReplacer.Replace(j.ID())
}

// WithManifest returns a copy of the job with the binary's required features merged into the feature set
func (j JobSpec) WithManifest(m *manifest.Manifest) JobSpec {
	if j.Binary == "" || m == nil {
		return j
	}

	bin, ok := m.Binary(j.Binary)
	if !ok || len(bin.RequiredFeatures) == 0 {
		return j
	}

	features := make([]string, 0, len(j.Features)+len(bin.RequiredFeatures))
	features = append(features, j.Features...)
	features = append(features, bin.RequiredFeatures...)
	j.Features = features
	j.Features = j.FeatureList()
	return j
}

// Validate checks the job against the project manifest
func (j JobSpec) Validate(m *manifest.Manifest) error {
	if j.Profile != ProfileDebug && j.Profile != ProfileRelease {
		return eris.Errorf("job %s: unknown profile %q", j.ID(), j.Profile)
	}

	if m == nil {
		return nil
	}

	if j.Binary != "" {
		if _, ok := m.Binary(j.Binary); !ok {
			return eris.Errorf("job %s: binary %s is not part of the project (known: %s)", j.ID(), j.Binary, strings.Join(m.BinaryNames(), ", "))
		}
	}

	for _, feature := range j.FeatureList() {
		if !m.HasFeature(feature) {
			return eris.Errorf("job %s: feature %s is not declared in %s", j.ID(), feature, manifest.FileName)
		}
	}

	return nil
}

// Matrix is the ordered list of jobs that make up a release. The order only affects log output.
type Matrix []JobSpec

// Validate checks every job and makes sure no two jobs share an output directory
func (m Matrix) Validate(man *manifest.Manifest) error {
	if len(m) == 0 {
		return eris.New("the build matrix is empty")
	}

	slugs := make(map[string]string, len(m))
	for _, job := range m {
		err := job.Validate(man)
		if err != nil {
			return err
		}

		slug := job.Slug()
		if other, ok := slugs[slug]; ok {
			return eris.Errorf("jobs %s and %s would write to the same output directory", other, job.ID())
		}
		slugs[slug] = job.ID()
	}

	return nil
}

// ErrBuildJobFailed is matched by every *JobError
var ErrBuildJobFailed = eris.New("build job failed")

// JobError reports a compiler invocation that exited with a non-zero status
type JobError struct {
	Job      string
	ExitCode int
	Output   string
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s failed with exit code %d", e.Job, e.ExitCode)
}

func (e *JobError) Unwrap() error {
	return ErrBuildJobFailed
}
