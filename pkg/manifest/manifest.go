// Package manifest reads the parts of a Cargo.toml the build orchestrator needs: the binaries a package
// produces, the features it declares and the minimum supported Rust version.
package manifest

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/rotisserie/eris"
)

// FileName is the manifest's name inside the project root
const FileName = "Cargo.toml"

// Binary is a [[bin]] target, either declared explicitly or discovered the way cargo does
type Binary struct {
	Name             string   `toml:"name"`
	Path             string   `toml:"path"`
	RequiredFeatures []string `toml:"required-features"`
}

// Package holds the [package] table
type Package struct {
	Name        string `toml:"name"`
	Version     string `toml:"version"`
	RustVersion string `toml:"rust-version"`
	AutoBins    *bool  `toml:"autobins"`
}

// Dependencies maps a dependency's name to either its version string or its detail table
type Dependencies map[string]interface{}

// Optional returns true if name is declared with optional = true
func (d Dependencies) Optional(name string) bool {
	detail, ok := d[name].(map[string]interface{})
	if !ok {
		return false
	}

	optional, _ := detail["optional"].(bool)
	return optional
}

// Platform holds a [target.<cfg>] table
type Platform struct {
	Dependencies      Dependencies `toml:"dependencies"`
	BuildDependencies Dependencies `toml:"build-dependencies"`
}

// Manifest is the decoded Cargo.toml
type Manifest struct {
	Package           Package             `toml:"package"`
	Features          map[string][]string `toml:"features"`
	Dependencies      Dependencies        `toml:"dependencies"`
	BuildDependencies Dependencies        `toml:"build-dependencies"`
	Target            map[string]Platform `toml:"target"`
	Bins              []Binary            `toml:"bin"`
}

// Load reads and parses the Cargo.toml in projectRoot and adds auto-discovered binaries
func Load(projectRoot string) (*Manifest, error) {
	path := filepath.Join(projectRoot, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read %s", path)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse %s", path)
	}

	if m.Package.AutoBins == nil || *m.Package.AutoBins {
		err = m.discoverBinaries(projectRoot)
		if err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Parse decodes a Cargo.toml without looking at the filesystem
func Parse(data []byte) (*Manifest, error) {
	m := new(Manifest)
	err := toml.Unmarshal(data, m)
	if err != nil {
		return nil, err
	}

	if m.Features == nil {
		m.Features = map[string][]string{}
	}

	for idx, bin := range m.Bins {
		if bin.Name == "" {
			return nil, eris.Errorf("[[bin]] entry #%d has no name", idx+1)
		}
	}

	return m, nil
}

// discoverBinaries mirrors cargo's target auto-discovery: src/main.rs is named after the package and every
// file (or directory with a main.rs) in src/bin becomes a binary. Explicit [[bin]] entries take precedence.
func (m *Manifest) discoverBinaries(projectRoot string) error {
	known := make(map[string]bool, len(m.Bins))
	for _, bin := range m.Bins {
		known[bin.Name] = true
	}

	add := func(name, path string) {
		if !known[name] {
			known[name] = true
			m.Bins = append(m.Bins, Binary{Name: name, Path: filepath.ToSlash(path)})
		}
	}

	mainPath := filepath.Join("src", "main.rs")
	if isFile(filepath.Join(projectRoot, mainPath)) && m.Package.Name != "" {
		add(m.Package.Name, mainPath)
	}

	binDir := filepath.Join(projectRoot, "src", "bin")
	entries, err := os.ReadDir(binDir)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return nil
		}
		return eris.Wrapf(err, "failed to list %s", binDir)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			if isFile(filepath.Join(binDir, name, "main.rs")) {
				add(name, filepath.Join("src", "bin", name, "main.rs"))
			}
		} else if strings.HasSuffix(name, ".rs") {
			add(strings.TrimSuffix(name, ".rs"), filepath.Join("src", "bin", name))
		}
	}

	return nil
}

// Binary looks up a binary by name
func (m *Manifest) Binary(name string) (Binary, bool) {
	for _, bin := range m.Bins {
		if bin.Name == name {
			return bin, true
		}
	}
	return Binary{}, false
}

// BinaryNames returns the sorted names of all binaries
func (m *Manifest) BinaryNames() []string {
	names := make([]string, len(m.Bins))
	for idx, bin := range m.Bins {
		names[idx] = bin.Name
	}
	sort.Strings(names)
	return names
}

// HasFeature returns true if cargo accepts name in --features: either it's declared in [features] or it's an
// optional dependency. An optional dependency only gets its implicit feature as long as no feature refers to it
// with the dep: prefix.
func (m *Manifest) HasFeature(name string) bool {
	if _, ok := m.Features[name]; ok {
		return true
	}

	if !m.optionalDependency(name) {
		return false
	}

	for _, enables := range m.Features {
		for _, item := range enables {
			if item == "dep:"+name {
				return false
			}
		}
	}
	return true
}

// optionalDependency looks through [dependencies], [build-dependencies] and their platform-specific variants.
// Dev-dependencies can't be optional.
func (m *Manifest) optionalDependency(name string) bool {
	if m.Dependencies.Optional(name) || m.BuildDependencies.Optional(name) {
		return true
	}

	for _, platform := range m.Target {
		if platform.Dependencies.Optional(name) || platform.BuildDependencies.Optional(name) {
			return true
		}
	}
	return false
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
