package toolchain

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Arch is a CPU architecture as it appears in a target triple
type Arch string

// OS is an operating system as it appears in a target triple
type OS string

const (
	ArchX86_64  Arch = "x86_64"
	ArchAarch64 Arch = "aarch64"

	OSLinux   OS = "linux"
	OSWindows OS = "windows"
	OSDarwin  OS = "darwin"
)

// TargetTriple identifies the architecture, vendor, OS and ABI a binary is built for.
// The zero value is the native pseudo target which always means "whatever the host builds by default".
type TargetTriple struct {
	Arch   Arch
	Vendor string
	OS     OS
	ABI    string
}

var (
	Native        = TargetTriple{}
	LinuxX86_64   = TargetTriple{Arch: ArchX86_64, Vendor: "unknown", OS: OSLinux, ABI: "gnu"}
	LinuxAarch64  = TargetTriple{Arch: ArchAarch64, Vendor: "unknown", OS: OSLinux, ABI: "gnu"}
	WindowsX86_64 = TargetTriple{Arch: ArchX86_64, Vendor: "pc", OS: OSWindows, ABI: "gnu"}
)

const nativeName = "native"

// KnownTriples lists every explicit triple this tool can build for
func KnownTriples() []TargetTriple {
	return []TargetTriple{LinuxX86_64, LinuxAarch64, WindowsX86_64}
}

// ParseTriple converts a triple string (or "native") into a TargetTriple. Only the known triples are accepted.
func ParseTriple(value string) (TargetTriple, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == nativeName {
		return Native, nil
	}

	for _, triple := range KnownTriples() {
		if triple.String() == value {
			return triple, nil
		}
	}

	return Native, eris.Errorf("unsupported target triple %s", value)
}

// IsNative returns true for the native pseudo target
func (t TargetTriple) IsNative() bool {
	return t == Native
}

func (t TargetTriple) String() string {
	if t.IsNative() {
		return nativeName
	}

	return strings.Join([]string{string(t.Arch), t.Vendor, string(t.OS), t.ABI}, "-")
}

// EnvName returns the triple in the form cargo expects inside CARGO_TARGET_<TRIPLE>_* variables
func (t TargetTriple) EnvName() string {
	return strings.ToUpper(strings.ReplaceAll(t.String(), "-", "_"))
}

// ExeSuffix returns the file extension executables carry on this target's OS
func (t TargetTriple) ExeSuffix(host HostPlatform) string {
	targetOS := t.OS
	if t.IsNative() {
		targetOS = host.OS
	}

	if targetOS == OSWindows {
		return ".exe"
	}
	return ""
}
