package toolchain

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shirou/gopsutil/v3/host"
)

// HostPlatform is the OS / architecture pair the orchestrator runs on
type HostPlatform struct {
	OS   OS
	Arch Arch
}

func (h HostPlatform) String() string {
	return fmt.Sprintf("%s/%s", h.OS, h.Arch)
}

// Matches returns true if the default compiler on this host produces code for the given target
func (h HostPlatform) Matches(target TargetTriple) bool {
	if target.IsNative() {
		return true
	}

	return target.OS == h.OS && target.Arch == h.Arch
}

// Triple returns the explicit triple that corresponds to this host or Native if none of the known triples match
func (h HostPlatform) Triple() TargetTriple {
	for _, triple := range KnownTriples() {
		if h.Matches(triple) {
			return triple
		}
	}

	return Native
}

// HostDetector determines the platform of the current machine
type HostDetector interface {
	Detect(ctx context.Context) (HostPlatform, error)
}

// StaticHost always reports the same platform. Used for config overrides and tests.
type StaticHost HostPlatform

// Detect implements HostDetector
func (s StaticHost) Detect(context.Context) (HostPlatform, error) {
	return HostPlatform(s), nil
}

// SystemHost asks the kernel for the machine architecture. This matters if the process itself runs under
// emulation (i.e. an x86_64 binary on an arm64 machine) since runtime.GOARCH would report the wrong host.
type SystemHost struct{}

// Detect implements HostDetector
func (SystemHost) Detect(ctx context.Context) (HostPlatform, error) {
	result := HostPlatform{
		OS:   normalizeOS(runtime.GOOS),
		Arch: normalizeArch(runtime.GOARCH),
	}

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return result, eris.Wrap(err, "failed to query host information")
	}

	if info.OS != "" {
		result.OS = normalizeOS(info.OS)
	}
	if info.KernelArch != "" {
		result.Arch = normalizeArch(info.KernelArch)
	}

	return result, nil
}

// ParseHost parses an override in the form "os/arch" (i.e. "linux/aarch64")
func ParseHost(value string) (HostPlatform, error) {
	parts := strings.SplitN(value, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return HostPlatform{}, eris.Errorf("invalid host %q, expected os/arch", value)
	}

	return HostPlatform{
		OS:   normalizeOS(parts[0]),
		Arch: normalizeArch(parts[1]),
	}, nil
}

// DetectHost returns the override if one was given and falls back to asking the system otherwise
func DetectHost(ctx context.Context, override string) (HostPlatform, error) {
	var detector HostDetector = SystemHost{}
	if override != "" {
		platform, err := ParseHost(override)
		if err != nil {
			return HostPlatform{}, err
		}
		detector = StaticHost(platform)
	}

	return detector.Detect(ctx)
}

func normalizeArch(arch string) Arch {
	switch strings.ToLower(arch) {
	case "amd64", "x64", "x86_64":
		return ArchX86_64
	case "arm64", "aarch64", "armv8", "armv8l":
		return ArchAarch64
	}

	return Arch(strings.ToLower(arch))
}

func normalizeOS(name string) OS {
	return OS(strings.ToLower(name))
}
