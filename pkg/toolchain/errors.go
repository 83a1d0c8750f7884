package toolchain

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrToolchainNotFound is matched by every *NotFoundError
var ErrToolchainNotFound = eris.New("toolchain not found")

// NotFoundError is returned if none of a target's candidates could be used. Installing one of the
// listed compilers is the only fix; retrying won't help.
type NotFoundError struct {
	Target   TargetTriple
	Host     HostPlatform
	Attempts []Attempt
}

func (e *NotFoundError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("no toolchain found for %s on %s: no candidates configured", e.Target, e.Host)
	}

	tried := make([]string, len(e.Attempts))
	for idx, attempt := range e.Attempts {
		tried[idx] = attempt.String()
	}

	return fmt.Sprintf("no toolchain found for %s on %s, tried: %s", e.Target, e.Host, strings.Join(tried, ", "))
}

func (e *NotFoundError) Unwrap() error {
	return ErrToolchainNotFound
}

// Candidates returns the names that were tried, in order
func (e *NotFoundError) Candidates() []string {
	names := make([]string, len(e.Attempts))
	for idx, attempt := range e.Attempts {
		names[idx] = attempt.Candidate
	}
	return names
}
