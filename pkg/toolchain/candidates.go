package toolchain

import (
	"context"
	"strings"
)

// Candidate is a compiler command that may be able to link for a given target
type Candidate struct {
	Name string
	// PassTarget is set for compilers that need to be told which triple to produce code for (clang)
	PassTarget bool
}

// CandidateList is probed in order; the first runnable entry wins
type CandidateList []Candidate

// Attempt records why a candidate was rejected
type Attempt struct {
	Candidate string
	Reason    string
}

func (a Attempt) String() string {
	if a.Reason == "" {
		return a.Candidate
	}
	return a.Candidate + " (" + a.Reason + ")"
}

// Names returns the candidate names in priority order
func (l CandidateList) Names() []string {
	names := make([]string, len(l))
	for idx, item := range l {
		names[idx] = item.Name
	}
	return names
}

// First probes each candidate and returns the first one that runs. If nothing runs, ok is false and
// attempts contains one entry per candidate.
func (l CandidateList) First(ctx context.Context, prober Prober, target TargetTriple) (compiler Compiler, attempts []Attempt, ok bool) {
	attempts = make([]Attempt, 0, len(l))
	for _, candidate := range l {
		if ctx.Err() != nil {
			attempts = append(attempts, Attempt{Candidate: candidate.Name, Reason: ctx.Err().Error()})
			continue
		}

		path, err := prober.Probe(ctx, candidate.Name)
		if err != nil {
			attempts = append(attempts, Attempt{Candidate: candidate.Name, Reason: err.Error()})
			continue
		}

		compiler = Compiler{
			Name: candidate.Name,
			Path: path,
		}
		if candidate.PassTarget {
			compiler.Args = []string{"--target=" + target.String()}
		}

		return compiler, attempts, true
	}

	return Compiler{}, attempts, false
}

// ParseCandidates turns plain command names into a CandidateList. Clang-family names get the target flag.
func ParseCandidates(names []string) CandidateList {
	result := make(CandidateList, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		result = append(result, Candidate{
			Name:       name,
			PassTarget: strings.HasPrefix(name, "clang"),
		})
	}
	return result
}

// DefaultCandidates returns the built-in candidate lists: fully-qualified GNU cross compiler first, a shorter
// alias second and clang as the portable fallback.
func DefaultCandidates() map[TargetTriple]CandidateList {
	return map[TargetTriple]CandidateList{
		LinuxX86_64:   ParseCandidates([]string{"x86_64-linux-gnu-gcc", "x86_64-linux-gcc", "clang"}),
		LinuxAarch64:  ParseCandidates([]string{"aarch64-linux-gnu-gcc", "aarch64-linux-gcc", "clang"}),
		WindowsX86_64: ParseCandidates([]string{"x86_64-w64-mingw32-gcc", "x86_64-w64-mingw32-cc", "clang"}),
	}
}
