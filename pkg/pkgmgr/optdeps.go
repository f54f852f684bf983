package pkgmgr

import (
	"strconv"
	"strings"

	"github.com/sumwale/ybox-sub000/pkg/config"
)

// OptDep is one line of a descriptor's opt_deps output, templated as
// "PKG:<name>::::<description>::::<level>::::<installed>" (spec §4.6).
type OptDep struct {
	Name        string
	Description string
	Level       int
	Installed   bool
}

// ParseOptDepLine parses a single opt_deps output line, returning false if it
// is not a well-formed "PKG:..." entry (blank lines and engine banners are
// silently skipped by the caller).
func ParseOptDepLine(line string) (OptDep, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "PKG:") {
		return OptDep{}, false
	}
	fields := strings.Split(strings.TrimPrefix(line, "PKG:"), config.Consts.DefaultFieldSeparator)
	if len(fields) != 4 {
		return OptDep{}, false
	}
	level, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return OptDep{}, false
	}
	installed := strings.EqualFold(strings.TrimSpace(fields[3]), "true")
	return OptDep{
		Name:        strings.TrimSpace(fields[0]),
		Description: strings.TrimSpace(fields[1]),
		Level:       level,
		Installed:   installed,
	}, true
}

// ParseOptDeps parses every "PKG:" line in output.
func ParseOptDeps(output string) []OptDep {
	var deps []OptDep
	for _, line := range strings.Split(output, "\n") {
		if dep, ok := ParseOptDepLine(line); ok {
			deps = append(deps, dep)
		}
	}
	return deps
}

// ComputeOptionalDeps splits deps into the pre-selected ("starred") level-1
// set and the full candidate list offered to the user (spec supplement #6):
// level-1 entries are pre-selected, level-2 entries are offered unstarred.
func ComputeOptionalDeps(deps []OptDep) (starred []OptDep, all []OptDep) {
	for _, d := range deps {
		if d.Level == 1 {
			starred = append(starred, d)
		}
		all = append(all, d)
	}
	return starred, all
}

// InstalledOptionalDeps filters deps to those already installed.
func InstalledOptionalDeps(deps []OptDep) []OptDep {
	var out []OptDep
	for _, d := range deps {
		if d.Installed {
			out = append(out, d)
		}
	}
	return out
}
