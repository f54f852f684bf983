package config

import (
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"gopkg.in/ini.v1"
)

// equivDeleteSections are dropped wholesale before an EquivConfig comparison:
// they record per-host/per-run state that two otherwise-identical profiles
// will legitimately differ on (spec §4.3).
var equivDeleteSections = map[string]bool{
	"mounts": true, "configs": true, "env": true,
	"apps": true, "app_flags": true, "startup": true,
}

// equivDeleteKeys are dropped from [base] before an EquivConfig comparison,
// keyed by section name.
var equivDeleteKeys = map[string][]string{
	"base": {
		"name", "includes", "home", "config_hardlinks",
		"nvidia", "nvidia_ctk", "shm_size", "pids_limit", "log_driver", "log_opts",
	},
}

// EquivConfig reports whether two profile INI texts are equivalent after
// normalization: delete the sections/keys listed above, then compare the
// remaining section/key/value triples irrespective of declaration order
// (spec §4.3, used by register_container to decide whether an existing
// container's configuration already matches the requested one).
func EquivConfig(a, b string) (bool, error) {
	na, err := normalizeForEquiv(a)
	if err != nil {
		return false, err
	}
	nb, err := normalizeForEquiv(b)
	if err != nil {
		return false, err
	}
	return na == nb, nil
}

// normalizeForEquiv parses raw INI text, strips the equivalence-exempt
// sections/keys, and renders a canonical (sorted) text form suitable for
// direct string comparison.
func normalizeForEquiv(raw string) (string, error) {
	f, err := ini.LoadSources(ini.LoadOptions{AllowBooleanKeys: true, KeyValueDelimiters: "="}, []byte(raw))
	if err != nil {
		return "", err
	}

	var sections []string
	for _, section := range f.Sections() {
		name := section.Name()
		if name == ini.DefaultSection || equivDeleteSections[name] {
			continue
		}
		dropped := equivDeleteKeys[name]
		var lines []string
		for _, key := range section.Keys() {
			if contains(dropped, key.Name()) {
				continue
			}
			lines = append(lines, key.Name()+"="+key.Value())
		}
		sort.Strings(lines)
		sections = append(sections, "["+name+"]\n"+strings.Join(lines, "\n"))
	}
	sort.Strings(sections)
	return strings.Join(sections, "\n\n"), nil
}

// DiffConfig renders a unified diff between the normalized forms of a and b,
// for debug logging when a forced orphan reassignment adopts a tombstoned
// container whose configuration was not EquivConfig-equivalent to the new
// one (spec §4.3, ForceOwnOrphans).
func DiffConfig(a, b string) (string, error) {
	na, err := normalizeForEquiv(a)
	if err != nil {
		return "", err
	}
	nb, err := normalizeForEquiv(b)
	if err != nil {
		return "", err
	}
	if na == nb {
		return "", nil
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(na),
		B:        difflib.SplitLines(nb),
		FromFile: "tombstoned",
		ToFile:   "requested",
		Context:  2,
	}
	return difflib.GetUnifiedDiffString(diff)
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
