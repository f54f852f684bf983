package config

import (
	"fmt"
	"strings"

	"github.com/sumwale/ybox-sub000/pkg/env"
	"gopkg.in/ini.v1"
)

// distroKnownSections enumerates the top-level sections a distribution
// descriptor may declare (spec §3, entity Distribution Descriptor).
var distroKnownSections = map[string]bool{
	"base": true, "packages": true, "pkgmgr": true, "repo": true,
}

// distroBaseKeys enumerates the only keys [base] recognizes.
var distroBaseKeys = map[string]bool{
	"name": true, "includes": true, "image": true, "shared_root_dirs": true,
	"secondary_groups": true, "scripts": true, "configure_fastest_mirrors": true,
}

// SharedRootDirs returns the comma-separated base.shared_root_dirs list of
// paths bind-mounted from (and, during create, populated into) the shared
// root (spec §3, entity Distribution Descriptor).
func (d *DistributionDescriptor) SharedRootDirs() []string {
	return splitTrimmed(d.File.Section("base").Key("shared_root_dirs").String())
}

// ConfigureFastestMirrors reports base.configure_fastest_mirrors.
func (d *DistributionDescriptor) ConfigureFastestMirrors() bool {
	return d.File.Section("base").Key("configure_fastest_mirrors").MustBool(false)
}

// pkgmgrPlaceholders are the named placeholders a [pkgmgr] template may use
// (spec §4.6); unrecognized placeholders in a template are left unexpanded at
// execution time rather than rejected at load time, matching the original's
// string.Template-with-unused-keys tolerance.
var pkgmgrPlaceholders = []string{
	"packages", "package", "quiet", "level", "opt_dep", "opt_deps", "purge",
}

// DistributionDescriptor is the parsed representation of a distribution's
// package-manager and repository templates.
type DistributionDescriptor struct {
	File         *ini.File
	Distribution string
}

// LoadDistributionDescriptor reads and validates the descriptor for
// distribution, defaulting to "distros/<distribution>/distro.ini" under e's
// search paths, or a caller-supplied relative/absolute configFile.
func LoadDistributionDescriptor(e *env.Environment, distribution, configFile string) (*DistributionDescriptor, error) {
	relPath := DistributionConfigPath(distribution, configFile)
	resolved, err := e.SearchConfigPath(relPath)
	if err != nil {
		return nil, err
	}
	f, err := LoadINI(resolved, LoadOpts{Now: e.Now})
	if err != nil {
		return nil, err
	}
	if err := validateDistro(f); err != nil {
		return nil, err
	}
	return &DistributionDescriptor{File: f, Distribution: distribution}, nil
}

func validateDistro(f *ini.File) error {
	for _, section := range f.Sections() {
		name := section.Name()
		if name == ini.DefaultSection {
			continue
		}
		if !distroKnownSections[name] {
			return fmt.Errorf("unknown distribution descriptor section [%s]", name)
		}
		if name == "base" {
			for _, key := range section.Keys() {
				if !distroBaseKeys[key.Name()] {
					return fmt.Errorf("unknown key %q in distribution [base] section", key.Name())
				}
			}
		}
	}
	return nil
}

// Image returns base.image, the upstream image the base container is run from.
func (d *DistributionDescriptor) Image() string {
	return d.File.Section("base").Key("image").String()
}

// SecondaryGroups returns the comma-separated base.secondary_groups list,
// split and trimmed.
func (d *DistributionDescriptor) SecondaryGroups() []string {
	raw := d.File.Section("base").Key("secondary_groups").String()
	return splitTrimmed(raw)
}

// PkgmgrTemplate returns the raw template string for [pkgmgr] key op (e.g.
// "install", "uninstall", "update", "list", "info", ...), and whether it was
// present at all (some operations, e.g. "mark", are optional per distro).
func (d *DistributionDescriptor) PkgmgrTemplate(op string) (string, bool) {
	section := d.File.Section("pkgmgr")
	if !section.HasKey(op) {
		return "", false
	}
	return section.Key(op).String(), true
}

// PackagesField returns the raw comma-list value of a [packages] key (e.g.
// "required", "recommended_deps", "extra"), and whether it was present.
func (d *DistributionDescriptor) PackagesField(name string) (string, bool) {
	section := d.File.Section("packages")
	if !section.HasKey(name) {
		return "", false
	}
	return section.Key(name).String(), true
}

// RepoTemplate returns the raw template string for [repo] key op (e.g.
// "add", "add_key", "remove").
func (d *DistributionDescriptor) RepoTemplate(op string) (string, bool) {
	section := d.File.Section("repo")
	if !section.HasKey(op) {
		return "", false
	}
	return section.Key(op).String(), true
}

// Scripts returns the comma-separated base.scripts list of additional
// resource scripts this distribution's base image needs beyond
// Consts.ResourceScripts.
func (d *DistributionDescriptor) Scripts() []string {
	raw := d.File.Section("base").Key("scripts").String()
	return splitTrimmed(raw)
}

func splitTrimmed(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
