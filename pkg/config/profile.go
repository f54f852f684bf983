package config

import (
	"fmt"
	"strings"

	"github.com/sumwale/ybox-sub000/pkg/env"
	"gopkg.in/ini.v1"
)

// baseKeys enumerates the only keys [base] recognizes (spec §3, entity Profile).
var baseKeys = map[string]bool{
	"name": true, "includes": true, "home": true, "shared_root": true,
	"config_hardlinks": true, "config_locale": true, "x11": true, "wayland": true,
	"pulseaudio": true, "dbus": true, "dbus_sys": true, "dri": true, "nvidia": true,
	"shm_size": true, "pids_limit": true, "log_driver": true, "log_opts": true,
}

// knownSections enumerates the top-level sections a Profile may declare.
var knownSections = map[string]bool{
	"base": true, "security": true, "mounts": true, "env": true,
	"configs": true, "apps": true, "app_flags": true, "startup": true,
}

// passthroughSections are accepted without key validation.
var passthroughSections = map[string]bool{"app_flags": true, "startup": true}

// profileSkipExpansion lists the sections exempted from ${VAR} substitution:
// app_flags/startup carry shell-level placeholders (!p, !a, $1, ...) meant
// for the container's own shell, not the host's environment.
var profileSkipExpansion = []string{"app_flags", "startup"}

// Profile is the parsed and validated representation of a container profile
// (spec §3, entity Profile).
type Profile struct {
	File *ini.File
}

// LoadProfile reads and validates a profile INI file relative to e's search
// paths (or as an absolute path).
func LoadProfile(e *env.Environment, path string) (*Profile, error) {
	resolved, err := e.SearchConfigPath(path)
	if err != nil {
		return nil, err
	}
	f, err := LoadINI(resolved, LoadOpts{SkipExpansion: profileSkipExpansion, Now: e.Now})
	if err != nil {
		return nil, err
	}
	if err := validateProfile(f); err != nil {
		return nil, err
	}
	return &Profile{File: f}, nil
}

func validateProfile(f *ini.File) error {
	for _, section := range f.Sections() {
		name := section.Name()
		if name == ini.DefaultSection {
			continue
		}
		if !knownSections[name] {
			return fmt.Errorf("unknown profile section [%s]", name)
		}
		if name == "base" {
			for _, key := range section.Keys() {
				if !baseKeys[key.Name()] {
					return fmt.Errorf("unknown key %q in [base] section", key.Name())
				}
			}
		}
	}
	return nil
}

// Base convenience accessors.

func (p *Profile) baseKey(name string) string {
	return p.File.Section("base").Key(name).String()
}

// Name returns base.name, or "" if unset.
func (p *Profile) Name() string { return p.baseKey("name") }

// SharedRoot returns base.shared_root, or "" if this profile does not use one.
func (p *Profile) SharedRoot() string { return p.baseKey("shared_root") }

// ConfigHardlinks returns (skip, hardlink): skip is true when base.config_hardlinks
// is entirely absent ("skip [configs] entirely" per spec §6); hardlink is the
// parsed boolean value otherwise (false means copy, true means hardlink).
func (p *Profile) ConfigHardlinks() (skip bool, hardlink bool) {
	section := p.File.Section("base")
	if !section.HasKey("config_hardlinks") {
		return true, false
	}
	return false, section.Key("config_hardlinks").MustBool(false)
}

func (p *Profile) boolFlag(name string) bool {
	return p.File.Section("base").Key(name).MustBool(false)
}

// X11, Wayland, Pulseaudio, Dbus, DbusSys, Dri, Nvidia report the
// corresponding [base] passthrough booleans.
func (p *Profile) X11() bool        { return p.boolFlag("x11") }
func (p *Profile) Wayland() bool    { return p.boolFlag("wayland") }
func (p *Profile) Pulseaudio() bool { return p.boolFlag("pulseaudio") }
func (p *Profile) Dbus() bool       { return p.boolFlag("dbus") }
func (p *Profile) DbusSys() bool    { return p.boolFlag("dbus_sys") }
func (p *Profile) Dri() bool        { return p.boolFlag("dri") }
func (p *Profile) Nvidia() bool     { return p.boolFlag("nvidia") }

// AppFlags returns the case-insensitive [app_flags] section as a plain map,
// used as a fallback by the Wrapper Generator.
func (p *Profile) AppFlags() map[string]string {
	out := make(map[string]string)
	if !p.File.HasSection("app_flags") {
		return out
	}
	for _, k := range p.File.Section("app_flags").Keys() {
		out[strings.ToLower(k.Name())] = k.Value()
	}
	return out
}

// AppList returns the [apps] section's key names in declaration order, one
// string per app-line token as stored in the profile.
func (p *Profile) AppList() []string {
	if !p.File.HasSection("apps") {
		return nil
	}
	var out []string
	for _, k := range p.File.Section("apps").Keys() {
		out = append(out, k.Name())
	}
	return out
}

// WriteString serializes the profile back to its INI text form (spec §4.3,
// register_container step 1: "Serialize the profile to its INI text form").
func (p *Profile) WriteString() (string, error) {
	var sb strings.Builder
	if _, err := p.File.WriteTo(&sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}
