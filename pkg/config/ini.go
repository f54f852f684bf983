// Package config implements the INI profile/distribution-descriptor loader
// (spec §4.1), the per-container StaticConfiguration (spec §3) and the
// EquivConfig normalization rule (spec §4.3) shared with pkg/state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spkg/bom"
	"gopkg.in/ini.v1"
)

// nowPattern matches ${NOW:<strftime-like fmt>} placeholders.
var nowPattern = regexp.MustCompile(`\$\{NOW:([^}]*)\}`)

// chainPattern matches %(key)s placeholders used for post-read chaining.
var chainPattern = regexp.MustCompile(`%\(([^)]+)\)s`)

// loadOptions are the sole knobs controlling the pre-read substitution and
// the delimiter/case-sensitivity rules (spec §4.1).
type loadOptions struct {
	skipExpansion   map[string]bool // sections exempt from ${VAR} substitution
	now             time.Time
	caseInsensitive bool
}

// LoadOpts configures LoadINI; zero value applies the default rules (no
// opt-out sections, current time, case-sensitive keys). CaseInsensitive
// selects the variant that lowercases section and key names.
type LoadOpts struct {
	SkipExpansion   []string
	Now             time.Time
	CaseInsensitive bool
}

// LoadINI parses path, applying the two-phase interpolation and include-chain
// merging described in spec §4.1. Returns the merged, fully resolved
// *ini.File, ready for section-by-section extraction.
func LoadINI(path string, opts LoadOpts) (*ini.File, error) {
	lo := loadOptions{
		skipExpansion:   make(map[string]bool, len(opts.SkipExpansion)),
		now:             opts.Now,
		caseInsensitive: opts.CaseInsensitive,
	}
	if lo.now.IsZero() {
		lo.now = time.Now()
	}
	for _, s := range opts.SkipExpansion {
		lo.skipExpansion[s] = true
	}
	f, err := loadIncludeChain(path, lo, path)
	if err != nil {
		return nil, err
	}
	resolveChaining(f)
	return f, nil
}

func loadIncludeChain(path string, lo loadOptions, topLevel string) (*ini.File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if topLevel != path {
				return nil, fmt.Errorf("config file %q among the includes of %q does not exist or is not a file", path, topLevel)
			}
			return nil, fmt.Errorf("config file %q does not exist or is not a file", path)
		}
		return nil, err
	}
	raw = bom.Clean(raw)

	f, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys:   true,
		KeyValueDelimiters: "=",
		Insensitive:        lo.caseInsensitive,
	}, raw)
	if err != nil {
		return nil, err
	}

	substitutePreRead(f, lo)

	base := f.Section("base")
	includes := base.Key("includes").String()
	if strings.TrimSpace(includes) == "" {
		return f, nil
	}
	for _, inc := range strings.Split(includes, ",") {
		inc = strings.TrimSpace(inc)
		if inc == "" {
			continue
		}
		incPath := inc
		if !filepath.IsAbs(inc) {
			incPath = filepath.Join(filepath.Dir(path), inc)
		}
		incFile, err := loadIncludeChain(incPath, lo, topLevel)
		if err != nil {
			return nil, err
		}
		mergeInclude(f, incFile)
	}
	return f, nil
}

// mergeInclude folds incFile into f: a section present in both is merged
// key-by-key with f (the including file) winning on conflicts; a section
// present only in incFile is copied wholesale.
func mergeInclude(f, incFile *ini.File) {
	for _, incSection := range incFile.Sections() {
		name := incSection.Name()
		if name == ini.DefaultSection && len(incSection.Keys()) == 0 {
			continue
		}
		section, err := f.GetSection(name)
		if err != nil {
			section, _ = f.NewSection(name)
			for _, k := range incSection.Keys() {
				nk, _ := section.NewKey(k.Name(), k.Value())
				_ = nk
			}
			continue
		}
		for _, k := range incSection.Keys() {
			if !section.HasKey(k.Name()) {
				nk, _ := section.NewKey(k.Name(), k.Value())
				_ = nk
			}
		}
	}
}

// substitutePreRead applies environment-variable substitution to every value
// in f except sections named in lo.skipExpansion, and ${NOW:fmt} substitution
// to every value in every section.
func substitutePreRead(f *ini.File, lo loadOptions) {
	for _, section := range f.Sections() {
		skip := lo.skipExpansion[section.Name()]
		for _, key := range section.Keys() {
			v := key.Value()
			if v == "" {
				continue
			}
			if !skip {
				v = os.Expand(v, func(name string) string {
					if strings.HasPrefix(name, "NOW:") {
						return "${" + name + "}" // left for the NOW pass below
					}
					return os.Getenv(name)
				})
			}
			v = nowPattern.ReplaceAllStringFunc(v, func(m string) string {
				sub := nowPattern.FindStringSubmatch(m)
				return strftime(lo.now, sub[1])
			})
			key.SetValue(v)
		}
	}
}

// resolveChaining applies %(key)s chaining across the same section or the
// DEFAULT section, once, on the fully merged document. A literal "%" must be
// written "%%" in the source and is unescaped here.
func resolveChaining(f *ini.File) {
	def := f.Section(ini.DefaultSection)
	for _, section := range f.Sections() {
		for _, key := range section.Keys() {
			v := key.Value()
			if !strings.Contains(v, "%") {
				continue
			}
			resolved := chainPattern.ReplaceAllStringFunc(v, func(m string) string {
				sub := chainPattern.FindStringSubmatch(m)
				name := sub[1]
				if section.HasKey(name) {
					return section.Key(name).Value()
				}
				if def.HasKey(name) {
					return def.Key(name).Value()
				}
				return m
			})
			resolved = strings.ReplaceAll(resolved, "%%", "%")
			key.SetValue(resolved)
		}
	}
}

// strftime renders a subset of the strftime directives used by ybox profiles
// (date/time placeholders for log file names etc.) using Go's reference-time
// layout. Unsupported directives are passed through unchanged.
func strftime(t time.Time, format string) string {
	replacer := strings.NewReplacer(
		"%Y", "2006", "%m", "01", "%d", "02",
		"%H", "15", "%M", "04", "%S", "05",
		"%%", "%",
	)
	layout := replacer.Replace(format)
	return t.Format(layout)
}
