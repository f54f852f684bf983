// Package wrapper implements the Wrapper Generator (spec §4.7): host-side
// .desktop files and executable shims that dispatch into a container, plus
// man-page symlinks. Grounded on the original's pkg/inst.py
// wrap_container_files and its helpers.
package wrapper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sumwale/ybox-sub000/pkg/config"
	"github.com/sumwale/ybox-sub000/pkg/runtime"
	"github.com/sumwale/ybox-sub000/pkg/state"
)

// execLineRe matches "Exec=" and "TryExec=" lines in a .desktop file,
// capturing the prefix (including "=" and leading space), the program token
// and the remaining arguments.
var execLineRe = regexp.MustCompile(`(?m)^(\s*(?:Try)?Exec\s*=\s*)(\S+)\s*(.*)$`)

// Confirm is called before creating an executable wrapper that would
// overwrite an existing file (quiet level 1) or shadow a system executable
// (quiet level 2), per spec §7's Wrapper-conflict handling. It returns false
// to skip the wrapper. The interactive prompt itself is an external
// collaborator (spec §1); callers of this package own it.
type Confirm func(message string, quietLevel int) bool

// Generator creates host-side wrappers for one container.
type Generator struct {
	Driver     *runtime.Driver
	Static     *config.StaticConfiguration
	Profile    *config.Profile // may be nil
	Container  string
	SharedRoot string
	Log        *logrus.Entry
	Confirm    Confirm
}

// fileEntry is one line of a list_files template's output, split into its
// containing directory, base filename and full path (spec supplement #4:
// a leading "./" is trimmed and relative entries are resolved against "/").
type fileEntry struct {
	dir      string
	filename string
	fullPath string
}

// parseListFiles parses the raw list_files output into fileEntry triples,
// skipping lines whose basename is empty (a bare directory entry).
func parseListFiles(output string) []fileEntry {
	var out []fileEntry
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "./")
		if strings.HasSuffix(line, "/") {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			line = "/" + line
		}
		filename := filepath.Base(line)
		if filename == "" || filename == "/" || filename == "." {
			continue
		}
		out = append(out, fileEntry{dir: filepath.Dir(line), filename: filename, fullPath: line})
	}
	return out
}

// Generate parses listFilesOutput (the output of the package's list_files
// template), then creates desktop/executable
// wrappers and man-page links per copyType, returning every host path
// created (to be persisted as local_copies).
func (g *Generator) Generate(ctx context.Context, pkg string, copyType state.CopyType,
	appFlags map[string]string, listFilesOutput string) ([]string, error) {
	if copyType == state.CopyTypeNone {
		return nil, nil
	}
	entries := parseListFiles(listFilesOutput)
	if appFlags == nil {
		appFlags = map[string]string{}
	}

	profileFlags := map[string]string{}
	if g.Profile != nil {
		profileFlags = g.Profile.AppFlags()
	}

	executableDirs := stringSet(config.Consts.ContainerBinDirs)
	desktopDirs := stringSet(config.Consts.ContainerDesktopDirs)

	// first pass: fold in [app_flags] fallback and let the user veto any
	// executable wrapper, clearing the EXECUTABLE bit globally for
	// consistency across all of the package's binaries (spec §4.7 step 3).
	for _, e := range entries {
		if !executableDirs[e.dir] {
			continue
		}
		if flags, ok := profileFlags[strings.ToLower(e.filename)]; ok {
			if _, explicit := appFlags[e.filename]; !explicit {
				appFlags[e.filename] = flags
			}
		}
		if copyType&state.CopyTypeExecutable != 0 {
			if !g.canWrapExecutable(e) {
				copyType &^= state.CopyTypeExecutable
			}
		}
	}

	var wrapperFiles []string
	for _, e := range entries {
		if copyType&state.CopyTypeDesktop != 0 && desktopDirs[e.dir] {
			if path, err := g.wrapDesktopFile(ctx, e, pkg, appFlags); err == nil && path != "" {
				wrapperFiles = append(wrapperFiles, path)
			} else if err != nil {
				g.Log.Warnf("skipping desktop wrapper for %s: %v", e.fullPath, err)
			}
			continue
		}
		if copyType&state.CopyTypeExecutable != 0 && executableDirs[e.dir] {
			path, err := g.wrapExecutable(e, appFlags)
			if err != nil {
				g.Log.Warnf("skipping executable wrapper for %s: %v", e.fullPath, err)
				continue
			}
			wrapperFiles = append(wrapperFiles, path)
		} else if g.SharedRoot != "" && config.Consts.ContainerManDirRegexp.MatchString(e.dir) {
			path, err := g.linkManPage(e)
			if err != nil {
				g.Log.Warnf("skipping man page link for %s: %v", e.fullPath, err)
				continue
			}
			wrapperFiles = append(wrapperFiles, path)
		}
	}
	return wrapperFiles, nil
}

func (g *Generator) canWrapExecutable(e fileEntry) bool {
	wrapperExec := filepath.Join(g.Static.Env.UserExecutablesDir, e.filename)
	if _, err := os.Stat(wrapperExec); err == nil {
		if g.Confirm == nil || !g.Confirm(fmt.Sprintf("Target file %s already exists. Overwrite?", wrapperExec), 1) {
			return false
		}
	}
	for _, binDir := range config.Consts.SysBinDirs {
		sysExec := filepath.Join(binDir, e.filename)
		if _, err := os.Stat(sysExec); err == nil {
			if g.Confirm == nil || !g.Confirm(fmt.Sprintf("Target file %s will override system installed %s. Continue?", wrapperExec, sysExec), 2) {
				return false
			}
			break
		}
	}
	return true
}

// expandAppFlags substitutes "!p"/"!a" in an [app_flags] template value with
// program/args, honoring "!!" as a literal "!" escape (spec §4.7 step 4). A
// left-to-right scan (rather than a regex replace) is required here because
// the escape depends on match position, not match text: "!p" means one thing
// at the start of the string and another right after a "!!".
func expandAppFlags(flags, program, args string) string {
	var sb strings.Builder
	for i := 0; i < len(flags); {
		if flags[i] == '!' && i+1 < len(flags) {
			switch flags[i+1] {
			case '!':
				sb.WriteByte('!')
				i += 2
				continue
			case 'p':
				sb.WriteString(program)
				i += 2
				continue
			case 'a':
				sb.WriteString(args)
				i += 2
				continue
			}
		}
		sb.WriteByte(flags[i])
		i++
	}
	return sb.String()
}

func (g *Generator) fullCommand(program, args string, appFlags map[string]string) string {
	if flags, ok := appFlags[filepath.Base(program)]; ok && flags != "" {
		return expandAppFlags(flags, program, args)
	}
	if args == "" {
		return program
	}
	return program + " " + args
}

func (g *Generator) wrapDesktopFile(ctx context.Context, e fileEntry, pkg string, appFlags map[string]string) (string, error) {
	wrapperName := fmt.Sprintf("ybox.%s.%s", g.Static.BoxName, e.filename)
	tmpFile := filepath.Join(os.TempDir(), wrapperName)
	defer os.Remove(tmpFile)

	if _, err := g.Driver.Cp(ctx, fmt.Sprintf("%s:%s", g.Container, e.fullPath), tmpFile); err != nil {
		return "", fmt.Errorf("copying %s: %w", e.fullPath, err)
	}
	content, err := os.ReadFile(tmpFile)
	if err != nil {
		return "", err
	}

	rewritten := execLineRe.ReplaceAllStringFunc(string(content), func(line string) string {
		m := execLineRe.FindStringSubmatch(line)
		prefix, program, args := m[1], m[2], m[3]
		full := g.fullCommand(program, args, appFlags)
		return fmt.Sprintf(`%s%s exec -it -e=XAUTHORITY %s /usr/local/bin/run-in-dir "" %s`,
			prefix, g.Driver.Name(), g.Container, full)
	})

	wrapperFile := filepath.Join(g.Static.Env.UserApplicationsDir, wrapperName)
	if err := os.MkdirAll(filepath.Dir(wrapperFile), 0o750); err != nil {
		return "", err
	}
	if err := os.WriteFile(wrapperFile, []byte(rewritten), 0o644); err != nil {
		return "", err
	}
	g.Log.Warnf("linking container desktop file %s to %s", e.fullPath, wrapperFile)
	return wrapperFile, nil
}

func (g *Generator) wrapExecutable(e fileEntry, appFlags map[string]string) (string, error) {
	wrapperExec := filepath.Join(g.Static.Env.UserExecutablesDir, e.filename)
	var full string
	if flags, ok := appFlags[e.filename]; ok && flags != "" {
		full = `/usr/local/bin/run-in-dir "` + "`pwd`" + `" ` + expandAppFlags(flags, `"`+e.fullPath+`"`, `"$@"`)
	} else {
		full = fmt.Sprintf(`/usr/local/bin/run-in-dir "`+"`pwd`"+`" "%s" "$@"`, e.fullPath)
	}
	content := fmt.Sprintf("#!/bin/sh\nexec %s exec -it -e=XAUTHORITY %s %s\n", g.Driver.Name(), g.Container, full)

	if err := os.MkdirAll(filepath.Dir(wrapperExec), 0o750); err != nil {
		return "", err
	}
	if err := os.WriteFile(wrapperExec, []byte(content), 0o755); err != nil {
		return "", err
	}
	g.Log.Warnf("linking container executable %s to %s", e.fullPath, wrapperExec)
	return wrapperExec, nil
}

func (g *Generator) linkManPage(e fileEntry) (string, error) {
	idx := strings.Index(e.fullPath, "/man/")
	if idx < 0 {
		return "", fmt.Errorf("man page path %q has no /man/ component", e.fullPath)
	}
	linked := filepath.Join(g.Static.Env.UserManDir, e.fullPath[idx+len("/man/"):])
	if err := os.MkdirAll(filepath.Dir(linked), 0o750); err != nil {
		return "", err
	}
	os.Remove(linked)
	target := g.SharedRoot + e.fullPath
	if err := os.Symlink(target, linked); err != nil {
		return "", err
	}
	g.Log.Warnf("linking man page %s to %s", e.fullPath, linked)
	return linked, nil
}

func stringSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}
