// Package graphics computes the Graphics/Passthrough plan (spec §4.5): the
// extra podman/docker arguments and an in-container NVIDIA setup script
// needed to share the host's X11/Wayland display, PulseAudio/Pipewire
// sockets, D-Bus buses, DRI and NVIDIA devices with a container. Grounded
// on the original's run/create.py enable_x11/enable_wayland/enable_pulse/
// enable_dbus and run/graphics.py's NVIDIA discovery.
package graphics

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sumwale/ybox-sub000/pkg/config"
	"github.com/sumwale/ybox-sub000/pkg/env"
)

// stdLibDirs are always searched for NVIDIA library artifacts.
var stdLibDirs = []string{"/usr/lib", "/lib", "/usr/local/lib", "/usr/lib64", "/lib64", "/usr/lib32", "/lib32"}

// stdLibDirPatterns are glob patterns (relative to "/") searched alongside stdLibDirs.
var stdLibDirPatterns = []string{
	"usr/lib/*-linux-gnu", "lib/*-linux-gnu", "usr/lib64/*-linux-gnu",
	"lib64/*-linux-gnu", "usr/lib32/*-linux-gnu", "lib32/*-linux-gnu",
}

var stdLDLibPathVars = []string{"LD_LIBRARY_PATH", "LD_LIBRARY_PATH_64", "LD_LIBRARY_PATH_32"}

var nvidiaLibPatterns = []string{
	"*nvidia*.so*", "*NVIDIA*.so*", "libcuda*.so*", "libnvcuvid*.so*",
	"libnvoptix*.so*", "gbm/*nvidia*.so*", "vdpau/*nvidia*.so*", "libXNVCtrl.so*",
}

var nvidiaBinPatterns = []string{"nvidia-smi", "nvidia-cuda*", "nvidia-debug*", "nvidia-bug*"}

var nvidiaDataPatterns = []string{
	"/usr/share/nvidia", "/usr/local/share/nvidia", "/lib/firmware/nvidia",
	"/usr/share/egl/*/*nvidia*", "/usr/share/glvnd/*/*nvidia*", "/usr/share/vulkan/*/*nvidia*",
}

const ldSoConf = "/etc/ld.so.conf"

var pipewireSockRe = regexp.MustCompile(`^pipewire-[0-9]+$`)

// Plan is the output of building the passthrough configuration for a single
// container: extra podman/docker run arguments plus the contents of an
// NVIDIA setup script to be written into the container's scripts directory.
type Plan struct {
	Args          []string
	NvidiaScript  string // non-empty iff NVIDIA artifacts were discovered
}

// addEnv appends a "-e=VAR[=VAL]" argument; omitting val means "inherit the
// host's value for VAR" (left to the runtime to resolve), while an explicit
// "" sets VAR to the empty string.
func addEnv(args *[]string, v string, val ...string) {
	if len(val) == 0 {
		*args = append(*args, fmt.Sprintf("-e=%s", v))
		return
	}
	*args = append(*args, fmt.Sprintf("-e=%s=%s", v, val[0]))
}

func addMount(args *[]string, src, dest, flags string) {
	if flags != "" {
		*args = append(*args, fmt.Sprintf("-v=%s:%s:%s", src, dest, flags))
	} else {
		*args = append(*args, fmt.Sprintf("-v=%s:%s", src, dest))
	}
}

func accessible(path string, write bool) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	_ = info
	if write {
		return unix_W_OK(path)
	}
	return unix_R_OK(path)
}

// unix_R_OK/unix_W_OK use os.Open/OpenFile rather than syscall.Access so the
// check works the same way regardless of GOOS, matching the spirit (not the
// exact syscall) of the original's os.access checks.
func unix_R_OK(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

func unix_W_OK(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.IsDir() {
		probe := filepath.Join(path, ".ybox-w-check")
		f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return false
		}
		f.Close()
		os.Remove(probe)
		return true
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// EnableX11 shares the host X11 server and XAUTHORITY cookie (spec §4.5).
func EnableX11(args *[]string, e *env.Environment) {
	addEnv(args, "DISPLAY")
	xsock := "/tmp/.X11-unix"
	if accessible(xsock, false) {
		addMount(args, xsock, xsock, "ro")
	}
	if xauth := os.Getenv("XAUTHORITY"); xauth != "" {
		target := handleVariableMount(args, e, xauth)
		addEnv(args, "XAUTHORITY", target)
		addEnv(args, "XAUTHORITY_ORIG", target)
	}
}

// handleVariableMount mounts, read-only under a "-host" suffix, every
// non-empty candidate base directory among XDG_RUNTIME_DIR, /tmp and the
// path's own parent directory (so the mount survives a later change to
// mountPath's exact value), and returns mountPath rewritten to live under the
// "-host" suffixed mount point of the one base directory it picks (spec §4.5
// x11 rule). The mounts are not restricted to that one directory.
func handleVariableMount(args *[]string, e *env.Environment, mountPath string) string {
	baseDir := filepath.Dir(mountPath)
	var candidates []string
	switch {
	case e.XDGRuntimeDir == "":
		candidates = []string{baseDir, "/tmp"}
	case strings.HasPrefix(mountPath, e.XDGRuntimeDir+"/") || strings.HasPrefix(mountPath, "/tmp/"):
		if strings.HasPrefix(baseDir, "/tmp") {
			baseDir = "/tmp"
		} else {
			baseDir = e.XDGRuntimeDir
		}
		candidates = []string{e.XDGRuntimeDir, "/tmp"}
	default:
		candidates = []string{baseDir, e.XDGRuntimeDir, "/tmp"}
	}
	for _, b := range candidates {
		if b == "" {
			continue
		}
		mountArg := fmt.Sprintf("-v=%s:%s-host:ro", b, b)
		if !containsArg(*args, mountArg) {
			*args = append(*args, mountArg)
		}
	}
	return strings.Replace(mountPath, baseDir, baseDir+"-host", 1)
}

func containsArg(args []string, arg string) bool {
	for _, a := range args {
		if a == arg {
			return true
		}
	}
	return false
}

// EnableWayland passes WAYLAND_DISPLAY through; the socket itself is linked
// by the container entrypoint, not mounted here (spec §4.5).
func EnableWayland(args *[]string) {
	addEnv(args, "WAYLAND_DISPLAY")
	addEnv(args, "ENABLE_WAYLAND", "true")
}

// EnablePulseaudio mounts the PulseAudio cookie read-only and every writable
// PulseAudio/Pipewire runtime socket read-write (spec §4.5).
func EnablePulseaudio(args *[]string, e *env.Environment) {
	cookie := filepath.Join(e.Home, ".config", "pulse", "cookie")
	if accessible(cookie, false) {
		addMount(args, cookie, filepath.Join(e.TargetHome, ".config", "pulse", "cookie"), "ro")
	}
	if e.XDGRuntimeDir == "" {
		return
	}
	pulseNative := filepath.Join(e.XDGRuntimeDir, "pulse", "native")
	if accessible(pulseNative, true) {
		addMount(args, pulseNative, pulseNative, "")
	}
	entries, err := os.ReadDir(e.XDGRuntimeDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !pipewireSockRe.MatchString(entry.Name()) {
			continue
		}
		sock := filepath.Join(e.XDGRuntimeDir, entry.Name())
		if accessible(sock, true) {
			addMount(args, sock, sock, "")
		}
	}
}

// EnableDbus mounts the user session bus socket and, if sysEnable, the
// system bus socket (spec §4.5).
func EnableDbus(args *[]string, sysEnable bool) {
	if session := os.Getenv("DBUS_SESSION_BUS_ADDRESS"); session != "" {
		dbusUser := session
		if idx := strings.Index(dbusUser, "="); idx != -1 {
			dbusUser = dbusUser[idx+1:]
		}
		if idx := strings.Index(dbusUser, ","); idx != -1 {
			dbusUser = dbusUser[:idx]
		}
		addMount(args, dbusUser, dbusUser, "")
		addEnv(args, "DBUS_SESSION_BUS_ADDRESS", session)
	}
	if sysEnable {
		sys1, sys2 := "/run/dbus/system_bus_socket", "/var/run/dbus/system_bus_socket"
		if accessible(sys1, true) {
			addMount(args, sys1, sys1, "")
		} else if accessible(sys2, true) {
			addMount(args, sys2, sys1, "")
		}
	}
}

// EnableDri adds a --device for /dev/dri and mounts /dev/dri/by-path if
// present (spec §4.5).
func EnableDri(args *[]string) {
	if accessible("/dev/dri", false) {
		*args = append(*args, "--device=/dev/dri")
	}
	if accessible("/dev/dri/by-path", false) {
		addMount(args, "/dev/dri/by-path", "/dev/dri/by-path", "")
	}
}

// EnableNvidia discovers NVIDIA devices, libraries, binaries and data
// directories on the host, appends bind-mount/device args, and returns the
// bash script (to be written into the container's scripts directory) that
// the entrypoint runs as root to link the mounted artifacts into place.
func EnableNvidia(args *[]string, static *config.StaticConfiguration) string {
	for _, dev := range findNvidiaDevices() {
		*args = append(*args, fmt.Sprintf("--device=%s", dev))
	}

	libDirs := findAllLibDirs()
	nvidiaLibDirs := filterNvidiaDirs(libDirs, nvidiaLibPatterns)
	mountDirPrefix := static.TargetScriptsDir + "/mnt_lib"
	mountLibDirs := prepareMountDirs(nvidiaLibDirs, args, mountDirPrefix)

	script := createNvidiaSetup(args, nvidiaLibDirs, mountLibDirs)

	var resolvedBinDirs []string
	for _, d := range config.Consts.ContainerBinDirs {
		if real, err := filepath.EvalSymlinks(d); err == nil {
			resolvedBinDirs = append(resolvedBinDirs, real)
		}
	}
	nvidiaBinDirs := filterNvidiaDirs(resolvedBinDirs, nvidiaBinPatterns)
	mountBinDirs := prepareMountDirs(nvidiaBinDirs, args, static.TargetScriptsDir+"/mnt_bin")
	addNvidiaBinLinks(mountBinDirs, &script)

	processNvidiaDataFiles(args, &script, static.TargetScriptsDir+"/mnt_share")

	return strings.Join(script, "\n")
}

func findNvidiaDevices() []string {
	matches, _ := filepath.Glob("/dev/nvidia*")
	var out []string
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && !info.IsDir() {
			out = append(out, m)
		}
	}
	nested, _ := filepath.Glob("/dev/nvidia*/*")
	for _, m := range nested {
		if info, err := os.Stat(m); err == nil && !info.IsDir() {
			out = append(out, m)
		}
	}
	return out
}

func findAllLibDirs() []string {
	var ldLibs []string
	for _, v := range stdLDLibPathVars {
		if val := os.Getenv(v); val != "" {
			ldLibs = append(ldLibs, strings.Split(val, string(os.PathListSeparator))...)
		}
	}
	parseLdSoConf(ldSoConf, &ldLibs, map[string]bool{})

	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		real, err := filepath.EvalSymlinks(p)
		if err != nil {
			return
		}
		if info, err := os.Stat(real); err != nil || !info.IsDir() {
			return
		}
		if !seen[real] {
			seen[real] = true
			out = append(out, real)
		}
	}
	for _, p := range ldLibs {
		add(p)
	}
	for _, p := range stdLibDirs {
		add(p)
	}
	for _, pat := range stdLibDirPatterns {
		matches, _ := filepath.Glob("/" + pat)
		for _, m := range matches {
			add(m)
		}
	}
	return out
}

func parseLdSoConf(confPath string, ldLibPaths *[]string, visited map[string]bool) {
	if visited[confPath] {
		return
	}
	visited[confPath] = true
	data, err := os.ReadFile(confPath)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words := strings.Fields(line)
		if len(words) == 0 {
			continue
		}
		if strings.EqualFold(words[0], "include") && len(words) > 1 {
			matches, _ := filepath.Glob(words[1])
			for _, inc := range matches {
				parseLdSoConf(inc, ldLibPaths, visited)
			}
		} else {
			if real, err := filepath.EvalSymlinks(line); err == nil {
				*ldLibPaths = append(*ldLibPaths, real)
			}
		}
	}
}

func filterNvidiaDirs(dirs []string, patterns []string) []string {
	var out []string
	for _, d := range dirs {
		for _, pat := range patterns {
			if matches, _ := filepath.Glob(filepath.Join(d, pat)); len(matches) > 0 {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

func prepareMountDirs(dirs []string, args *[]string, mountDirPrefix string) []string {
	var mountDirs []string
	for i, d := range dirs {
		mountDir := fmt.Sprintf("%s%d", mountDirPrefix, i)
		addMount(args, d, mountDir, "ro")
		mountDirs = append(mountDirs, mountDir)
	}
	return mountDirs
}

func createNvidiaSetup(args *[]string, srcDirs, mountLibDirs []string) []string {
	targetDir := config.Consts.NvidiaTargetBaseDir
	script := []string{
		"#!/bin/bash", "", "# this script should be run using bash", "",
		"# setup libraries", "",
		fmt.Sprintf("mkdir -p %s && chmod 0755 %s", targetDir, targetDir),
	}
	var ldLibPath []string
	for i, mountLibDir := range mountLibDirs {
		targetLibDir := fmt.Sprintf("%s/lib%d", targetDir, i)
		script = append(script,
			fmt.Sprintf("rm -rf %s", targetLibDir),
			fmt.Sprintf("mkdir -p %s && chmod 0755 %s", targetLibDir, targetLibDir))
		for _, pat := range nvidiaLibPatterns {
			script = append(script,
				fmt.Sprintf(`libs="$(compgen -G "%s/%s")"`, mountLibDir, pat),
				`if [ "$?" -eq 0 ]; then`,
				fmt.Sprintf("  ln -s $libs %s/. 2>/dev/null", targetLibDir))
			if slashIdx := strings.Index(pat, "/"); slashIdx != -1 {
				patSubdir := pat[:slashIdx]
				srcDir := fmt.Sprintf("%s/%s", srcDirs[i], patSubdir)
				usrLibDir := fmt.Sprintf("/usr/lib/%s", patSubdir)
				script = append(script,
					fmt.Sprintf(`  if compgen -G "%s/lib%s.so*" >/dev/null; then`, srcDirs[i], patSubdir),
					fmt.Sprintf("    mkdir -p %s && chmod 0755 %s", srcDir, srcDir),
					fmt.Sprintf("    ln -s $libs %s/. 2>/dev/null", srcDir),
					fmt.Sprintf(`  elif compgen -G "/usr/lib/lib%s.so*" >/dev/null; then`, patSubdir),
					fmt.Sprintf("    mkdir -p %s && chmod 0755 %s", usrLibDir, usrLibDir),
					fmt.Sprintf("    ln -s $libs %s/. 2>/dev/null", usrLibDir),
					"  fi")
			}
			script = append(script, "fi")
		}
		ldLibPath = append(ldLibPath, targetLibDir)
	}
	if len(ldLibPath) > 0 {
		addEnv(args, "LD_LIBRARY_PATH", strings.Join(ldLibPath, string(os.PathListSeparator)))
	}
	return script
}

func addNvidiaBinLinks(mountBinDirs []string, script *[]string) {
	*script = append(*script, "# setup binaries")
	for _, mountBinDir := range mountBinDirs {
		for _, pat := range nvidiaBinPatterns {
			*script = append(*script,
				fmt.Sprintf(`bins="$(compgen -G "%s/%s")"`, mountBinDir, pat),
				`if [ "$?" -eq 0 ]; then ln -sf $bins /usr/local/bin/. 2>/dev/null; fi`)
		}
	}
}

func processNvidiaDataFiles(args *[]string, script *[]string, mountDataDirPrefix string) {
	*script = append(*script, "# setup data files")
	seen := map[string]bool{}
	idx := 0
	for _, pat := range nvidiaDataPatterns {
		matches, _ := filepath.Glob(pat)
		for _, path := range matches {
			resolved, err := filepath.EvalSymlinks(path)
			if err != nil {
				continue
			}
			info, err := os.Stat(resolved)
			if err != nil {
				continue
			}
			isDir := info.IsDir()
			dataDir := resolved
			if !isDir {
				dataDir = filepath.Dir(resolved)
			}
			if seen[dataDir] {
				continue
			}
			seen[dataDir] = true
			mountDataDir := fmt.Sprintf("%s%d", mountDataDirPrefix, idx)
			idx++
			addMount(args, dataDir, mountDataDir, "ro")
			pathDir := filepath.Dir(path)
			*script = append(*script, fmt.Sprintf("mkdir -p %s && chmod 0755 %s && \\", pathDir, pathDir))
			if isDir {
				*script = append(*script, fmt.Sprintf("  rm -rf %s && ln -s %s %s", path, mountDataDir, path))
			} else {
				*script = append(*script, fmt.Sprintf("  ln -sf %s/*nvidia* %s/. 2>/dev/null", mountDataDir, pathDir))
			}
		}
	}
}
