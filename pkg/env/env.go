// Package env resolves the immutable per-process Environment snapshot that
// every other component consumes: user/target home, data directories, the
// XDG runtime directory, the configured search paths and the captured "now"
// timestamp. Adapted from the teacher's config.configDirForVendor/xdg
// resolution in pkg/config/app_config.go.
package env

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/OpenPeeDeeP/xdg"
	"github.com/go-errors/errors"
)

// Environment is the immutable per-process snapshot described in spec §3.
// It is created once at process start and never mutated afterwards.
type Environment struct {
	Home              string
	TargetHome        string
	DataDir           string
	TargetDataDir     string
	XDGRuntimeDir     string
	Now               time.Time
	ConfigSearchPaths []string // ordered: user config dir first, then bundled/system
	UserApplicationsDir string
	UserExecutablesDir  string
	UserManDir          string
}

const vendor = "ybox"

// New resolves a fresh Environment from the current process state. pkgConfDir
// is the directory holding the bundled distros/ and profiles/ trees (the
// in-module equivalent of the teacher's embedded resource package); pass ""
// to fall back to a path relative to the running executable.
func New(pkgConfDir string) (*Environment, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	u, err := user.Current()
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	targetHome := fmt.Sprintf("/home/%s", u.Username)
	os.Setenv("TARGET_HOME", targetHome)

	dirs := xdg.New(vendor, "")
	dataDir := filepath.Join(dirs.DataHome(), "ybox")
	if override := os.Getenv("YBOX_DATA_DIR"); override != "" {
		dataDir = override
	}
	targetDataDir := filepath.Join(targetHome, ".local", "share", "ybox")

	now := time.Now()
	os.Setenv("NOW", now.String())

	if pkgConfDir == "" {
		if exe, exErr := os.Executable(); exErr == nil {
			pkgConfDir = filepath.Join(filepath.Dir(exe), "conf")
		}
	}
	os.Setenv("YBOX_PKG_DIR", pkgConfDir)

	var searchPaths []string
	if os.Getenv("YBOX_TESTING") != "" {
		// only the bundled configuration is considered during tests, mirroring
		// the original's Environ.__init__ YBOX_TESTING branch.
		searchPaths = []string{pkgConfDir}
	} else {
		searchPaths = []string{filepath.Join(homeDir, ".config", "ybox"), pkgConfDir}
	}

	userBase := filepath.Join(homeDir, ".local")

	return &Environment{
		Home:                homeDir,
		TargetHome:          targetHome,
		DataDir:             dataDir,
		TargetDataDir:       targetDataDir,
		XDGRuntimeDir:       os.Getenv("XDG_RUNTIME_DIR"),
		Now:                 now,
		ConfigSearchPaths:   searchPaths,
		UserApplicationsDir: filepath.Join(userBase, "share", "applications"),
		UserExecutablesDir:  filepath.Join(userBase, "bin"),
		UserManDir:          filepath.Join(userBase, "share", "man"),
	}, nil
}

// SearchConfigPath resolves conf_path against the configured search paths, in
// order, returning the first readable match. Absolute paths are returned
// unchanged without existence checks (the caller decides how to handle a
// missing absolute path).
func (e *Environment) SearchConfigPath(confPath string) (string, error) {
	if filepath.IsAbs(confPath) {
		return confPath, nil
	}
	for _, dir := range e.ConfigSearchPaths {
		candidate := filepath.Join(dir, confPath)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("configuration file %q not found in %v", confPath, e.ConfigSearchPaths)
}
