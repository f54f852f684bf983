package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadINIEnvironmentSubstitution(t *testing.T) {
	t.Setenv("YBOX_TEST_VAR", "hello")
	dir := t.TempDir()
	path := writeFile(t, dir, "profile.ini", "[base]\nname=${YBOX_TEST_VAR}-box\n")

	f, err := LoadINI(path, LoadOpts{})
	require.NoError(t, err)
	assert.Equal(t, "hello-box", f.Section("base").Key("name").String())
}

func TestLoadINISkipExpansionSection(t *testing.T) {
	t.Setenv("YBOX_TEST_VAR", "hello")
	dir := t.TempDir()
	path := writeFile(t, dir, "profile.ini", "[env]\nFOO=${YBOX_TEST_VAR}\n")

	f, err := LoadINI(path, LoadOpts{SkipExpansion: []string{"env"}})
	require.NoError(t, err)
	assert.Equal(t, "${YBOX_TEST_VAR}", f.Section("env").Key("FOO").String())
}

func TestLoadININowInterpolation(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "profile.ini", "[base]\nname=box-${NOW:%Y-%m-%d}\n")
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	f, err := LoadINI(path, LoadOpts{Now: now})
	require.NoError(t, err)
	assert.Equal(t, "box-2026-07-31", f.Section("base").Key("name").String())
}

func TestLoadINIPostReadChaining(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "profile.ini", "[base]\nname=box1\nbox_image=%(name)s-img\nliteral=a%%b\n")

	f, err := LoadINI(path, LoadOpts{})
	require.NoError(t, err)
	assert.Equal(t, "box1-img", f.Section("base").Key("box_image").String())
	assert.Equal(t, "a%b", f.Section("base").Key("literal").String())
}

func TestLoadINIIncludeMergeIncludingFileWins(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "common.ini", "[base]\nx11=true\nwayland=true\n\n[apps]\nvlc=vlc\n")
	path := writeFile(t, dir, "profile.ini", "[base]\nname=box1\nincludes=common.ini\nwayland=false\n")

	f, err := LoadINI(path, LoadOpts{})
	require.NoError(t, err)
	assert.Equal(t, "box1", f.Section("base").Key("name").String())
	assert.Equal(t, "true", f.Section("base").Key("x11").String(), "key present only in the include is merged in")
	assert.Equal(t, "false", f.Section("base").Key("wayland").String(), "the including file wins on key conflicts")
	assert.Equal(t, "vlc", f.Section("apps").Key("vlc").String())
}

func TestLoadINIMissingFileError(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadINI(filepath.Join(dir, "missing.ini"), LoadOpts{})
	assert.Error(t, err)
}
