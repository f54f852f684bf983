package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumwale/ybox-sub000/pkg/env"
)

func testEnv(t *testing.T) *env.Environment {
	t.Helper()
	e, err := env.New("")
	require.NoError(t, err)
	return e
}

func TestLoadProfileRejectsUnknownBaseKey(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "profile.ini", "[base]\nname=box1\nbogus_key=1\n")

	_, err := LoadProfile(testEnv(t), path)
	assert.ErrorContains(t, err, "bogus_key")
}

func TestLoadProfileRejectsUnknownSection(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "profile.ini", "[base]\nname=box1\n\n[bogus]\nkey=1\n")

	_, err := LoadProfile(testEnv(t), path)
	assert.ErrorContains(t, err, "bogus")
}

func TestLoadProfileAcceptsPassthroughSectionsWithoutKeyValidation(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "profile.ini",
		"[base]\nname=box1\n\n[app_flags]\nfirefox=--private-window !a\n\n[startup]\nanything=goes\n")

	p, err := LoadProfile(testEnv(t), path)
	require.NoError(t, err)
	assert.Equal(t, "--private-window !a", p.AppFlags()["firefox"])
}

func TestProfileConfigHardlinksAbsentMeansSkip(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "profile.ini", "[base]\nname=box1\n")
	p, err := LoadProfile(testEnv(t), path)
	require.NoError(t, err)

	skip, hardlink := p.ConfigHardlinks()
	assert.True(t, skip)
	assert.False(t, hardlink)
}

func TestProfileConfigHardlinksFalseMeansCopy(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "profile.ini", "[base]\nname=box1\nconfig_hardlinks=false\n")
	p, err := LoadProfile(testEnv(t), path)
	require.NoError(t, err)

	skip, hardlink := p.ConfigHardlinks()
	assert.False(t, skip)
	assert.False(t, hardlink)
}

func TestProfileAppListPreservesDeclarationOrder(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "profile.ini", "[base]\nname=box1\n\n[apps]\nvlc=vlc\nfirefox=firefox\n")
	p, err := LoadProfile(testEnv(t), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"vlc", "firefox"}, p.AppList())
}

func TestProfileWriteStringRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "profile.ini", "[base]\nname=box1\nx11=true\n")
	p, err := LoadProfile(testEnv(t), path)
	require.NoError(t, err)

	text, err := p.WriteString()
	require.NoError(t, err)

	equal, err := EquivConfig(text, "[base]\nname=box1\nx11=true\n")
	require.NoError(t, err)
	assert.True(t, equal)
}
