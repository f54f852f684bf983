package pkgmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptDepLineWellFormed(t *testing.T) {
	dep, ok := ParseOptDepLine("PKG:hunspell-en::::English spell-check dictionary::::1::::true")
	require.True(t, ok)
	assert.Equal(t, OptDep{Name: "hunspell-en", Description: "English spell-check dictionary", Level: 1, Installed: true}, dep)
}

func TestParseOptDepLineIgnoresNonPkgLines(t *testing.T) {
	_, ok := ParseOptDepLine("Optional dependencies for firefox")
	assert.False(t, ok)

	_, ok = ParseOptDepLine("")
	assert.False(t, ok)
}

func TestParseOptDepLineRejectsMalformedFieldCount(t *testing.T) {
	_, ok := ParseOptDepLine("PKG:hunspell-en::::only-one-extra-field")
	assert.False(t, ok)
}

func TestParseOptDepLineRejectsNonNumericLevel(t *testing.T) {
	_, ok := ParseOptDepLine("PKG:hunspell-en::::desc::::not-a-number::::true")
	assert.False(t, ok, "a parse failure must be reported, not silently defaulted")
}

func TestParseOptDepsSkipsUnparseableLinesAndReturnsTheRest(t *testing.T) {
	output := "Optional dependencies for firefox\n" +
		"PKG:hunspell-en::::English dictionary::::1::::false\n" +
		"\n" +
		"PKG:ffmpeg-codecs::::extra codecs::::2::::true\n"
	deps := ParseOptDeps(output)
	require.Len(t, deps, 2)
	assert.Equal(t, "hunspell-en", deps[0].Name)
	assert.Equal(t, "ffmpeg-codecs", deps[1].Name)
}

func TestComputeOptionalDepsStarsOnlyLevelOne(t *testing.T) {
	deps := []OptDep{
		{Name: "a", Level: 1},
		{Name: "b", Level: 2},
		{Name: "c", Level: 1},
	}
	starred, all := ComputeOptionalDeps(deps)
	require.Len(t, starred, 2)
	assert.Equal(t, []string{"a", "c"}, []string{starred[0].Name, starred[1].Name})
	assert.Len(t, all, 3)
}

func TestInstalledOptionalDepsFiltersToInstalled(t *testing.T) {
	deps := []OptDep{
		{Name: "a", Installed: true},
		{Name: "b", Installed: false},
	}
	installed := InstalledOptionalDeps(deps)
	require.Len(t, installed, 1)
	assert.Equal(t, "a", installed[0].Name)
}
