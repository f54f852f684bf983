package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEquivConfigIgnoresExemptSectionsAndKeys(t *testing.T) {
	a := "[base]\nname=box1\nincludes=x.ini\nhome=/home/a\nx11=true\n\n[apps]\nfirefox=firefox\n"
	b := "[base]\nname=box2\nhome=/home/b\nx11=true\n\n[apps]\nvlc=vlc\n\n[env]\nFOO=bar\n"

	equal, err := EquivConfig(a, b)
	require.NoError(t, err)
	assert.True(t, equal, "differences confined to exempt sections/keys must compare equal")
}

func TestEquivConfigDetectsRealDifference(t *testing.T) {
	a := "[base]\nname=box1\nx11=true\n"
	b := "[base]\nname=box1\nx11=false\n"

	equal, err := EquivConfig(a, b)
	require.NoError(t, err)
	assert.False(t, equal, "a non-exempt [base] key difference must not be treated as equivalent")
}

func TestEquivConfigDetectsSecuritySectionDifference(t *testing.T) {
	a := "[base]\nname=box1\n\n[security]\nno_new_privileges=true\n"
	b := "[base]\nname=box1\n\n[security]\nno_new_privileges=false\n"

	equal, err := EquivConfig(a, b)
	require.NoError(t, err)
	assert.False(t, equal, "[security] is not in the exempt section list")
}

func TestEquivConfigIgnoresKeyOrdering(t *testing.T) {
	a := "[base]\nname=box1\nx11=true\nwayland=false\n"
	b := "[base]\nwayland=false\nx11=true\nname=box2\n"

	equal, err := EquivConfig(a, b)
	require.NoError(t, err)
	assert.True(t, equal)
}

func TestDiffConfigEmptyWhenEquivalent(t *testing.T) {
	a := "[base]\nname=box1\nx11=true\n"
	b := "[base]\nname=box2\nx11=true\n"

	diff, err := DiffConfig(a, b)
	require.NoError(t, err)
	assert.Empty(t, diff)
}

func TestDiffConfigNonEmptyWhenDifferent(t *testing.T) {
	a := "[base]\nname=box1\nx11=true\n"
	b := "[base]\nname=box1\nx11=false\n"

	diff, err := DiffConfig(a, b)
	require.NoError(t, err)
	assert.NotEmpty(t, diff)
}
