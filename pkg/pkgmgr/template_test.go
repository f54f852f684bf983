package pkgmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveTemplateSubstitutesKnownPlaceholders(t *testing.T) {
	out := ResolveTemplate("pacman -S {quiet} {packages}", knownPlaceholders,
		map[string]string{"quiet": "--noconfirm", "packages": "firefox vlc"})
	assert.Equal(t, "pacman -S --noconfirm firefox vlc", out)
}

func TestResolveTemplateLeavesUnrecognizedPlaceholderLiteral(t *testing.T) {
	out := ResolveTemplate("echo {not_a_real_placeholder}", knownPlaceholders, map[string]string{})
	assert.Equal(t, "echo {not_a_real_placeholder}", out)
}

func TestResolveTemplateSubstitutesUnmappedKnownPlaceholderWithEmptyString(t *testing.T) {
	out := ResolveTemplate("pacman -S {quiet} {packages}", knownPlaceholders, map[string]string{"packages": "jq"})
	assert.Equal(t, "pacman -S  jq", out)
}

func TestResolveTemplateHandlesUnterminatedBrace(t *testing.T) {
	out := ResolveTemplate("pacman -S {quiet", knownPlaceholders, map[string]string{"quiet": "x"})
	assert.Equal(t, "pacman -S {quiet", out)
}
