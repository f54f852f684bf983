package graphics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterNvidiaDirsKeepsOnlyMatchingDirectories(t *testing.T) {
	base := t.TempDir()
	withMatch := filepath.Join(base, "lib1")
	withoutMatch := filepath.Join(base, "lib2")
	require.NoError(t, os.MkdirAll(withMatch, 0o755))
	require.NoError(t, os.MkdirAll(withoutMatch, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(withMatch, "libnvidia-glcore.so.1"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(withoutMatch, "libGL.so.1"), nil, 0o644))

	out := filterNvidiaDirs([]string{withMatch, withoutMatch}, []string{"*nvidia*.so*"})
	assert.Equal(t, []string{withMatch}, out)
}

func TestFilterNvidiaDirsMatchesAnyPattern(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "gbm")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nvidia_drv_gbm.so"), nil, 0o644))

	out := filterNvidiaDirs([]string{dir}, []string{"libcuda*.so*", "*nvidia*.so*"})
	assert.Equal(t, []string{dir}, out)
}

func TestContainsArg(t *testing.T) {
	assert.True(t, containsArg([]string{"--device=/dev/dri", "-e=FOO=bar"}, "--device=/dev/dri"))
	assert.False(t, containsArg([]string{"--device=/dev/dri"}, "-e=FOO=bar"))
}
