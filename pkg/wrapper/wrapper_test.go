package wrapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseListFilesTrimsLeadingDotSlashAndResolvesToRoot(t *testing.T) {
	out := parseListFiles("./usr/bin/firefox\nusr/share/applications/firefox.desktop\n")
	assert := assert.New(t)
	assert.Len(out, 2)
	assert.Equal(fileEntry{dir: "/usr/bin", filename: "firefox", fullPath: "/usr/bin/firefox"}, out[0])
	assert.Equal(fileEntry{dir: "/usr/share/applications", filename: "firefox.desktop", fullPath: "/usr/share/applications/firefox.desktop"}, out[1])
}

func TestParseListFilesSkipsBareDirectoryEntries(t *testing.T) {
	out := parseListFiles("/usr/bin/\n\n/usr/bin/firefox\n")
	require := assert.New(t)
	require.Len(out, 1)
	require.Equal("firefox", out[0].filename)
}

func TestExpandAppFlagsSubstitutesProgramAndArgs(t *testing.T) {
	out := expandAppFlags("!p --private-window !a", "/usr/bin/firefox", "https://example.test")
	assert.Equal(t, "/usr/bin/firefox --private-window https://example.test", out)
}

func TestExpandAppFlagsHonorsEscapedBang(t *testing.T) {
	out := expandAppFlags("!p !!p literal", "/usr/bin/firefox", "")
	assert.Equal(t, "/usr/bin/firefox !p literal", out)
}
