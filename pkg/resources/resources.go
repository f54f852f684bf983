// Package resources embeds the shell scripts shared with every container
// (spec §4.4 step 4: "copy the common resource scripts"). Grounded on the
// examples' use of go:embed for shipped runtime assets (e.g.
// banksean-sand/cmd/sand/embeds.go, cuemby-warren/pkg/embedded/containerd.go).
package resources

import "embed"

//go:embed scripts
var scriptsFS embed.FS

// Script returns the contents of a named resource script (e.g.
// "entrypoint.sh"), as listed in config.Consts.ResourceScripts.
func Script(name string) ([]byte, error) {
	return scriptsFS.ReadFile("scripts/" + name)
}
