package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/sumwale/ybox-sub000/pkg/env"
)

// nameRe matches the container-name grammar required by spec §4.4: only
// letters, digits, dots, underscores and dashes.
var nameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidContainerName reports whether name satisfies the container-name grammar.
func ValidContainerName(name string) bool {
	return name != "" && nameRe.MatchString(name)
}

// StaticConfiguration is the pure function of Environment + (distribution,
// box_name) described in spec §3. It also sets the handful of environment
// variables that the distribution-specific shell scripts expect to see,
// matching the teacher-adjacent original's StaticConfiguration.__init__.
type StaticConfiguration struct {
	Env              *env.Environment
	Distribution     string
	BoxName          string
	boxImage         string
	sharedBoxImage   string
	LocalTimeLink    string
	TimezoneText     string
	Pager            string
	ScriptsDir       string
	ConfigsDir       string
	TargetScriptsDir string
	TargetConfigsDir string
	StatusFile       string
	ConfigList       string
	AppList          string
	StartupList      string
}

// NewStaticConfiguration derives a StaticConfiguration for a container.
func NewStaticConfiguration(e *env.Environment, distribution, boxName string) *StaticConfiguration {
	os.Setenv("YBOX_DISTRIBUTION_NAME", distribution)
	os.Setenv("YBOX_CONTAINER_NAME", boxName)

	var localtime, timezone string
	if link, err := os.Readlink("/etc/localtime"); err == nil {
		localtime = link
	}
	if data, err := os.ReadFile("/etc/timezone"); err == nil {
		timezone = trimTrailingNewline(string(data))
	}

	pager := os.Getenv("YBOX_PAGER")
	if pager == "" {
		pager = Consts.DefaultPager
	}

	containerDir := filepath.Join(e.DataDir, boxName)
	os.Setenv("YBOX_CONTAINER_DIR", containerDir)
	scriptsDir := filepath.Join(containerDir, "ybox-scripts")
	targetScriptsDir := "/usr/local/ybox"
	os.Setenv("YBOX_TARGET_SCRIPTS_DIR", targetScriptsDir)

	return &StaticConfiguration{
		Env:              e,
		Distribution:     distribution,
		BoxName:          boxName,
		boxImage:         fmt.Sprintf("%s/%s/%s", Consts.ImagePrefix, distribution, boxName),
		sharedBoxImage:   fmt.Sprintf("%s/%s", Consts.SharedImagePrefix, distribution),
		LocalTimeLink:    localtime,
		TimezoneText:     timezone,
		Pager:            pager,
		ScriptsDir:       scriptsDir,
		ConfigsDir:       filepath.Join(containerDir, "configs"),
		TargetScriptsDir: targetScriptsDir,
		TargetConfigsDir: filepath.Join(e.TargetDataDir, boxName, "configs"),
		StatusFile:       filepath.Join(containerDir, "status"),
		ConfigList:       filepath.Join(scriptsDir, "config.list"),
		AppList:          filepath.Join(scriptsDir, "app.list"),
		StartupList:      filepath.Join(scriptsDir, "startup.list"),
	}
}

// BoxImage returns the image name to build/use: the shared-root image if
// hasSharedRoot is true, else the container-specific image.
func (s *StaticConfiguration) BoxImage(hasSharedRoot bool) string {
	if hasSharedRoot {
		return s.sharedBoxImage
	}
	return s.boxImage
}

// DistributionConfigPath returns the relative path of a distribution's
// descriptor file, by default "distros/<distribution>/distro.ini".
func DistributionConfigPath(distribution, configFile string) string {
	if configFile == "" {
		configFile = "distro.ini"
	}
	return filepath.Join("distros", distribution, configFile)
}

func trimTrailingNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
