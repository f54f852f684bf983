package config

import "regexp"

// Consts holds the fixed file/path and other names used by ybox that are not
// user-configurable, adapted from the original's ybox.config.Consts.
var Consts = struct {
	ImagePrefix           string
	SharedImagePrefix     string
	DefaultDirMode        uint32
	EntrypointBase        string
	EntrypointCopy        string
	Entrypoint            string
	RunUserBashCmd        string
	ResourceScripts       []string
	SharedRootMountDir    string
	StatusTargetFile      string
	EntrypointInitDone    string
	ContainerDesktopDirs  []string
	ContainerBinDirs      []string
	ContainerManDirRegexp *regexp.Regexp
	SysBinDirs            []string
	NvidiaTargetBaseDir   string
	NvidiaSetupScript     string
	DefaultPager          string
	DefaultFieldSeparator string
	DefaultKeyServer      string
}{
	ImagePrefix:        "ybox-local",
	SharedImagePrefix:  "ybox-shared-local",
	DefaultDirMode:     0o750,
	EntrypointBase:     "entrypoint-base.sh",
	EntrypointCopy:     "entrypoint-cp.sh",
	Entrypoint:         "entrypoint.sh",
	RunUserBashCmd:     "run-user-bash-cmd",
	ResourceScripts: []string{
		"entrypoint-base.sh", "entrypoint-cp.sh", "entrypoint.sh",
		"entrypoint-common.sh", "entrypoint-root.sh", "entrypoint-user.sh",
		"prime-run", "run-in-dir", "run-user-bash-cmd",
	},
	SharedRootMountDir:   "/ybox-root",
	StatusTargetFile:     "/usr/local/ybox-status",
	EntrypointInitDone:   "ybox-init.done",
	ContainerDesktopDirs: []string{"/usr/share/applications"},
	ContainerBinDirs:     []string{"/usr/bin", "/bin", "/usr/sbin", "/sbin", "/usr/local/bin", "/usr/local/sbin"},
	ContainerManDirRegexp: regexp.MustCompile(
		`/usr(/local)?(/share)?/man(/[^/]*)?/man[0-9][a-zA-Z_]*`),
	SysBinDirs:            []string{"/usr/bin", "/bin", "/usr/sbin", "/sbin", "/usr/local/bin", "/usr/local/sbin"},
	NvidiaTargetBaseDir:   "/usr/local/nvidia",
	NvidiaSetupScript:     "nvidia-setup.sh",
	DefaultPager:          "/usr/bin/less -RLFXK",
	DefaultFieldSeparator: "::::",
	DefaultKeyServer:      "hkps://keys.openpgp.org",
}
