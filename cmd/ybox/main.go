// Command ybox is the CLI entry point: it wires the Environment, State
// Store, Runtime Driver and Lifecycle Engine/Package Coordinator/Repo
// Manager together behind the sub-command surface described in spec §6.
// Interactive distribution/profile pickers and confirmation prompts are
// external collaborators per spec §1; this binary exposes the same
// operations as explicit positional arguments and flags instead of
// reimplementing a picker.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/integrii/flaggy"
	"github.com/sirupsen/logrus"

	"github.com/sumwale/ybox-sub000/pkg/config"
	"github.com/sumwale/ybox-sub000/pkg/env"
	"github.com/sumwale/ybox-sub000/pkg/lifecycle"
	"github.com/sumwale/ybox-sub000/pkg/pkgmgr"
	"github.com/sumwale/ybox-sub000/pkg/repo"
	"github.com/sumwale/ybox-sub000/pkg/runtime"
	"github.com/sumwale/ybox-sub000/pkg/state"
	"github.com/sumwale/ybox-sub000/pkg/wrapper"
	"github.com/sumwale/ybox-sub000/pkg/ybox"
)

var version = "unversioned"

// topLevel flags, set directly by flaggy.
var (
	debugFlag      bool
	configDirFlag  string
	runtimeFlag    string
)

func main() {
	flaggy.SetName("ybox")
	flaggy.SetDescription("run per-application Linux containers with podman or docker")
	flaggy.SetVersion(version)
	flaggy.String(&runtimeFlag, "d", "runtime", "path to the podman/docker binary (default: auto-detected)")
	flaggy.String(&configDirFlag, "", "config-search-path", "bundled distros/profiles directory (default: next to the executable)")
	flaggy.Bool(&debugFlag, "", "debug", "enable debug logging to stderr")

	cmds := attachSubcommands()
	flaggy.Parse()

	err := dispatch(cmds)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ybox:", err)
	}
	os.Exit(ybox.ExitCode(err))
}

// subcommandSet holds every leaf *flaggy.Subcommand so dispatch can check
// .Used without re-parsing.
type subcommandSet struct {
	create  *flaggy.Subcommand
	destroy *flaggy.Subcommand
	ls      *flaggy.Subcommand
	logs    *flaggy.Subcommand
	cmd     *flaggy.Subcommand

	controlStart   *flaggy.Subcommand
	controlStop    *flaggy.Subcommand
	controlRestart *flaggy.Subcommand
	controlStatus  *flaggy.Subcommand

	pkgInstall    *flaggy.Subcommand
	pkgUninstall  *flaggy.Subcommand
	pkgUpdate     *flaggy.Subcommand
	pkgList       *flaggy.Subcommand
	pkgListFiles  *flaggy.Subcommand
	pkgSearch     *flaggy.Subcommand
	pkgInfo       *flaggy.Subcommand
	pkgClean      *flaggy.Subcommand
	pkgMark       *flaggy.Subcommand
	pkgRepair     *flaggy.Subcommand
	pkgRepoAdd    *flaggy.Subcommand
	pkgRepoRemove *flaggy.Subcommand
	pkgRepoList   *flaggy.Subcommand
}

// create flags
var (
	createDistribution string
	createProfile      string
	createBoxName      string
	createQuiet        bool
	createForceOrphans bool
)

// destroy flags
var (
	destroyBoxName string
	destroyForce   bool
)

// ls flags
var lsAll bool

// logs/cmd positional
var (
	logsBoxName string
	cmdBoxName  string
)

// control positionals
var (
	controlStartBox   string
	controlStopBox    string
	controlStopFail   bool
	controlRestartBox string
	controlStatusBox  string
)

// pkg shared positionals/flags
var (
	pkgInstallBox             string
	pkgInstallPackage         string
	pkgInstallCheckFirst      bool
	pkgInstallQuiet           bool
	pkgInstallSkipDesktop     bool
	pkgInstallSkipExecutables bool
	pkgInstallIsOptDep        bool
	pkgInstallAddDepWrappers  bool
	pkgInstallSkipOptDeps     bool

	pkgUninstallBox             string
	pkgUninstallPackage         string
	pkgUninstallKeepConfigFiles bool
	pkgUninstallSkipDeps        bool

	pkgUpdateBox string

	pkgListBox            string
	pkgListAll            bool
	pkgListLong           bool
	pkgListManagedOnly    bool
	pkgListPlainSeparator string

	pkgListFilesBox     string
	pkgListFilesPackage string

	pkgSearchBox       string
	pkgSearchTerm      string
	pkgSearchAll       bool
	pkgSearchOfficial  bool
	pkgSearchWordStart bool
	pkgSearchWordEnd   bool

	pkgInfoBox     string
	pkgInfoPackage string
	pkgInfoAll     bool

	pkgCleanBox   string
	pkgCleanQuiet bool

	pkgMarkBox           string
	pkgMarkPackage       string
	pkgMarkDependencyOf  string

	pkgRepairBox             string
	pkgRepairExtensive       bool
	pkgRepairQuiet           bool
	pkgRepairRemoveLockFiles bool

	pkgRepoAddBox           string
	pkgRepoAddName          string
	pkgRepoAddKey           string
	pkgRepoAddKeyServer     string
	pkgRepoAddOptions       string
	pkgRepoAddWithSourceRepo bool

	pkgRepoRemoveBox   string
	pkgRepoRemoveName  string
	pkgRepoRemoveForce bool

	pkgRepoListBox string
)

func attachSubcommands() *subcommandSet {
	s := &subcommandSet{}

	s.create = flaggy.NewSubcommand("create")
	s.create.Description = "create a new ybox container from a distribution and profile"
	s.create.AddPositionalValue(&createDistribution, "distribution", 1, true, "distribution name (directory under distros/)")
	s.create.AddPositionalValue(&createProfile, "profile", 2, true, "profile name (or path) under profiles/")
	s.create.String(&createBoxName, "n", "name", "container name (default: the profile's base.name)")
	s.create.Bool(&createQuiet, "q", "quiet", "suppress interactive package-manager prompts")
	s.create.Bool(&createForceOrphans, "", "force-own-orphans", "reassign orphaned shared-root packages unconditionally")
	flaggy.AttachSubcommand(s.create, 1)

	s.destroy = flaggy.NewSubcommand("destroy")
	s.destroy.Description = "stop and remove a ybox container"
	s.destroy.AddPositionalValue(&destroyBoxName, "container", 1, true, "container name")
	s.destroy.Bool(&destroyForce, "f", "force", "force-remove even if still running")
	flaggy.AttachSubcommand(s.destroy, 1)

	control := flaggy.NewSubcommand("control")
	control.Description = "start, stop, restart or query a ybox container"
	s.controlStart = flaggy.NewSubcommand("start")
	s.controlStart.AddPositionalValue(&controlStartBox, "container", 1, true, "container name")
	control.AttachSubcommand(s.controlStart, 1)
	s.controlStop = flaggy.NewSubcommand("stop")
	s.controlStop.AddPositionalValue(&controlStopBox, "container", 1, true, "container name")
	s.controlStop.Bool(&controlStopFail, "", "fail-if-not-running", "return an error instead of succeeding silently")
	control.AttachSubcommand(s.controlStop, 1)
	s.controlRestart = flaggy.NewSubcommand("restart")
	s.controlRestart.AddPositionalValue(&controlRestartBox, "container", 1, true, "container name")
	control.AttachSubcommand(s.controlRestart, 1)
	s.controlStatus = flaggy.NewSubcommand("status")
	s.controlStatus.AddPositionalValue(&controlStatusBox, "container", 1, true, "container name")
	control.AttachSubcommand(s.controlStatus, 1)
	flaggy.AttachSubcommand(control, 1)

	s.ls = flaggy.NewSubcommand("ls")
	s.ls.Description = "list containers known to the runtime"
	s.ls.Bool(&lsAll, "a", "all", "include stopped containers")
	flaggy.AttachSubcommand(s.ls, 1)

	s.logs = flaggy.NewSubcommand("logs")
	s.logs.Description = "stream a container's runtime logs"
	s.logs.AddPositionalValue(&logsBoxName, "container", 1, true, "container name")
	flaggy.AttachSubcommand(s.logs, 1)

	s.cmd = flaggy.NewSubcommand("cmd")
	s.cmd.Description = "run a command inside a container (pass it after --)"
	s.cmd.AddPositionalValue(&cmdBoxName, "container", 1, true, "container name")
	flaggy.AttachSubcommand(s.cmd, 1)

	pkg := flaggy.NewSubcommand("pkg")
	pkg.Description = "install, remove and query packages inside a container"

	s.pkgInstall = flaggy.NewSubcommand("install")
	s.pkgInstall.AddPositionalValue(&pkgInstallBox, "container", 1, true, "container name")
	s.pkgInstall.AddPositionalValue(&pkgInstallPackage, "package", 2, true, "package name")
	s.pkgInstall.Bool(&pkgInstallCheckFirst, "", "check-first", "skip if already installed")
	s.pkgInstall.Bool(&pkgInstallQuiet, "q", "quiet", "suppress package-manager prompts")
	s.pkgInstall.Bool(&pkgInstallSkipDesktop, "", "skip-desktop-files", "do not create a .desktop wrapper")
	s.pkgInstall.Bool(&pkgInstallSkipExecutables, "", "skip-executables", "do not create executable shims")
	s.pkgInstall.Bool(&pkgInstallIsOptDep, "", "opt-dep", "install as an optional dependency of another package")
	s.pkgInstall.Bool(&pkgInstallAddDepWrappers, "", "add-dep-wrappers", "create wrappers even for an optional dependency")
	s.pkgInstall.Bool(&pkgInstallSkipOptDeps, "", "skip-opt-deps", "do not offer to install optional dependencies")
	pkg.AttachSubcommand(s.pkgInstall, 1)

	s.pkgUninstall = flaggy.NewSubcommand("uninstall")
	s.pkgUninstall.AddPositionalValue(&pkgUninstallBox, "container", 1, true, "container name")
	s.pkgUninstall.AddPositionalValue(&pkgUninstallPackage, "package", 2, true, "package name")
	s.pkgUninstall.Bool(&pkgUninstallKeepConfigFiles, "", "keep-config-files", "do not purge configuration files")
	s.pkgUninstall.Bool(&pkgUninstallSkipDeps, "", "skip-deps", "do not remove now-unneeded dependencies")
	pkg.AttachSubcommand(s.pkgUninstall, 1)

	s.pkgUpdate = flaggy.NewSubcommand("update")
	s.pkgUpdate.AddPositionalValue(&pkgUpdateBox, "container", 1, true, "container name")
	pkg.AttachSubcommand(s.pkgUpdate, 1)

	s.pkgList = flaggy.NewSubcommand("list")
	s.pkgList.AddPositionalValue(&pkgListBox, "container", 1, true, "container name")
	s.pkgList.Bool(&pkgListAll, "a", "all", "include dependency-only packages")
	s.pkgList.Bool(&pkgListLong, "l", "long", "verbose listing")
	s.pkgList.Bool(&pkgListManagedOnly, "", "managed-only", "list only from the state store, not the package manager")
	s.pkgList.String(&pkgListPlainSeparator, "", "plain-separator", "field separator for managed-only output")
	pkg.AttachSubcommand(s.pkgList, 1)

	s.pkgListFiles = flaggy.NewSubcommand("list-files")
	s.pkgListFiles.AddPositionalValue(&pkgListFilesBox, "container", 1, true, "container name")
	s.pkgListFiles.AddPositionalValue(&pkgListFilesPackage, "package", 2, true, "package name")
	pkg.AttachSubcommand(s.pkgListFiles, 1)

	s.pkgSearch = flaggy.NewSubcommand("search")
	s.pkgSearch.AddPositionalValue(&pkgSearchBox, "container", 1, true, "container name")
	s.pkgSearch.AddPositionalValue(&pkgSearchTerm, "term", 2, true, "search term")
	s.pkgSearch.Bool(&pkgSearchAll, "a", "all", "search every configured repository")
	s.pkgSearch.Bool(&pkgSearchOfficial, "", "official", "restrict to the official repository")
	s.pkgSearch.Bool(&pkgSearchWordStart, "", "word-start", "match term only at a word start")
	s.pkgSearch.Bool(&pkgSearchWordEnd, "", "word-end", "match term only at a word end")
	pkg.AttachSubcommand(s.pkgSearch, 1)

	s.pkgInfo = flaggy.NewSubcommand("info")
	s.pkgInfo.AddPositionalValue(&pkgInfoBox, "container", 1, true, "container name")
	s.pkgInfo.AddPositionalValue(&pkgInfoPackage, "package", 2, true, "package name")
	s.pkgInfo.Bool(&pkgInfoAll, "a", "all", "show info even for packages not installed")
	pkg.AttachSubcommand(s.pkgInfo, 1)

	s.pkgClean = flaggy.NewSubcommand("clean")
	s.pkgClean.AddPositionalValue(&pkgCleanBox, "container", 1, true, "container name")
	s.pkgClean.Bool(&pkgCleanQuiet, "q", "quiet", "suppress package-manager prompts")
	pkg.AttachSubcommand(s.pkgClean, 1)

	s.pkgMark = flaggy.NewSubcommand("mark")
	s.pkgMark.AddPositionalValue(&pkgMarkBox, "container", 1, true, "container name")
	s.pkgMark.AddPositionalValue(&pkgMarkPackage, "package", 2, true, "package name")
	s.pkgMark.String(&pkgMarkDependencyOf, "", "dependency-of", "mark as an optional dependency of this package instead of explicit")
	pkg.AttachSubcommand(s.pkgMark, 1)

	s.pkgRepair = flaggy.NewSubcommand("repair")
	s.pkgRepair.AddPositionalValue(&pkgRepairBox, "container", 1, true, "container name")
	s.pkgRepair.Bool(&pkgRepairExtensive, "", "extensive", "run repair_all instead of repair")
	s.pkgRepair.Bool(&pkgRepairQuiet, "q", "quiet", "act without interactive confirmation")
	s.pkgRepair.Bool(&pkgRepairRemoveLockFiles, "", "remove-lock-files", "remove stale package-manager lock files")
	pkg.AttachSubcommand(s.pkgRepair, 1)

	s.pkgRepoAdd = flaggy.NewSubcommand("repo-add")
	s.pkgRepoAdd.AddPositionalValue(&pkgRepoAddBox, "container", 1, true, "container name")
	s.pkgRepoAdd.AddPositionalValue(&pkgRepoAddName, "name", 2, true, "repository name")
	s.pkgRepoAdd.String(&pkgRepoAddKey, "", "key", "signing key URL or bare key ID")
	s.pkgRepoAddKeyServer = ""
	s.pkgRepoAdd.String(&pkgRepoAddKeyServer, "", "key-server", "key server to fetch a bare key ID from")
	s.pkgRepoAdd.String(&pkgRepoAddOptions, "", "options", "extra repository options")
	s.pkgRepoAdd.Bool(&pkgRepoAddWithSourceRepo, "", "add-source-repo", "also register the source repository")
	pkg.AttachSubcommand(s.pkgRepoAdd, 1)

	s.pkgRepoRemove = flaggy.NewSubcommand("repo-remove")
	s.pkgRepoRemove.AddPositionalValue(&pkgRepoRemoveBox, "container", 1, true, "container name")
	s.pkgRepoRemove.AddPositionalValue(&pkgRepoRemoveName, "name", 2, true, "repository name")
	s.pkgRepoRemove.Bool(&pkgRepoRemoveForce, "f", "force", "ignore individual step failures")
	pkg.AttachSubcommand(s.pkgRepoRemove, 1)

	s.pkgRepoList = flaggy.NewSubcommand("repo-list")
	s.pkgRepoList.AddPositionalValue(&pkgRepoListBox, "container", 1, true, "container name")
	pkg.AttachSubcommand(s.pkgRepoList, 1)

	flaggy.AttachSubcommand(pkg, 1)

	return s
}

// dispatch runs whichever leaf subcommand flaggy marked as used.
func dispatch(s *subcommandSet) error {
	ctx := context.Background()

	switch {
	case s.create.Used:
		return runCreate(ctx)
	case s.destroy.Used:
		return runDestroy(ctx)
	case s.controlStart.Used:
		return runControlStart(ctx)
	case s.controlStop.Used:
		return runControlStop(ctx)
	case s.controlRestart.Used:
		return runControlRestart(ctx)
	case s.controlStatus.Used:
		return runControlStatus(ctx)
	case s.ls.Used:
		return runLs(ctx)
	case s.logs.Used:
		return runLogs(ctx)
	case s.cmd.Used:
		return runCmd(ctx, s.cmd)
	case s.pkgInstall.Used:
		return runPkgInstall(ctx)
	case s.pkgUninstall.Used:
		return runPkgUninstall(ctx)
	case s.pkgUpdate.Used:
		return runPkgUpdate(ctx, s.pkgUpdate)
	case s.pkgList.Used:
		return runPkgList(ctx)
	case s.pkgListFiles.Used:
		return runPkgListFiles(ctx)
	case s.pkgSearch.Used:
		return runPkgSearch(ctx)
	case s.pkgInfo.Used:
		return runPkgInfo(ctx)
	case s.pkgClean.Used:
		return runPkgClean(ctx)
	case s.pkgMark.Used:
		return runPkgMark(ctx)
	case s.pkgRepair.Used:
		return runPkgRepair(ctx)
	case s.pkgRepoAdd.Used:
		return runPkgRepoAdd(ctx)
	case s.pkgRepoRemove.Used:
		return runPkgRepoRemove(ctx)
	case s.pkgRepoList.Used:
		return runPkgRepoList(ctx)
	default:
		flaggy.ShowHelp("")
		return nil
	}
}

// appContext bundles the long-lived collaborators every command needs.
type appContext struct {
	Env    *env.Environment
	Driver *runtime.Driver
	State  *state.Store
	Log    *logrus.Entry
}

func newAppContext() (*appContext, error) {
	e, err := env.New(configDirFlag)
	if err != nil {
		return nil, ybox.Wrap(err)
	}
	log := ybox.NewLogger(e.DataDir, debugFlag)
	driver, err := runtime.New(log, runtimeFlag)
	if err != nil {
		return nil, ybox.Runtime("%v", err)
	}
	st, err := state.Open(log, e.DataDir)
	if err != nil {
		return nil, ybox.Wrap(err)
	}
	return &appContext{Env: e, Driver: driver, State: st, Log: log}, nil
}

// loadContainerDistro resolves a registered container's distribution
// descriptor and its persisted runtime configuration.
func (c *appContext) loadContainerDistro(container string) (*config.DistributionDescriptor, *state.RuntimeConfiguration, error) {
	rc, err := c.State.GetContainerConfiguration(container)
	if err != nil {
		return nil, nil, ybox.Wrap(err)
	}
	if rc == nil {
		return nil, nil, ybox.NotFound("no ybox container %q registered", container)
	}
	d, err := config.LoadDistributionDescriptor(c.Env, rc.Distribution, "")
	if err != nil {
		return nil, nil, err
	}
	return d, rc, nil
}

// repoScope is the container-or-shared-root key repository rows register
// under (spec §4.3, entity Repository).
func repoScope(rc *state.RuntimeConfiguration) string {
	if rc.SharedRoot != "" {
		return rc.SharedRoot
	}
	return rc.Name
}

func profileConfigPath(nameOrPath string) string {
	if filepath.IsAbs(nameOrPath) || strings.ContainsRune(nameOrPath, filepath.Separator) || strings.HasSuffix(nameOrPath, ".ini") {
		return nameOrPath
	}
	return filepath.Join("profiles", nameOrPath+".ini")
}

func runCreate(ctx context.Context) error {
	c, err := newAppContext()
	if err != nil {
		return err
	}
	defer c.State.Close()

	distro, err := config.LoadDistributionDescriptor(c.Env, createDistribution, "")
	if err != nil {
		return err
	}
	profile, err := config.LoadProfile(c.Env, profileConfigPath(createProfile))
	if err != nil {
		return err
	}
	boxName := createBoxName
	if boxName == "" {
		boxName = profile.Name()
	}
	if boxName == "" {
		return ybox.Validation("no container name given and profile has no base.name")
	}

	engine := lifecycle.New(c.Log, c.Env, c.Driver, c.State)
	return engine.Create(ctx, lifecycle.CreateInput{
		BoxName:         boxName,
		Distribution:    createDistribution,
		Profile:         profile,
		Distro:          distro,
		Quiet:           createQuiet,
		ForceOwnOrphans: createForceOrphans,
	})
}

func runDestroy(ctx context.Context) error {
	c, err := newAppContext()
	if err != nil {
		return err
	}
	defer c.State.Close()
	engine := lifecycle.New(c.Log, c.Env, c.Driver, c.State)
	return engine.Destroy(ctx, destroyBoxName, destroyForce)
}

func runControlStart(ctx context.Context) error {
	c, err := newAppContext()
	if err != nil {
		return err
	}
	defer c.State.Close()
	_, rc, err := c.loadContainerDistro(controlStartBox)
	if err != nil {
		return err
	}
	engine := lifecycle.New(c.Log, c.Env, c.Driver, c.State)
	return engine.Start(ctx, controlStartBox, rc.Distribution)
}

func runControlStop(ctx context.Context) error {
	c, err := newAppContext()
	if err != nil {
		return err
	}
	defer c.State.Close()
	engine := lifecycle.New(c.Log, c.Env, c.Driver, c.State)
	return engine.Stop(ctx, controlStopBox, controlStopFail)
}

func runControlRestart(ctx context.Context) error {
	c, err := newAppContext()
	if err != nil {
		return err
	}
	defer c.State.Close()
	_, rc, err := c.loadContainerDistro(controlRestartBox)
	if err != nil {
		return err
	}
	engine := lifecycle.New(c.Log, c.Env, c.Driver, c.State)
	return engine.Restart(ctx, controlRestartBox, rc.Distribution)
}

func runControlStatus(ctx context.Context) error {
	c, err := newAppContext()
	if err != nil {
		return err
	}
	defer c.State.Close()
	out, err := c.Driver.Run(ctx, "inspect", "--format={{.State.Status}}", controlStatusBox)
	if err != nil {
		return ybox.Runtime("%v", err)
	}
	fmt.Println(strings.TrimSpace(out))
	return nil
}

func runLs(ctx context.Context) error {
	c, err := newAppContext()
	if err != nil {
		return err
	}
	defer c.State.Close()
	names, err := c.Driver.ListContainers(ctx, lsAll)
	if err != nil {
		return ybox.Runtime("%v", err)
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func runLogs(ctx context.Context) error {
	c, err := newAppContext()
	if err != nil {
		return err
	}
	defer c.State.Close()
	return c.Driver.StreamLogs(ctx, logsBoxName, os.Stdout)
}

func runCmd(ctx context.Context, sc *flaggy.Subcommand) error {
	c, err := newAppContext()
	if err != nil {
		return err
	}
	defer c.State.Close()
	if len(sc.TrailingArguments) == 0 {
		return ybox.Validation("no command given; pass it after --")
	}
	return c.Driver.Exec(ctx, true, cmdBoxName, sc.TrailingArguments...)
}

// buildCoordinator resolves the distribution descriptor for container and
// builds a bound pkgmgr.Coordinator plus the static configuration needed to
// regenerate wrappers.
func (c *appContext) buildCoordinator(container string) (*pkgmgr.Coordinator, *config.StaticConfiguration, *state.RuntimeConfiguration, error) {
	distro, rc, err := c.loadContainerDistro(container)
	if err != nil {
		return nil, nil, nil, err
	}
	static := config.NewStaticConfiguration(c.Env, rc.Distribution, container)
	coord := pkgmgr.New(c.Log, c.Driver, distro, c.State, container, rc.SharedRoot)
	return coord, static, rc, nil
}

// genWrappersFor builds the closure pkgmgr.Install/Uninstall use to invoke
// the Wrapper Generator, the same way lifecycle.settleState does it.
func genWrappersFor(ctx context.Context, c *appContext, distro *config.DistributionDescriptor, static *config.StaticConfiguration, container, sharedRoot string) func(pkg string, copyType state.CopyType) ([]string, error) {
	gen := &wrapper.Generator{
		Driver:     c.Driver,
		Static:     static,
		Container:  container,
		SharedRoot: sharedRoot,
		Log:        c.Log,
	}
	return func(pkg string, copyType state.CopyType) ([]string, error) {
		listFilesTmpl, ok := distro.PkgmgrTemplate("list_files")
		if !ok {
			return nil, nil
		}
		resolved := pkgmgr.ResolveTemplate(listFilesTmpl, []string{"package"}, map[string]string{"package": pkg})
		out, err := c.Driver.Run(ctx, "exec", container, "/usr/local/bin/run-user-bash-cmd", resolved)
		if err != nil {
			return nil, err
		}
		return gen.Generate(ctx, pkg, copyType, nil, out)
	}
}

func removeWrapperFiles(paths []string) error {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func runPkgInstall(ctx context.Context) error {
	c, err := newAppContext()
	if err != nil {
		return err
	}
	defer c.State.Close()
	distro, rc, err := c.loadContainerDistro(pkgInstallBox)
	if err != nil {
		return err
	}
	static := config.NewStaticConfiguration(c.Env, rc.Distribution, pkgInstallBox)
	coord := pkgmgr.New(c.Log, c.Driver, distro, c.State, pkgInstallBox, rc.SharedRoot)
	genWrappers := genWrappersFor(ctx, c, distro, static, pkgInstallBox, rc.SharedRoot)
	return coord.Install(ctx, pkgInstallPackage, pkgmgr.InstallOptions{
		CheckFirst:       pkgInstallCheckFirst,
		Quiet:            pkgInstallQuiet,
		SkipDesktopFiles: pkgInstallSkipDesktop,
		SkipExecutables:  pkgInstallSkipExecutables,
		IsOptDepInstall:  pkgInstallIsOptDep,
		AddDepWrappers:   pkgInstallAddDepWrappers,
		SkipOptDeps:      pkgInstallSkipOptDeps,
	}, os.Stdout, genWrappers)
}

func runPkgUninstall(ctx context.Context) error {
	c, err := newAppContext()
	if err != nil {
		return err
	}
	defer c.State.Close()
	coord, _, _, err := c.buildCoordinator(pkgUninstallBox)
	if err != nil {
		return err
	}
	return coord.Uninstall(ctx, pkgUninstallPackage, pkgmgr.UninstallOptions{
		KeepConfigFiles: pkgUninstallKeepConfigFiles,
		SkipDeps:        pkgUninstallSkipDeps,
	}, removeWrapperFiles)
}

func runPkgUpdate(ctx context.Context, sc *flaggy.Subcommand) error {
	c, err := newAppContext()
	if err != nil {
		return err
	}
	defer c.State.Close()
	coord, _, _, err := c.buildCoordinator(pkgUpdateBox)
	if err != nil {
		return err
	}
	out, err := coord.Update(ctx, sc.TrailingArguments)
	fmt.Print(out)
	return err
}

func runPkgList(ctx context.Context) error {
	c, err := newAppContext()
	if err != nil {
		return err
	}
	defer c.State.Close()
	coord, _, _, err := c.buildCoordinator(pkgListBox)
	if err != nil {
		return err
	}
	out, err := coord.List(ctx, pkgmgr.ListOptions{
		All:            pkgListAll,
		Long:           pkgListLong,
		ManagedOnly:    pkgListManagedOnly,
		PlainSeparator: pkgListPlainSeparator,
	})
	if out != "" {
		fmt.Println(out)
	}
	return err
}

func runPkgListFiles(ctx context.Context) error {
	c, err := newAppContext()
	if err != nil {
		return err
	}
	defer c.State.Close()
	coord, _, _, err := c.buildCoordinator(pkgListFilesBox)
	if err != nil {
		return err
	}
	out, err := coord.ListFiles(ctx, pkgListFilesPackage)
	fmt.Print(out)
	return err
}

func runPkgSearch(ctx context.Context) error {
	c, err := newAppContext()
	if err != nil {
		return err
	}
	defer c.State.Close()
	coord, _, _, err := c.buildCoordinator(pkgSearchBox)
	if err != nil {
		return err
	}
	_, err = coord.Search(ctx, pkgSearchTerm, pkgmgr.SearchOptions{
		All:       pkgSearchAll,
		Official:  pkgSearchOfficial,
		WordStart: pkgSearchWordStart,
		WordEnd:   pkgSearchWordEnd,
	})
	return err
}

func runPkgInfo(ctx context.Context) error {
	c, err := newAppContext()
	if err != nil {
		return err
	}
	defer c.State.Close()
	coord, _, _, err := c.buildCoordinator(pkgInfoBox)
	if err != nil {
		return err
	}
	_, err = coord.Info(ctx, pkgInfoPackage, pkgInfoAll)
	return err
}

func runPkgClean(ctx context.Context) error {
	c, err := newAppContext()
	if err != nil {
		return err
	}
	defer c.State.Close()
	coord, _, _, err := c.buildCoordinator(pkgCleanBox)
	if err != nil {
		return err
	}
	out, err := coord.Clean(ctx, pkgCleanQuiet)
	fmt.Print(out)
	return err
}

func runPkgMark(ctx context.Context) error {
	c, err := newAppContext()
	if err != nil {
		return err
	}
	defer c.State.Close()
	coord, _, _, err := c.buildCoordinator(pkgMarkBox)
	if err != nil {
		return err
	}
	if pkgMarkDependencyOf != "" {
		return coord.MarkDependencyOf(pkgMarkDependencyOf, pkgMarkPackage)
	}
	return coord.MarkExplicit(ctx, pkgMarkPackage)
}

func runPkgRepair(ctx context.Context) error {
	c, err := newAppContext()
	if err != nil {
		return err
	}
	defer c.State.Close()
	coord, _, _, err := c.buildCoordinator(pkgRepairBox)
	if err != nil {
		return err
	}
	report, err := coord.Repair(ctx, pkgmgr.RepairOptions{
		Quiet:           pkgRepairQuiet,
		Extensive:       pkgRepairExtensive,
		RemoveLockFiles: pkgRepairRemoveLockFiles,
	})
	if report != nil {
		for _, p := range report.KilledProcesses {
			fmt.Println("killed:", p)
		}
		for _, l := range report.StaleLockFiles {
			fmt.Println("stale lock:", l)
		}
		fmt.Print(report.Output)
	}
	return err
}

func newRepoManager(c *appContext, container string) (*repo.Manager, error) {
	distro, rc, err := c.loadContainerDistro(container)
	if err != nil {
		return nil, err
	}
	return &repo.Manager{
		Driver:    c.Driver,
		Distro:    distro,
		State:     c.State,
		Container: container,
		Scope:     repoScope(rc),
		Log:       c.Log,
	}, nil
}

func runPkgRepoAdd(ctx context.Context) error {
	c, err := newAppContext()
	if err != nil {
		return err
	}
	defer c.State.Close()
	m, err := newRepoManager(c, pkgRepoAddBox)
	if err != nil {
		return err
	}
	if err := c.State.BeginTransaction(); err != nil {
		return err
	}
	if err := m.Add(ctx, pkgRepoAddName, nil, repo.AddOptions{
		Key:           pkgRepoAddKey,
		KeyServer:     pkgRepoAddKeyServer,
		Options:       pkgRepoAddOptions,
		AddSourceRepo: pkgRepoAddWithSourceRepo,
	}); err != nil {
		c.State.Rollback()
		return err
	}
	return c.State.Commit()
}

func runPkgRepoRemove(ctx context.Context) error {
	c, err := newAppContext()
	if err != nil {
		return err
	}
	defer c.State.Close()
	m, err := newRepoManager(c, pkgRepoRemoveBox)
	if err != nil {
		return err
	}
	return m.Remove(ctx, pkgRepoRemoveName, pkgRepoRemoveForce)
}

func runPkgRepoList(ctx context.Context) error {
	c, err := newAppContext()
	if err != nil {
		return err
	}
	defer c.State.Close()
	m, err := newRepoManager(c, pkgRepoListBox)
	if err != nil {
		return err
	}
	repos, err := m.List()
	if err != nil {
		return err
	}
	for _, r := range repos {
		fmt.Printf("%s\t%s\n", r.Name, r.URLs)
	}
	return nil
}
