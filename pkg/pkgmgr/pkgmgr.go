package pkgmgr

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sumwale/ybox-sub000/pkg/config"
	"github.com/sumwale/ybox-sub000/pkg/runtime"
	"github.com/sumwale/ybox-sub000/pkg/state"
)

// OptDepMenu presents the optional-dependency multi-select described in
// spec §4.6 Install step 7 (starred = level 1, per supplement #6) and
// returns the names the user chose to install. The interactive picker
// itself is an external collaborator (spec §1); a nil OptDepMenu means no
// picker is wired in, which Install treats the same way
// pkg/wrapper.Generator treats a nil Confirm: nothing is selected.
type OptDepMenu func(pkg string, starred, all []OptDep) []string

// Coordinator runs package-manager operations against one container, using
// its distribution descriptor's shell templates.
type Coordinator struct {
	Driver     *runtime.Driver
	Distro     *config.DistributionDescriptor
	State      *state.Store
	Container  string
	SharedRoot string
	Log        *logrus.Entry
	OptDepMenu OptDepMenu
}

// New builds a Coordinator bound to a single container.
func New(log *logrus.Entry, driver *runtime.Driver, distro *config.DistributionDescriptor, st *state.Store, container, sharedRoot string) *Coordinator {
	return &Coordinator{Driver: driver, Distro: distro, State: st, Container: container, SharedRoot: sharedRoot, Log: log}
}

// execInContainer resolves a pkgmgr template by op name, substitutes values,
// and runs it inside the container via run-user-bash-cmd, mirroring the
// original's subprocess-per-template execution style.
func (c *Coordinator) execInContainer(ctx context.Context, op string, values map[string]string) (string, error) {
	tmpl, ok := c.Distro.PkgmgrTemplate(op)
	if !ok {
		return "", fmt.Errorf("distribution %q has no %q template", c.Distro.Distribution, op)
	}
	cmd := ResolveTemplate(tmpl, knownPlaceholders, values)
	return c.Driver.Run(ctx, "exec", c.Container, "/usr/local/bin/run-user-bash-cmd", cmd)
}

// streamInstall is like execInContainer but runs the template through
// Driver.Exec with the container's output attached directly to this
// process's stdout/stderr, so package-manager progress bars render (spec
// §4.6 step 2). Nothing is written to w.
func (c *Coordinator) streamInstall(ctx context.Context, tmpl string, w io.Writer) error {
	return c.Driver.Exec(ctx, true, c.Container, "/usr/local/bin/run-user-bash-cmd", tmpl)
}

func quietFlag(quiet bool) string {
	if quiet {
		return "1"
	}
	return "0"
}

// InstallOptions controls a single Install call.
type InstallOptions struct {
	CheckFirst       bool
	Quiet            bool
	SkipDesktopFiles bool
	SkipExecutables  bool
	IsOptDepInstall  bool
	AddDepWrappers   bool
	SkipOptDeps      bool
}

// Install runs the install flow described in spec §4.6: optional
// check-first short-circuit, templated install with streamed output,
// canonical-name resolution, wrapper generation and package registration.
// The caller supplies genWrappers to invoke the Wrapper Generator (avoiding
// an import cycle between pkgmgr and wrapper). out is handed to
// streamInstall, which does not write to it: install output goes straight
// to this process's stdout/stderr.
func (c *Coordinator) Install(ctx context.Context, pkg string, opts InstallOptions, out io.Writer,
	genWrappers func(pkg string, copyType state.CopyType) ([]string, error)) error {

	if opts.CheckFirst {
		if canonical, err := c.CheckInstall(ctx, pkg); err == nil && canonical != "" {
			c.Log.Infof("package %q already installed as %q", pkg, canonical)
			return nil
		}
	}

	// pre-work (spec §4.6 Install, "Pre-work"): discover pkg's optional
	// dependencies and which of them are already installed, before running
	// the install itself. A parse failure here must not abort the install
	// (spec §7: "on parse failure, return an empty list rather than
	// aborting the install").
	var starredOptDeps, allOptDeps, installedOptDeps []OptDep
	if !opts.SkipOptDeps {
		if optDepsOut, err := c.execInContainer(ctx, "opt_deps", map[string]string{"package": pkg}); err == nil {
			allOptDeps = ParseOptDeps(optDepsOut)
			starredOptDeps, _ = ComputeOptionalDeps(allOptDeps)
			installedOptDeps = InstalledOptionalDeps(allOptDeps)
		}
	}

	installTmpl, ok := c.Distro.PkgmgrTemplate("install")
	if !ok {
		return fmt.Errorf("distribution %q has no install template", c.Distro.Distribution)
	}
	values := map[string]string{"packages": pkg, "quiet": quietFlag(opts.Quiet)}
	if opts.IsOptDepInstall {
		optDepFlag, _ := c.Distro.PkgmgrTemplate("opt_dep_flag")
		values["opt_dep"] = optDepFlag
	}
	resolved := ResolveTemplate(installTmpl, knownPlaceholders, values)
	if err := c.streamInstall(ctx, resolved, out); err != nil {
		return fmt.Errorf("installing %q: %w", pkg, err)
	}

	canonical, err := c.CheckInstall(ctx, pkg)
	if err != nil || canonical == "" {
		canonical = pkg
	}

	var copyType state.CopyType
	if !opts.IsOptDepInstall || opts.AddDepWrappers {
		if !opts.SkipDesktopFiles {
			copyType |= state.CopyTypeDesktop
		}
		if !opts.SkipExecutables {
			copyType |= state.CopyTypeExecutable
		}
	}

	var localCopies []string
	if copyType != state.CopyTypeNone && genWrappers != nil {
		localCopies, err = genWrappers(canonical, copyType)
		if err != nil {
			return fmt.Errorf("generating wrappers for %q: %w", canonical, err)
		}
	}

	if err := c.State.RegisterPackage(c.Container, canonical, localCopies, copyType, nil, c.SharedRoot, "", "", false); err != nil {
		return err
	}

	// spec §4.6 Install step 6: "register_dependency for every already-
	// installed optional dep".
	for _, dep := range installedOptDeps {
		if err := c.State.RegisterDependency(c.Container, canonical, dep.Name, state.DependencyOptional); err != nil {
			return err
		}
	}

	// spec §4.6 Install step 7: present the optional-dep multi-select and
	// recurse with opt_dep_install=true for whatever the user picked.
	if !opts.SkipOptDeps && len(allOptDeps) > 0 && c.OptDepMenu != nil {
		selected := c.OptDepMenu(canonical, starredOptDeps, allOptDeps)
		for _, depName := range selected {
			depOpts := opts
			depOpts.IsOptDepInstall = true
			if err := c.Install(ctx, depName, depOpts, out, genWrappers); err != nil {
				c.Log.Warnf("failed installing optional dependency %q of %q: %v", depName, canonical, err)
				continue
			}
			if err := c.State.RegisterDependency(c.Container, canonical, depName, state.DependencyOptional); err != nil {
				return err
			}
		}
	}

	return nil
}

// CheckInstall runs check_install and returns the canonical installed
// package name, or "" if not installed.
func (c *Coordinator) CheckInstall(ctx context.Context, pkg string) (string, error) {
	out, err := c.execInContainer(ctx, "check_install", map[string]string{"package": pkg})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// UninstallOptions controls a single Uninstall call.
type UninstallOptions struct {
	KeepConfigFiles bool
	SkipDeps        bool
}

// Uninstall runs the uninstall flow (spec §4.6): resolve the canonical name,
// run the uninstall template, unregister the package, and recurse into any
// dependency packages the State Store reports as now orphaned.
func (c *Coordinator) Uninstall(ctx context.Context, pkg string, opts UninstallOptions, removeWrappers func([]string) error) error {
	canonical, err := c.CheckInstall(ctx, pkg)
	if err != nil {
		return err
	}
	if canonical == "" {
		canonical = pkg
	}

	purgeFlag, _ := c.Distro.PkgmgrTemplate("purge_flag")
	removeDepsFlag, _ := c.Distro.PkgmgrTemplate("remove_deps_flag")
	values := map[string]string{"packages": canonical}
	if !opts.KeepConfigFiles {
		values["purge"] = purgeFlag
	}
	if !opts.SkipDeps {
		values["remove_deps"] = removeDepsFlag
	}
	if _, err := c.execInContainer(ctx, "uninstall", values); err != nil {
		return fmt.Errorf("uninstalling %q: %w", canonical, err)
	}

	orphans, err := c.State.UnregisterPackage(c.Container, canonical, c.SharedRoot)
	if err != nil {
		return err
	}
	for dep := range orphans {
		if err := c.Uninstall(ctx, dep, opts, removeWrappers); err != nil {
			c.Log.Warnf("failed removing orphaned dependency %q of %q: %v", dep, canonical, err)
		}
	}
	return nil
}

// Update runs update_meta+update for specific packages, or update_all when
// packages is empty (spec §4.6).
func (c *Coordinator) Update(ctx context.Context, packages []string) (string, error) {
	if len(packages) == 0 {
		return c.execInContainer(ctx, "update_all", nil)
	}
	joined := strings.Join(packages, " ")
	if out, err := c.execInContainer(ctx, "update_meta", nil); err != nil {
		return out, err
	}
	return c.execInContainer(ctx, "update", map[string]string{"packages": joined})
}

// MarkExplicit drops every package_deps row where pkg appears as a
// dependency and invokes the descriptor's mark_explicit template.
func (c *Coordinator) MarkExplicit(ctx context.Context, pkg string) error {
	if err := c.State.UnregisterDependency(c.Container, ".*", pkg); err != nil {
		return err
	}
	_, err := c.execInContainer(ctx, "mark_explicit", map[string]string{"package": pkg})
	return err
}

// MarkDependencyOf registers dependency as an optional dependency of pkg
// without touching the package manager's own "explicit" marking.
func (c *Coordinator) MarkDependencyOf(pkg, dependency string) error {
	if err := c.State.RegisterPackage(c.Container, pkg, nil, state.CopyTypeNone, nil, c.SharedRoot, "", "", true); err != nil {
		return err
	}
	if err := c.State.RegisterPackage(c.Container, dependency, nil, state.CopyTypeNone, nil, c.SharedRoot, "", "", true); err != nil {
		return err
	}
	return c.State.RegisterDependency(c.Container, pkg, dependency, state.DependencyOptional)
}

// Clean runs the clean (or clean_quiet) template.
func (c *Coordinator) Clean(ctx context.Context, quiet bool) (string, error) {
	op := "clean"
	if quiet {
		op = "clean_quiet"
	}
	return c.execInContainer(ctx, op, nil)
}
