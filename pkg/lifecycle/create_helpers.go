package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sumwale/ybox-sub000/pkg/config"
	"github.com/sumwale/ybox-sub000/pkg/filelock"
	"github.com/sumwale/ybox-sub000/pkg/pkgmgr"
	"github.com/sumwale/ybox-sub000/pkg/state"
	"github.com/sumwale/ybox-sub000/pkg/wrapper"
)

func depSuffixRegexp() *regexp.Regexp {
	return regexp.MustCompile(`^(.*):dep\((.*)\)$`)
}

const tmpImageSuffix = "__ybox_tmp"

// runBaseContainer boots the distribution's upstream image with
// entrypoint-base.sh to create a sudo-enabled user/group matching the host
// user, then waits for it to exit (spec §4.4 step 7).
func (e *Engine) runBaseContainer(ctx context.Context, static *config.StaticConfiguration, d *config.DistributionDescriptor, u *user.User, secondaryGroups []string) error {
	uid, gid := u.Uid, u.Gid
	gecos := u.Name
	if gecos == "" {
		gecos = u.Username
	}
	runArgs := append([]string{"run", "-id", fmt.Sprintf("--name=%s_base", static.BoxName),
		fmt.Sprintf("-v=%s:%s", static.ScriptsDir, config.Consts.TargetScriptsDir),
		"--entrypoint", filepath.Join(config.Consts.TargetScriptsDir, config.Consts.EntrypointBase),
		d.Image(), u.Username, uid, gid, gecos, strings.Join(secondaryGroups, ",")})
	if _, err := e.Driver.Run(ctx, runArgs...); err != nil {
		return fmt.Errorf("starting base container: %w", err)
	}
	if err := e.waitForExit(ctx, fmt.Sprintf("%s_base", static.BoxName), 120*time.Second); err != nil {
		return err
	}
	return nil
}

// commitContainer commits the (stopped) base container, setting USER and
// WORKDIR to the newly created user, then removes the source container
// (spec §4.4 step 7).
func (e *Engine) commitContainer(ctx context.Context, username, image string, static *config.StaticConfiguration) error {
	base := fmt.Sprintf("%s_base", static.BoxName)
	if _, err := e.Driver.Run(ctx, "commit",
		fmt.Sprintf("--change=USER=%s", username),
		fmt.Sprintf("--change=WORKDIR=/home/%s", username),
		base, image); err != nil {
		return fmt.Errorf("committing base container: %w", err)
	}
	if _, err := e.Driver.RemoveContainer(ctx, base); err != nil {
		e.Log.Warnf("removing base container %q: %v", base, err)
	}
	return nil
}

// createSharedRootImage implements the shared_root branch of spec §4.4 step
// 6: acquire the per-root lock, build (or refresh) the shared image, and
// populate the shared root directories via a copy container.
func (e *Engine) createSharedRootImage(ctx context.Context, static *config.StaticConfiguration, d *config.DistributionDescriptor, sharedRoot string, u *user.User, secondaryGroups []string, quiet bool) error {
	if err := os.MkdirAll(filepath.Dir(sharedRoot), config.Consts.DefaultDirMode); err != nil {
		return err
	}
	lock, err := filelock.Acquire(e.Log, sharedRoot+"-image.lock", -1, 0)
	if err != nil {
		return err
	}
	defer lock.Release()

	sharedImage := static.BoxImage(true)
	sharedRootDirs := strings.Join(d.SharedRootDirs(), ",")

	if !e.Driver.ImageExists(ctx, sharedImage) {
		if err := e.runBaseContainer(ctx, static, d, u, secondaryGroups); err != nil {
			return err
		}
		tmpImage := static.BoxImage(false) + tmpImageSuffix
		if err := e.commitContainer(ctx, u.Username, tmpImage, static); err != nil {
			return err
		}
		if err := e.runSharedCopyContainer(ctx, static, tmpImage, sharedRoot, sharedRootDirs); err != nil {
			return err
		}
		if err := e.commitContainer(ctx, u.Username, sharedImage, static); err != nil {
			return err
		}
		if _, err := e.Driver.RemoveImage(ctx, tmpImage); err != nil {
			e.Log.Warnf("removing temporary image %q: %v", tmpImage, err)
		}
		return nil
	}

	for _, dir := range strings.Split(sharedRootDirs, ",") {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		if _, statErr := os.Stat(sharedRoot + dir); statErr != nil {
			return e.runSharedCopyContainer(ctx, static, sharedImage, sharedRoot, sharedRootDirs)
		}
	}
	return nil
}

// runSharedCopyContainer starts a container from image that bind-mounts
// sharedRoot and invokes entrypoint-cp.sh to populate it with the listed
// directories, then removes the container (spec §4.4 step 6).
func (e *Engine) runSharedCopyContainer(ctx context.Context, static *config.StaticConfiguration, image, sharedRoot, sharedRootDirs string) error {
	name := fmt.Sprintf("%s_copy", static.BoxName)
	args := []string{
		"run", "-id", fmt.Sprintf("--name=%s", name),
		"--userns=keep-id",
		fmt.Sprintf("-v=%s:%s", static.ScriptsDir, config.Consts.TargetScriptsDir),
		fmt.Sprintf("-v=%s:%s", sharedRoot, config.Consts.SharedRootMountDir),
		"--entrypoint", filepath.Join(config.Consts.TargetScriptsDir, config.Consts.EntrypointCopy),
		image, sharedRootDirs, config.Consts.SharedRootMountDir,
	}
	if _, err := e.Driver.Run(ctx, args...); err != nil {
		return fmt.Errorf("starting shared-root copy container: %w", err)
	}
	if err := e.waitForExit(ctx, name, 300*time.Second); err != nil {
		return err
	}
	if _, err := e.Driver.RemoveContainer(ctx, name); err != nil {
		e.Log.Warnf("removing copy container %q: %v", name, err)
	}
	return nil
}

// startFinalContainer launches the final image with the translated
// arguments plus the mounts/labels/user-namespace flags common to every
// container (spec §4.4 step 8).
func (e *Engine) startFinalContainer(ctx context.Context, static *config.StaticConfiguration, d *config.DistributionDescriptor, extraArgs []string, sharedRoot string) error {
	if err := os.MkdirAll(filepath.Dir(static.StatusFile), config.Consts.DefaultDirMode); err != nil {
		return err
	}
	if f, err := os.Create(static.StatusFile); err != nil {
		return err
	} else {
		f.Close()
	}

	u, err := user.Current()
	if err != nil {
		return err
	}

	args := append([]string{"run"}, extraArgs...)
	args = append(args,
		fmt.Sprintf("-v=%s:%s", static.ScriptsDir, config.Consts.TargetScriptsDir),
		fmt.Sprintf("-v=%s:%s", static.StatusFile, config.Consts.StatusTargetFile),
		"--userns=keep-id",
		fmt.Sprintf("--user=%s", u.Uid),
		fmt.Sprintf("--label=%s=%s", labelType, containerTypePrimary),
		fmt.Sprintf("--label=%s=%s", labelDistribution, static.Distribution),
	)
	if sharedRoot != "" {
		sharedRootDirs := strings.Join(d.SharedRootDirs(), ",")
		for _, dir := range strings.Split(sharedRootDirs, ",") {
			dir = strings.TrimSpace(dir)
			if dir == "" {
				continue
			}
			args = append(args, fmt.Sprintf("-v=%s%s:%s", sharedRoot, dir, dir))
		}
	}
	args = append(args, "--entrypoint", filepath.Join(config.Consts.TargetScriptsDir, config.Consts.Entrypoint),
		static.BoxImage(sharedRoot != ""),
		"-c", filepath.Base(static.ConfigList),
		"-d", static.TargetConfigsDir,
		"-a", filepath.Base(static.AppList),
		static.BoxName)

	_, err = e.Driver.Run(ctx, args...)
	return err
}

// waitForReady polls the bind-mounted status file until a single line
// reading exactly "started" or "stopped" appears, streaming any other lines
// (spec §4.4 step 9).
func (e *Engine) waitForReady(ctx context.Context, static *config.StaticConfiguration, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastSize int64
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		info, err := os.Stat(static.StatusFile)
		if err == nil && info.Size() > lastSize {
			data, rerr := os.ReadFile(static.StatusFile)
			if rerr == nil {
				lastSize = info.Size()
				for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
					line = strings.TrimSpace(line)
					if line == "started" || line == "stopped" {
						return nil
					}
					if line != "" {
						e.Log.Info(line)
					}
				}
			}
		}
		if !e.Driver.ContainerExists(ctx, static.BoxName) {
			return fmt.Errorf("container %q is no longer present while waiting for readiness", static.BoxName)
		}
		time.Sleep(readinessPoll)
	}
	return fmt.Errorf("timed out after %s waiting for container %q to become ready", timeout, static.BoxName)
}

// waitForExit polls until the named container is no longer running.
func (e *Engine) waitForExit(ctx context.Context, name string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		out, err := e.Driver.Run(ctx, "inspect", "--format={{.State.Running}}", name)
		if err != nil {
			return fmt.Errorf("inspecting container %q: %w", name, err)
		}
		if strings.TrimSpace(out) == "false" {
			return nil
		}
		time.Sleep(stopPoll)
	}
	return fmt.Errorf("timed out waiting for container %q to exit", name)
}

// settleState registers the container and installs every [apps] entry
// inside a single State Store transaction (spec §4.4 step 11).
func (e *Engine) settleState(ctx context.Context, static *config.StaticConfiguration, d *config.DistributionDescriptor,
	profile *config.Profile, boxName, distribution, sharedRoot, boxConfText string, appDeps []AppDependency, quiet bool) error {

	if err := e.State.BeginTransaction(); err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			e.State.Rollback()
		}
	}()

	reassigned, err := e.State.RegisterContainer(boxName, distribution, sharedRoot, boxConfText, false)
	if err != nil {
		return err
	}

	coord := pkgmgr.New(e.Log, e.Driver, d, e.State, boxName, sharedRoot)
	gen := &wrapper.Generator{
		Driver:     e.Driver,
		Static:     static,
		Profile:    profile,
		Container:  boxName,
		SharedRoot: sharedRoot,
		Log:        e.Log,
	}
	genWrappers := func(pkg string, copyType state.CopyType) ([]string, error) {
		listFilesTmpl, ok := d.PkgmgrTemplate("list_files")
		if !ok {
			return nil, nil
		}
		resolved := pkgmgr.ResolveTemplate(listFilesTmpl, []string{"package"}, map[string]string{"package": pkg})
		out, err := e.Driver.Run(ctx, "exec", boxName, "/usr/local/bin/run-user-bash-cmd", resolved)
		if err != nil {
			return nil, err
		}
		return gen.Generate(ctx, pkg, copyType, nil, out)
	}

	// recreate the wrappers for every package reassigned from a tombstone on
	// this shared root, preserving its prior copy_type/app_flags (spec §4.4
	// step 11: "if registration reassigned any previously orphaned packages,
	// recreate their wrappers").
	for pkg, info := range reassigned {
		if info.CopyType == state.CopyTypeNone {
			continue
		}
		localCopies, err := genWrappers(pkg, info.CopyType)
		if err != nil {
			e.Log.Warnf("recreating wrappers for reassigned package %q: %v", pkg, err)
			continue
		}
		if err := e.State.RegisterPackage(boxName, pkg, localCopies, info.CopyType, info.AppFlags, sharedRoot, "", "", false); err != nil {
			e.Log.Warnf("updating reassigned package %q: %v", pkg, err)
		}
	}

	for _, dep := range appDeps {
		opts := pkgmgr.InstallOptions{Quiet: quiet, IsOptDepInstall: dep.DepOf != ""}
		if err := coord.Install(ctx, dep.Package, opts, os.Stdout, genWrappers); err != nil {
			e.Log.Warnf("installing app %q: %v", dep.Package, err)
		}
	}

	if err := e.State.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

