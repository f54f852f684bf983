// Package lifecycle implements the Lifecycle Engine (spec §4.4): the
// multi-phase create protocol plus start/stop/restart/destroy. Grounded on
// the original's run/create.py, run/control.py, run/destroy.py and
// run/restart.py, translated into the teacher's subprocess-driver idiom.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sumwale/ybox-sub000/pkg/config"
	"github.com/sumwale/ybox-sub000/pkg/env"
	"github.com/sumwale/ybox-sub000/pkg/graphics"
	"github.com/sumwale/ybox-sub000/pkg/resources"
	"github.com/sumwale/ybox-sub000/pkg/runtime"
	"github.com/sumwale/ybox-sub000/pkg/state"
)

// readinessTimeout bounds the wait for the container's first boot (spec §4.4
// step 9); stopTimeout bounds a plain stop/start (spec, Stop).
const (
	readinessTimeout = 600 * time.Second
	readinessPoll    = time.Second
	stopTimeout      = 60 * time.Second
	stopPoll         = 500 * time.Millisecond
)

const (
	labelType         = "io.ybox.container.type"
	labelDistribution = "io.ybox.container.distribution"
	containerTypePrimary = "primary"
)

// Engine runs lifecycle operations against one runtime + state store pair.
type Engine struct {
	Env    *env.Environment
	Driver *runtime.Driver
	State  *state.Store
	Log    *logrus.Entry
}

// New builds an Engine.
func New(log *logrus.Entry, e *env.Environment, driver *runtime.Driver, st *state.Store) *Engine {
	return &Engine{Env: e, Driver: driver, State: st, Log: log}
}

// AppDependency is one token of the [apps] section, parsed from the
// "pkg:dep(parent)" grammar (spec §4.4 step 11).
type AppDependency struct {
	Package string
	DepOf   string // "" if this is a top-level app, not an optional dependency
}

var depSuffixRe = depSuffixRegexp()

// CreateInput bundles the already-resolved inputs to Create; selecting a
// distribution/profile interactively when more than one candidate exists is
// an external-interface concern (spec §6) left to the CLI layer.
type CreateInput struct {
	BoxName                string
	Distribution           string
	Profile                *config.Profile
	Distro                 *config.DistributionDescriptor
	Quiet                  bool
	ForceOwnOrphans        bool
}

// Create runs the full create protocol described in spec §4.4.
func (e *Engine) Create(ctx context.Context, in CreateInput) error {
	if !config.ValidContainerName(in.BoxName) {
		return fmt.Errorf("invalid container name %q", in.BoxName)
	}
	if e.Driver.ContainerExists(ctx, in.BoxName) {
		return fmt.Errorf("ybox container %q already exists", in.BoxName)
	}

	static := config.NewStaticConfiguration(e.Env, in.Distribution, in.BoxName)

	if err := e.stageScripts(static, in.Distro); err != nil {
		return fmt.Errorf("staging scripts: %w", err)
	}

	dockerArgs := []string{"-itd", fmt.Sprintf("--name=%s", in.BoxName)}
	sharedRoot, boxConfText, appDeps, err := e.translateProfile(in.Profile, static, &dockerArgs)
	if err != nil {
		return err
	}
	e.processDistributionConfig(in.Distro, &dockerArgs)

	currentUser, err := user.Current()
	if err != nil {
		return err
	}

	secondaryGroups := in.Distro.SecondaryGroups()
	if sharedRoot != "" {
		if err := e.createSharedRootImage(ctx, static, in.Distro, sharedRoot, currentUser, secondaryGroups, in.Quiet); err != nil {
			return err
		}
	} else {
		if err := e.runBaseContainer(ctx, static, in.Distro, currentUser, secondaryGroups); err != nil {
			return err
		}
		if err := e.commitContainer(ctx, currentUser.Username, static.BoxImage(false), static); err != nil {
			return err
		}
	}

	e.Log.Infof("initializing container for %q using profile", in.Distribution)
	if err := e.startFinalContainer(ctx, static, in.Distro, dockerArgs, sharedRoot); err != nil {
		return err
	}
	if err := e.waitForReady(ctx, static, readinessTimeout); err != nil {
		return err
	}

	e.Log.Infof("restarting the final container %q", in.BoxName)
	if err := e.removeDistributionScripts(static, in.Distro); err != nil {
		e.Log.Warnf("removing distribution scripts: %v", err)
	}
	if _, err := e.Driver.StopContainer(ctx, in.BoxName); err != nil {
		return err
	}
	if _, err := e.Driver.StartContainer(ctx, in.BoxName); err != nil {
		return err
	}
	if err := e.waitForReady(ctx, static, readinessTimeout); err != nil {
		return err
	}
	truncateIfWritable(static.AppList)
	truncateIfWritable(static.ConfigList)

	return e.settleState(ctx, static, in.Distro, in.Profile, in.BoxName, in.Distribution, sharedRoot, boxConfText, appDeps, in.Quiet)
}

// translateProfile appends the shared-root mount and the graphics/audio/D-Bus
// passthrough flags selected by [base]'s x11, wayland, pulseaudio, dbus,
// dbus_sys, dri and nvidia keys to dockerArgs, and returns the shared_root
// value, the profile's own INI text (persisted as the container's
// configuration) and the parsed [apps] dependency tokens (spec §4.4 step 5,
// step 11). No other profile key or section ([mounts], [env], [security],
// [configs] and the rest) is translated into runtime arguments.
func (e *Engine) translateProfile(p *config.Profile, static *config.StaticConfiguration, dockerArgs *[]string) (string, string, []AppDependency, error) {
	sharedRoot := p.SharedRoot()
	if sharedRoot != "" {
		*dockerArgs = append(*dockerArgs, fmt.Sprintf("-v=%s%s:%s:ro", sharedRoot, config.Consts.SharedRootMountDir, config.Consts.SharedRootMountDir))
	}

	if p.X11() {
		graphics.EnableX11(dockerArgs, e.Env)
	}
	if p.Wayland() {
		graphics.EnableWayland(dockerArgs)
	}
	if p.Pulseaudio() {
		graphics.EnablePulseaudio(dockerArgs, e.Env)
	}
	if p.Dbus() || p.DbusSys() {
		graphics.EnableDbus(dockerArgs, p.DbusSys())
	}
	if p.Dri() {
		graphics.EnableDri(dockerArgs)
	}
	if p.Nvidia() {
		script := graphics.EnableNvidia(dockerArgs, static)
		if script != "" {
			path := filepath.Join(static.ScriptsDir, config.Consts.NvidiaSetupScript)
			if err := os.WriteFile(path, []byte(script), 0o750); err != nil {
				return "", "", nil, fmt.Errorf("writing nvidia setup script: %w", err)
			}
		}
	}

	appDeps := parseAppDeps(p.AppList())
	confText, err := p.WriteString()
	if err != nil {
		return "", "", nil, err
	}
	return sharedRoot, confText, appDeps, nil
}

func parseAppDeps(apps []string) []AppDependency {
	var out []AppDependency
	for _, token := range apps {
		if m := depSuffixRe.FindStringSubmatch(token); m != nil {
			out = append(out, AppDependency{Package: strings.TrimSpace(m[1]), DepOf: strings.TrimSpace(m[2])})
		} else {
			out = append(out, AppDependency{Package: strings.TrimSpace(token)})
		}
	}
	return out
}

// processDistributionConfig passes the [packages] section's required list to
// the container as REQUIRED_PKGS, the only variable it sets; mirrors the
// original's process_distribution_config.
func (e *Engine) processDistributionConfig(d *config.DistributionDescriptor, dockerArgs *[]string) {
	if packages, ok := d.PackagesField("required"); ok && packages != "" {
		*dockerArgs = append(*dockerArgs, fmt.Sprintf("-e=REQUIRED_PKGS=%s", packages))
	}
}

// stageScripts wipes and recreates the per-container scripts dir, writing
// the common resource scripts, then any extra scripts named by
// base.scripts, and a version marker file (spec §4.4 step 4).
func (e *Engine) stageScripts(static *config.StaticConfiguration, d *config.DistributionDescriptor) error {
	if err := os.RemoveAll(static.ScriptsDir); err != nil {
		return err
	}
	if err := os.MkdirAll(static.ScriptsDir, config.Consts.DefaultDirMode); err != nil {
		return err
	}
	for _, name := range config.Consts.ResourceScripts {
		data, err := resources.Script(name)
		if err != nil {
			return fmt.Errorf("reading bundled script %q: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(static.ScriptsDir, name), data, 0o750); err != nil {
			return err
		}
	}
	for _, extra := range d.Scripts() {
		src, err := e.Env.SearchConfigPath(filepath.Join("distros", d.Distribution, extra))
		if err != nil {
			return err
		}
		data, err := os.ReadFile(src)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(static.ScriptsDir, extra), data, 0o750); err != nil {
			return err
		}
	}
	return os.WriteFile(filepath.Join(static.ScriptsDir, "version"), []byte(versionMarker()), 0o640)
}

// removeDistributionScripts deletes the distribution-specific scripts (spec
// §4.4 step 10), leaving the common resource scripts behind for the life of
// the container.
func (e *Engine) removeDistributionScripts(static *config.StaticConfiguration, d *config.DistributionDescriptor) error {
	for _, extra := range d.Scripts() {
		if err := os.Remove(filepath.Join(static.ScriptsDir, extra)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func versionMarker() string {
	return "ybox\n"
}

func truncateIfWritable(path string) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return
	}
	f.Close()
}
