// Package runtime implements the Runtime Driver (spec §4.2): a thin CLI
// subprocess wrapper over the podman or docker binary. It deliberately never
// links against the podman/docker SDK or dials their REST sockets, grounded
// on the teacher's OSCommand subprocess wrapper (pkg/commands/os.go) rather
// than its ContainerRuntime SDK abstraction (pkg/commands/runtime.go).
package runtime

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/mgutz/str"
	"github.com/sirupsen/logrus"
)

// candidateBinaries is the default resolution order when the caller does not
// pin a runtime explicitly.
var candidateBinaries = []string{"/usr/bin/podman", "/usr/bin/docker"}

// Driver runs podman/docker subcommands and reports their output.
type Driver struct {
	Binary string
	Log    *logrus.Entry
	exec   func(string, ...string) *exec.Cmd
}

// New resolves the runtime binary: binary if non-empty, else the first of
// candidateBinaries that exists on disk.
func New(log *logrus.Entry, binary string) (*Driver, error) {
	if binary == "" {
		for _, candidate := range candidateBinaries {
			if _, err := os.Stat(candidate); err == nil {
				binary = candidate
				break
			}
		}
	}
	if binary == "" {
		return nil, fmt.Errorf("no container runtime found among %v", candidateBinaries)
	}
	return &Driver{Binary: binary, Log: log, exec: exec.Command}, nil
}

// Name returns "podman" or "docker" depending on the resolved binary.
func (d *Driver) Name() string {
	if strings.Contains(d.Binary, "docker") {
		return "docker"
	}
	return "podman"
}

// Run executes `<binary> <args...>` and returns its stdout (stderr becomes the
// error message on a non-zero exit), logging the elapsed time at debug level
// the way the teacher's RunCommandWithOutput does.
func (d *Driver) Run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, d.Binary, args...)
	cmd.Env = os.Environ()
	before := time.Now()
	out, err := cmd.Output()
	d.Log.Debugf("'%s %s': %s", d.Binary, strings.Join(args, " "), time.Since(before))
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return string(out), goerrors.New(strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", goerrors.Wrap(err, 0)
	}
	return string(out), nil
}

// RunTemplate splits a shell-quoted command template (as produced by a
// distribution descriptor or package-manager template substitution) into
// argv using the same mgutz/str splitter the teacher uses for its own
// command strings, then runs argv[0] directly (not through this driver's
// binary) with the remaining words as its arguments, returning the combined
// stdout and stderr.
func (d *Driver) RunTemplate(ctx context.Context, commandStr string) (string, error) {
	argv := str.ToArgv(commandStr)
	if len(argv) == 0 {
		return "", fmt.Errorf("empty command template")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = os.Environ()
	before := time.Now()
	out, err := cmd.CombinedOutput()
	d.Log.Debugf("'%s': %s", commandStr, time.Since(before))
	if err != nil {
		return string(out), goerrors.Wrap(err, 0)
	}
	return string(out), nil
}

// Inspect runs `<binary> inspect <name>` and returns the raw JSON output.
func (d *Driver) Inspect(ctx context.Context, name string) (string, error) {
	return d.Run(ctx, "inspect", name)
}

// ImageExists reports whether an image with the given tag exists locally.
func (d *Driver) ImageExists(ctx context.Context, image string) bool {
	_, err := d.Run(ctx, "image", "inspect", image)
	return err == nil
}

// ContainerExists reports whether a container with the given name exists
// (running or stopped).
func (d *Driver) ContainerExists(ctx context.Context, name string) bool {
	_, err := d.Run(ctx, "inspect", name)
	return err == nil
}

// RunContainer runs `<binary> run <args...>` verbatim; callers assemble the
// full argument list (mounts, env, network flags, image, command).
func (d *Driver) RunContainer(ctx context.Context, args ...string) (string, error) {
	return d.Run(ctx, append([]string{"run"}, args...)...)
}

// Exec attaches interactively unless stdout is not a terminal or interactive
// is false, matching the original's TTY-detection before `podman exec -it`.
func (d *Driver) Exec(ctx context.Context, interactive bool, container string, cmdArgs ...string) error {
	args := []string{"exec"}
	if interactive && isTerminal(os.Stdout) {
		args = append(args, "-it")
	}
	args = append(args, container)
	args = append(args, cmdArgs...)

	cmd := exec.CommandContext(ctx, d.Binary, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// StreamLogs attaches to `<binary> logs -f <container>`, streaming output to
// w a few bytes at a time so progress bars render correctly, mirroring the
// teacher's character-oriented log streaming in pkg/commands/container.go.
func (d *Driver) StreamLogs(ctx context.Context, container string, w io.Writer) error {
	cmd := exec.CommandContext(ctx, d.Binary, "logs", "-f", container)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	buf := make([]byte, 4)
	reader := bufio.NewReader(stdout)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			break
		}
	}
	return cmd.Wait()
}

// Commit runs `<binary> commit <container> <image>`.
func (d *Driver) Commit(ctx context.Context, container, image string) (string, error) {
	return d.Run(ctx, "commit", container, image)
}

// Cp runs `<binary> cp <src> <dst>`.
func (d *Driver) Cp(ctx context.Context, src, dst string) (string, error) {
	return d.Run(ctx, "cp", src, dst)
}

// RemoveContainer runs `<binary> rm -f <name>`.
func (d *Driver) RemoveContainer(ctx context.Context, name string) (string, error) {
	return d.Run(ctx, "rm", "-f", name)
}

// RemoveImage runs `<binary> image rm -f <name>`.
func (d *Driver) RemoveImage(ctx context.Context, name string) (string, error) {
	return d.Run(ctx, "image", "rm", "-f", name)
}

// StartContainer runs `<binary> start <name>`.
func (d *Driver) StartContainer(ctx context.Context, name string) (string, error) {
	return d.Run(ctx, "start", name)
}

// StopContainer runs `<binary> stop <name>`.
func (d *Driver) StopContainer(ctx context.Context, name string) (string, error) {
	return d.Run(ctx, "stop", name)
}

// ListContainers runs `<binary> container ls --format {{.Names}}` (with -a
// when all is set) and returns the non-empty lines.
func (d *Driver) ListContainers(ctx context.Context, all bool) ([]string, error) {
	args := []string{"container", "ls", "--format", "{{.Names}}"}
	if all {
		args = append(args, "-a")
	}
	out, err := d.Run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
