// Repair implements the repair flow (spec §4.6): find and kill processes
// matching the descriptor's processes_pattern, flag stale lock files, and run
// the repair (or repair_all) template. It asks for no confirmation and does
// not restart the container. It is grounded
// on the original's pkg/repair.py, translated into the same
// execInContainer/run-user-bash-cmd idiom the rest of pkgmgr uses for
// in-container shell work.
//
// The host-side process-group killer the teacher uses for its own child
// subprocesses (github.com/jesseduffield/kill, see pkg/runtime.Driver's
// sibling in the teacher's pkg/commands/os.go) does not apply here: the
// PIDs discovered by pgrep live inside the container's PID namespace, not
// as children of this process, so escalation is done with an in-container
// `kill` invocation instead (see DESIGN.md).
//
// Known limitation (spec §9 Open Question): the descriptor's locks_pattern
// is, on some distributions (notably dpkg/apt), an insufficient signal for
// "is a package operation actually stuck" — a present lock file does not
// always mean a hung process. No workaround is invented here; the caller is
// only told which lock files exist so a human can judge.
package pkgmgr

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// killEscalation is the INT -> TERM -> KILL signal sequence (spec §4.6
// Repair step 1), 2s apart.
var killEscalation = []string{"INT", "TERM", "KILL"}

const killSettleDelay = 2 * time.Second

// RepairReport summarizes what Repair found and did, for the CLI layer to
// present (interactive confirmation/printing is an external collaborator,
// spec §1).
type RepairReport struct {
	KilledProcesses []string // "pid command..." lines that were signaled
	StaleLockFiles  []string
	Output          string
}

// RepairOptions controls a single Repair call.
type RepairOptions struct {
	Quiet         bool // not read by Repair, which never asks for confirmation
	Extensive     bool // use repair_all instead of repair
	RemoveLockFiles bool
}

// Repair runs the repair flow against this coordinator's single container.
// Callers that need to repair every container sharing a shared root iterate
// state.Store.GetOtherSharedContainers themselves and build one Coordinator
// per container, per spec §4.6 ("across all containers sharing the same
// shared root").
func (c *Coordinator) Repair(ctx context.Context, opts RepairOptions) (*RepairReport, error) {
	report := &RepairReport{}

	if pattern, ok := c.Distro.PkgmgrTemplate("processes_pattern"); ok && pattern != "" {
		out, err := c.Driver.Run(ctx, "exec", c.Container, "pgrep", "-fa", pattern)
		if err == nil {
			for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				report.KilledProcesses = append(report.KilledProcesses, line)
				pid := strings.SplitN(line, " ", 2)[0]
				c.killInContainer(ctx, pid)
			}
		}
	}

	if pattern, ok := c.Distro.PkgmgrTemplate("locks_pattern"); ok && pattern != "" {
		out, err := c.Driver.Run(ctx, "exec", c.Container, "sh", "-c", fmt.Sprintf("ls %s 2>/dev/null", pattern))
		if err == nil {
			for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
				if line = strings.TrimSpace(line); line != "" {
					report.StaleLockFiles = append(report.StaleLockFiles, line)
				}
			}
			if opts.RemoveLockFiles && len(report.StaleLockFiles) > 0 {
				c.Driver.Run(ctx, "exec", c.Container, "sh", "-c", fmt.Sprintf("rm -f %s", pattern))
			}
		}
	}

	op := "repair"
	if opts.Extensive {
		op = "repair_all"
	}
	out, err := c.execInContainer(ctx, op, nil)
	report.Output = out
	return report, err
}

// killInContainer sends INT, then TERM, then KILL to pid inside the
// container, pausing killSettleDelay between signals and stopping early if
// `ps` no longer reports the pid (spec §4.6 Repair step 1).
func (c *Coordinator) killInContainer(ctx context.Context, pid string) {
	for _, sig := range killEscalation {
		c.Driver.Run(ctx, "exec", c.Container, "kill", "-s", sig, pid)
		time.Sleep(killSettleDelay)
		if _, err := c.Driver.Run(ctx, "exec", c.Container, "ps", "-p", pid); err != nil {
			return // process is gone; no need to escalate further
		}
	}
}
