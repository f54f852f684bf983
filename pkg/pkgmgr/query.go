package pkgmgr

import (
	"context"
	"fmt"
	"strings"
)

// ListOptions controls List (spec §4.6, "List / Info / Search / List-files
// / Clean").
type ListOptions struct {
	All            bool // include non-explicitly-installed (dependency) packages
	Long           bool // verbose/long listing
	ManagedOnly    bool // restrict to packages this container's State Store row owns
	PlainSeparator string
}

// List runs the descriptor's list/list_all/list_long/list_all_long template,
// or, when opts.ManagedOnly is set, formats the package set computed from
// the State Store directly rather than invoking the package manager (spec
// §4.6: "When listing managed packages only, the package set is first
// computed from the State Store").
func (c *Coordinator) List(ctx context.Context, opts ListOptions) (string, error) {
	if opts.ManagedOnly {
		depType := "" // packages no other package depends on
		if opts.All {
			depType = ".*"
		}
		pkgs, err := c.State.GetPackages(c.Container, ".*", depType)
		if err != nil {
			return "", err
		}
		sep := opts.PlainSeparator
		if sep == "" {
			sep = " "
		}
		lines := make([]string, 0, len(pkgs))
		for _, p := range pkgs {
			lines = append(lines, p.Name+sep+p.Container)
		}
		return strings.Join(lines, "\n"), nil
	}

	op := "list"
	switch {
	case opts.All && opts.Long:
		op = "list_all_long"
	case opts.All:
		op = "list_all"
	case opts.Long:
		op = "list_long"
	}
	return c.execTTY(ctx, op, map[string]string{"plain_separator": opts.PlainSeparator})
}

// Info runs the descriptor's info (or info_all) template for pkg.
func (c *Coordinator) Info(ctx context.Context, pkg string, all bool) (string, error) {
	op := "info"
	if all {
		op = "info_all"
	}
	return c.execTTY(ctx, op, map[string]string{"package": pkg})
}

// SearchOptions controls Search.
type SearchOptions struct {
	All       bool // search every configured repository, not just the official one
	Official  bool
	WordStart bool
	WordEnd   bool
}

// Search runs the descriptor's search (or search_all) template for term,
// substituting the official/word-boundary flags.
func (c *Coordinator) Search(ctx context.Context, term string, opts SearchOptions) (string, error) {
	values := map[string]string{"search": term}
	if opts.Official {
		if flag, ok := c.Distro.PkgmgrTemplate("search_official_flag"); ok {
			values["official"] = flag
		}
	}
	if opts.WordStart {
		if flag, ok := c.Distro.PkgmgrTemplate("search_word_start_flag"); ok {
			values["word_start"] = flag
		}
	}
	if opts.WordEnd {
		if flag, ok := c.Distro.PkgmgrTemplate("search_word_end_flag"); ok {
			values["word_end"] = flag
		}
	}
	op := "search"
	if opts.All {
		op = "search_all"
	}
	return c.execTTY(ctx, op, values)
}

// ListFiles runs the descriptor's list_files template for pkg and returns
// the raw output, the same triples the Wrapper Generator parses (spec
// §4.7 step 1).
func (c *Coordinator) ListFiles(ctx context.Context, pkg string) (string, error) {
	return c.execInContainer(ctx, "list_files", map[string]string{"package": pkg})
}

// execTTY formats op's template and runs it via an interactive `exec -it`
// (or without -it when stdout is not a terminal, per spec §6), streaming
// directly to the process's own stdio rather than capturing output — these
// are read-only listing commands meant for a human to read on the terminal.
func (c *Coordinator) execTTY(ctx context.Context, op string, values map[string]string) (string, error) {
	tmpl, ok := c.Distro.PkgmgrTemplate(op)
	if !ok {
		return "", fmt.Errorf("distribution %q has no %q template", c.Distro.Distribution, op)
	}
	resolved := ResolveTemplate(tmpl, knownPlaceholders, values)
	err := c.Driver.Exec(ctx, true, c.Container, "/usr/local/bin/run-user-bash-cmd", resolved)
	return "", err
}
