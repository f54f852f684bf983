// Package repo implements the Repo Manager (spec §4.8): add/remove/list
// named package repositories, with key registration and rollback on
// failure. Grounded on the original's pkg/repo.py.
package repo

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sumwale/ybox-sub000/pkg/config"
	"github.com/sumwale/ybox-sub000/pkg/pkgmgr"
	"github.com/sumwale/ybox-sub000/pkg/runtime"
	"github.com/sumwale/ybox-sub000/pkg/state"
)

// urlRe matches a scheme prefix such as "https://" to distinguish a key URL
// from a bare key ID (spec §4.8 step 3).
var urlRe = regexp.MustCompile(`^\S*?://`)

// Manager runs repository operations against one container.
type Manager struct {
	Driver    *runtime.Driver
	Distro    *config.DistributionDescriptor
	State     *state.Store
	Container string
	// Scope is the container_or_shared_root key packages/repositories are
	// registered under: the shared root path if the container has one,
	// else the container's own name (spec §4.3, entity Repository).
	Scope string
	Log   *logrus.Entry
}

func (m *Manager) repoTemplate(op string, values map[string]string) (string, error) {
	tmpl, ok := m.Distro.RepoTemplate(op)
	if !ok {
		return "", fmt.Errorf("distribution %q has no repo.%s template", m.Distro.Distribution, op)
	}
	return pkgmgr.ResolveTemplate(tmpl, repoPlaceholders, values), nil
}

var repoPlaceholders = []string{
	"name", "urls", "options", "key", "server", "remove_source", "url",
}

func (m *Manager) run(ctx context.Context, tmpl string) (string, error) {
	return m.Driver.Run(ctx, "exec", m.Container, "/usr/local/bin/run-user-bash-cmd", tmpl)
}

// AddOptions controls a single Add call.
type AddOptions struct {
	Key            string
	KeyServer      string
	Options        string
	AddSourceRepo  bool
}

// Add registers a new named repository (spec §4.8): state registration
// first (to detect a duplicate name before touching the container), then the
// `exists` probe, key registration, `add` (+ optional `add_source`), and a
// final metadata refresh. Any failure past state registration unregisters
// the key/repository from the runtime on a best-effort basis and lets the
// caller's state transaction (opened by the CLI's repo-add command) roll back
// the registration.
func (m *Manager) Add(ctx context.Context, name string, urls []string, opts AddOptions) error {
	joinedURLs := strings.Join(urls, ",")
	registered, err := m.State.RegisterRepository(name, m.Scope, joinedURLs, opts.Key, opts.Options, opts.AddSourceRepo, false)
	if err != nil {
		return err
	}
	if !registered {
		return fmt.Errorf("repository %q is already registered for %q", name, m.Container)
	}

	if existsTmpl, err := m.repoTemplate("exists", map[string]string{"name": name}); err == nil {
		if _, err := m.run(ctx, existsTmpl); err == nil {
			return fmt.Errorf("repository %q is already present in the package manager for %q", name, m.Container)
		}
	}

	key := opts.Key
	if key != "" {
		if urlRe.MatchString(key) {
			addKeyTmpl, err := m.repoTemplate("add_key", map[string]string{"url": key, "name": name})
			if err != nil {
				return err
			}
			out, err := m.run(ctx, addKeyTmpl)
			if err != nil {
				return fmt.Errorf("registering key from URL %q: %w", key, err)
			}
			if keyID := extractKeyID(out); keyID != "" && keyID != key {
				key = keyID
				if _, err := m.State.RegisterRepository(name, m.Scope, joinedURLs, key, opts.Options, opts.AddSourceRepo, true); err != nil {
					return err
				}
			}
		} else {
			server := opts.KeyServer
			if server == "" {
				server = config.Consts.DefaultKeyServer
				if s, ok := m.Distro.RepoTemplate("default_gpg_key_server"); ok && s != "" {
					server = s
				}
			}
			addKeyIDTmpl, err := m.repoTemplate("add_key_id", map[string]string{"key": key, "server": server, "name": name})
			if err != nil {
				return err
			}
			if _, err := m.run(ctx, addKeyIDTmpl); err != nil {
				return fmt.Errorf("registering key %q: %w", key, err)
			}
		}
	}

	repoAdded, srcAdded := false, false
	addTmpl, err := m.repoTemplate("add", map[string]string{"name": name, "urls": joinedURLs, "options": opts.Options})
	if err != nil {
		return err
	}
	if _, err := m.run(ctx, addTmpl); err != nil {
		return m.rollback(ctx, name, key, repoAdded, srcAdded, fmt.Errorf("adding repository %q: %w", name, err))
	}
	repoAdded = true

	if opts.AddSourceRepo {
		if addSrcTmpl, ok := m.Distro.RepoTemplate("add_source"); ok {
			resolved := pkgmgr.ResolveTemplate(addSrcTmpl, repoPlaceholders, map[string]string{"name": name, "urls": joinedURLs, "options": opts.Options})
			if _, err := m.run(ctx, resolved); err != nil {
				return m.rollback(ctx, name, key, repoAdded, srcAdded, fmt.Errorf("adding source repository %q: %w", name, err))
			}
			srcAdded = true
		}
	}

	if err := m.refreshMetadata(ctx); err != nil {
		return m.rollback(ctx, name, key, repoAdded, srcAdded, err)
	}
	return nil
}

func (m *Manager) rollback(ctx context.Context, name, key string, repoAdded, srcAdded bool, cause error) error {
	if repoAdded {
		if removeTmpl, tmplErr := m.repoTemplate("remove", map[string]string{"name": name, "remove_source": fmt.Sprint(srcAdded)}); tmplErr == nil {
			if _, err := m.run(ctx, removeTmpl); err != nil {
				m.Log.Warnf("failed to unregister repository %q during rollback: %v", name, err)
			}
		}
	}
	if key != "" {
		if removeKeyTmpl, tmplErr := m.repoTemplate("remove_key", map[string]string{"key": key, "name": name}); tmplErr == nil {
			if _, err := m.run(ctx, removeKeyTmpl); err != nil {
				m.Log.Warnf("failed to unregister key %q during rollback: %v", key, err)
			}
		}
	}
	return cause
}

// Remove unregisters a previously added repository. If force is true,
// individual step failures are ignored so later steps still run.
func (m *Manager) Remove(ctx context.Context, name string, force bool) error {
	key, withSourceRepo, found, err := m.State.UnregisterRepository(name, m.Scope)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no such repository %q registered for %q", name, m.Container)
	}

	if key != "" {
		if removeKeyTmpl, tmplErr := m.repoTemplate("remove_key", map[string]string{"key": key, "name": name}); tmplErr == nil {
			if _, err := m.run(ctx, removeKeyTmpl); err != nil && !force {
				return fmt.Errorf("unregistering key %q: %w", key, err)
			}
		}
	}

	removeTmpl, err := m.repoTemplate("remove", map[string]string{"name": name, "remove_source": fmt.Sprint(withSourceRepo)})
	if err != nil {
		return err
	}
	if _, err := m.run(ctx, removeTmpl); err != nil && !force {
		return fmt.Errorf("unregistering repository %q: %w", name, err)
	}

	if err := m.refreshMetadata(ctx); err != nil && !force {
		return err
	}
	return nil
}

func (m *Manager) refreshMetadata(ctx context.Context) error {
	tmpl, ok := m.Distro.PkgmgrTemplate("update_meta")
	if !ok {
		return nil
	}
	_, err := m.run(ctx, tmpl)
	return err
}

// List returns every repository registered under this manager's scope.
func (m *Manager) List() ([]state.RepositoryInfo, error) {
	return m.State.GetRepositories(m.Scope)
}

// keyIDTag prefixes the output line carrying a freshly assigned key ID, per
// the original's "KEYID=" streaming contract from add_key's script.
const keyIDTag = "KEYID="

func extractKeyID(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, keyIDTag) {
			return strings.TrimPrefix(line, keyIDTag)
		}
	}
	return ""
}
