package state

import (
	"database/sql"
	"fmt"

	"github.com/sumwale/ybox-sub000/pkg/config"
)

// RegisterContainer records a container's name, distribution and resolved
// configuration. Any previously destroyed container of the same name is
// unregistered first (it may have been removed by the runtime directly,
// bypassing ybox). If shared_root is set, orphaned packages from a destroyed
// container with the same shared_root are reassigned to this one, either
// unconditionally (forceOwnOrphans) or only when the two configurations are
// EquivConfig-equivalent (spec §4.3).
func (s *Store) RegisterContainer(name, distribution, sharedRoot, configText string, forceOwnOrphans bool) (map[string]PackageInfo, error) {
	reassigned := map[string]PackageInfo{}
	err := s.withExclusiveTx(func(tx dbx) error {
		if _, err := s.unregisterContainer(tx, name); err != nil {
			return err
		}
		if _, err := tx.Exec("INSERT INTO containers VALUES (?, ?, ?, ?, false)",
			name, distribution, sharedRoot, configText); err != nil {
			return err
		}
		if sharedRoot == "" {
			return nil
		}

		query := "SELECT dc.name FROM containers dc WHERE dc.destroyed = true AND dc.shared_root = ?"
		args := []any{sharedRoot}
		if !forceOwnOrphans {
			query += " AND EQUIV_CONFIG(dc.configuration, ?)"
			args = append(args, configText)
		}
		rows, err := tx.Query(query, args...)
		if err != nil {
			return err
		}
		var equivDestroyed []string
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err != nil {
				rows.Close()
				return err
			}
			equivDestroyed = append(equivDestroyed, n)
		}
		rows.Close()
		if len(equivDestroyed) == 0 {
			return nil
		}

		placeholders, args2 := inClause(equivDestroyed)
		pkgArgs := append([]any{name}, args2...)
		prows, err := tx.Query(fmt.Sprintf(
			"UPDATE packages SET container = ? WHERE container IN (%s) RETURNING name, local_copy_type, flags",
			placeholders), pkgArgs...)
		if err != nil {
			return err
		}
		for prows.Next() {
			var pname string
			var copyType CopyType
			var flags string
			if err := prows.Scan(&pname, &copyType, &flags); err != nil {
				prows.Close()
				return err
			}
			reassigned[pname] = PackageInfo{Name: pname, Container: name, CopyType: copyType, AppFlags: jsonDecodeMap(flags)}
		}
		prows.Close()

		if _, err := tx.Exec(fmt.Sprintf("UPDATE package_deps SET container = ? WHERE container IN (%s)", placeholders), pkgArgs...); err != nil {
			return err
		}
		_, err = tx.Exec(fmt.Sprintf("DELETE FROM containers WHERE name IN (%s)", placeholders), args2...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reassigned, nil
}

// UnregisterContainer removes a container's registration. If the container
// has a shared_root and still owns packages, its packages that are also
// registered under another container are deleted, and the rest are moved
// (with their local_copies cleared) to a row kept under a fresh UUID name
// ("tombstoned") so they remain attributable; otherwise the container's
// packages are deleted outright. The local_copies files on the host are not
// removed in either case.
func (s *Store) UnregisterContainer(name string) (bool, error) {
	var found bool
	err := s.withExclusiveTx(func(tx dbx) error {
		var err error
		found, err = s.unregisterContainer(tx, name)
		return err
	})
	return found, err
}

func (s *Store) unregisterContainer(tx dbx, name string) (bool, error) {
	var distro, sharedRoot, cfg sql.NullString
	row := tx.QueryRow("DELETE FROM containers WHERE name = ? RETURNING distribution, shared_root, configuration", name)
	err := row.Scan(&distro, &sharedRoot, &cfg)
	found := err == nil
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}

	var hasPackages int
	if scanErr := tx.QueryRow("SELECT 1 FROM packages WHERE container = ?", name).Scan(&hasPackages); scanErr == sql.ErrNoRows {
		return found, nil
	} else if scanErr != nil {
		return false, scanErr
	}

	if sharedRoot.Valid && sharedRoot.String != "" {
		newName, err := newUniqueTombstoneName(tx)
		if err != nil {
			return false, err
		}
		if _, err := tx.Exec("INSERT INTO containers VALUES (?, ?, ?, ?, true)",
			newName, distro.String, sharedRoot.String, cfg.String); err != nil {
			return false, err
		}
		// drop packages that are already registered under another live container
		// under the same name (duplicate ownership is impossible to keep straight).
		drows, err := tx.Query(`SELECT name FROM packages AS pkgs WHERE container = ? AND EXISTS
			(SELECT 1 FROM packages AS p WHERE p.name = pkgs.name GROUP BY p.name HAVING COUNT(*) > 1)`, name)
		if err != nil {
			return false, err
		}
		var dupNames []string
		for drows.Next() {
			var n string
			if err := drows.Scan(&n); err != nil {
				drows.Close()
				return false, err
			}
			dupNames = append(dupNames, n)
		}
		drows.Close()
		for _, pname := range dupNames {
			if _, err := tx.Exec("DELETE FROM packages WHERE name = ? AND container = ?", pname, name); err != nil {
				return false, err
			}
			if _, err := tx.Exec("DELETE FROM package_deps WHERE name = ? AND container = ?", pname, name); err != nil {
				return false, err
			}
		}

		res, err := tx.Exec("UPDATE packages SET container = ?, local_copies = '[]' WHERE container = ?", newName, name)
		if err != nil {
			return false, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			if _, err := tx.Exec("UPDATE package_deps SET container = ? WHERE container = ?", newName, name); err != nil {
				return false, err
			}
		} else {
			if _, err := tx.Exec("DELETE FROM containers WHERE name = ?", newName); err != nil {
				return false, err
			}
		}
	} else {
		if _, err := tx.Exec("DELETE FROM packages WHERE container = ?", name); err != nil {
			return false, err
		}
		if _, err := tx.Exec("DELETE FROM package_deps WHERE container = ?", name); err != nil {
			return false, err
		}
	}
	return found, nil
}

// GetContainerConfiguration returns the persisted configuration of name, or
// nil if it is not registered.
func (s *Store) GetContainerConfiguration(name string) (*RuntimeConfiguration, error) {
	row := s.db.QueryRow("SELECT distribution, shared_root, configuration FROM containers WHERE name = ?", name)
	var rc RuntimeConfiguration
	rc.Name = name
	if err := row.Scan(&rc.Distribution, &rc.SharedRoot, &rc.IniConfig); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rc, nil
}

// GetContainers returns the names of containers matching the given
// (optional) filters, in ascending order. Destroyed containers are excluded
// unless includeDestroyed is set.
func (s *Store) GetContainers(name, distribution, sharedRoot string, includeDestroyed bool) ([]string, error) {
	predicate := "NOT destroyed"
	if includeDestroyed {
		predicate = "1=1"
	}
	var args []any
	if name != "" {
		predicate += " AND name = ?"
		args = append(args, name)
	}
	if distribution != "" {
		predicate += " AND distribution = ?"
		args = append(args, distribution)
	}
	if sharedRoot != "" {
		predicate += " AND shared_root = ?"
		args = append(args, sharedRoot)
	}
	rows, err := s.db.Query(fmt.Sprintf("SELECT name FROM containers WHERE %s ORDER BY name ASC", predicate), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// GetOtherSharedContainers returns the other containers sharing sharedRoot
// with containerName (excluding containerName itself), or nil if sharedRoot
// is empty.
func (s *Store) GetOtherSharedContainers(containerName, sharedRoot string) ([]string, error) {
	if sharedRoot == "" {
		return nil, nil
	}
	all, err := s.GetContainers("", "", sharedRoot, false)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for _, c := range all {
		if c != containerName {
			out = append(out, c)
		}
	}
	return out, nil
}

// SharedRootGroup is one element of GetContainersGroupedBySharedRoot's
// result: the live container names sharing a root (or a single standalone
// container name), its shared_root value (empty for standalone), and its
// distribution.
type SharedRootGroup struct {
	Names        []string
	SharedRoot   string
	Distribution string
}

// GetContainersGroupedBySharedRoot groups names by shared_root (containers
// with no shared_root form their own singleton group), for warning about
// cross-container propagation (spec §4.6). Nothing in this module calls it.
func (s *Store) GetContainersGroupedBySharedRoot(names []string) ([]SharedRootGroup, error) {
	if len(names) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(names)
	rows, err := s.db.Query(fmt.Sprintf(
		"SELECT name, shared_root, distribution FROM containers WHERE name IN (%s) AND NOT destroyed", placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	order := make([]string, 0, len(names))
	byRoot := map[string]*SharedRootGroup{}
	for rows.Next() {
		var name, sharedRoot, distro string
		if err := rows.Scan(&name, &sharedRoot, &distro); err != nil {
			return nil, err
		}
		key := sharedRoot
		if key == "" {
			key = "\x00" + name // standalone containers never group together
		}
		g, ok := byRoot[key]
		if !ok {
			g = &SharedRootGroup{SharedRoot: sharedRoot, Distribution: distro}
			byRoot[key] = g
			order = append(order, key)
		}
		g.Names = append(g.Names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]SharedRootGroup, 0, len(order))
	for _, key := range order {
		out = append(out, *byRoot[key])
	}
	return out, nil
}

func inClause(values []string) (string, []any) {
	placeholders := ""
	args := make([]any, len(values))
	for i, v := range values {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args[i] = v
	}
	return placeholders, args
}
