package state

import (
	"database/sql"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// RegisterPackage registers a package as owned by containerName. If
// sharedRoot is set and an orphaned (destroyed-container) entry for the same
// package exists on that root, it is removed first so the new registration
// replaces it cleanly. When skipIfExists is true an existing row is left
// untouched (INSERT OR IGNORE); otherwise it is replaced.
func (s *Store) RegisterPackage(containerName, pkg string, localCopies []string, copyType CopyType,
	appFlags map[string]string, sharedRoot string, depType DependencyType, depOf string, skipIfExists bool) error {
	return s.withExclusiveTx(func(tx dbx) error {
		if sharedRoot != "" {
			rows, err := tx.Query(`DELETE FROM packages WHERE name = ? AND EXISTS (
				SELECT 1 FROM containers dc WHERE dc.destroyed = true AND
				dc.shared_root = ? AND packages.container = dc.name
			) RETURNING container`, pkg, sharedRoot)
			if err != nil {
				return err
			}
			var orphanContainers []string
			for rows.Next() {
				var c string
				if err := rows.Scan(&c); err != nil {
					rows.Close()
					return err
				}
				orphanContainers = append(orphanContainers, c)
			}
			rows.Close()
			for _, c := range orphanContainers {
				if _, err := tx.Exec("DELETE FROM package_deps WHERE name = ? AND container = ?", pkg, c); err != nil {
					return err
				}
			}
			if len(orphanContainers) > 0 {
				if err := cleanDestroyedContainers(tx); err != nil {
					return err
				}
			}
		}

		insertClause := "INSERT OR REPLACE INTO"
		if skipIfExists {
			insertClause = "INSERT OR IGNORE INTO"
		}
		if _, err := tx.Exec(fmt.Sprintf("%s packages VALUES (?, ?, ?, ?, ?)", insertClause),
			pkg, containerName, jsonEncode(localCopies), int(copyType), jsonEncode(appFlags)); err != nil {
			return err
		}
		if depType != "" {
			return registerDependency(tx, containerName, depOf, pkg, depType)
		}
		return nil
	})
}

// RegisterDependency records that package depends on dependency with the
// given DependencyType, owned by containerName.
func (s *Store) RegisterDependency(containerName, pkg, dependency string, depType DependencyType) error {
	return s.withExclusiveTx(func(tx dbx) error {
		return registerDependency(tx, containerName, pkg, dependency, depType)
	})
}

func registerDependency(tx dbx, containerName, pkg, dependency string, depType DependencyType) error {
	_, err := tx.Exec("INSERT OR REPLACE INTO package_deps VALUES (?, ?, ?, ?)",
		pkg, containerName, dependency, string(depType))
	return err
}

// UnregisterPackage removes package from containerName (or, for a
// shared-root container, from every container on that root) and returns the
// dependency-only packages that became orphaned as a result, so the caller
// can cascade-remove them too.
func (s *Store) UnregisterPackage(containerName, pkg, sharedRoot string) (map[string]DependencyType, error) {
	orphans := map[string]DependencyType{}
	err := s.withExclusiveTx(func(tx dbx) error {
		var rows *sql.Rows
		var err error
		if sharedRoot != "" {
			rows, err = tx.Query(`
				SELECT dependency, dep_type FROM package_deps p WHERE name = ? AND EXISTS
				(SELECT 1 FROM containers c WHERE c.shared_root = ? AND p.container = c.name)
				AND NOT EXISTS (
					SELECT 1 FROM package_deps d INNER JOIN containers c
					ON (d.container = c.name AND d.name <> ?) WHERE c.shared_root = ? AND p.dependency = d.dependency)`,
				pkg, sharedRoot, pkg, sharedRoot)
		} else {
			rows, err = tx.Query(`
				SELECT dependency, dep_type FROM package_deps p WHERE name = ? AND container = ?
				AND NOT EXISTS (
					SELECT 1 FROM package_deps d WHERE d.name <> ? AND d.container = ? AND p.dependency = d.dependency)`,
				pkg, containerName, pkg, containerName)
		}
		if err != nil {
			return err
		}
		for rows.Next() {
			var dep, depType string
			if err := rows.Scan(&dep, &depType); err != nil {
				rows.Close()
				return err
			}
			orphans[dep] = DependencyType(depType)
		}
		rows.Close()

		if sharedRoot != "" {
			if _, err := tx.Exec(`DELETE FROM packages AS p WHERE name = ? AND EXISTS
				(SELECT 1 FROM containers c WHERE c.shared_root = ? AND p.container = c.name)`,
				pkg, sharedRoot); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM package_deps AS p WHERE (name = ? OR dependency = ?) AND EXISTS
				(SELECT 1 FROM containers c WHERE c.shared_root = ? AND p.container = c.name)`,
				pkg, pkg, sharedRoot); err != nil {
				return err
			}
			return cleanDestroyedContainers(tx)
		}
		if _, err := tx.Exec("DELETE FROM packages WHERE name = ? AND container = ?", pkg, containerName); err != nil {
			return err
		}
		_, err = tx.Exec("DELETE FROM package_deps WHERE (name = ? OR dependency = ?) AND container = ?", pkg, pkg, containerName)
		return err
	})
	if err != nil {
		return nil, err
	}
	return orphans, nil
}

// UnregisterDependency deletes dependency rows scoped to containerName whose
// dependent name matches namePattern (a regexp, matched via the REGEXP SQL
// function) and whose dependency equals dependency (spec §4.3:
// "unregister_dependency(container, name_pattern, dependency): delete
// dependency rows matching pattern").
func (s *Store) UnregisterDependency(containerName, namePattern, dependency string) error {
	return s.withExclusiveTx(func(tx dbx) error {
		_, err := tx.Exec("DELETE FROM package_deps WHERE container = ? AND dependency = ? AND REGEXP(?, name)",
			containerName, dependency, namePattern)
		return err
	})
}

// cleanDestroyedContainers removes tombstoned ("destroyed") container rows
// that no longer have any packages attached to them, matching the original's
// opportunistic cleanup after shared-root package deletions.
func cleanDestroyedContainers(tx dbx) error {
	_, err := tx.Exec(`DELETE FROM containers WHERE destroyed = true AND name NOT IN
		(SELECT DISTINCT container FROM packages)`)
	return err
}

// GetPackages returns the packages registered for container (or, if
// container is "", every registered package), optionally filtered by a
// regex on the package name and/or on its dependency type (spec §4.3:
// "get_packages(container?, name_regex=".*", dep_type_regex=".*")"). Per
// spec, dep_type_regex=".*" means "any" (no filter); "" means "only
// non-dependents" (no package_deps row has this package as its
// dependency, in this container's scope); anything else is matched as a
// regex against the dep_type of whichever package_deps row has this
// package as its dependency (i.e. "is this package depended upon by
// another, with a matching dep_type" — not whether it has outgoing
// dependencies of its own). Grounded on
// _examples/original_source/src/ybox/state.py get_packages.
func (s *Store) GetPackages(container, nameRegex, depTypeRegex string) ([]PackageInfo, error) {
	predicate := "1=1"
	var args []any
	if container != "" {
		predicate += " AND container = ?"
		args = append(args, container)
	}
	if nameRegex != "" && nameRegex != ".*" {
		predicate += " AND REGEXP(?, name)"
		args = append(args, nameRegex)
	}
	switch depTypeRegex {
	case ".*":
		// no additional filter: any dependency type (or none) matches.
	case "":
		predicate += ` AND NOT EXISTS (SELECT 1 FROM package_deps pd
			WHERE pd.container = packages.container AND pd.dependency = packages.name)`
	default:
		predicate += ` AND EXISTS (SELECT 1 FROM package_deps pd
			WHERE pd.container = packages.container AND pd.dependency = packages.name AND REGEXP(?, pd.dep_type))`
		args = append(args, depTypeRegex)
	}
	query := fmt.Sprintf(
		"SELECT name, container, local_copies, local_copy_type, flags FROM packages WHERE %s ORDER BY container ASC, name ASC",
		predicate)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PackageInfo
	for rows.Next() {
		var p PackageInfo
		var localCopies, flags string
		if err := rows.Scan(&p.Name, &p.Container, &localCopies, &p.CopyType, &flags); err != nil {
			return nil, err
		}
		p.LocalCopies = jsonDecodeStrings(localCopies)
		p.AppFlags = jsonDecodeMap(flags)
		out = append(out, p)
	}
	return out, rows.Err()
}

// CheckPackages reports which of packages are registered for container.
func (s *Store) CheckPackages(container string, packages []string) (map[string]bool, error) {
	result := make(map[string]bool, len(packages))
	for _, pkg := range packages {
		var exists int
		err := s.db.QueryRow("SELECT 1 FROM packages WHERE name = ? AND container = ?", pkg, container).Scan(&exists)
		if err == sql.ErrNoRows {
			result[pkg] = false
		} else if err != nil {
			return nil, err
		} else {
			result[pkg] = true
		}
	}
	return result, nil
}

// RegisterRepository adds (or, if update is true, replaces) a package
// repository entry. Returns false without error if name already exists and
// update is false.
func (s *Store) RegisterRepository(name, containerOrSharedRoot, urls, key, options string, withSourceRepo, update bool) (bool, error) {
	var ok bool
	err := s.withExclusiveTx(func(tx dbx) error {
		insertClause := "INSERT INTO"
		if update {
			insertClause = "INSERT OR REPLACE INTO"
		}
		_, err := tx.Exec(fmt.Sprintf("%s package_repos VALUES (?, ?, ?, ?, ?, ?)", insertClause),
			name, containerOrSharedRoot, urls, key, options, withSourceRepo)
		if err != nil {
			if sqliteErr, isSQLite := err.(sqlite3.Error); isSQLite && sqliteErr.Code == sqlite3.ErrConstraint {
				ok = false
				return nil
			}
			return err
		}
		ok = true
		return nil
	})
	return ok, err
}

// UnregisterRepository removes a repository entry scoped to container or
// sharedRoot, returning its (key, withSourceRepo) tuple and found=true, or
// found=false if no such repository was registered (spec §4.3: "delete
// returning the (key, with_source_repo) tuple, or None").
func (s *Store) UnregisterRepository(name, scope string) (key string, withSourceRepo bool, found bool, err error) {
	err = s.withExclusiveTx(func(tx dbx) error {
		row := tx.QueryRow("DELETE FROM package_repos WHERE name = ? AND container_or_shared_root = ? RETURNING key, with_source_repo", name, scope)
		scanErr := row.Scan(&key, &withSourceRepo)
		if scanErr == sql.ErrNoRows {
			found = false
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		found = true
		return nil
	})
	return key, withSourceRepo, found, err
}

// RepositoryInfo describes a row read back from the package_repos table.
type RepositoryInfo struct {
	Name           string
	URLs           string
	Key            string
	Options        string
	WithSourceRepo bool
}

// GetRepositories lists every repository registered under scope
// (container name or shared-root path).
func (s *Store) GetRepositories(scope string) ([]RepositoryInfo, error) {
	rows, err := s.db.Query(
		"SELECT name, urls, key, options, with_source_repo FROM package_repos WHERE container_or_shared_root = ? ORDER BY name ASC",
		scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RepositoryInfo
	for rows.Next() {
		var r RepositoryInfo
		if err := rows.Scan(&r.Name, &r.URLs, &r.Key, &r.Options, &r.WithSourceRepo); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
