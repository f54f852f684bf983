package state

import (
	"bufio"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

//go:embed schema.sql
var initSchemaSQL string

//go:embed migrate/*.sql
var migrationFS embed.FS

// productVersion is the schema/product version this build implements.
// preSchemaVersion is the implicit version of any database that predates the
// schema table itself (spec supplement #1).
const (
	productVersion   = "1.0.0"
	preSchemaVersion = "0.9.0"
)

var sourceDirectiveRe = regexp.MustCompile(`(?i)^\s*SOURCE\s*'([^']+)'\s*;\s*$`)

// compareVersions compares two dotted numeric version strings component by
// component (e.g. "0.9.5" < "0.9.6"). Pre-release suffixes are not supported;
// this module's schema versions never carry one.
func compareVersions(a, b string) int {
	pa, pb := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(pa) || i < len(pb); i++ {
		var na, nb int
		if i < len(pa) {
			na, _ = strconv.Atoi(pa[i])
		}
		if i < len(pb) {
			nb, _ = strconv.Atoi(pb[i])
		}
		if na != nb {
			if na < nb {
				return -1
			}
			return 1
		}
	}
	return 0
}

func tableExists(tx dbx, name string) (bool, error) {
	row := tx.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", name)
	var got string
	if err := row.Scan(&got); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// initSchema creates the schema from scratch on an empty database, or runs
// the migration scripts whose version range spans [oldVersion, productVersion)
// on an existing one (spec supplement #1/#3a).
func initSchema(tx dbx) error {
	exists, err := tableExists(tx, "containers")
	if err != nil {
		return err
	}
	if !exists {
		if err := execScript(tx, initSchemaSQL); err != nil {
			return fmt.Errorf("running initial schema script: %w", err)
		}
		_, err = tx.Exec("INSERT INTO schema VALUES (?)", productVersion)
		return err
	}

	hasSchemaTable, err := tableExists(tx, "schema")
	if err != nil {
		return err
	}
	oldVersion := preSchemaVersion
	if hasSchemaTable {
		if err := tx.QueryRow("SELECT version FROM schema").Scan(&oldVersion); err != nil {
			return err
		}
	}
	if oldVersion == productVersion {
		return nil
	}

	scripts, err := migrationScripts(oldVersion, productVersion)
	if err != nil {
		return err
	}
	for _, name := range scripts {
		content, err := fs.ReadFile(migrationFS, filepath.Join("migrate", name))
		if err != nil {
			return err
		}
		if err := execScript(tx, string(content)); err != nil {
			return fmt.Errorf("running migration script %q: %w", name, err)
		}
	}
	if hasSchemaTable {
		_, err = tx.Exec("UPDATE schema SET version = ?", productVersion)
	} else {
		_, err = tx.Exec("INSERT INTO schema VALUES (?)", productVersion)
	}
	return err
}

// migrationScripts selects and orders the migration files applicable for an
// upgrade from oldVersion to newVersion, supporting both the plain
// "<from>:<to>.sql" and the range "<from1>-<from2>:<to>.sql" naming forms
// (spec supplement #3a): a range script applies if oldVersion falls anywhere
// between from1 and from2 inclusive.
func migrationScripts(oldVersion, newVersion string) ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "migrate")
	if err != nil {
		return nil, err
	}
	type candidate struct {
		name string
		from string
	}
	var candidates []candidate
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}
		base := strings.TrimSuffix(name, ".sql")
		parts := strings.SplitN(base, ":", 2)
		if len(parts) != 2 {
			continue
		}
		fromPart, toVersion := parts[0], parts[1]
		from1, from2, hasRange := fromPart, fromPart, false
		if idx := strings.Index(fromPart, "-"); idx >= 0 {
			from1, from2 = fromPart[:idx], fromPart[idx+1:]
			hasRange = true
		}
		var applies bool
		if hasRange {
			applies = compareVersions(from1, oldVersion) <= 0 &&
				compareVersions(oldVersion, from2) <= 0 &&
				compareVersions(from2, toVersion) < 0 &&
				compareVersions(toVersion, newVersion) <= 0
		} else {
			applies = compareVersions(oldVersion, from1) <= 0 &&
				compareVersions(from1, toVersion) < 0 &&
				compareVersions(toVersion, newVersion) <= 0
		}
		if applies {
			candidates = append(candidates, candidate{name: name, from: from1})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return compareVersions(candidates[i].from, candidates[j].from) < 0
	})
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.name
	}
	return names, nil
}

// execScript runs a multi-statement SQL script, resolving "SOURCE '<file>';"
// inclusion directives against the migrate/ embedded directory before
// execution, matching the original's recursive source-file processing.
func execScript(tx dbx, script string) error {
	resolved, err := resolveSources(script)
	if err != nil {
		return err
	}
	_, err = tx.Exec(resolved)
	return err
}

func resolveSources(script string) (string, error) {
	var out strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(script))
	for scanner.Scan() {
		line := scanner.Text()
		if m := sourceDirectiveRe.FindStringSubmatch(line); m != nil {
			included, err := fs.ReadFile(migrationFS, filepath.Join("migrate", m[1]))
			if err != nil {
				return "", fmt.Errorf("resolving SOURCE %q: %w", m[1], err)
			}
			resolvedInc, err := resolveSources(string(included))
			if err != nil {
				return "", err
			}
			out.WriteString(resolvedInc)
			out.WriteString("\n")
			continue
		}
		out.WriteString(line)
		out.WriteString("\n")
	}
	return out.String(), scanner.Err()
}
