// Package pkgmgr implements the Package Coordinator (spec §4.6): install,
// uninstall, update, mark, repair, clean, info, list, search and list-files,
// built on top of the distribution descriptor's shell templates, the Runtime
// Driver and the State Store. Grounded in the teacher's generic
// ResolvePlaceholderString (pkg/utils/utils.go) adapted to the single-brace
// `{name}` placeholder syntax the distribution descriptors actually use.
package pkgmgr

import "strings"

// ResolveTemplate substitutes every `{name}` placeholder in tmpl found in
// values; placeholders absent from values are replaced with the empty
// string, and any `{...}` that isn't a recognized placeholder name is left
// untouched (spec §4.1 note: "unrecognized placeholders should be treated as
// literal; unmapped known placeholders should be substituted with empty
// string").
func ResolveTemplate(tmpl string, known []string, values map[string]string) string {
	knownSet := make(map[string]bool, len(known))
	for _, k := range known {
		knownSet[k] = true
	}
	var sb strings.Builder
	i := 0
	for i < len(tmpl) {
		if tmpl[i] != '{' {
			sb.WriteByte(tmpl[i])
			i++
			continue
		}
		end := strings.IndexByte(tmpl[i:], '}')
		if end < 0 {
			sb.WriteString(tmpl[i:])
			break
		}
		name := tmpl[i+1 : i+end]
		if !knownSet[name] {
			sb.WriteString(tmpl[i : i+end+1])
		} else if v, ok := values[name]; ok {
			sb.WriteString(v)
		}
		i += end + 1
	}
	return sb.String()
}

// knownPlaceholders enumerates every placeholder name a pkgmgr/repo template
// may reference (spec §3).
var knownPlaceholders = []string{
	"quiet", "packages", "package", "opt_dep", "plain_separator", "name",
	"urls", "options", "key", "server", "remove_source", "search",
	"word_start", "word_end", "official", "purge", "remove_deps",
}
