package state

// CopyType flags the kind of local wrapper files created for a package's
// desktop/executable entries (spec §4.7). Values are ORed together the same
// way the original's CopyType IntFlag is.
type CopyType int

const (
	// CopyTypeNone means no local wrapper files exist for the package.
	CopyTypeNone CopyType = 0
	// CopyTypeDesktop means a .desktop wrapper was generated.
	CopyTypeDesktop CopyType = 1 << 0
	// CopyTypeExecutable means an executable shim was generated.
	CopyTypeExecutable CopyType = 1 << 1
)

// DependencyType classifies entries in the package_deps table.
type DependencyType string

const (
	DependencyRequired   DependencyType = "required"
	DependencyOptional   DependencyType = "optional"
	DependencySuggestion DependencyType = "suggestion"
)

// RuntimeConfiguration holds the resolved, persisted configuration of a
// registered container.
type RuntimeConfiguration struct {
	Name         string
	Distribution string
	SharedRoot   string
	IniConfig    string
}

// PackageInfo describes a row reassigned or read from the packages table.
type PackageInfo struct {
	Name        string
	Container   string
	LocalCopies []string
	CopyType    CopyType
	AppFlags    map[string]string
}
