package state

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(logrus.NewEntry(logrus.New()), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRegisterAndUnregisterContainerNoSharedRoot(t *testing.T) {
	store := newTestStore(t)

	reassigned, err := store.RegisterContainer("box1", "debian", "", "[base]\nname=box1\n", true)
	require.NoError(t, err)
	assert.Empty(t, reassigned)

	containers, err := store.GetContainers("", "", "", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"box1"}, containers)

	require.NoError(t, store.RegisterPackage("box1", "vim", []string{"/usr/local/bin/vim"},
		CopyTypeExecutable, map[string]string{}, "", "", "", false))

	found, err := store.UnregisterContainer("box1")
	require.NoError(t, err)
	assert.True(t, found)

	pkgs, err := store.GetPackages("box1", ".*", ".*")
	require.NoError(t, err)
	assert.Empty(t, pkgs, "non-shared-root packages must be removed along with their container")
}

func TestRegisterContainerReassignsOrphanedSharedRootPackages(t *testing.T) {
	store := newTestStore(t)
	cfg := "[base]\nname=orig\nshared_root=/srv/debian\n"

	_, err := store.RegisterContainer("box1", "debian", "/srv/debian", cfg, true)
	require.NoError(t, err)
	require.NoError(t, store.RegisterPackage("box1", "vim", nil, CopyTypeNone, nil, "/srv/debian", "", "", false))

	found, err := store.UnregisterContainer("box1")
	require.NoError(t, err)
	assert.True(t, found)

	// the destroyed container's packages are now owned by a tombstone row;
	// registering a new container on the same shared root should reclaim them.
	reassigned, err := store.RegisterContainer("box2", "debian", "/srv/debian", cfg, true)
	require.NoError(t, err)
	assert.Contains(t, reassigned, "vim")

	pkgs, err := store.GetPackages("box2", ".*", ".*")
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	assert.Equal(t, "vim", pkgs[0].Name)
}

func TestRegisterContainerDoesNotReassignNonEquivalentOrphans(t *testing.T) {
	store := newTestStore(t)

	_, err := store.RegisterContainer("box1", "debian", "/srv/debian", "[base]\nname=box1\nx11=true\n", true)
	require.NoError(t, err)
	require.NoError(t, store.RegisterPackage("box1", "vim", nil, CopyTypeNone, nil, "/srv/debian", "", "", false))
	_, err = store.UnregisterContainer("box1")
	require.NoError(t, err)

	reassigned, err := store.RegisterContainer("box2", "debian", "/srv/debian", "[base]\nname=box2\nwayland=true\n", false)
	require.NoError(t, err)
	assert.Empty(t, reassigned, "non-equivalent configuration must not inherit orphaned packages when force is false")
}

func TestUnregisterPackageReportsOrphanedDependency(t *testing.T) {
	store := newTestStore(t)
	_, err := store.RegisterContainer("box1", "debian", "", "[base]\nname=box1\n", true)
	require.NoError(t, err)

	require.NoError(t, store.RegisterPackage("box1", "libfoo", nil, CopyTypeNone, nil, "", "", "", false))
	require.NoError(t, store.RegisterPackage("box1", "app", nil, CopyTypeNone, nil, "", DependencyRequired, "libfoo", false))
	require.NoError(t, store.RegisterDependency("box1", "app", "libfoo", DependencyRequired))

	orphans, err := store.UnregisterPackage("box1", "app", "")
	require.NoError(t, err)
	assert.Equal(t, DependencyRequired, orphans["libfoo"])
}

func TestGetPackagesFiltersByNameAndDependencyType(t *testing.T) {
	store := newTestStore(t)
	_, err := store.RegisterContainer("box1", "debian", "", "[base]\nname=box1\n", true)
	require.NoError(t, err)

	require.NoError(t, store.RegisterPackage("box1", "libfoo", nil, CopyTypeNone, nil, "", "", "", false))
	require.NoError(t, store.RegisterPackage("box1", "app", nil, CopyTypeNone, nil, "", "", "", false))
	require.NoError(t, store.RegisterDependency("box1", "app", "libfoo", DependencyRequired))

	all, err := store.GetPackages("box1", ".*", ".*")
	require.NoError(t, err)
	assert.Len(t, all, 2, "dep_type_regex=\".*\" must return every package regardless of dependency status")

	nonDependents, err := store.GetPackages("box1", ".*", "")
	require.NoError(t, err)
	require.Len(t, nonDependents, 1)
	assert.Equal(t, "app", nonDependents[0].Name, `dep_type_regex="" must return only packages no one else depends on`)

	dependents, err := store.GetPackages("box1", ".*", "required")
	require.NoError(t, err)
	require.Len(t, dependents, 1)
	assert.Equal(t, "libfoo", dependents[0].Name, "a concrete dep_type_regex must match packages depended upon with that dep_type")

	noMatch, err := store.GetPackages("box1", ".*", "optional")
	require.NoError(t, err)
	assert.Empty(t, noMatch, "a dep_type_regex that matches no dep_type must return nothing")

	byName, err := store.GetPackages("box1", "^lib.*", ".*")
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "libfoo", byName[0].Name, "name_regex must filter by package name")
}

func TestRegisterAndUnregisterRepository(t *testing.T) {
	store := newTestStore(t)
	ok, err := store.RegisterRepository("multimedia", "box1", "https://example.test/repo", "", "", false, false)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.RegisterRepository("multimedia", "box1", "https://example.test/repo2", "", "", false, false)
	require.NoError(t, err)
	assert.False(t, ok, "registering an existing name without update must fail")

	_, _, existed, err := store.UnregisterRepository("multimedia", "box1")
	require.NoError(t, err)
	assert.True(t, existed)
}
