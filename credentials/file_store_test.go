package credentials_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openhms/hms-client/credentials"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *credentials.FileStore {
	t.Helper()
	store, err := credentials.NewFileStore(filepath.Join(t.TempDir(), ".hmsctl", "credentials.json"))
	require.NoError(t, err)
	return store
}

func TestNewFileStoreRequiresPath(t *testing.T) {
	_, err := credentials.NewFileStore("")
	require.Error(t, err)
}

func TestLoadEmptyStore(t *testing.T) {
	store := newTestStore(t)

	pair, err := store.Load()
	require.NoError(t, err)
	require.Nil(t, pair)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save(credentials.Pair{Access: "access-1", Refresh: "refresh-1"}))

	pair, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, pair)
	require.Equal(t, "access-1", pair.Access)
	require.Equal(t, "refresh-1", pair.Refresh)
}

func TestSaveReplacesAtomically(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save(credentials.Pair{Access: "old-access", Refresh: "old-refresh"}))
	require.NoError(t, store.Save(credentials.Pair{Access: "new-access", Refresh: "new-refresh"}))

	// No interleaving of old and new values is observable after the write.
	pair, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, credentials.Pair{Access: "new-access", Refresh: "new-refresh"}, *pair)
}

func TestClear(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save(credentials.Pair{Access: "a", Refresh: "r"}))
	require.NoError(t, store.Clear())

	pair, err := store.Load()
	require.NoError(t, err)
	require.Nil(t, pair)

	// Clearing twice is fine.
	require.NoError(t, store.Clear())
}

func TestFilePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	store, err := credentials.NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Save(credentials.Pair{Access: "a", Refresh: "r"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
