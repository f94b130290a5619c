package container

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore_CreateAndGet(t *testing.T) {
	store := NewStore(t.TempDir())

	c, err := store.Create("web", "alpine")
	require.NoError(t, err)
	require.Equal(t, "web", c.Name())
	require.Equal(t, "alpine", c.ImageName())

	loaded, err := store.Get("web")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, "web", loaded.Name())
	require.Equal(t, "alpine", loaded.ImageName())
}

func TestStore_CreateIsIdempotentForSameConfig(t *testing.T) {
	store := NewStore(t.TempDir())

	first, err := store.Create("web", "alpine")
	require.NoError(t, err)

	second, err := store.Create("web", "alpine")
	require.NoError(t, err)
	require.Equal(t, first.Name(), second.Name())
	require.Equal(t, first.ImageName(), second.ImageName())
}

func TestStore_CreateRejectsConflictingConfig(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Create("web", "alpine")
	require.NoError(t, err)

	_, err = store.Create("web", "debian")
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestStore_GetMissingReturnsNilNil(t *testing.T) {
	store := NewStore(t.TempDir())

	c, err := store.Get("nope")
	require.NoError(t, err)
	require.Nil(t, c)
}

func TestStore_GetMalformedConfig(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)

	containerDir := filepath.Join(root, "broken")
	require.NoError(t, os.MkdirAll(containerDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(containerDir, "config.json"), []byte(`{"name": "broken"}`), 0o644))

	_, err := store.Get("broken")
	require.ErrorIs(t, err, ErrInvalidConfigurationFile)
}

func TestStore_List(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Create("a", "alpine")
	require.NoError(t, err)
	_, err = store.Create("b", "alpine")
	require.NoError(t, err)

	entries, err := store.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.NoError(t, e.Err)
	}
}

func TestStore_Remove(t *testing.T) {
	store := NewStore(t.TempDir())

	c, err := store.Create("web", "alpine")
	require.NoError(t, err)

	require.NoError(t, store.Remove(c))

	loaded, err := store.Get("web")
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestConfigRoundTrip(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "config.json")

	cfg := Config{Name: "web", ImageName: "alpine"}
	require.NoError(t, cfg.save(path))

	loaded, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Name, loaded.Name)
	require.Equal(t, cfg.ImageName, loaded.ImageName)
}

func TestExitError_Error(t *testing.T) {
	err := &ExitError{Code: 5}
	require.Equal(t, "command exited with error code: 5", err.Error())
}
