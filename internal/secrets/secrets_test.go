package secrets

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileIsEmptyStore(t *testing.T) {
	store, err := Load(filepath.Join(t.TempDir(), "secrets.json"))
	require.NoError(t, err)

	_, ok := store.Lookup("maptiler")
	assert.False(t, ok)
	assert.Empty(t, store.Providers())
}

func TestLoad_MalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := Load(path)
	require.Error(t, err)

	var parseErr *ParseError
	assert.True(t, errors.As(err, &parseErr))
	assert.Equal(t, path, parseErr.Path)
}

func TestLoad_Lookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"maptiler": {"key": "abc123"},
		"mapbox": {"access_token": "pk.test"}
	}`), 0600))

	store, err := Load(path)
	require.NoError(t, err)

	cred, ok := store.Lookup("maptiler")
	require.True(t, ok)
	assert.Equal(t, "abc123", cred["key"])

	cred, ok = store.Lookup("mapbox")
	require.True(t, ok)
	assert.Equal(t, "pk.test", cred["access_token"])

	_, ok = store.Lookup("tracestrack")
	assert.False(t, ok)
}

func TestLoad_EmptyCredentialIsNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"maptiler": {}}`), 0600))

	store, err := Load(path)
	require.NoError(t, err)

	_, ok := store.Lookup("maptiler")
	assert.False(t, ok)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "secrets.json")

	require.NoError(t, Save(path, "maptiler", Credential{"key": "abc"}))
	require.NoError(t, Save(path, "mapbox", Credential{"access_token": "pk.x"}))

	store, err := Load(path)
	require.NoError(t, err)

	cred, ok := store.Lookup("maptiler")
	require.True(t, ok)
	assert.Equal(t, "abc", cred["key"])

	cred, ok = store.Lookup("mapbox")
	require.True(t, ok)
	assert.Equal(t, "pk.x", cred["access_token"])

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestSave_ReplacesExistingProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")

	require.NoError(t, Save(path, "maptiler", Credential{"key": "old"}))
	require.NoError(t, Save(path, "maptiler", Credential{"key": "new"}))

	store, err := Load(path)
	require.NoError(t, err)

	cred, ok := store.Lookup("maptiler")
	require.True(t, ok)
	assert.Equal(t, "new", cred["key"])
}
