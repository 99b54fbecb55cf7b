package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapgrid/tileproxy/internal/secrets"
)

func TestRunSetupNonInteractive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	setupSecretsFile = path
	setupProvider = "maptiler"
	setupParam = ""
	setupValue = "test-key-123"

	runSetup(setupCmd, nil)

	store, err := secrets.Load(path)
	require.NoError(t, err)
	cred, ok := store.Lookup("maptiler")
	require.True(t, ok)
	assert.Equal(t, "test-key-123", cred["key"])
}

func TestRunSetupPreservesOtherProviders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	require.NoError(t, secrets.Save(path, "mapbox", secrets.Credential{"access_token": "tok"}))

	setupSecretsFile = path
	setupProvider = "tracestrack"
	setupParam = ""
	setupValue = "tt-key"

	runSetup(setupCmd, nil)

	store, err := secrets.Load(path)
	require.NoError(t, err)
	mapbox, ok := store.Lookup("mapbox")
	require.True(t, ok)
	assert.Equal(t, "tok", mapbox["access_token"])
	tt, ok := store.Lookup("tracestrack")
	require.True(t, ok)
	assert.Equal(t, "tt-key", tt["key"])
}

func TestKnownProviderParams(t *testing.T) {
	assert.Equal(t, "key", knownProviders["maptiler"])
	assert.Equal(t, "access_token", knownProviders["mapbox"])
	assert.Equal(t, "key", knownProviders["tracestrack"])
}
