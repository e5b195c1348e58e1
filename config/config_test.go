package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.RPCAddress)
	require.Equal(t, "barrio-local", cfg.NetworkName)
	require.Equal(t, int64(60), cfg.KeeperIntervalSeconds)
	require.True(t, cfg.AllowDevFaucet)

	_, err = os.Stat(path)
	require.NoError(t, err, "expected default config written to disk")

	// A second load reads the persisted file.
	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.RPCAddress, again.RPCAddress)
}

func TestLoadAppliesDefaultsToSparseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("Environment = \"prod\"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "prod", cfg.Environment)
	require.Equal(t, ":8080", cfg.RPCAddress)
	require.Equal(t, "./barrio-data", cfg.DataDir)
	require.NotNil(t, cfg.PausedModules)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("ClaimWindowSeconds = -1\n"), 0o600))
	_, err := Load(path)
	require.Error(t, err)

	path = filepath.Join(t.TempDir(), "config.toml")
	body := "[[GenesisAllocations]]\nAddress = \"0x0101010101010101010101010101010101010101\"\nAmount = \"not-a-number\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	_, err = Load(path)
	require.Error(t, err)
}
