package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDecodeOverlaysDefaults(t *testing.T) {
	// GIVEN a file setting two fields
	cfg := DefaultConfig()
	src := "rpc_url: http://localhost:8545\ntimeout: 5s\n"

	// WHEN decoding it
	require.NoError(t, Decode(strings.NewReader(src), &cfg))

	// THEN only those fields change
	want := DefaultConfig()
	want.RPCURL = "http://localhost:8545"
	want.Timeout = 5 * time.Second
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, cfg.Offline())
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	cfg := DefaultConfig()
	err := Decode(strings.NewReader("rpc: http://x\n"), &cfg)
	assert.ErrorContains(t, err, "field rpc not found")
}

func TestDecodeEmptyFile(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Decode(strings.NewReader(""), &cfg))
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := ApplyEnv(&cfg, env(map[string]string{
		"EVMCL_RPC_URL":  "http://node",
		"EVMCL_CHAIN_ID": "100",
		"EVMCL_TIMEOUT":  "1m",
		"EVMCL_DEBUG":    "1",
		"NO_COLOR":       "yes",
	}))

	require.NoError(t, err)
	assert.Equal(t, "http://node", cfg.RPCURL)
	assert.Equal(t, uint64(100), cfg.ChainID)
	assert.Equal(t, time.Minute, cfg.Timeout)
	assert.True(t, cfg.Debug)
	assert.True(t, cfg.NoColor)
}

func TestApplyEnvErrors(t *testing.T) {
	cfg := DefaultConfig()
	assert.ErrorContains(t, ApplyEnv(&cfg, env(map[string]string{"EVMCL_CHAIN_ID": "main"})), "EVMCL_CHAIN_ID")
	assert.ErrorContains(t, ApplyEnv(&cfg, env(map[string]string{"EVMCL_TIMEOUT": "soon"})), "EVMCL_TIMEOUT")

	cfg = DefaultConfig()
	require.NoError(t, ApplyEnv(&cfg, env(map[string]string{"EVMCL_DEBUG": "false"})))
	assert.False(t, cfg.Debug)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evmcl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fixtures: dao.yaml\nchain_id: 5\n"), 0o600))
	t.Setenv("EVMCL_CHAIN_ID", "10")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "dao.yaml", cfg.Fixtures)
	assert.Equal(t, uint64(10), cfg.ChainID, "environment wins over the file")

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")

	require.NoError(t, err)
	assert.True(t, cfg.Offline())
	assert.Equal(t, "aragonos", cfg.ConnectModule)
}
