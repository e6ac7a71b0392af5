package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMasterDefaults(t *testing.T) {
	cfg, err := ParseMaster(nil)
	require.NoError(t, err)
	assert.Equal(t, 8888, cfg.Port)
	assert.Equal(t, 2, cfg.Capacity)
	assert.Equal(t, 2, cfg.Redundancy)
	assert.Equal(t, 4, cfg.CacheSets)
	assert.Equal(t, 4, cfg.CacheCap)
	assert.Equal(t, time.Second, cfg.ConnectTimeout())
}

func TestParseMasterFlagsOverrideDefaults(t *testing.T) {
	cfg, err := ParseMaster([]string{"--port", "9999", "--redundancy", "3"})
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, 3, cfg.Redundancy)
}

func TestParseMasterFlagsOverrideConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kvmaster.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// a comment hujson must tolerate
		"port": 7000,
		"redundancy": 5,
	}`), 0o644))

	cfg, err := ParseMaster([]string{"--config", path, "--redundancy", "9"})
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port, "file value used when flag absent")
	assert.Equal(t, 9, cfg.Redundancy, "flag wins over file value")
}

func TestParseSlaveDefaults(t *testing.T) {
	cfg, err := ParseSlave(nil)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 8888, cfg.MasterPort)
	assert.False(t, cfg.TPC)
}

func TestParseSlaveTPCFlag(t *testing.T) {
	cfg, err := ParseSlave([]string{"-t", "--port", "9100"})
	require.NoError(t, err)
	assert.True(t, cfg.TPC)
	assert.Equal(t, 9100, cfg.Port)
}
