package daemonconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "./deployd-data", cfg.Root)
	assert.Equal(t, "127.0.0.1:7780", cfg.APIAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5, cfg.ShadowRateLimit)
	assert.Equal(t, 10, cfg.ShadowBurst)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deployd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("root: /var/lib/deployd\nlog-level: debug\nshadow-rate-limit: 20\n"), 0o644))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/deployd", cfg.Root)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 20, cfg.ShadowRateLimit)
	// Unset fields still fall back to defaults.
	assert.Equal(t, "127.0.0.1:7780", cfg.APIAddr)
}

func TestLoadMissingFileIsNotFatal(t *testing.T) {
	cfg, err := Load(viper.New(), "/nonexistent/deployd.yaml")
	require.NoError(t, err)
	assert.Equal(t, "./deployd-data", cfg.Root)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DEPLOYD_ROOT", "/env/root")
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "/env/root", cfg.Root)
}

func TestValidateRejectsEmptyRoot(t *testing.T) {
	cfg := Config{Root: "", APIAddr: "a", IPCSocket: "b"}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNegativeShadowRateLimit(t *testing.T) {
	cfg := Config{Root: "r", APIAddr: "a", IPCSocket: "b", ShadowRateLimit: -1}
	require.Error(t, cfg.Validate())
}
