package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "mock", cfg.Adapter.Default)
	assert.Equal(t, "stdout", cfg.Logging.Output[0])
	assert.NotEmpty(t, cfg.Session.Dir)
}

func TestDefaultConfig_EnvOverrides(t *testing.T) {
	t.Setenv("SDQCTL_SESSION_DIR", "/tmp/custom-sessions")
	t.Setenv("SDQCTL_MODEL_DEFAULT", "claude-sonnet")
	t.Setenv("SDQCTL_MODEL_ALIAS_FAST", "claude-haiku")

	cfg := DefaultConfig()
	assert.Equal(t, "/tmp/custom-sessions", cfg.Session.Dir)
	assert.Equal(t, "claude-sonnet", cfg.Models.Default)
	assert.Equal(t, "claude-haiku", cfg.Models.Aliases["fast"])
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	assert.Equal(t, "mock", cfg.Adapter.Default)
}

func TestLoad_ParsesTOMLAndEnvStillWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[session]
dir = "/from/file"

[adapter]
default = "anthropic"

[models]
default = "from-file-model"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Adapter.Default)
	assert.Equal(t, "/from/file", cfg.Session.Dir)
	assert.Equal(t, "from-file-model", cfg.Models.Default)

	t.Setenv("SDQCTL_MODEL_DEFAULT", "env-wins")
	cfg2, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-wins", cfg2.Models.Default)
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := DefaultConfig()
	cfg.Adapter.Default = "gemini"
	require.NoError(t, cfg.Save(path))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini", reloaded.Adapter.Default)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Monitor.Enabled = true
	cfg.Monitor.Port = 0
	assert.Error(t, cfg.Validate())

	cfg.Monitor.Port = 8080
	cfg.Adapter.RequestTimeoutSecs = 0
	assert.Error(t, cfg.Validate())
}

func TestResolveModel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Models.Default = "claude-sonnet"
	cfg.Models.Aliases = map[string]string{"fast": "claude-haiku"}

	assert.Equal(t, "claude-sonnet", cfg.ResolveModel(""))
	assert.Equal(t, "claude-haiku", cfg.ResolveModel("fast"))
	assert.Equal(t, "claude-haiku", cfg.ResolveModel("FAST"))
	assert.Equal(t, "gpt-4", cfg.ResolveModel("gpt-4"))
}

func TestLoggingConfigWants(t *testing.T) {
	both := LoggingConfig{Output: StringSlice{"stdout", "file"}}
	assert.True(t, both.WantsFile())
	assert.True(t, both.WantsConsole())

	fileOnly := LoggingConfig{Output: StringSlice{"FILE"}}
	assert.True(t, fileOnly.WantsFile())
	assert.False(t, fileOnly.WantsConsole())

	none := LoggingConfig{}
	assert.False(t, none.WantsFile())
	assert.False(t, none.WantsConsole())
}

func TestAddress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Monitor.Host = "127.0.0.1"
	cfg.Monitor.Port = 8420
	assert.Equal(t, "127.0.0.1:8420", cfg.Address())
}
