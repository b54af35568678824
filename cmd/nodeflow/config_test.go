package main

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the config dir at a temp dir and clears overrides.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("NODEFLOW_HOME", dir)
	for _, k := range []string{
		"NODEFLOW_LISTEN_ADDR", "NODEFLOW_DB_PATH", "NODEFLOW_LOG_LEVEL", "NODEFLOW_POOL_SIZE",
		"NODEFLOW_DEFAULT_PROVIDER", "OPENAI_BASE_URL", "OPENAI_API_KEY", "ENCRYPTION_KEY", "NODEFLOW_ENCRYPTION_SALT", "NODEFLOW_NEW_ENCRYPTION_KEY",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := isolate(t)
	cfg := loadConfig()

	assert.Equal(t, ":8000", cfg.ListenAddr)
	assert.Equal(t, filepath.Join(dir, "nodeflow.db"), cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, "openai", cfg.DefaultProvider)
	assert.Empty(t, cfg.defaultKeys())
}

func TestLoadConfig_Layering(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"),
		[]byte(`{"listen_addr": ":9000", "log_level": "debug", "pool_size": 4}`), 0o644))
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile,
		[]byte("NODEFLOW_LOG_LEVEL=warn\nOPENAI_API_KEY=sk-from-dotenv\nNODEFLOW_POOL_SIZE=6\n"), 0o644))
	t.Setenv("NODEFLOW_POOL_SIZE", "8")

	cfg := loadConfig(envFile, filepath.Join(dir, "missing.env"))

	assert.Equal(t, ":9000", cfg.ListenAddr, "settings.json over defaults")
	assert.Equal(t, "warn", cfg.LogLevel, ".env over settings.json")
	assert.Equal(t, 8, cfg.PoolSize, "process env over .env")
	assert.Equal(t, map[string]string{"openai": "sk-from-dotenv"}, cfg.defaultKeys())
	_, set := os.LookupEnv("OPENAI_API_KEY")
	assert.False(t, set, ".env does not leak into the process environment")
}

func TestLoadConfig_InvalidPoolSize(t *testing.T) {
	isolate(t)
	t.Setenv("NODEFLOW_POOL_SIZE", "-3")
	assert.Equal(t, 10, loadConfig().PoolSize)
}

func TestVaultConfig(t *testing.T) {
	t.Run("unset", func(t *testing.T) {
		_, ok := Config{}.vaultConfig()
		assert.False(t, ok)
	})

	t.Run("base64 key", func(t *testing.T) {
		key := make([]byte, 32)
		for i := range key {
			key[i] = byte(i)
		}
		for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding} {
			vc, ok := Config{EncryptionKey: enc.EncodeToString(key)}.vaultConfig()
			require.True(t, ok)
			assert.Equal(t, key, vc.MasterKey)
			assert.Empty(t, vc.Passphrase)
		}
	})

	t.Run("passphrase", func(t *testing.T) {
		vc, ok := Config{EncryptionKey: "correct horse", EncryptionSalt: "pepper"}.vaultConfig()
		require.True(t, ok)
		assert.Equal(t, "correct horse", vc.Passphrase)
		assert.Equal(t, []byte("pepper"), vc.Salt)
		assert.Nil(t, vc.MasterKey)
	})
}

func TestDiffConfigs(t *testing.T) {
	base := defaultConfig()

	d := diffConfigs(base, base)
	assert.False(t, d.LogLevelChanged)
	assert.Empty(t, d.RestartNeeded)

	next := base
	next.LogLevel = "debug"
	next.ListenAddr = ":1"
	next.PoolSize = 3
	d = diffConfigs(base, next)
	assert.True(t, d.LogLevelChanged)
	assert.Equal(t, []string{"listen_addr", "pool_size"}, d.RestartNeeded)
}
