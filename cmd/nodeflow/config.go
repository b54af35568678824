package main

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/rendis/nodeflow/internal/secrets"
	"github.com/rendis/nodeflow/internal/xjson"
)

// Config holds all nodeflow configuration.
// Priority: env vars (.env included) > settings.json > defaults.
type Config struct {
	ListenAddr      string `json:"listen_addr"`
	DBPath          string `json:"db_path"`
	LogLevel        string `json:"log_level"`
	PoolSize        int    `json:"pool_size"`
	DefaultProvider string `json:"default_provider"`
	OpenAIBaseURL   string `json:"openai_base_url"`
	// Secrets are read from the environment only.
	OpenAIAPIKey   string `json:"-"`
	EncryptionKey  string `json:"-"`
	EncryptionSalt string `json:"encryption_salt"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:      ":8000",
		DBPath:          filepath.Join(nodeflowDir(), "nodeflow.db"),
		LogLevel:        "info",
		PoolSize:        10,
		DefaultProvider: "openai",
		EncryptionSalt:  "nodeflow",
	}
}

func nodeflowDir() string {
	if v := os.Getenv("NODEFLOW_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nodeflow"
	}
	return filepath.Join(home, ".nodeflow")
}

func settingsPath() string {
	return filepath.Join(nodeflowDir(), "settings.json")
}

// loadConfig layers defaults, settings.json and the environment. Values in
// envFiles fill in variables the process environment does not set; missing
// files are ignored.
func loadConfig(envFiles ...string) Config {
	dotenv := map[string]string{}
	for _, f := range envFiles {
		if vars, err := godotenv.Read(f); err == nil {
			for k, v := range vars {
				if _, ok := dotenv[k]; !ok {
					dotenv[k] = v
				}
			}
		}
	}
	getenv := func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return dotenv[key]
	}

	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = xjson.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := getenv("NODEFLOW_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := getenv("NODEFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("NODEFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("NODEFLOW_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := getenv("NODEFLOW_DEFAULT_PROVIDER"); v != "" {
		cfg.DefaultProvider = strings.ToLower(v)
	}
	if v := getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := getenv("ENCRYPTION_KEY"); v != "" {
		cfg.EncryptionKey = v
	}
	if v := getenv("NODEFLOW_ENCRYPTION_SALT"); v != "" {
		cfg.EncryptionSalt = v
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	return cfg
}

// vaultConfig derives the vault key settings. A key that decodes to 32
// bytes (standard or URL-safe base64) is used directly; anything else is a
// passphrase. The bool is false when no key is configured.
func (c Config) vaultConfig() (secrets.VaultConfig, bool) {
	if c.EncryptionKey == "" {
		return secrets.VaultConfig{}, false
	}
	return c.parseVaultKey(c.EncryptionKey), true
}

// parseVaultKey reads base64 that decodes to 32 bytes as a raw master key
// and anything else as a passphrase salted with EncryptionSalt.
func (c Config) parseVaultKey(value string) secrets.VaultConfig {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if key, err := enc.DecodeString(value); err == nil && len(key) == 32 {
			return secrets.VaultConfig{MasterKey: key}
		}
	}
	return secrets.VaultConfig{Passphrase: value, Salt: []byte(c.EncryptionSalt)}
}

// defaultKeys are the process-level provider keys used when no connection
// is active. The environment key belongs to the default provider.
func (c Config) defaultKeys() map[string]string {
	keys := map[string]string{}
	if c.OpenAIAPIKey != "" {
		keys[c.DefaultProvider] = c.OpenAIAPIKey
	}
	return keys
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.ListenAddr != new.ListenAddr {
		d.RestartNeeded = append(d.RestartNeeded, "listen_addr")
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	if old.PoolSize != new.PoolSize {
		d.RestartNeeded = append(d.RestartNeeded, "pool_size")
	}
	if old.OpenAIBaseURL != new.OpenAIBaseURL {
		d.RestartNeeded = append(d.RestartNeeded, "openai_base_url")
	}
	if old.EncryptionKey != new.EncryptionKey || old.EncryptionSalt != new.EncryptionSalt {
		d.RestartNeeded = append(d.RestartNeeded, "encryption_key")
	}
	return d
}
