// Package config loads fossclaw's environment-variable configuration (spec §6.4).
// Unlike the hub's file-based config, fossclaw is meant to run as a single local
// binary with zero required setup, so every setting is an optional env var with a
// sane default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config is the fully-resolved runtime configuration.
type Config struct {
	Port             int
	BaseCwd          string
	SessionDir       string
	SessionTTLDays   int
	User             string
	Pass             string
	AltProviderPort  int
	NamingURL        string
	NamingModel      string
	AuditDSN         string
	AllowedOrigins   []string
}

const appDirName = ".fossclaw"

// Load reads configuration from the environment, applying the defaults in
// spec.md §6.4.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getwd: %w", err)
	}

	port, err := intEnv("PORT", 3456)
	if err != nil {
		return nil, err
	}
	altPort, err := intEnv("ALT_PROVIDER_PORT", port+100)
	if err != nil {
		return nil, err
	}
	ttlDays, err := intEnv("SESSION_TTL_DAYS", 7)
	if err != nil {
		return nil, err
	}

	sessionDir := os.Getenv("SESSION_DIR")
	if sessionDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		sessionDir = filepath.Join(home, appDirName, "sessions")
	}

	cfg := &Config{
		Port:            port,
		BaseCwd:         envOr("BASE_CWD", cwd),
		SessionDir:      sessionDir,
		SessionTTLDays:  ttlDays,
		User:            os.Getenv("USER"),
		Pass:            os.Getenv("PASS"),
		AltProviderPort: altPort,
		NamingURL:       os.Getenv("NAMING_URL"),
		NamingModel:     os.Getenv("NAMING_MODEL"),
		AuditDSN:        os.Getenv("AUDIT_DSN"),
		AllowedOrigins:  []string{"*"},
	}

	return cfg, nil
}

// BaseDir returns the base directory that houses sessions, cron jobs, and
// credentials (the parent of SessionDir, per spec §6.3's layout).
func (c *Config) BaseDir() string {
	return filepath.Dir(c.SessionDir)
}

// CredentialsPath returns the on-disk credentials file path (spec §6.3).
func (c *Config) CredentialsPath() string {
	return filepath.Join(c.BaseDir(), "credentials.json")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, v, err)
	}
	return n, nil
}
