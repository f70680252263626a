package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "BASE_CWD", "SESSION_DIR", "SESSION_TTL_DAYS",
		"USER", "PASS", "ALT_PROVIDER_PORT", "NAMING_URL", "NAMING_MODEL", "AUDIT_DSN",
	} {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 3456 {
		t.Errorf("Port = %d, want 3456", cfg.Port)
	}
	if cfg.AltProviderPort != cfg.Port+100 {
		t.Errorf("AltProviderPort = %d, want %d", cfg.AltProviderPort, cfg.Port+100)
	}
	if cfg.SessionTTLDays != 7 {
		t.Errorf("SessionTTLDays = %d, want 7", cfg.SessionTTLDays)
	}
	if cfg.BaseDir() != filepath.Dir(cfg.SessionDir) {
		t.Errorf("BaseDir inconsistent with SessionDir")
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	clearEnv(t)
	os.Setenv("PORT", "9000")
	os.Setenv("SESSION_TTL_DAYS", "0")
	os.Setenv("USER", "admin")
	os.Setenv("PASS", "hunter2")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port)
	}
	if cfg.SessionTTLDays != 0 {
		t.Errorf("SessionTTLDays = %d, want 0", cfg.SessionTTLDays)
	}
	if cfg.User != "admin" || cfg.Pass != "hunter2" {
		t.Errorf("User/Pass = %q/%q", cfg.User, cfg.Pass)
	}
}

func TestLoadRejectsNonIntegerPort(t *testing.T) {
	clearEnv(t)
	os.Setenv("PORT", "not-a-number")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-integer PORT")
	}
}
