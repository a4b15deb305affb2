package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != "127.0.0.1:8321" {
		t.Errorf("addr = %q", cfg.Addr)
	}
	if cfg.DefaultTimeoutMs != 60000 || cfg.MaxTimeoutMs != 600000 {
		t.Errorf("timeouts = %d/%d", cfg.DefaultTimeoutMs, cfg.MaxTimeoutMs)
	}
	if len(cfg.AllowedModules) == 0 {
		t.Error("allowed modules empty")
	}
}

func TestLoadFileOverlay(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)

	// JSON5: comments and trailing commas are fine.
	overlay := `{
		// local overrides
		addr: "127.0.0.1:9000",
		defaultTimeoutMs: 1500,
	}`
	if err := os.WriteFile(filepath.Join(dir, "config.json5"), []byte(overlay), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != "127.0.0.1:9000" {
		t.Errorf("addr = %q, want overlay value", cfg.Addr)
	}
	if cfg.DefaultTimeoutMs != 1500 {
		t.Errorf("defaultTimeoutMs = %d, want 1500", cfg.DefaultTimeoutMs)
	}
	if cfg.MaxTimeoutMs != 600000 {
		t.Errorf("maxTimeoutMs = %d, want default preserved", cfg.MaxTimeoutMs)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("AUTOMATOR_ADDR", "0.0.0.0:7777")
	t.Setenv("AUTOMATOR_TOKEN", "tok")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != "0.0.0.0:7777" {
		t.Errorf("addr = %q", cfg.Addr)
	}
	if cfg.AuthToken != "tok" {
		t.Errorf("token = %q", cfg.AuthToken)
	}
	if cfg.DatabasePath() != filepath.Join(dir, "personal-automator.db") {
		t.Errorf("db path = %q", cfg.DatabasePath())
	}
}
