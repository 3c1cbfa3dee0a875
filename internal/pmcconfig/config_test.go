package pmcconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Defaults()
	want.LogDir = cfg.LogDir // derived from path, skip comparing
	if cfg != want {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadOverridesDefaultsAndFillsLogDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
shell = "/bin/bash"

[daemon]
port = 9090
token = "secret"

[restart]
base_ms = 500
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Shell != "/bin/bash" {
		t.Fatalf("expected shell override, got %q", cfg.Shell)
	}
	if cfg.Daemon.Port != 9090 || cfg.Daemon.Token != "secret" {
		t.Fatalf("expected daemon overrides, got %+v", cfg.Daemon)
	}
	if cfg.Daemon.Bind != Defaults().Daemon.Bind {
		t.Fatalf("expected untouched bind default, got %q", cfg.Daemon.Bind)
	}
	if cfg.Restart.BaseMS != 500 {
		t.Fatalf("expected restart.base_ms override, got %d", cfg.Restart.BaseMS)
	}
	if cfg.Restart.CapMS != Defaults().Restart.CapMS {
		t.Fatalf("expected untouched restart.cap_ms default, got %d", cfg.Restart.CapMS)
	}
	if cfg.LogDir != filepath.Join(dir, "logs") {
		t.Fatalf("expected derived log dir, got %q", cfg.LogDir)
	}
}

func TestLoadServersMissingFileReturnsEmpty(t *testing.T) {
	entries, err := LoadServers(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load servers: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %+v", entries)
	}
	if _, ok := DefaultServer(entries); ok {
		t.Fatalf("expected no default server for empty list")
	}
}

func TestLoadServersParsesListAndDefaultMarker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.toml")
	body := `
[[servers]]
name = "local"
url = "http://127.0.0.1:7777"
token = "a"

[[servers]]
name = "prod"
url = "https://pmc.example.com"
token = "b"
default = true
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write servers: %v", err)
	}

	entries, err := LoadServers(path)
	if err != nil {
		t.Fatalf("load servers: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	def, ok := DefaultServer(entries)
	if !ok || def.Name != "prod" {
		t.Fatalf("expected prod as default, got %+v (ok=%v)", def, ok)
	}
}
