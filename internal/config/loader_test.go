package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	logger := zerolog.Nop()
	path := filepath.Join(t.TempDir(), "nested", "wirechat.yaml")

	cfg, resolved, err := Load(&logger, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("expected resolved path %s, got %s", path, resolved)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config file to be written: %v", err)
	}
	if cfg.PageSize != Default().PageSize {
		t.Fatalf("expected default page size %d, got %d", Default().PageSize, cfg.PageSize)
	}
	if cfg.ReconcileWindow != 10*time.Second {
		t.Fatalf("expected 10s reconcile window, got %s", cfg.ReconcileWindow)
	}
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	logger := zerolog.Nop()
	path := filepath.Join(t.TempDir(), "wirechat.yaml")
	content := "server_url: ws://chat.example:9000/ws\nheartbeat_interval: 3s\nscroll:\n  near_bottom: 150\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("WIRECHAT_PAGE_SIZE", "20")

	cfg, _, err := Load(&logger, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerURL != "ws://chat.example:9000/ws" {
		t.Fatalf("unexpected server url %q", cfg.ServerURL)
	}
	if cfg.HeartbeatInterval != 3*time.Second {
		t.Fatalf("unexpected heartbeat interval %s", cfg.HeartbeatInterval)
	}
	if cfg.Scroll.NearBottom != 150 {
		t.Fatalf("unexpected near-bottom threshold %v", cfg.Scroll.NearBottom)
	}
	if cfg.PageSize != 20 {
		t.Fatalf("expected env override page size 20, got %d", cfg.PageSize)
	}
	if cfg.MaxMissedPongs != Default().MaxMissedPongs {
		t.Fatalf("expected default max missed pongs, got %d", cfg.MaxMissedPongs)
	}
}

func TestUpdateFromKeepsZeroValues(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Token: "abc", PageSize: 5})

	if cfg.Token != "abc" || cfg.PageSize != 5 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.ServerURL != Default().ServerURL {
		t.Fatalf("zero override must not clear server url, got %q", cfg.ServerURL)
	}
}
