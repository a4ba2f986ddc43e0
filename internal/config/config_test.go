package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pledgeline/internal/config"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := config.Default("registry-1", "0xAdmin")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Scoring.CompletedReward != 10 || cfg.Scoring.FailedPenalty != 5 || cfg.Scoring.LevelWidth != 50 {
		t.Fatalf("scoring defaults = %+v", cfg.Scoring)
	}
	if cfg.Limits.MessageMaxLen != 200 {
		t.Fatalf("message_max_len = %d, want 200", cfg.Limits.MessageMaxLen)
	}
	if !cfg.HasCategory("Learning") || cfg.HasCategory("Gaming") {
		t.Fatalf("catalog = %v", cfg.CategoryNames())
	}
}

func TestFromYAMLRejectsWrongKind(t *testing.T) {
	raw := strings.Replace(config.GenerateDefault("r", "0xAdmin"), "promise-registry", "task-board", 1)
	if _, err := config.FromYAML([]byte(raw)); err == nil {
		t.Fatalf("expected kind validation error")
	}
}

func TestFromYAMLRequiresAdmin(t *testing.T) {
	raw := strings.Replace(config.GenerateDefault("r", "0xAdmin"), `address: "0xAdmin"`, `address: ""`, 1)
	if _, err := config.FromYAML([]byte(raw)); err == nil {
		t.Fatalf("expected admin validation error")
	}
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pledgeline.yml")
	if err := os.WriteFile(path, []byte(config.GenerateDefault("registry-1", "0xAdmin")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.FromFile(path)
	if err != nil {
		t.Fatalf("from file: %v", err)
	}
	if cfg.Registry.ID != "registry-1" || !cfg.IsAdmin("0xadmin") {
		t.Fatalf("parsed config: id=%s admin=%s", cfg.Registry.ID, cfg.Admin.Address)
	}
	if _, err := config.FromFile(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestIsAdminCaseInsensitive(t *testing.T) {
	cfg := config.Default("r", "0xAdMiN00")
	for _, addr := range []string{"0xAdMiN00", "0xadmin00", "0XADMIN00"} {
		if !cfg.IsAdmin(addr) {
			t.Fatalf("IsAdmin(%q) = false", addr)
		}
	}
	if cfg.IsAdmin("") || cfg.IsAdmin("0xsomeoneelse") {
		t.Fatalf("IsAdmin accepted wrong address")
	}
}
