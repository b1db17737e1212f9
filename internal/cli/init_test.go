package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mistakeknot/switchboard/internal/config"
)

func TestInitConfigFileWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "switchboard.yaml")

	written, err := InitConfigFile(path, false)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if written != path {
		t.Fatalf("expected %s, got %s", path, written)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	if cfg != config.Default() {
		t.Fatalf("written config does not round-trip to defaults: %+v", cfg)
	}
}

func TestInitConfigFileRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "switchboard.yaml")
	if err := os.WriteFile(path, []byte("addr: \":1\"\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := InitConfigFile(path, false); err == nil {
		t.Fatal("expected refusal without force")
	} else if !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := InitConfigFile(path, true); err != nil {
		t.Fatalf("force overwrite: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != config.Default().Addr {
		t.Fatalf("expected default addr after overwrite, got %s", cfg.Addr)
	}
}

func TestInitCommandWritesToArgPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.yaml")

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"init", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}
}
