package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "symbol: msft\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Symbol != "MSFT" {
		t.Fatalf("symbol=%q, want MSFT (canonicalized)", cfg.Symbol)
	}
	if cfg.Levels != 10 || cfg.Port != 8087 || cfg.Source != "DEX" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadRejectsNegativeLevels(t *testing.T) {
	path := writeConfig(t, "symbol: A\nlevels: -1\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for negative levels")
	}
}

func TestLoadAllowsUnboundedLevels(t *testing.T) {
	path := writeConfig(t, "symbol: A\nlevels: 0\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Levels != 0 {
		t.Fatalf("levels=%d, want 0", cfg.Levels)
	}
}

func TestLoadRejectsEmptySymbol(t *testing.T) {
	path := writeConfig(t, "symbol: '  '\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for blank symbol")
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	path := writeConfig(t, "symbol: A\nport: 70000\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
