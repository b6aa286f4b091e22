package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":8545" {
		t.Fatalf("default rpc address: got %q", cfg.RPCAddress)
	}
	if cfg.DataDir != "./farmdata" {
		t.Fatalf("default data dir: got %q", cfg.DataDir)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config file not written: %v", err)
	}
}

func TestLoadReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `RPCAddress = ":9000"
MetricsAddress = ":9100"
DataDir = "/var/lib/farmd"
LogFile = "/var/log/farmd.log"
Env = "prod"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":9000" || cfg.MetricsAddress != ":9100" {
		t.Fatalf("addresses: %+v", cfg)
	}
	if cfg.DataDir != "/var/lib/farmd" || cfg.LogFile != "/var/log/farmd.log" || cfg.Env != "prod" {
		t.Fatalf("fields: %+v", cfg)
	}
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("Env = \"dev\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":8545" || cfg.DataDir != "./farmdata" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Env != "dev" {
		t.Fatalf("env: got %q", cfg.Env)
	}
}
