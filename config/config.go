package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config carries the farmd daemon settings.
type Config struct {
	// RPCAddress is the listen address of the JSON-RPC server.
	RPCAddress string `toml:"RPCAddress"`
	// MetricsAddress is the listen address of the Prometheus endpoint. Empty
	// disables metrics serving.
	MetricsAddress string `toml:"MetricsAddress"`
	// DataDir is the LevelDB directory holding the ledger records.
	DataDir string `toml:"DataDir"`
	// LogFile, when set, routes structured logs through a size-rotated file
	// instead of stdout.
	LogFile string `toml:"LogFile"`
	// Env tags every log line, e.g. "dev" or "prod".
	Env string `toml:"Env"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8545"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./farmdata"
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create config dir: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create config file: %w", err)
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, fmt.Errorf("write default config: %w", err)
	}
	return cfg, nil
}
