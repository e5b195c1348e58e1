package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// GenesisAllocation seeds an account balance at first boot. Amounts are
// decimal strings in the smallest currency unit.
type GenesisAllocation struct {
	Address string `toml:"Address"`
	Amount  string `toml:"Amount"`
}

type Config struct {
	RPCAddress            string              `toml:"RPCAddress"`
	DataDir               string              `toml:"DataDir"`
	NetworkName           string              `toml:"NetworkName"`
	Environment           string              `toml:"Environment"`
	LogPath               string              `toml:"LogPath"`
	ClaimWindowSeconds    int64               `toml:"ClaimWindowSeconds"`
	KeeperIntervalSeconds int64               `toml:"KeeperIntervalSeconds"`
	AllowDevFaucet        bool                `toml:"AllowDevFaucet"`
	PausedModules         []string            `toml:"PausedModules"`
	GenesisAllocations    []GenesisAllocation `toml:"GenesisAllocations"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./barrio-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "barrio-local"
	}
	if cfg.ClaimWindowSeconds < 0 {
		return nil, fmt.Errorf("config: ClaimWindowSeconds must be non-negative")
	}
	if cfg.KeeperIntervalSeconds <= 0 {
		cfg.KeeperIntervalSeconds = 60
	}
	if cfg.PausedModules == nil {
		cfg.PausedModules = []string{}
	}
	for _, alloc := range cfg.GenesisAllocations {
		if _, ok := new(big.Int).SetString(strings.TrimSpace(alloc.Amount), 10); !ok {
			return nil, fmt.Errorf("config: invalid genesis amount %q for %s", alloc.Amount, alloc.Address)
		}
	}

	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:            ":8080",
		DataDir:               "./barrio-data",
		NetworkName:           "barrio-local",
		Environment:           "dev",
		KeeperIntervalSeconds: 60,
		AllowDevFaucet:        true,
		PausedModules:         []string{},
		GenesisAllocations:    []GenesisAllocation{},
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
