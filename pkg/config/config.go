// Package config loads Hive network profiles: chain id plus the candidate
// RPC node pool the writer rotates across.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// MainnetChainID is the Hive mainnet chain identifier used for signing.
const MainnetChainID = "beeab0de00000000000000000000000000000000000000000000000000000000"

// ChainConfig holds configuration for one Hive network.
type ChainConfig struct {
	Name    string   `json:"name"`
	ChainID string   `json:"chainId"`
	Nodes   []string `json:"nodes"`
}

// Config holds all known network profiles keyed by name.
type Config struct {
	Chains map[string]*ChainConfig `json:"chains"`
}

// LoadConfig loads network profiles from a JSON file.
func LoadConfig(filepath string) (*Config, error) {
	file, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// GetChain returns configuration for a specific network.
func (c *Config) GetChain(name string) (*ChainConfig, error) {
	chain, ok := c.Chains[name]
	if !ok {
		return nil, fmt.Errorf("chain %s not found in config", name)
	}
	return chain, nil
}

// DefaultMainnet returns the built-in mainnet profile, used when no
// profile file is configured.
func DefaultMainnet() *ChainConfig {
	return &ChainConfig{
		Name:    "mainnet",
		ChainID: MainnetChainID,
		Nodes: []string{
			"https://api.hive.blog",
			"https://api.deathwing.me",
			"https://hive-api.arcange.eu",
			"https://api.openhive.network",
			"https://rpc.ausbit.dev",
			"https://anyx.io",
		},
	}
}
