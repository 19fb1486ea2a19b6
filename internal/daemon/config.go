// Package daemon holds the top-level configuration for the offer
// daemon: network selection, storage location, sync tuning, logging,
// and the RPC listener.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// NetworkType selects mainnet or testnet quorum/version constants.
type NetworkType string

const (
	NetworkMainnet NetworkType = "mainnet"
	NetworkTestnet NetworkType = "testnet"
)

// Config holds all daemon configuration.
type Config struct {
	NetworkType NetworkType `yaml:"network_type"`

	Storage StorageConfig `yaml:"storage"`
	Sync    SyncConfig    `yaml:"sync"`
	Logging LoggingConfig `yaml:"logging"`
	RPC     RPCConfig     `yaml:"rpc"`
}

// StorageConfig holds the catalog database location.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// SyncConfig tunes the periodic workers driving SyncEngine and the
// unconfirmed pools.
type SyncConfig struct {
	KickoffInterval     time.Duration `yaml:"kickoff_interval"`
	UnconfirmedInterval time.Duration `yaml:"unconfirmed_interval"`
	ExpirationInterval  time.Duration `yaml:"expiration_interval"`
	GCInterval          time.Duration `yaml:"gc_interval"`
	GCRetention         time.Duration `yaml:"gc_retention"`
	UnconfirmedTTL      time.Duration `yaml:"unconfirmed_ttl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// RPCConfig holds the JSON-RPC/WebSocket listener settings.
type RPCConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	EnableWS   bool   `yaml:"enable_ws"`
}

// IsTestnet reports whether this config targets testnet.
func (c *Config) IsTestnet() bool {
	return c.NetworkType == NetworkTestnet
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		NetworkType: NetworkMainnet,
		Storage: StorageConfig{
			DataDir: "~/.offerd",
		},
		Sync: SyncConfig{
			KickoffInterval:     30 * time.Second,
			UnconfirmedInterval: 5 * time.Minute,
			ExpirationInterval:  time.Hour,
			GCInterval:          6 * time.Hour,
			GCRetention:         30 * 24 * time.Hour,
			UnconfirmedTTL:      24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		RPC: RPCConfig{
			ListenAddr: "127.0.0.1:8787",
			EnableWS:   true,
		},
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// LoadConfig loads configuration from a YAML file under dataDir. If the
// file doesn't exist, it creates one with default values so subsequent
// runs (and operators inspecting the file) see every tunable.
func LoadConfig(dataDir string) (*Config, error) {
	expandedDir := expandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("daemon: create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("daemon: parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file at 0600.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("daemon: create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("daemon: marshal config: %w", err)
	}

	header := []byte("# offerd configuration\n# generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("daemon: write config file: %w", err)
	}
	return nil
}

// ConfigPath returns the full config file path for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
