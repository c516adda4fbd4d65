package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"escrowd/crypto"

	"github.com/BurntSushi/toml"
)

// Config describes one escrowd deployment.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	ServiceName   string `toml:"ServiceName"`
	Env           string `toml:"Env"`
	AdminAddress  string `toml:"AdminAddress"`
	AdminKeyPath  string `toml:"AdminKeyPath"`
	// Alloc seeds account balances on first boot, bech32 address -> decimal
	// amount. Existing deployments ignore it.
	Alloc map[string]string `toml:"Alloc"`
}

// Load loads the configuration from the given path, creating a default config
// file (and a fresh administrator key) when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.ServiceName) == "" {
		cfg.ServiceName = "escrowd"
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./escrowd-data"
	}
	if cfg.Alloc == nil {
		cfg.Alloc = map[string]string{}
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.AdminAddress) == "" {
		return fmt.Errorf("config: AdminAddress is required")
	}
	addr, err := crypto.DecodeAddress(cfg.AdminAddress)
	if err != nil {
		return fmt.Errorf("config: invalid AdminAddress: %w", err)
	}
	if addr.Prefix() != crypto.EscrowPrefix {
		return fmt.Errorf("config: AdminAddress must use the %q prefix", crypto.EscrowPrefix)
	}
	for allocAddr := range cfg.Alloc {
		if _, err := crypto.DecodeAddress(allocAddr); err != nil {
			return fmt.Errorf("config: invalid Alloc address %q: %w", allocAddr, err)
		}
	}
	return nil
}

// createDefault creates and saves a default configuration file. A fresh
// administrator key is generated and written next to the config so a new
// deployment is usable immediately.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keyPath := defaultKeyPath(path)
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key.Bytes())+"\n"), 0o600); err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddress: ":8080",
		DataDir:       "./escrowd-data",
		ServiceName:   "escrowd",
		Env:           "local",
		AdminAddress:  key.PubKey().Address().String(),
		AdminKeyPath:  keyPath,
		Alloc:         map[string]string{},
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultKeyPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "admin.key")
}

func persist(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
