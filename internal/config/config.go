// Package config loads and persists Accord's server configuration as a
// TOML file, following the original Rust server's config.rs layout.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultPort is the well-known port Accord listens on when the config
// doesn't override it.
const DefaultPort uint16 = 13723

const configFileName = "config.toml"
const configDirName = "accord-server"

// Config is the durable, arbiter-owned server configuration.
type Config struct {
	DBHost string `toml:"db_host"`
	DBPort string `toml:"db_port"`
	DBUser string `toml:"db_user"`
	DBPass string `toml:"db_pass"`
	DBName string `toml:"db_dbname"`

	Port *uint16 `toml:"port,omitempty"`

	Operators []string `toml:"operators"`

	WhitelistOn bool     `toml:"whitelist_on"`
	Whitelist   []string `toml:"whitelist"`

	AllowNewAccounts bool `toml:"allow_new_accounts"`
}

// Default returns the configuration used the first time the server is
// started in an environment with no config file.
func Default() Config {
	port := DefaultPort
	return Config{
		Port:             &port,
		WhitelistOn:      false,
		AllowNewAccounts: true,
	}
}

// IsOperator reports whether username is listed in config.operators.
func (c Config) IsOperator(username string) bool {
	for _, op := range c.Operators {
		if op == username {
			return true
		}
	}
	return false
}

// IsWhitelisted reports whether username is listed in config.whitelist.
func (c Config) IsWhitelisted(username string) bool {
	for _, u := range c.Whitelist {
		if u == username {
			return true
		}
	}
	return false
}

// Path returns the config file path: $XDG_CONFIG_HOME/accord-server/config.toml
// (or the platform equivalent via os.UserConfigDir), matching the
// original server's per-OS config_path_dir().
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// Dir returns the config directory, creating it if necessary.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, configDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// Load reads the config file, writing and returning Default() if it is
// absent.
func Load() (Config, error) {
	path, err := Path()
	if err != nil {
		return Config{}, err
	}

	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		if !os.IsNotExist(err) {
			return Config{}, err
		}
		c = Default()
		if err := Save(c); err != nil {
			return Config{}, err
		}
	}
	return c, nil
}

// Save persists c to the config file.
func Save(c Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(c)
}
