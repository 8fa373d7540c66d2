package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// TomlFeed represents one seeded feed subscription
type TomlFeed struct {
	Title    string `toml:"title"`
	URL      string `toml:"url"`
	Category string `toml:"category,omitempty"`
	// Interval in minutes for feeds refreshed on their own schedule;
	// 0 means the global tick, a negative value disables auto-update.
	Interval int `toml:"interval,omitempty"`
}

// TomlAccount represents one seeded service account
type TomlAccount struct {
	Code  string     `toml:"code"`
	Title string     `toml:"title"`
	Feeds []TomlFeed `toml:"feeds"`
}

// TomlFetch holds fetching configuration
type TomlFetch struct {
	Workers        int `toml:"workers,omitempty,default=4"`
	IntervalMins   int `toml:"interval_minutes,omitempty,default=15"`
	TimeoutSeconds int `toml:"timeout_seconds,omitempty,default=30"`
}

// TomlServer holds HTTP server configuration
type TomlServer struct {
	Host string `toml:"host,omitempty"`
	Port int    `toml:"port,omitempty,default=3000"`
}

// TomlConfig represents the top-level configuration
type TomlConfig struct {
	Database string        `toml:"database"`
	Fetch    TomlFetch     `toml:"fetch"`
	Server   TomlServer    `toml:"server"`
	Accounts []TomlAccount `toml:"accounts"`
}

func LoadConfig(path string) (*TomlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config TomlConfig
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if config.Database == "" {
		config.Database = "lesa.db"
	}
	if config.Fetch.Workers <= 0 {
		config.Fetch.Workers = 4
	}
	if config.Fetch.IntervalMins <= 0 {
		config.Fetch.IntervalMins = 15
	}
	if config.Fetch.TimeoutSeconds <= 0 {
		config.Fetch.TimeoutSeconds = 30
	}
	if config.Server.Port == 0 {
		config.Server.Port = 3000
	}

	return &config, nil
}
