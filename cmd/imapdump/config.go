package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the imapdump configuration file.
type Config struct {
	Address  string `yaml:"address"`
	Insecure bool   `yaml:"insecure"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Mailbox  string `yaml:"mailbox"`
	ReadOnly bool   `yaml:"read_only"`
	OutDir   string `yaml:"out_dir"`

	LiteralPlus         bool          `yaml:"literal_plus"`
	ContinuationTimeout time.Duration `yaml:"continuation_timeout"`
	CommandTimeout      time.Duration `yaml:"command_timeout"`
}

func defaultConfig() *Config {
	return &Config{
		Mailbox:             "INBOX",
		OutDir:              ".",
		ContinuationTimeout: 30 * time.Second,
		CommandTimeout:      5 * time.Minute,
	}
}

// loadConfig reads a YAML configuration file. Missing keys keep their
// default value.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %v: %w", path, err)
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.Address == "" {
		return fmt.Errorf("missing server address")
	}
	if cfg.Username == "" {
		return fmt.Errorf("missing username")
	}
	if cfg.Mailbox == "" {
		return fmt.Errorf("missing mailbox")
	}
	return nil
}
