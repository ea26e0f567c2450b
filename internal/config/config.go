package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Default broker settings match the public HiveMQ broker the original
// client shipped with. Anything that can reach the broker can read the
// traffic; there is no end-to-end encryption in this protocol.
const (
	DefaultBrokerURL   = "tcp://broker.hivemq.com:1883"
	DefaultTopicPrefix = "bjm"
)

// Config represents the global ~/.bjm/config.toml.
type Config struct {
	BrokerURL   string `toml:"broker_url"`
	TopicPrefix string `toml:"topic_prefix"`
	DataDir     string `toml:"data_dir"`
}

// Load reads config from the given path. A missing file yields the
// default configuration; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := &Config{
		BrokerURL:   DefaultBrokerURL,
		TopicPrefix: DefaultTopicPrefix,
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.BrokerURL == "" {
		cfg.BrokerURL = DefaultBrokerURL
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
