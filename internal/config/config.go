package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath = "config.toml"
	DefaultListenHost = "127.0.0.1"
)

type Config struct {
	Log       LogConfig        `toml:"log"`
	Listener  ListenerConfig   `toml:"listener"`
	Upstreams []UpstreamConfig `toml:"upstreams" validate:"dive"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `toml:"format" validate:"omitempty,oneof=text json"`
}

// ListenerConfig configures the shared gateway listener. The port is always
// ephemeral; only the bind host is configurable and it should stay on
// loopback.
type ListenerConfig struct {
	Host string `toml:"host"`
}

// UpstreamConfig describes one MCP tool server exposed through the gateway
// at serve time.
type UpstreamConfig struct {
	Name      string            `toml:"name" validate:"required"`
	Transport string            `toml:"transport" validate:"omitempty,oneof=streamable sse stdio"`
	URL       string            `toml:"url" validate:"required_unless=Transport stdio,omitempty,url"`
	Command   string            `toml:"command" validate:"required_if=Transport stdio"`
	Args      []string          `toml:"args"`
	Env       map[string]string `toml:"env"`
	Headers   map[string]string `toml:"headers"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Listener: ListenerConfig{
			Host: DefaultListenHost,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}
