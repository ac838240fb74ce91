// Package config loads the relay configuration from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pershinghar/go-termux-relay/pkg/models"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvHost         = "RELAY_HOST"
	EnvUser         = "RELAY_USER"
	EnvKeyPath      = "RELAY_KEY_PATH"
	EnvProxyCommand = "RELAY_PROXY_COMMAND"
	EnvListen       = "RELAY_LISTEN"
	EnvAMQPURL      = "RELAY_AMQP_URL"
)

type Config struct {
	Target TargetConfig          `yaml:"target"`
	Server ServerConfig          `yaml:"server"`
	Remote RemoteConfig          `yaml:"remote"`
	Broker models.RabbitMQConfig `yaml:"broker"`
}

type TargetConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	KeyPath         string        `yaml:"key_path"`
	KeyPassphrase   string        `yaml:"key_passphrase"`
	ProxyCommand    string        `yaml:"proxy_command"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	CommandTimeout  time.Duration `yaml:"command_timeout"`
	TransferTimeout time.Duration `yaml:"transfer_timeout"`
}

type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	APIPrefix    string        `yaml:"api_prefix"`
	StaticDir    string        `yaml:"static_dir"`
	CleanupDelay time.Duration `yaml:"cleanup_delay"`
}

type RemoteConfig struct {
	CollectorScript string `yaml:"collector_script"`
	BatteryScript   string `yaml:"battery_script"`
	SystemScript    string `yaml:"system_script"`
	SharedRoot      string `yaml:"shared_root"`
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Config{Broker: *models.DefaultRabbitMQConfig()}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	if err := cfg.expandHome(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvHost, &c.Target.Host)
	set(EnvUser, &c.Target.Username)
	set(EnvKeyPath, &c.Target.KeyPath)
	set(EnvProxyCommand, &c.Target.ProxyCommand)
	set(EnvListen, &c.Server.Listen)
	set(EnvAMQPURL, &c.Broker.URL)
}

func (c *Config) applyDefaults() {
	if c.Target.Port == 0 {
		c.Target.Port = 22
	}
	if c.Target.KeyPath == "" {
		c.Target.KeyPath = "~/.ssh/termux_monitoring_key"
	}
	if c.Target.ConnectTimeout == 0 {
		c.Target.ConnectTimeout = models.DefaultConnectTimeout
	}
	if c.Target.CommandTimeout == 0 {
		c.Target.CommandTimeout = models.DefaultCommandTimeout
	}
	if c.Target.TransferTimeout == 0 {
		c.Target.TransferTimeout = 2 * c.Target.CommandTimeout
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8099"
	}
	if c.Server.APIPrefix == "" {
		c.Server.APIPrefix = "/api"
	}
	if c.Server.CleanupDelay == 0 {
		c.Server.CleanupDelay = 5 * time.Second
	}
	if c.Remote.CollectorScript == "" {
		c.Remote.CollectorScript = "./main-collector.sh"
	}
	if c.Remote.BatteryScript == "" {
		c.Remote.BatteryScript = "./battery-collector.sh"
	}
	if c.Remote.SystemScript == "" {
		c.Remote.SystemScript = "./system-collector.sh"
	}
	if c.Remote.SharedRoot == "" {
		c.Remote.SharedRoot = "~/storage/shared"
	}

	defaults := models.DefaultRabbitMQConfig()
	if c.Broker.Exchange == "" {
		c.Broker.Exchange = defaults.Exchange
	}
	if c.Broker.ExchangeType == "" {
		c.Broker.ExchangeType = defaults.ExchangeType
	}
	if c.Broker.QueueName == "" {
		c.Broker.QueueName = defaults.QueueName
	}
}

// expandHome resolves a leading ~ in local paths. Remote paths keep theirs.
func (c *Config) expandHome() error {
	for _, p := range []*string{&c.Target.KeyPath, &c.Server.StaticDir} {
		if *p != "~" && !strings.HasPrefix(*p, "~/") {
			continue
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("expand %s: %w", *p, err)
		}
		*p = filepath.Join(home, strings.TrimPrefix(*p, "~"))
	}
	return nil
}

func (c *Config) validate() error {
	if c.Target.Host == "" {
		return fmt.Errorf("target.host is required (or set %s)", EnvHost)
	}
	if c.Target.Username == "" {
		return fmt.Errorf("target.username is required (or set %s)", EnvUser)
	}
	if c.Target.ConnectTimeout < 0 || c.Target.CommandTimeout < 0 || c.Target.TransferTimeout < 0 {
		return fmt.Errorf("target timeouts must be positive")
	}
	if c.Target.CommandTimeout <= c.Target.ConnectTimeout {
		return fmt.Errorf("target.command_timeout (%v) must be longer than target.connect_timeout (%v)",
			c.Target.CommandTimeout, c.Target.ConnectTimeout)
	}
	if !strings.HasPrefix(c.Server.APIPrefix, "/") {
		return fmt.Errorf("server.api_prefix must start with /")
	}
	return nil
}

// RemoteTarget converts the target section into the transport settings.
func (c *Config) RemoteTarget() models.RemoteTarget {
	return models.RemoteTarget{
		Host:            c.Target.Host,
		Port:            c.Target.Port,
		Username:        c.Target.Username,
		PrivateKeyPath:  c.Target.KeyPath,
		KeyPassphrase:   c.Target.KeyPassphrase,
		ProxyCommand:    c.Target.ProxyCommand,
		ConnectTimeout:  c.Target.ConnectTimeout,
		CommandTimeout:  c.Target.CommandTimeout,
		TransferTimeout: c.Target.TransferTimeout,
	}.WithDefaults()
}
