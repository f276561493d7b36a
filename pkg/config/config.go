// Package config loads engine deployment configuration from a YAML
// file, with environment variables (optionally from a .env file)
// overriding selected secrets and endpoints.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration parses YAML scalars like "5s" or "72h". Bare integers are
// taken as nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw == "" {
		*d = 0
		return nil
	}
	if v, err := time.ParseDuration(raw); err == nil {
		*d = Duration(v)
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %q", raw)
	}
	*d = Duration(n)
	return nil
}

// Config is the full deployment configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Engine  EngineConfig  `yaml:"engine"`
	Sender  SenderConfig  `yaml:"sender"`
}

// StorageConfig selects and parameterizes the persistence backend.
type StorageConfig struct {
	// Backend is one of "memory", "sqlite", "redis".
	Backend string `yaml:"backend"`

	// SQLitePath is the database file for the sqlite backend (and for
	// graph/audit storage under the redis backend).
	SQLitePath string `yaml:"sqlitePath"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisPrefix   string `yaml:"redisPrefix"`
}

// EngineConfig tunes invocation behavior. Convert it to engine options
// with flowline.OptionsFromConfig.
type EngineConfig struct {
	MaxStepsPerInvocation int      `yaml:"maxStepsPerInvocation"`
	SendTimeout           Duration `yaml:"sendTimeout"`
	CallbackTimeout       Duration `yaml:"callbackTimeout"`
	SessionTTL            Duration `yaml:"sessionTTL"`
	LeaseTTL              Duration `yaml:"leaseTTL"`
	LeaseWait             Duration `yaml:"leaseWait"`
	FallbackMessage       string   `yaml:"fallbackMessage"`
}

// SenderConfig points at the outbound message provider.
type SenderConfig struct {
	BaseURL string `yaml:"baseURL"`
}

// Load reads the YAML file at path and applies environment overrides.
// A .env file in the working directory is loaded first when present;
// a missing .env is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides secrets and endpoints from the environment, so
// deployments never need them in the YAML file.
func (c *Config) applyEnv() {
	if v := os.Getenv("FLOWLINE_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("FLOWLINE_SQLITE_PATH"); v != "" {
		c.Storage.SQLitePath = v
	}
	if v := os.Getenv("FLOWLINE_REDIS_ADDR"); v != "" {
		c.Storage.RedisAddr = v
	}
	if v := os.Getenv("FLOWLINE_REDIS_PASSWORD"); v != "" {
		c.Storage.RedisPassword = v
	}
	if v := os.Getenv("FLOWLINE_SENDER_BASE_URL"); v != "" {
		c.Sender.BaseURL = v
	}
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "", "memory":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlitePath is required for the sqlite backend")
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("storage.redisAddr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}
